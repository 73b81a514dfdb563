package breaker_test

import (
	"testing"
	"time"

	"github.com/artpar/bulwark/domain/breaker"
)

var (
	t0  = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	cfg = breaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenDuration:     60 * time.Second,
	}
)

func fail(s breaker.State, c breaker.Config, at time.Time) breaker.State {
	return breaker.Transition(s, c, breaker.Failure, at)
}

func succeed(s breaker.State, c breaker.Config, at time.Time) breaker.State {
	return breaker.Transition(s, c, breaker.Success, at)
}

func TestTransition_OpensExactlyAtThreshold(t *testing.T) {
	for f := 1; f <= 6; f++ {
		c := cfg
		c.FailureThreshold = f
		s := breaker.NewState()
		for i := 1; i <= f; i++ {
			s = fail(s, c, t0.Add(time.Duration(i)*time.Second))
			wantOpen := i == f
			if (s.Phase == breaker.Open) != wantOpen {
				t.Fatalf("threshold %d: after %d failures phase = %s", f, i, s.Phase)
			}
		}
		if s.LastFailureAt.IsZero() {
			t.Errorf("threshold %d: lastFailureAt not recorded", f)
		}
	}
}

func TestTransition_SuccessResetsConsecutiveCount(t *testing.T) {
	s := breaker.NewState()
	s = fail(s, cfg, t0)
	s = fail(s, cfg, t0.Add(time.Second))
	s = succeed(s, cfg, t0.Add(2*time.Second))

	if s.ConsecutiveFailures != 0 {
		t.Fatalf("consecutive = %d, want 0", s.ConsecutiveFailures)
	}

	s = fail(s, cfg, t0.Add(3*time.Second))
	s = fail(s, cfg, t0.Add(4*time.Second))
	if s.Phase != breaker.Closed {
		t.Fatalf("opened after %d fresh failures", s.ConsecutiveFailures)
	}
	s = fail(s, cfg, t0.Add(5*time.Second))
	if s.Phase != breaker.Open {
		t.Fatalf("phase = %s, want open after a fresh run", s.Phase)
	}
}

func TestAdmit(t *testing.T) {
	open := breaker.State{Phase: breaker.Open, ConsecutiveFailures: 3, LastFailureAt: t0}

	tests := []struct {
		name      string
		state     breaker.State
		at        time.Time
		allowed   bool
		wantPhase breaker.Phase
	}{
		{"closed admits", breaker.NewState(), t0, true, breaker.Closed},
		{"half-open admits", breaker.State{Phase: breaker.HalfOpen}, t0, true, breaker.HalfOpen},
		{"open rejects early", open, t0.Add(30 * time.Second), false, breaker.Open},
		{"open rejects just before", open, t0.Add(59*time.Second + 999*time.Millisecond), false, breaker.Open},
		{"open admits at duration", open, t0.Add(60 * time.Second), true, breaker.HalfOpen},
		{"open admits after", open, t0.Add(61 * time.Second), true, breaker.HalfOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, next := breaker.Admit(tt.state, cfg, tt.at)
			if allowed != tt.allowed {
				t.Errorf("allowed = %v, want %v", allowed, tt.allowed)
			}
			if next.Phase != tt.wantPhase {
				t.Errorf("phase = %s, want %s", next.Phase, tt.wantPhase)
			}
		})
	}
}

func TestTransition_TrialFailureReopens(t *testing.T) {
	s := breaker.State{Phase: breaker.HalfOpen, TrialSuccesses: 1, LastFailureAt: t0}
	at := t0.Add(90 * time.Second)

	s = fail(s, cfg, at)

	if s.Phase != breaker.Open {
		t.Errorf("phase = %s, want open", s.Phase)
	}
	if s.TrialSuccesses != 0 {
		t.Errorf("trial successes = %d, want 0", s.TrialSuccesses)
	}
	if !s.LastFailureAt.Equal(at) {
		t.Errorf("lastFailureAt = %v, want %v", s.LastFailureAt, at)
	}
}

func TestTransition_TrialSuccessesClose(t *testing.T) {
	s := breaker.State{Phase: breaker.HalfOpen, ConsecutiveFailures: 3, LastFailureAt: t0}

	s = succeed(s, cfg, t0.Add(61*time.Second))
	if s.Phase != breaker.HalfOpen || s.TrialSuccesses != 1 {
		t.Fatalf("after one trial success: %+v", s)
	}
	s = succeed(s, cfg, t0.Add(62*time.Second))
	if s.Phase != breaker.Closed {
		t.Fatalf("phase = %s, want closed", s.Phase)
	}
	if s.ConsecutiveFailures != 0 || s.TrialSuccesses != 0 || !s.LastFailureAt.IsZero() {
		t.Errorf("counters not zeroed: %+v", s)
	}
}

func TestTransition_LateOutcomesWhileOpen(t *testing.T) {
	s := breaker.State{Phase: breaker.Open, ConsecutiveFailures: 3, LastFailureAt: t0}

	late := succeed(s, cfg, t0.Add(time.Second))
	if late.Phase != breaker.Open || !late.LastFailureAt.Equal(t0) {
		t.Errorf("late success changed state: %+v", late)
	}

	at := t0.Add(2 * time.Second)
	late = fail(s, cfg, at)
	if late.Phase != breaker.Open || !late.LastFailureAt.Equal(at) {
		t.Errorf("late failure should refresh lastFailureAt: %+v", late)
	}
}

func TestRecord_StaleOutcomes(t *testing.T) {
	s := breaker.NewState()
	_, admitted := breaker.Admit(s, cfg, t0)
	closedEpoch := admitted.Epoch
	for i := 0; i < 3; i++ {
		s = fail(s, cfg, t0)
	}

	lateFail := t0.Add(5 * time.Second)
	s = breaker.Record(s, cfg, breaker.Failure, closedEpoch, lateFail)
	if s.Phase != breaker.Open || !s.LastFailureAt.Equal(lateFail) {
		t.Fatalf("late failure while open not honoured: %+v", s)
	}

	ok, s := breaker.Admit(s, cfg, lateFail.Add(cfg.OpenDuration))
	if !ok || s.Phase != breaker.HalfOpen {
		t.Fatalf("trial not admitted: %+v", s)
	}
	trialEpoch := s.Epoch

	tests := []struct {
		name string
		ev   breaker.Event
	}{
		{"success", breaker.Success},
		{"failure", breaker.Failure},
	}
	for _, tt := range tests {
		t.Run("stale "+tt.name+" while half-open", func(t *testing.T) {
			got := breaker.Record(s, cfg, tt.ev, closedEpoch, lateFail.Add(cfg.OpenDuration))
			if got.Phase != breaker.HalfOpen || got.TrialSuccesses != 0 {
				t.Errorf("stale outcome applied: %+v", got)
			}
		})
	}

	s = breaker.Record(s, cfg, breaker.Success, trialEpoch, lateFail.Add(cfg.OpenDuration))
	if s.TrialSuccesses != 1 {
		t.Fatalf("trial success not counted: %+v", s)
	}
	s = breaker.Record(s, cfg, breaker.Success, trialEpoch, lateFail.Add(cfg.OpenDuration))
	if s.Phase != breaker.Closed {
		t.Fatalf("phase = %s, want closed", s.Phase)
	}

	s = breaker.Record(s, cfg, breaker.Failure, trialEpoch, lateFail.Add(2*cfg.OpenDuration))
	if s.ConsecutiveFailures != 0 {
		t.Errorf("failure from the finished trial counted after close: %+v", s)
	}
}

func TestTransition_EpochAdvancesOnPhaseChange(t *testing.T) {
	s := breaker.NewState()
	start := s.Epoch
	s = fail(s, cfg, t0)
	if s.Epoch != start {
		t.Errorf("epoch moved without a phase change")
	}
	s = fail(s, cfg, t0)
	s = fail(s, cfg, t0)
	if s.Epoch != start+1 {
		t.Errorf("open epoch = %d, want %d", s.Epoch, start+1)
	}
	s = breaker.Transition(s, cfg, breaker.Reset, t0)
	if s.Phase != breaker.Closed || s.Epoch != start+2 {
		t.Errorf("after reset: %+v", s)
	}
}

func TestTransition_Reset(t *testing.T) {
	s := breaker.State{Phase: breaker.Open, ConsecutiveFailures: 9, LastFailureAt: t0}
	s = breaker.Transition(s, cfg, breaker.Reset, t0)
	if s.Phase != breaker.Closed || s.ConsecutiveFailures != 0 || !s.LastFailureAt.IsZero() {
		t.Errorf("reset state = %+v", s)
	}
}

// Breaker 3/2/60s: three failures open it, t=30s is rejected, t=61s is a
// trial, and two successes close it.
func TestScenario_OpenAndRecover(t *testing.T) {
	s := breaker.NewState()
	for i := 0; i < 3; i++ {
		ok, next := breaker.Admit(s, cfg, t0)
		if !ok {
			t.Fatalf("call %d rejected while closed", i)
		}
		s = fail(next, cfg, t0)
	}
	if s.Phase != breaker.Open {
		t.Fatalf("phase = %s, want open", s.Phase)
	}

	if ok, _ := breaker.Admit(s, cfg, t0.Add(30*time.Second)); ok {
		t.Fatal("call at 30s should be rejected")
	}
	if got := breaker.RetryAfter(s, cfg, t0.Add(30*time.Second)); got != 30*time.Second {
		t.Errorf("retry after = %v, want 30s", got)
	}

	ok, s := breaker.Admit(s, cfg, t0.Add(61*time.Second))
	if !ok || s.Phase != breaker.HalfOpen {
		t.Fatalf("call at 61s: allowed=%v phase=%s", ok, s.Phase)
	}
	s = succeed(s, cfg, t0.Add(61*time.Second))
	s = succeed(s, cfg, t0.Add(62*time.Second))

	if s.Phase != breaker.Closed || s.ConsecutiveFailures != 0 || s.TrialSuccesses != 0 {
		t.Errorf("final state = %+v", s)
	}
}

func TestMonitoringPeriod_SpreadFailuresDoNotTrip(t *testing.T) {
	c := cfg
	c.MonitoringPeriod = 10 * time.Second

	s := breaker.NewState()
	for i := 0; i < 10; i++ {
		s = fail(s, c, t0.Add(time.Duration(i)*20*time.Second))
		if s.Phase != breaker.Closed {
			t.Fatalf("opened on spread failure %d", i)
		}
		if s.ConsecutiveFailures != 1 {
			t.Fatalf("windowed count = %d, want 1", s.ConsecutiveFailures)
		}
	}
}

func TestMonitoringPeriod_ClusteredFailuresTrip(t *testing.T) {
	c := cfg
	c.MonitoringPeriod = 10 * time.Second

	s := breaker.NewState()
	s = fail(s, c, t0)
	s = fail(s, c, t0.Add(4*time.Second))
	s = fail(s, c, t0.Add(8*time.Second))

	if s.Phase != breaker.Open {
		t.Errorf("phase = %s, want open", s.Phase)
	}
}

func TestMonitoringPeriod_DoesNotMutateInput(t *testing.T) {
	c := cfg
	c.MonitoringPeriod = time.Minute

	before := fail(breaker.NewState(), c, t0)
	snapshot := before.FailureTimes[0]
	_ = fail(before, c, t0.Add(5*time.Minute))

	if len(before.FailureTimes) != 1 || !before.FailureTimes[0].Equal(snapshot) {
		t.Errorf("input state mutated: %+v", before.FailureTimes)
	}
}

func TestConsecutiveMode_SpreadFailuresStillTrip(t *testing.T) {
	s := breaker.NewState()
	for i := 0; i < 3; i++ {
		s = fail(s, cfg, t0.Add(time.Duration(i)*time.Hour))
	}
	if s.Phase != breaker.Open {
		t.Errorf("phase = %s, want open", s.Phase)
	}
}

func TestConfig(t *testing.T) {
	c := breaker.Config{}.WithDefaults()
	if c != breaker.DefaultConfig() {
		t.Errorf("WithDefaults = %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if err := (breaker.Config{}).Validate(); err == nil {
		t.Error("zero config should be invalid")
	}
}
