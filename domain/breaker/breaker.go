// Package breaker provides the pure circuit breaker state machine.
// All functions are deterministic: state in, state out, time passed explicitly.
package breaker

import (
	"errors"
	"time"
)

// Phase is the breaker's position in its state machine.
type Phase string

// Phases.
const (
	Closed   Phase = "closed"
	Open     Phase = "open"
	HalfOpen Phase = "half-open"
)

// Default configuration values.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultOpenDuration     = 60 * time.Second
)

// Config holds breaker tuning (value type).
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failureThreshold"`
	SuccessThreshold int           `yaml:"success_threshold" json:"successThreshold"`
	OpenDuration     time.Duration `yaml:"open_duration" json:"openDuration"`
	// MonitoringPeriod bounds failure accounting to a rolling window.
	// Zero means failures are counted purely consecutively.
	MonitoringPeriod time.Duration `yaml:"monitoring_period" json:"monitoringPeriod"`
}

// DefaultConfig returns the stock breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		SuccessThreshold: DefaultSuccessThreshold,
		OpenDuration:     DefaultOpenDuration,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = d.OpenDuration
	}
	if c.MonitoringPeriod < 0 {
		c.MonitoringPeriod = 0
	}
	return c
}

// Validate rejects configurations that can never behave sensibly.
func (c Config) Validate() error {
	var errs []error
	if c.FailureThreshold < 1 {
		errs = append(errs, errors.New("failure_threshold must be at least 1"))
	}
	if c.SuccessThreshold < 1 {
		errs = append(errs, errors.New("success_threshold must be at least 1"))
	}
	if c.OpenDuration <= 0 {
		errs = append(errs, errors.New("open_duration must be positive"))
	}
	if c.MonitoringPeriod < 0 {
		errs = append(errs, errors.New("monitoring_period must not be negative"))
	}
	return errors.Join(errs...)
}

// State is the breaker's mutable data, handled as a value.
type State struct {
	Phase               Phase
	ConsecutiveFailures int
	TrialSuccesses      int
	LastFailureAt       time.Time
	OpenedAt            time.Time
	// FailureTimes holds recent failure timestamps, only when a
	// monitoring period is configured.
	FailureTimes []time.Time
	// Epoch increases on every phase change and reset. Calls carry the
	// epoch they were admitted in so stale outcomes can be told apart.
	Epoch uint64
}

// NewState returns a closed breaker state with zeroed counters.
func NewState() State {
	return State{Phase: Closed}
}

// Event is an outcome fed into Transition.
type Event int

// Events.
const (
	Success Event = iota
	Failure
	Reset
)

func (e Event) String() string {
	switch e {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

// Admit decides whether a call may proceed at now. An open breaker whose
// open duration has elapsed since the last failure moves to half-open and
// admits the call as a trial.
func Admit(s State, cfg Config, now time.Time) (bool, State) {
	switch s.Phase {
	case Open:
		if now.Sub(s.LastFailureAt) >= cfg.OpenDuration {
			s.Phase = HalfOpen
			s.TrialSuccesses = 0
			s.Epoch++
			return true, s
		}
		return false, s
	default:
		return true, s
	}
}

// RetryAfter returns how long an open breaker keeps rejecting calls.
// It is zero for any other phase.
func RetryAfter(s State, cfg Config, now time.Time) time.Duration {
	if s.Phase != Open {
		return 0
	}
	d := s.LastFailureAt.Add(cfg.OpenDuration).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Record applies the outcome of a call admitted in epoch. An outcome from
// an earlier epoch is dropped, except that a late failure still extends an
// open breaker's open period.
func Record(s State, cfg Config, ev Event, epoch uint64, now time.Time) State {
	if ev != Reset && epoch != s.Epoch && s.Phase != Open {
		return s
	}
	return Transition(s, cfg, ev, now)
}

// Transition applies an outcome to the state, treating it as belonging to
// the current epoch.
func Transition(s State, cfg Config, ev Event, now time.Time) State {
	if ev == Reset {
		return closedAfter(s)
	}

	switch s.Phase {
	case Closed:
		if ev == Success {
			s.ConsecutiveFailures = 0
			s.FailureTimes = nil
			return s
		}
		s.LastFailureAt = now
		if cfg.MonitoringPeriod > 0 {
			s.FailureTimes = withinWindow(s.FailureTimes, now, cfg.MonitoringPeriod)
			s.ConsecutiveFailures = len(s.FailureTimes)
		} else {
			s.ConsecutiveFailures++
		}
		if s.ConsecutiveFailures >= cfg.FailureThreshold {
			s.Phase = Open
			s.OpenedAt = now
			s.TrialSuccesses = 0
			s.Epoch++
		}
		return s

	case HalfOpen:
		if ev == Success {
			s.TrialSuccesses++
			if s.TrialSuccesses >= cfg.SuccessThreshold {
				return closedAfter(s)
			}
			return s
		}
		s.Phase = Open
		s.LastFailureAt = now
		s.OpenedAt = now
		s.TrialSuccesses = 0
		s.ConsecutiveFailures++
		s.Epoch++
		return s

	case Open:
		// Outcome of a call admitted before the breaker opened.
		if ev == Failure {
			s.LastFailureAt = now
			s.ConsecutiveFailures++
		}
		return s
	}

	return s
}

func closedAfter(s State) State {
	next := NewState()
	next.Epoch = s.Epoch + 1
	return next
}

// withinWindow returns a fresh slice of the timestamps no older than period
// before now, followed by now itself.
func withinWindow(times []time.Time, now time.Time, period time.Duration) []time.Time {
	cutoff := now.Add(-period)
	kept := make([]time.Time, 0, len(times)+1)
	for _, t := range times {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	return append(kept, now)
}
