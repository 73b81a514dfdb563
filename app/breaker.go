// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/artpar/bulwark/domain/apperr"
	"github.com/artpar/bulwark/domain/breaker"
	"github.com/artpar/bulwark/ports"
)

// StateListener is told about every phase change of a breaker. It runs
// after the breaker's lock is released, on the goroutine that caused it.
type StateListener func(name string, from, to breaker.Phase)

// Breaker guards calls to one named dependency.
type Breaker struct {
	name      string
	cfg       breaker.Config
	clock     ports.Clock
	listeners []StateListener

	mu    sync.Mutex
	state breaker.State
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithStateListener registers a phase-change listener.
func WithStateListener(l StateListener) BreakerOption {
	return func(b *Breaker) {
		if l != nil {
			b.listeners = append(b.listeners, l)
		}
	}
}

// NewBreaker creates a closed breaker. Zero config fields take defaults.
func NewBreaker(name string, cfg breaker.Config, clock ports.Clock, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:  name,
		cfg:   cfg.WithDefaults(),
		clock: clock,
		state: breaker.NewState(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the dependency name.
func (b *Breaker) Name() string { return b.name }

// Config returns the effective configuration.
func (b *Breaker) Config() breaker.Config { return b.cfg }

// Execute runs op if the breaker admits it and records the outcome.
// A rejected call returns a circuit-open error without invoking op. Errors
// from op are returned unchanged; a cancelled or timed-out op counts as a
// failure like any other.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) (err error) {
	ok, epoch, retryAfter := b.admit()
	if !ok {
		return apperr.CircuitOpen(b.name, retryAfter)
	}

	completed := false
	defer func() {
		if !completed {
			// op panicked; count it and let the panic continue.
			b.record(epoch, errors.New("panic"))
		}
	}()

	err = op(ctx)
	completed = true
	b.record(epoch, err)
	return err
}

// Execute is the value-returning form of Breaker.Execute.
func Execute[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (b *Breaker) admit() (bool, uint64, time.Duration) {
	now := b.clock.Now()

	b.mu.Lock()
	from := b.state.Phase
	ok, next := breaker.Admit(b.state, b.cfg, now)
	b.state = next
	retryAfter := breaker.RetryAfter(next, b.cfg, now)
	b.mu.Unlock()

	b.notify(from, next.Phase)
	return ok, next.Epoch, retryAfter
}

// record applies the outcome of a call admitted in epoch.
func (b *Breaker) record(epoch uint64, err error) {
	ev := breaker.Success
	if err != nil {
		ev = breaker.Failure
	}
	b.update(func(s breaker.State, now time.Time) breaker.State {
		return breaker.Record(s, b.cfg, ev, epoch, now)
	})
}

func (b *Breaker) update(fn func(breaker.State, time.Time) breaker.State) {
	now := b.clock.Now()

	b.mu.Lock()
	from := b.state.Phase
	b.state = fn(b.state, now)
	to := b.state.Phase
	b.mu.Unlock()

	b.notify(from, to)
}

func (b *Breaker) notify(from, to breaker.Phase) {
	if from == to {
		return
	}
	for _, l := range b.listeners {
		l(b.name, from, to)
	}
}

// Reset forces the breaker closed with zeroed counters.
func (b *Breaker) Reset() {
	b.update(func(s breaker.State, now time.Time) breaker.State {
		return breaker.Transition(s, b.cfg, breaker.Reset, now)
	})
}

// Snapshot is a point-in-time view of a breaker, for dashboards.
type Snapshot struct {
	Name                string         `json:"name"`
	Phase               breaker.Phase  `json:"state"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
	TrialSuccesses      int            `json:"trialSuccesses"`
	LastFailureAt       *time.Time     `json:"lastFailureAt,omitempty"`
	RetryAfterSeconds   int64          `json:"retryAfterSeconds,omitempty"`
	Config              breaker.Config `json:"config"`
}

// State returns a snapshot of the breaker. It does not move an open
// breaker to half-open; only a call does that.
func (b *Breaker) State() Snapshot {
	now := b.clock.Now()

	b.mu.Lock()
	s := b.state
	b.mu.Unlock()

	snap := Snapshot{
		Name:                b.name,
		Phase:               s.Phase,
		ConsecutiveFailures: s.ConsecutiveFailures,
		TrialSuccesses:      s.TrialSuccesses,
		Config:              b.cfg,
	}
	if !s.LastFailureAt.IsZero() {
		t := s.LastFailureAt
		snap.LastFailureAt = &t
	}
	if d := breaker.RetryAfter(s, b.cfg, now); d > 0 {
		snap.RetryAfterSeconds = apperr.RetryAfterSeconds(d)
	}
	return snap
}
