// Package ratelimit provides the pure fixed-window rate limiting algorithm.
// All functions are deterministic - same input always produces same output.
package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Tier names.
const (
	TierGeneral   = "general"
	TierAuth      = "auth"
	TierExpensive = "expensive"
)

// Reasons for denial
const (
	ReasonLimitExceeded = "rate_limit_exceeded"
)

// WindowState is one counter: the requests seen for a key since WindowStart (value type).
type WindowState struct {
	Count       int
	WindowStart time.Time
}

// Expired reports whether the window that started at WindowStart is over.
// A zero state is always expired.
func (s WindowState) Expired(window time.Duration, now time.Time) bool {
	return s.WindowStart.IsZero() || now.Sub(s.WindowStart) >= window
}

// Rule is a named limit over a fixed window (value type).
type Rule struct {
	Name    string        `yaml:"-" json:"name"`
	Limit   int           `yaml:"max_requests" json:"maxRequests"`
	Window  time.Duration `yaml:"window" json:"window"`
	Message string        `yaml:"message" json:"message,omitempty"`
}

// Validate checks that the rule can admit at least one request.
func (r Rule) Validate() error {
	if r.Limit < 1 {
		return fmt.Errorf("rule %q: max_requests must be at least 1", r.Name)
	}
	if r.Window <= 0 {
		return fmt.Errorf("rule %q: window must be positive", r.Name)
	}
	return nil
}

// DefaultRules returns the three stock tiers.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		TierGeneral: {
			Name: TierGeneral, Limit: 100, Window: 15 * time.Minute,
			Message: "Too many requests from this address, please try again later",
		},
		TierAuth: {
			Name: TierAuth, Limit: 5, Window: 15 * time.Minute,
			Message: "Too many authentication attempts, please try again later",
		},
		TierExpensive: {
			Name: TierExpensive, Limit: 10, Window: time.Hour,
			Message: "Too many expensive requests, please try again later",
		},
	}
}

// ValidateRules validates every rule in the set.
func ValidateRules(rules map[string]Rule) error {
	var errs []error
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckResult represents the outcome of a rate limit check (value type).
type CheckResult struct {
	Allowed    bool
	Limit      int
	Remaining  int           // Requests remaining in window
	ResetAt    time.Time     // When the window ends
	RetryAfter time.Duration // Set when not allowed
	Reason     string        // If not allowed, why
}

// Check counts one attempt against the rule.
// This is a PURE function - no side effects, deterministic.
//
// The window is anchored at the first attempt seen for the key. An expired
// window restarts at now with a count of one. Rejected attempts still count.
//
// Returns:
//   - result: whether the attempt is allowed and quota metadata
//   - newState: updated state (caller must persist)
func Check(state WindowState, rule Rule, now time.Time) (CheckResult, WindowState) {
	if state.Expired(rule.Window, now) {
		state = WindowState{Count: 1, WindowStart: now}
	} else {
		state.Count++
	}

	resetAt := state.WindowStart.Add(rule.Window)
	result := CheckResult{
		Allowed:   state.Count <= rule.Limit,
		Limit:     rule.Limit,
		Remaining: max(rule.Limit-state.Count, 0),
		ResetAt:   resetAt,
	}
	if !result.Allowed {
		result.Reason = ReasonLimitExceeded
		result.RetryAfter = resetAt.Sub(now)
	}
	return result, state
}
