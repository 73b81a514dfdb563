// Package audit provides audit record types for sensitive operations.
// All functions are pure - no side effects.
package audit

import "time"

// Result is the outcome recorded for an audited call.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// AnonymousActor is recorded when no authenticated caller is known.
const AnonymousActor = "anonymous"

// Detail keys.
const (
	DetailMethod     = "method"
	DetailPath       = "path"
	DetailIP         = "ip"
	DetailUserAgent  = "user_agent"
	DetailStatusCode = "status_code"
	DetailRequestID  = "request_id"
)

// Record is one audit entry (immutable value type).
type Record struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	ActorID   string         `json:"actorId"`
	Details   map[string]any `json:"details"`
	Result    Result         `json:"result"`
	Timestamp time.Time      `json:"timestamp"`
}

// ResultFromStatus maps a final HTTP status to an outcome: 2xx and 3xx are
// success, everything else (including an unset status) is failure.
func ResultFromStatus(status int) Result {
	if status >= 200 && status < 400 {
		return ResultSuccess
	}
	return ResultFailure
}

// Actor returns id, or AnonymousActor when id is empty.
func Actor(id string) string {
	if id == "" {
		return AnonymousActor
	}
	return id
}

// Filter selects records when listing.
type Filter struct {
	Action  string
	ActorID string
	Result  Result
	Since   time.Time
	Until   time.Time
	Limit   int
}

// DefaultListLimit caps List when the filter gives no limit.
const DefaultListLimit = 100

// Matches reports whether r passes the filter. Limit is not considered.
func (f Filter) Matches(r Record) bool {
	if f.Action != "" && r.Action != f.Action {
		return false
	}
	if f.ActorID != "" && r.ActorID != f.ActorID {
		return false
	}
	if f.Result != "" && r.Result != f.Result {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// EffectiveLimit returns the limit to apply, defaulting and capping it.
func (f Filter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	if f.Limit > 1000 {
		return 1000
	}
	return f.Limit
}
