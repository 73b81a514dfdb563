package ratelimit

import "time"

// StatsEvent is one rate limit decision, recorded for dashboards.
// Key and Path are caller-controlled; stores must bound their cardinality.
type StatsEvent struct {
	Rule    string
	Key     string
	Allowed bool
	Method  string
	Path    string
	At      time.Time
}

// StatsTotals are aggregate decision counts.
type StatsTotals struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// Add counts one event.
func (t StatsTotals) Add(ev StatsEvent) StatsTotals {
	if ev.Allowed {
		t.Allowed++
	} else {
		t.Denied++
	}
	return t
}
