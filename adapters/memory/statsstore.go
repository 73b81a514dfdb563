package memory

import (
	"context"
	"sync"

	"github.com/artpar/bulwark/domain/ratelimit"
	"github.com/artpar/bulwark/ports"
)

// StatsStore keeps rate limit decision counts in memory, per rule and per
// route. It never expires anything.
type StatsStore struct {
	mu      sync.Mutex
	byRule  map[string]ratelimit.StatsTotals
	byRoute map[string]ratelimit.StatsTotals
}

// NewStatsStore creates an empty stats store.
func NewStatsStore() *StatsStore {
	return &StatsStore{
		byRule:  make(map[string]ratelimit.StatsTotals),
		byRoute: make(map[string]ratelimit.StatsTotals),
	}
}

// Record counts one decision.
func (s *StatsStore) Record(_ context.Context, ev ratelimit.StatsEvent) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRule[ev.Rule] = s.byRule[ev.Rule].Add(ev)
	s.byRoute[route] = s.byRoute[route].Add(ev)
	return nil
}

// Totals returns decision counts per rule.
func (s *StatsStore) Totals(_ context.Context) (map[string]ratelimit.StatsTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ratelimit.StatsTotals, len(s.byRule))
	for k, v := range s.byRule {
		out[k] = v
	}
	return out, nil
}

// ByRoute returns decision counts per "METHOD path".
func (s *StatsStore) ByRoute() map[string]ratelimit.StatsTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ratelimit.StatsTotals, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v
	}
	return out
}

var (
	_ ports.StatsStore  = (*StatsStore)(nil)
	_ ports.StatsReader = (*StatsStore)(nil)
)
