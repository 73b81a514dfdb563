package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/artpar/bulwark/domain/ratelimit"
	"github.com/artpar/bulwark/ports"
)

// counter is one key's window plus the window length that governs its expiry.
type counter struct {
	state  ratelimit.WindowState
	window time.Duration
}

type counterShard struct {
	mu       sync.Mutex
	counters map[string]counter
}

// CounterStore is a sharded in-memory fixed-window counter store.
// Each key hashes to one shard, so contention is limited to keys that
// share a shard.
type CounterStore struct {
	shards []*counterShard
	clock  ports.Clock
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

// CounterStoreConfig configures the counter store.
type CounterStoreConfig struct {
	NumShards int // Number of shards (default: 32)
	// CleanupInterval starts a background sweep when positive. Leave it
	// zero when an external scheduler calls Sweep.
	CleanupInterval time.Duration
	Clock           ports.Clock
}

// NewCounterStore creates a sharded counter store.
func NewCounterStore(cfg CounterStoreConfig) *CounterStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}

	s := &CounterStore{
		shards: make([]*counterShard, cfg.NumShards),
		clock:  cfg.Clock,
		done:   make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &counterShard{counters: make(map[string]counter)}
	}

	if cfg.CleanupInterval > 0 {
		s.ticker = time.NewTicker(cfg.CleanupInterval)
		go s.cleanupLoop()
	}
	return s
}

func (s *CounterStore) shard(key string) *counterShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Hit counts one attempt for key under rule and returns the decision.
func (s *CounterStore) Hit(ctx context.Context, key string, rule ratelimit.Rule, now time.Time) (ratelimit.CheckResult, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c := sh.counters[key]
	result, next := ratelimit.Check(c.state, rule, now)
	sh.counters[key] = counter{state: next, window: rule.Window}
	return result, nil
}

// Reset drops the counter for key.
func (s *CounterStore) Reset(ctx context.Context, key string) error {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.counters, key)
	sh.mu.Unlock()
	return nil
}

// Get returns the current window for key (for introspection and tests).
func (s *CounterStore) Get(key string) (ratelimit.WindowState, bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	c, ok := sh.counters[key]
	return c.state, ok
}

// Sweep removes counters whose window has ended by now and returns how
// many were removed.
func (s *CounterStore) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, c := range sh.counters {
			if c.state.Expired(c.window, now) {
				delete(sh.counters, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *CounterStore) cleanupLoop() {
	for {
		select {
		case <-s.ticker.C:
			s.Sweep(s.now())
		case <-s.done:
			return
		}
	}
}

func (s *CounterStore) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now()
}

// Close stops the background sweep. It is safe to call more than once.
func (s *CounterStore) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.ticker != nil {
			s.ticker.Stop()
		}
	})
	return nil
}

// Len returns the total number of counters across all shards.
func (s *CounterStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.counters)
		sh.mu.Unlock()
	}
	return total
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
