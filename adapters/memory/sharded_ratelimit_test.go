package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/artpar/bulwark/adapters/clock"
	"github.com/artpar/bulwark/adapters/memory"
	"github.com/artpar/bulwark/domain/ratelimit"
)

var (
	t0   = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	rule = ratelimit.Rule{Name: "auth", Limit: 5, Window: time.Minute}
)

func TestCounterStore_AllowsLimitThenRejects(t *testing.T) {
	store := memory.NewCounterStore(memory.CounterStoreConfig{})
	defer store.Close()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := store.Hit(ctx, "10.0.0.1", rule, t0)
		if err != nil {
			t.Fatalf("Hit: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("call %d rejected", i)
		}
		if res.Remaining != 5-i {
			t.Errorf("call %d remaining = %d, want %d", i, res.Remaining, 5-i)
		}
	}

	res, _ := store.Hit(ctx, "10.0.0.1", rule, t0.Add(10*time.Second))
	if res.Allowed {
		t.Fatal("6th call should be rejected")
	}
	if res.RetryAfter != 50*time.Second {
		t.Errorf("retryAfter = %v, want 50s", res.RetryAfter)
	}

	res, _ = store.Hit(ctx, "10.0.0.1", rule, t0.Add(time.Minute))
	if !res.Allowed {
		t.Error("call after window should be allowed")
	}
}

func TestCounterStore_KeysAreIndependent(t *testing.T) {
	store := memory.NewCounterStore(memory.CounterStoreConfig{NumShards: 4})
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.Hit(ctx, "a", rule, t0)
	}
	if res, _ := store.Hit(ctx, "b", rule, t0); !res.Allowed {
		t.Error("key b should not be limited by key a")
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
}

func TestCounterStore_Reset(t *testing.T) {
	store := memory.NewCounterStore(memory.CounterStoreConfig{})
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		store.Hit(ctx, "k", rule, t0)
	}
	if err := store.Reset(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Get("k"); ok {
		t.Error("counter should be gone")
	}
	if res, _ := store.Hit(ctx, "k", rule, t0); !res.Allowed {
		t.Error("reset key should be allowed")
	}
}

func TestCounterStore_Sweep(t *testing.T) {
	store := memory.NewCounterStore(memory.CounterStoreConfig{})
	defer store.Close()
	ctx := context.Background()

	long := ratelimit.Rule{Name: "expensive", Limit: 10, Window: time.Hour}
	store.Hit(ctx, "short", rule, t0)
	store.Hit(ctx, "long", long, t0)

	if n := store.Sweep(t0.Add(30 * time.Second)); n != 0 {
		t.Errorf("swept %d live counters", n)
	}
	if n := store.Sweep(t0.Add(2 * time.Minute)); n != 1 {
		t.Errorf("swept %d, want 1", n)
	}
	if _, ok := store.Get("long"); !ok {
		t.Error("hour-long window should survive")
	}
}

func TestCounterStore_BackgroundCleanup(t *testing.T) {
	fake := clock.NewFake(t0)
	store := memory.NewCounterStore(memory.CounterStoreConfig{
		CleanupInterval: 5 * time.Millisecond,
		Clock:           fake,
	})
	defer store.Close()

	store.Hit(context.Background(), "k", rule, t0)
	fake.Advance(2 * time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("background sweep never removed the expired counter")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCounterStore_CloseTwice(t *testing.T) {
	store := memory.NewCounterStore(memory.CounterStoreConfig{CleanupInterval: time.Hour})
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCounterStore_ConcurrentHitsCountExactly(t *testing.T) {
	store := memory.NewCounterStore(memory.CounterStoreConfig{})
	defer store.Close()
	ctx := context.Background()
	big := ratelimit.Rule{Name: "general", Limit: 100, Window: time.Minute}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				res, _ := store.Hit(ctx, "shared", big, t0)
				if res.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("allowed = %d, want exactly 100", allowed)
	}
	state, _ := store.Get("shared")
	if state.Count != 200 {
		t.Errorf("count = %d, want 200", state.Count)
	}
}

func BenchmarkCounterStore_Hit(b *testing.B) {
	store := memory.NewCounterStore(memory.CounterStoreConfig{})
	defer store.Close()
	ctx := context.Background()
	keys := make([]string, 1024)
	for i := range keys {
		keys[i] = fmt.Sprintf("10.0.%d.%d", i/256, i%256)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			store.Hit(ctx, keys[i%len(keys)], rule, t0)
			i++
		}
	})
}
