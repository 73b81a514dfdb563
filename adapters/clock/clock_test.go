package clock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/artpar/bulwark/adapters/clock"
)

func TestReal_NowIsUTC(t *testing.T) {
	before := time.Now()
	got := clock.Real{}.Now()
	after := time.Now()

	if got.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", got.Location())
	}
	if got.Before(before.Add(-time.Millisecond)) || got.After(after.Add(time.Millisecond)) {
		t.Errorf("Now() = %v, expected between %v and %v", got, before, after)
	}
}

func TestFake(t *testing.T) {
	start := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	c := clock.NewFake(start)

	if !c.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", c.Now(), start)
	}

	if got := c.Advance(61 * time.Second); !got.Equal(start.Add(61 * time.Second)) {
		t.Errorf("Advance returned %v", got)
	}
	if !c.Now().Equal(start.Add(61 * time.Second)) {
		t.Errorf("Now() after advance = %v", c.Now())
	}

	c.Advance(-time.Minute)
	if !c.Now().Equal(start.Add(time.Second)) {
		t.Errorf("negative advance: %v", c.Now())
	}

	later := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("Now() after Set = %v", c.Now())
	}
}

func TestFake_ConcurrentAccess(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(start)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.Now()
				c.Advance(time.Second)
			}
		}()
	}
	wg.Wait()

	if want := start.Add(1000 * time.Second); !c.Now().Equal(want) {
		t.Errorf("Now() = %v, want %v", c.Now(), want)
	}
}
