package idgen_test

import (
	"regexp"
	"sort"
	"sync"
	"testing"

	"github.com/artpar/bulwark/adapters/idgen"
)

func TestUUID_Format(t *testing.T) {
	v4 := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if id := (idgen.UUID{}).New(); !v4.MatchString(id) {
		t.Errorf("ID %s doesn't match UUID v4 format", id)
	}

	v7 := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if id := (idgen.Ordered{}).New(); !v7.MatchString(id) {
		t.Errorf("ID %s doesn't match UUID v7 format", id)
	}
}

func TestOrdered_SortsByCreation(t *testing.T) {
	g := idgen.Ordered{}
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = g.New()
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("v7 ids should sort in creation order")
	}
}

func TestSequential(t *testing.T) {
	g := idgen.NewSequential("audit_")
	for _, want := range []string{"audit_1", "audit_2", "audit_3"} {
		if got := g.New(); got != want {
			t.Errorf("New() = %s, want %s", got, want)
		}
	}
}

func TestSequential_ConcurrentUnique(t *testing.T) {
	g := idgen.NewSequential("c_")

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := g.New()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 1000 {
		t.Errorf("expected 1000 unique IDs, got %d", len(seen))
	}
}
