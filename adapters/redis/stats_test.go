package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	redisstats "github.com/artpar/bulwark/adapters/redis"
	"github.com/artpar/bulwark/domain/ratelimit"
)

// Runs against a real server when BULWARK_TEST_REDIS_ADDR is set.
func TestStatsStore_Integration(t *testing.T) {
	addr := os.Getenv("BULWARK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BULWARK_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	rdb, err := redisstats.Connect(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer rdb.Close()

	prefix := "bulwark:test:" + time.Now().Format("150405.000000")
	defer func() {
		keys, _ := rdb.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
	}()

	s := redisstats.NewStatsStore(rdb, redisstats.WithPrefix(prefix), redisstats.WithTTL(time.Minute))
	for _, allowed := range []bool{true, true, false} {
		if err := s.Record(ctx, ratelimit.StatsEvent{Rule: "general", Allowed: allowed, Method: "GET", Path: "/x"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	totals, err := s.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if g := totals["general"]; g.Allowed != 2 || g.Denied != 1 {
		t.Errorf("general = %+v", g)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
