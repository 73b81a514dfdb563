// Package redis records rate limit decision statistics in Redis.
//
// Layout, for prefix P:
//
//	P:total                 hash  <rule>:allowed / <rule>:denied   (never expires)
//	P:minute:<YYYYMMDDHHMM> hash  <rule>:allowed / <rule>:denied   (expires after TTL)
//	P:route                 hash  <METHOD path>:allowed / :denied  (never expires)
//	P:key:<key>             hash  allowed / denied                 (only with key tracking)
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/artpar/bulwark/domain/ratelimit"
	"github.com/artpar/bulwark/ports"
)

// StatsStore writes decision counters with one pipeline per event.
type StatsStore struct {
	rdb goredis.UniversalClient

	prefix    string
	ttl       time.Duration
	bucket    string // "minute" (default) or "none"
	trackKeys bool
}

// Option configures a StatsStore.
type Option func(*StatsStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *StatsStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// WithTTL sets the expiry of time-bucketed and per-key hashes.
func WithTTL(d time.Duration) Option {
	return func(s *StatsStore) { s.ttl = d }
}

// WithBucket selects time bucketing: "minute" or "none".
func WithBucket(bucket string) Option {
	return func(s *StatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

// WithTrackKeys enables per-caller hashes. Caller keys are unbounded, so
// keep the TTL short when enabling this.
func WithTrackKeys(track bool) Option {
	return func(s *StatsStore) { s.trackKeys = track }
}

// NewStatsStore wraps an existing client.
func NewStatsStore(rdb goredis.UniversalClient, opts ...Option) *StatsStore {
	s := &StatsStore{
		rdb:    rdb,
		prefix: "bulwark:ratelimit",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect builds a client for addr and verifies it answers PING.
func Connect(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

// Record counts one decision.
func (s *StatsStore) Record(ctx context.Context, ev ratelimit.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := outcome(ev.Allowed)
	ruleField := ev.Rule + ":" + field

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", ruleField, 1)

	if s.bucket == "minute" {
		bucketKey := s.minuteKey(at)
		pipe.HIncrBy(ctx, bucketKey, ruleField, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	if s.trackKeys {
		if k := strings.TrimSpace(ev.Key); k != "" {
			keyKey := s.prefix + ":key:" + k
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record rate limit stats: %w", err)
	}
	return nil
}

// Totals reads the cumulative per-rule counters.
func (s *StatsStore) Totals(ctx context.Context) (map[string]ratelimit.StatsTotals, error) {
	raw, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return nil, fmt.Errorf("read rate limit stats: %w", err)
	}
	return parseTotals(raw), nil
}

// Ping reports whether Redis is reachable.
func (s *StatsStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *StatsStore) minuteKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}

// parseTotals turns "<rule>:allowed"/"<rule>:denied" fields into totals.
// Malformed fields are skipped.
func parseTotals(raw map[string]string) map[string]ratelimit.StatsTotals {
	out := make(map[string]ratelimit.StatsTotals)
	for field, val := range raw {
		i := strings.LastIndex(field, ":")
		if i < 0 {
			continue
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		rule, kind := field[:i], field[i+1:]
		t := out[rule]
		switch kind {
		case "allowed":
			t.Allowed += n
		case "denied":
			t.Denied += n
		default:
			continue
		}
		out[rule] = t
	}
	return out
}

var (
	_ ports.StatsStore  = (*StatsStore)(nil)
	_ ports.StatsReader = (*StatsStore)(nil)
	_ ports.Pinger      = (*StatsStore)(nil)
)
