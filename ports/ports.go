// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/artpar/bulwark/domain/audit"
	"github.com/artpar/bulwark/domain/ratelimit"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Rate Limit Ports
// -----------------------------------------------------------------------------

// CounterStore holds per-key fixed-window counters.
type CounterStore interface {
	// Hit counts one attempt for key under rule at now and returns the
	// decision. Check and update happen atomically per key.
	Hit(ctx context.Context, key string, rule ratelimit.Rule, now time.Time) (ratelimit.CheckResult, error)

	// Reset drops the counter for key.
	Reset(ctx context.Context, key string) error
}

// StatsStore records rate limit decisions. Recording is best-effort:
// callers log failures and carry on.
type StatsStore interface {
	Record(ctx context.Context, ev ratelimit.StatsEvent) error
}

// StatsReader exposes aggregate decision counts.
type StatsReader interface {
	Totals(ctx context.Context) (map[string]ratelimit.StatsTotals, error)
}

// -----------------------------------------------------------------------------
// Audit Ports
// -----------------------------------------------------------------------------

// AuditStore persists audit records. Records are append-only.
type AuditStore interface {
	// Append stores one record.
	Append(ctx context.Context, rec audit.Record) error

	// List returns records matching the filter, newest first.
	List(ctx context.Context, f audit.Filter) ([]audit.Record, error)

	// Prune deletes records older than before and returns how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// -----------------------------------------------------------------------------
// Health Ports
// -----------------------------------------------------------------------------

// Pinger is a dependency that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// Credential Ports
// -----------------------------------------------------------------------------

// TokenHasher hashes and verifies admin bearer tokens.
type TokenHasher interface {
	Hash(token string) ([]byte, error)
	Verify(hash []byte, token string) bool
}
