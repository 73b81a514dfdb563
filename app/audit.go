package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/artpar/bulwark/domain/audit"
	"github.com/artpar/bulwark/ports"
)

// AuditDeps contains dependencies for AuditService.
type AuditDeps struct {
	Store  ports.AuditStore
	IDGen  ports.IDGenerator
	Clock  ports.Clock
	Logger zerolog.Logger

	// Optional hooks
	OnRecord     func(action string, result audit.Result)
	OnStoreError func()
}

// AuditService builds, logs and persists audit records.
type AuditService struct {
	store        ports.AuditStore
	idGen        ports.IDGenerator
	clock        ports.Clock
	logger       zerolog.Logger
	onRecord     func(string, audit.Result)
	onStoreError func()
	warn         *rate.Limiter
}

// NewAuditService creates an audit service.
func NewAuditService(deps AuditDeps) *AuditService {
	return &AuditService{
		store:        deps.Store,
		idGen:        deps.IDGen,
		clock:        deps.Clock,
		logger:       deps.Logger,
		onRecord:     deps.OnRecord,
		onStoreError: deps.OnStoreError,
		warn:         rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// Record emits one audit record. Persistence failures are logged and
// swallowed so they never change the outcome of the audited call.
func (s *AuditService) Record(ctx context.Context, action, actorID string, result audit.Result, details map[string]any) audit.Record {
	rec := audit.Record{
		ID:        s.idGen.New(),
		Action:    action,
		ActorID:   audit.Actor(actorID),
		Details:   details,
		Result:    result,
		Timestamp: s.clock.Now(),
	}

	s.logger.Info().
		Str("audit_id", rec.ID).
		Str("action", rec.Action).
		Str("actor_id", rec.ActorID).
		Str("result", string(rec.Result)).
		Fields(rec.Details).
		Msg("audit")

	if s.onRecord != nil {
		s.onRecord(rec.Action, rec.Result)
	}

	if s.store != nil {
		// The request may already be cancelled when the record is written.
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.store.Append(storeCtx, rec); err != nil {
			if s.onStoreError != nil {
				s.onStoreError()
			}
			if s.warn.Allow() {
				s.logger.Error().Err(err).Str("audit_id", rec.ID).Msg("failed to persist audit record")
			}
		}
	}
	return rec
}

// List returns stored records matching f, newest first.
func (s *AuditService) List(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.List(ctx, f)
}

// Prune deletes records older than the retention period.
func (s *AuditService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if s.store == nil || retention <= 0 {
		return 0, nil
	}
	n, err := s.store.Prune(ctx, s.clock.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("removed", n).Dur("retention", retention).Msg("pruned audit records")
	}
	return n, nil
}
