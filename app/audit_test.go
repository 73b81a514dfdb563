package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/bulwark/adapters/clock"
	"github.com/artpar/bulwark/adapters/idgen"
	"github.com/artpar/bulwark/adapters/memory"
	"github.com/artpar/bulwark/app"
	"github.com/artpar/bulwark/domain/audit"
)

func TestAuditService_Record(t *testing.T) {
	store := memory.NewAuditStore()
	var hooks []string
	svc := app.NewAuditService(app.AuditDeps{
		Store:    store,
		IDGen:    idgen.NewSequential("audit_"),
		Clock:    clock.NewFake(t0),
		Logger:   zerolog.Nop(),
		OnRecord: func(action string, result audit.Result) { hooks = append(hooks, action+":"+string(result)) },
	})

	rec := svc.Record(context.Background(), "user.delete", "", audit.ResultSuccess, map[string]any{"status_code": 204})

	if rec.ID != "audit_1" || rec.ActorID != audit.AnonymousActor || !rec.Timestamp.Equal(t0) {
		t.Errorf("record = %+v", rec)
	}
	if store.Len() != 1 {
		t.Errorf("stored %d records, want 1", store.Len())
	}
	if len(hooks) != 1 || hooks[0] != "user.delete:success" {
		t.Errorf("hooks = %v", hooks)
	}
}

func TestAuditService_RecordSurvivesCancelledRequest(t *testing.T) {
	store := memory.NewAuditStore()
	svc := app.NewAuditService(app.AuditDeps{
		Store: store, IDGen: idgen.UUID{}, Clock: clock.NewFake(t0), Logger: zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Record(ctx, "a", "u", audit.ResultFailure, nil)

	if store.Len() != 1 {
		t.Error("record should be stored even after the request context is cancelled")
	}
}

type failingAuditStore struct{ memory.AuditStore }

func (*failingAuditStore) Append(context.Context, audit.Record) error {
	return errors.New("disk full")
}

func TestAuditService_StoreFailureIsSwallowed(t *testing.T) {
	storeErrors := 0
	svc := app.NewAuditService(app.AuditDeps{
		Store:        &failingAuditStore{},
		IDGen:        idgen.UUID{},
		Clock:        clock.NewFake(t0),
		Logger:       zerolog.Nop(),
		OnStoreError: func() { storeErrors++ },
	})

	rec := svc.Record(context.Background(), "a", "u", audit.ResultSuccess, nil)
	if rec.ID == "" {
		t.Error("record should still be returned")
	}
	if storeErrors != 1 {
		t.Errorf("store errors = %d, want 1", storeErrors)
	}
}

func TestAuditService_ListAndPrune(t *testing.T) {
	fake := clock.NewFake(t0)
	store := memory.NewAuditStore()
	svc := app.NewAuditService(app.AuditDeps{
		Store: store, IDGen: idgen.NewSequential("r"), Clock: fake, Logger: zerolog.Nop(),
	})
	ctx := context.Background()

	svc.Record(ctx, "old", "u", audit.ResultSuccess, nil)
	fake.Advance(10 * 24 * time.Hour)
	svc.Record(ctx, "new", "u", audit.ResultSuccess, nil)

	n, err := svc.Prune(ctx, 7*24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	recs, err := svc.List(ctx, audit.Filter{})
	if err != nil || len(recs) != 1 || recs[0].Action != "new" {
		t.Errorf("List = %+v, %v", recs, err)
	}

	if n, _ := svc.Prune(ctx, 0); n != 0 {
		t.Error("zero retention must not prune")
	}
}
