package http_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/artpar/bulwark/adapters/clock"
	bhttp "github.com/artpar/bulwark/adapters/http"
	"github.com/artpar/bulwark/adapters/idgen"
	"github.com/artpar/bulwark/adapters/memory"
	"github.com/artpar/bulwark/adapters/metrics"
	"github.com/artpar/bulwark/app"
	"github.com/artpar/bulwark/domain/ratelimit"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	clock   *clock.Fake
	logs    *bytes.Buffer
	metrics *metrics.Collector
	errors  *bhttp.ErrorHandler
	limiter *app.Limiter
	audit   *app.AuditService
	records *memory.AuditStore
}

func newFixture(t *testing.T, dev bool) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clock.NewFake(baseTime),
		logs:    &bytes.Buffer{},
		metrics: metrics.NewWithRegistry(prometheus.NewRegistry()),
		records: memory.NewAuditStore(),
	}
	logger := zerolog.New(f.logs)

	f.errors = bhttp.NewErrorHandler(bhttp.ErrorHandlerConfig{
		Logger:      logger,
		Clock:       f.clock,
		Development: dev,
		Metrics:     f.metrics,
	})

	counters := memory.NewCounterStore(memory.CounterStoreConfig{Clock: f.clock})
	t.Cleanup(func() { counters.Close() })
	l, err := app.NewLimiter(app.LimiterDeps{
		Counters: counters,
		Clock:    f.clock,
		Logger:   logger,
	}, ratelimit.DefaultRules())
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}
	f.limiter = l

	f.audit = app.NewAuditService(app.AuditDeps{
		Store:  f.records,
		IDGen:  idgen.NewSequential("audit"),
		Clock:  f.clock,
		Logger: logger,
	})
	return f
}
