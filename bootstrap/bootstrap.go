// Package bootstrap wires all dependencies and starts the application.
// Everything is built once from a *config.Config; the parts that can change
// at runtime (rate limit tiers, bypass paths, log level) are re-applied by
// ApplyConfig when the config holder reloads.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/artpar/bulwark/adapters/clock"
	bhttp "github.com/artpar/bulwark/adapters/http"
	"github.com/artpar/bulwark/adapters/http/admin"
	"github.com/artpar/bulwark/adapters/idgen"
	"github.com/artpar/bulwark/adapters/memory"
	"github.com/artpar/bulwark/adapters/metrics"
	"github.com/artpar/bulwark/adapters/redis"
	"github.com/artpar/bulwark/adapters/sqlstore"
	"github.com/artpar/bulwark/app"
	"github.com/artpar/bulwark/config"
	"github.com/artpar/bulwark/domain/audit"
	"github.com/artpar/bulwark/domain/breaker"
	"github.com/artpar/bulwark/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	// Services
	Registry *app.Registry
	Limiter  *app.Limiter
	Audit    *app.AuditService
	Errors   *bhttp.ErrorHandler

	cfg         *config.Config
	holder      *config.Holder
	clock       ports.Clock
	rateLimiter *bhttp.RateLimiter
	scheduler   *cron.Cron

	// Adapters (for cleanup)
	db        *sqlstore.DB
	counters  *memory.CounterStore
	redis     *goredis.Client
	upstreams []*bhttp.UpstreamClient
}

// Options provides optional collaborators for application initialization.
type Options struct {
	// Version is reported by /version.
	Version string

	// Holder, when set, drives hot reload: its changes are applied with
	// ApplyConfig and Run starts its file and SIGHUP watchers.
	Holder *config.Holder

	// Registry receives the Prometheus collectors. The default registerer
	// is used when nil.
	Registry *prometheus.Registry

	// LogOutput defaults to stdout.
	LogOutput io.Writer

	// Clock defaults to the real clock.
	Clock ports.Clock
}

// statsSink is a decision store that can also report its totals.
type statsSink interface {
	ports.StatsStore
	ports.StatsReader
}

// New creates and initializes the application from cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logger := setupLogger(cfg.Logging, out)

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	a := &App{
		Logger: logger,
		cfg:    cfg,
		holder: opts.Holder,
		clock:  clk,
	}

	logger.Info().Str("version", opts.Version).Msg("initializing bulwark")

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		if opts.Registry != nil {
			a.Metrics = metrics.NewWithRegistry(opts.Registry)
			metricsHandler = promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})
		} else {
			a.Metrics = metrics.New()
			metricsHandler = promhttp.Handler()
		}
		logger.Info().Msg("prometheus metrics enabled")
	}

	ctx := context.Background()
	checks := make(map[string]ports.Pinger)

	auditStore, err := a.initAuditStore(ctx)
	if err != nil {
		a.closeAdapters()
		return nil, fmt.Errorf("init audit store: %w", err)
	}
	if a.db != nil {
		checks["audit"] = a.db
	}

	stats, err := a.initStats(ctx)
	if err != nil {
		a.closeAdapters()
		return nil, fmt.Errorf("init stats: %w", err)
	}
	if p, ok := stats.(ports.Pinger); ok {
		checks["stats"] = p
	}

	a.Registry = app.NewRegistry(cfg.Breaker, clk, app.WithStateListener(a.breakerChanged))

	a.counters = memory.NewCounterStore(memory.CounterStoreConfig{
		NumShards: cfg.RateLimit.Shards,
		Clock:     clk,
	})
	limiterDeps := app.LimiterDeps{
		Counters: a.counters,
		Clock:    clk,
		Logger:   logger.With().Str("component", "ratelimit").Logger(),
		Observer: a.observeDecision,
	}
	if stats != nil {
		limiterDeps.Stats = stats
	}
	a.Limiter, err = app.NewLimiter(limiterDeps, cfg.RateLimit.Tiers)
	if err != nil {
		a.closeAdapters()
		return nil, fmt.Errorf("init rate limiter: %w", err)
	}

	a.Audit = app.NewAuditService(app.AuditDeps{
		Store:        auditStore,
		IDGen:        idgen.Ordered{},
		Clock:        clk,
		Logger:       logger.With().Str("component", "audit").Logger(),
		OnRecord:     a.observeAudit,
		OnStoreError: a.observeAuditStoreError,
	})

	a.Errors = bhttp.NewErrorHandler(bhttp.ErrorHandlerConfig{
		Logger:      logger,
		Clock:       clk,
		Development: cfg.Server.Development,
		Metrics:     a.Metrics,
	})

	a.rateLimiter = bhttp.NewRateLimiter(a.Limiter, a.Errors,
		bhttp.DefaultKeyFunc(cfg.RateLimit.KeyHeader, cfg.RateLimit.TrustForwardedFor),
		cfg.RateLimit.BypassPaths)

	routes, err := a.initUpstreams()
	if err != nil {
		a.closeAdapters()
		return nil, fmt.Errorf("init upstreams: %w", err)
	}

	var adminRouter http.Handler
	if cfg.Admin.TokenHash != "" {
		var reader ports.StatsReader
		if stats != nil {
			reader = stats
		}
		adminRouter = admin.NewHandler(admin.Deps{
			Registry:  a.Registry,
			Limiter:   a.Limiter,
			Audit:     a.Audit,
			Stats:     reader,
			Errors:    a.Errors,
			TokenHash: cfg.Admin.TokenHash,
			Logger:    logger,
		}).Router()
	} else {
		logger.Warn().Msg("admin.token_hash not set, admin API disabled")
	}

	router := bhttp.NewRouter(bhttp.RouterConfig{
		Logger:            logger,
		Errors:            a.Errors,
		RateLimiter:       a.rateLimiter,
		Audit:             a.Audit,
		Health:            bhttp.NewHealthHandler(checks),
		Metrics:           a.Metrics,
		MetricsHandler:    metricsHandler,
		MetricsPath:       cfg.Metrics.Path,
		EnableOpenAPI:     cfg.OpenAPI.Enabled,
		TrustProxyHeaders: cfg.RateLimit.TrustForwardedFor,
		ActorHeader:       cfg.Auth.ActorHeader,
		Version:           opts.Version,
		Admin:             adminRouter,
		Routes:            routes,
	})

	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := a.initScheduler(); err != nil {
		a.closeAdapters()
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	if a.holder != nil {
		a.holder.OnChange(a.onConfigChange)
		a.holder.OnError(a.onConfigError)
	}

	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.HTTPServer.Handler
}

func (a *App) initAuditStore(ctx context.Context) (ports.AuditStore, error) {
	ac := a.cfg.Audit
	var driver string
	switch ac.Driver {
	case config.AuditMemory:
		a.Logger.Info().Msg("audit records kept in memory")
		return memory.NewAuditStore(), nil
	case config.AuditSQLite:
		driver = sqlstore.DriverSQLite
	case config.AuditPostgres:
		driver = sqlstore.DriverPostgres
	default:
		return nil, fmt.Errorf("unknown audit driver %q", ac.Driver)
	}

	db, err := sqlstore.Open(ctx, driver, ac.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.db = db

	a.Logger.Info().Str("driver", ac.Driver).Msg("audit store initialized")
	return sqlstore.NewAuditStore(db), nil
}

func (a *App) initStats(ctx context.Context) (statsSink, error) {
	sc := a.cfg.Stats
	switch sc.Driver {
	case config.StatsNone:
		return nil, nil
	case config.StatsMemory:
		return memory.NewStatsStore(), nil
	case config.StatsRedis:
		rdb, err := redis.Connect(ctx, sc.Redis.Addr, sc.Redis.Password, sc.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.redis = rdb
		a.Logger.Info().Str("addr", sc.Redis.Addr).Msg("rate limit stats sent to redis")
		return redis.NewStatsStore(rdb,
			redis.WithPrefix(sc.Redis.Prefix),
			redis.WithTTL(sc.Redis.TTL),
			redis.WithBucket(sc.Redis.Bucket),
			redis.WithTrackKeys(sc.Redis.TrackKeys),
		), nil
	default:
		return nil, fmt.Errorf("unknown stats driver %q", sc.Driver)
	}
}

func (a *App) initUpstreams() ([]bhttp.Route, error) {
	clients := make(map[string]*bhttp.UpstreamClient, len(a.cfg.Upstreams))
	for _, uc := range a.cfg.Upstreams {
		b := a.Registry.Get(uc.Name, uc.Breaker)
		client, err := bhttp.NewUpstreamClient(bhttp.UpstreamConfig{
			Name:    uc.Name,
			BaseURL: uc.URL,
			Timeout: uc.Timeout,
		}, b, a.Metrics)
		if err != nil {
			return nil, fmt.Errorf("upstream %s: %w", uc.Name, err)
		}
		clients[uc.Name] = client
		a.upstreams = append(a.upstreams, client)

		a.Logger.Info().
			Str("upstream", uc.Name).
			Str("url", uc.URL).
			Int("failure_threshold", b.Config().FailureThreshold).
			Dur("open_duration", b.Config().OpenDuration).
			Msg("upstream registered")
	}

	routes := make([]bhttp.Route, 0, len(a.cfg.Routes))
	for _, rc := range a.cfg.Routes {
		client, ok := clients[rc.Upstream]
		if !ok {
			return nil, fmt.Errorf("route %s: unknown upstream %q", rc.Path, rc.Upstream)
		}
		prefix := ""
		if rc.StripPrefix {
			prefix = rc.Path
		}
		routes = append(routes, bhttp.Route{
			Path:        rc.Path,
			Methods:     rc.Methods,
			Tier:        rc.Tier,
			AuditAction: rc.AuditAction,
			Handler:     client.Proxy(a.Errors, prefix),
		})
	}
	return routes, nil
}

func (a *App) initScheduler() error {
	a.scheduler = cron.New()

	if a.cfg.Audit.Retention > 0 && a.cfg.Audit.PruneSchedule != "" {
		if _, err := a.scheduler.AddFunc(a.cfg.Audit.PruneSchedule, a.PruneAudit); err != nil {
			return fmt.Errorf("audit prune schedule %q: %w", a.cfg.Audit.PruneSchedule, err)
		}
	}

	if iv := a.cfg.RateLimit.CleanupInterval; iv > 0 {
		if _, err := a.scheduler.AddFunc("@every "+iv.String(), a.SweepCounters); err != nil {
			return fmt.Errorf("counter sweep schedule: %w", err)
		}
	}
	return nil
}

// PruneAudit deletes audit records older than the configured retention.
func (a *App) PruneAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := a.Audit.Prune(ctx, a.cfg.Audit.Retention)
	if err != nil {
		a.Logger.Error().Err(err).Msg("audit prune failed")
		return
	}
	if a.Metrics != nil {
		a.Metrics.AuditPruned.Add(float64(n))
	}
	a.Logger.Info().Int64("deleted", n).Dur("retention", a.cfg.Audit.Retention).Msg("audit records pruned")
}

// SweepCounters drops expired rate limit windows.
func (a *App) SweepCounters() {
	if n := a.counters.Sweep(a.clock.Now()); n > 0 {
		a.Logger.Debug().Int("removed", n).Msg("expired rate limit counters swept")
	}
}

// ApplyConfig re-applies the hot-reloadable parts of cfg. Rate limit tiers
// are validated first; on error nothing changes.
func (a *App) ApplyConfig(cfg *config.Config) error {
	if err := a.Limiter.UpdateRules(cfg.RateLimit.Tiers); err != nil {
		return fmt.Errorf("update rate limit tiers: %w", err)
	}
	a.rateLimiter.SetBypassPaths(cfg.RateLimit.BypassPaths)
	zerolog.SetGlobalLevel(parseLevel(cfg.Logging.Level))
	return nil
}

func (a *App) onConfigChange(cfg *config.Config) {
	if err := a.ApplyConfig(cfg); err != nil {
		a.onConfigError(err)
		return
	}
	if a.Metrics != nil {
		a.Metrics.ConfigReloads.Inc()
		a.Metrics.ConfigLastReload.SetToCurrentTime()
	}
	a.Logger.Info().Msg("configuration applied")
}

func (a *App) onConfigError(err error) {
	if a.Metrics != nil {
		a.Metrics.ConfigReloadErrors.Inc()
	}
	a.Logger.Error().Err(err).Msg("configuration reload rejected, keeping previous config")
}

func (a *App) breakerChanged(name string, from, to breaker.Phase) {
	event := a.Logger.Info()
	if to == breaker.Open {
		event = a.Logger.Warn()
	}
	event.Str("breaker", name).Str("from", string(from)).Str("to", string(to)).Msg("circuit breaker state changed")

	if a.Metrics != nil {
		a.Metrics.BreakerChanged(name, string(from), string(to))
	}
}

func (a *App) observeDecision(rule string, allowed bool) {
	if a.Metrics == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	a.Metrics.RateLimitChecks.WithLabelValues(rule, result).Inc()
}

func (a *App) observeAudit(action string, result audit.Result) {
	if a.Metrics != nil {
		a.Metrics.AuditRecords.WithLabelValues(action, string(result)).Inc()
	}
}

func (a *App) observeAuditStoreError() {
	if a.Metrics != nil {
		a.Metrics.AuditStoreErrors.Inc()
	}
}

// Start launches background jobs and config watchers without serving HTTP.
func (a *App) Start() {
	a.scheduler.Start()

	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watching disabled")
		}
		a.holder.WatchSignals()
	}
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	a.Start()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	// Stop scheduling and wait for running jobs
	if a.scheduler != nil {
		select {
		case <-a.scheduler.Stop().Done():
		case <-ctx.Done():
			a.Logger.Warn().Msg("background jobs still running at shutdown")
		}
	}

	// Shutdown HTTP server
	var err error
	if a.HTTPServer != nil {
		if err = a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	a.closeAdapters()

	a.Logger.Info().Msg("shutdown complete")
	return err
}

func (a *App) closeAdapters() {
	for _, u := range a.upstreams {
		u.Close()
	}
	if a.counters != nil {
		a.counters.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("redis close error")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}
}

func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return level
}

func setupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}
