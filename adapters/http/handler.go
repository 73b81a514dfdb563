// Package http provides the HTTP surface of the resilience layer: the
// central error handler, rate limit and audit middleware, breaker-guarded
// upstream proxying and the router that ties them together.
package http

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/artpar/bulwark/adapters/metrics"
	"github.com/artpar/bulwark/app"
	_ "github.com/artpar/bulwark/docs/swagger" // swagger docs
	"github.com/artpar/bulwark/domain/ratelimit"
	"github.com/artpar/bulwark/ports"
)

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
	Service string `json:"service" example:"bulwark"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status string            `json:"status" example:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checks map[string]ports.Pinger
}

// NewHealthHandler creates a health handler. Readiness pings every check.
func NewHealthHandler(checks map[string]ports.Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Liveness returns a simple liveness check.
//
//	@Summary		Liveness check
//	@Description	Returns OK if the service is running
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/health [get]
//	@Router			/health/live [get]
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readiness checks that every backing store answers.
//
//	@Summary		Readiness check
//	@Description	Pings the audit store and the stats sink
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Failure		503	{object}	HealthResponse
//	@Router			/health/ready [get]
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	failed := make(map[string]string)
	for name, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Checks: failed})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// VersionHandler returns the service version.
//
//	@Summary		Get service version
//	@Tags			System
//	@Produce		json
//	@Success		200	{object}	VersionResponse
//	@Router			/version [get]
func VersionHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VersionResponse{Version: version, Service: "bulwark"})
	}
}

// Route mounts a protected handler under a path prefix.
type Route struct {
	Path        string
	Methods     []string // empty means any method
	Tier        string
	AuditAction string // empty disables auditing
	Handler     http.Handler
}

// RouterConfig holds the router's collaborators. Errors and RateLimiter are
// required; the rest are optional.
type RouterConfig struct {
	Logger      zerolog.Logger
	Errors      *ErrorHandler
	RateLimiter *RateLimiter
	Audit       *app.AuditService
	Health      *HealthHandler
	Metrics     *metrics.Collector
	// MetricsHandler serves MetricsPath; promhttp.Handler() when nil.
	MetricsHandler http.Handler
	MetricsPath    string
	EnableOpenAPI  bool
	// TrustProxyHeaders rewrites RemoteAddr from X-Forwarded-For/X-Real-IP.
	TrustProxyHeaders bool
	ActorHeader       string
	Version           string
	// Admin is mounted at /admin behind the general tier.
	Admin  http.Handler
	Routes []Route
}

// NewRouter creates the main HTTP router.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(NewLoggingMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics))
	}
	r.Use(cfg.Errors.Recover)
	r.Use(Identity(cfg.ActorHeader))
	r.Use(CaptureBody)

	r.NotFound(cfg.Errors.NotFound)
	r.MethodNotAllowed(cfg.Errors.MethodNotAllowed)

	// Health endpoints (always exempt from rate limiting)
	health := cfg.Health
	if health == nil {
		health = NewHealthHandler(nil)
	}
	r.Get("/health", health.Liveness)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Metrics != nil || cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		h := cfg.MetricsHandler
		if h == nil {
			h = promhttp.Handler()
		}
		r.Handle(path, h)
	}

	if cfg.EnableOpenAPI {
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	}

	r.Get("/version", VersionHandler(cfg.Version))

	if cfg.Admin != nil {
		r.With(cfg.RateLimiter.Tier(ratelimit.TierGeneral)).Mount("/admin", cfg.Admin)
	}

	for _, rt := range cfg.Routes {
		mountRoute(r, cfg, rt)
	}

	return r
}

func mountRoute(r chi.Router, cfg RouterConfig, rt Route) {
	h := rt.Handler
	if rt.AuditAction != "" && cfg.Audit != nil {
		h = AuditWrap(cfg.Audit, rt.AuditAction)(h)
	}
	tier := rt.Tier
	if tier == "" {
		tier = ratelimit.TierGeneral
	}
	h = cfg.RateLimiter.Tier(tier)(h)

	base := strings.TrimSuffix(rt.Path, "/")
	patterns := []string{base, base + "/*"}
	if base == "" {
		patterns = []string{"/", "/*"}
	}

	for _, p := range patterns {
		if len(rt.Methods) == 0 {
			r.Handle(p, h)
			continue
		}
		for _, m := range rt.Methods {
			r.Method(strings.ToUpper(m), p, h)
		}
	}

	cfg.Logger.Debug().
		Str("path", rt.Path).
		Str("tier", tier).
		Str("audit_action", rt.AuditAction).
		Strs("methods", sortedUpper(rt.Methods)).
		Msg("route mounted")
}

func sortedUpper(ms []string) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = strings.ToUpper(m)
	}
	sort.Strings(out)
	return out
}

// NewMetricsMiddleware creates middleware that records request metrics.
func NewMetricsMiddleware(m *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip metrics for internal endpoints
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" ||
				strings.HasPrefix(r.URL.Path, "/swagger") {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := statusLabel(ww.Status())
			path := metrics.NormalizePath(r.URL.Path)

			m.RequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			m.RequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		})
	}
}

// statusLabel returns a string label for the status code.
func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

// NewLoggingMiddleware creates a new logging middleware.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Skip logging for health checks and metrics
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
