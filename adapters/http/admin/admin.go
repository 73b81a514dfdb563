// Package admin provides HTTP handlers for the Admin API.
package admin

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	bhttp "github.com/artpar/bulwark/adapters/http"
	"github.com/artpar/bulwark/adapters/hasher"
	"github.com/artpar/bulwark/app"
	"github.com/artpar/bulwark/domain/apperr"
	"github.com/artpar/bulwark/domain/audit"
	"github.com/artpar/bulwark/domain/ratelimit"
	"github.com/artpar/bulwark/ports"
)

// AdminActor is recorded for admin calls that carry no other identity.
const AdminActor = "admin"

// Handler provides admin API endpoints.
type Handler struct {
	registry  *app.Registry
	limiter   *app.Limiter
	audit     *app.AuditService
	stats     ports.StatsReader
	errors    *bhttp.ErrorHandler
	tokenHash []byte
	hasher    ports.TokenHasher
	logger    zerolog.Logger
}

// Deps contains dependencies for the admin handler.
type Deps struct {
	Registry *app.Registry
	Limiter  *app.Limiter
	Audit    *app.AuditService
	Stats    ports.StatsReader // optional
	Errors   *bhttp.ErrorHandler
	// TokenHash is the bcrypt hash of the admin bearer token.
	TokenHash string
	// Hasher verifies the token. Defaults to bcrypt.
	Hasher ports.TokenHasher
	Logger zerolog.Logger
}

// NewHandler creates a new admin API handler.
func NewHandler(deps Deps) *Handler {
	if deps.Hasher == nil {
		deps.Hasher = hasher.NewBcrypt(0)
	}
	return &Handler{
		registry:  deps.Registry,
		limiter:   deps.Limiter,
		audit:     deps.Audit,
		stats:     deps.Stats,
		errors:    deps.Errors,
		tokenHash: []byte(deps.TokenHash),
		hasher:    deps.Hasher,
		logger:    deps.Logger,
	}
}

// Router returns the admin API router. Every endpoint requires the bearer
// token. Mutating endpoints are audited, including calls rejected by the
// token check.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	// Breakers
	r.With(h.AuthMiddleware).Method(http.MethodGet, "/breakers", h.errors.Handle(h.ListBreakers))
	r.With(h.audited("breaker.reset_all")...).
		Method(http.MethodPost, "/breakers/reset", h.errors.Handle(h.ResetBreakers))
	r.With(h.audited("breaker.reset")...).
		Method(http.MethodPost, "/breakers/{name}/reset", h.errors.Handle(h.ResetBreaker))

	// Rate limiting
	r.With(h.AuthMiddleware).Method(http.MethodGet, "/ratelimit/rules", h.errors.Handle(h.ListRules))
	r.With(h.AuthMiddleware).Method(http.MethodGet, "/ratelimit/stats", h.errors.Handle(h.Stats))
	r.With(h.audited("ratelimit.reset")...).
		Method(http.MethodDelete, "/ratelimit/{rule}/{key}", h.errors.Handle(h.ResetCounter))

	// Audit trail
	r.With(h.AuthMiddleware).Method(http.MethodGet, "/audit", h.errors.Handle(h.ListAudit))

	return r
}

// audited wraps the token check in an audit record for action.
func (h *Handler) audited(action string) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{bhttp.AuditWrap(h.audit, action), h.AuthMiddleware}
}

// -----------------------------------------------------------------------------
// Authentication
// -----------------------------------------------------------------------------

// AuthMiddleware checks the bearer token against the configured token hash.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" || !h.hasher.Verify(h.tokenHash, token) {
			h.errors.Respond(w, r, apperr.Authentication("Valid admin token required"))
			return
		}

		if bhttp.ActorFrom(r.Context()) == "" {
			r = r.WithContext(bhttp.WithActor(r.Context(), AdminActor))
		}
		next.ServeHTTP(w, r)
	})
}

// -----------------------------------------------------------------------------
// Breakers API
// -----------------------------------------------------------------------------

// BreakersResponse lists breaker snapshots by name.
type BreakersResponse struct {
	Breakers map[string]app.Snapshot `json:"breakers"`
}

// ListBreakers returns every breaker's state.
//
//	@Summary		List circuit breakers
//	@Description	Snapshot of every registered breaker
//	@Tags			Admin - Breakers
//	@Produce		json
//	@Success		200	{object}	BreakersResponse
//	@Failure		401	{object}	apperr.Envelope
//	@Security		AdminAuth
//	@Router			/admin/breakers [get]
func (h *Handler) ListBreakers(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, BreakersResponse{Breakers: h.registry.States()})
	return nil
}

// ResetBreakers forces every breaker closed.
//
//	@Summary		Reset all circuit breakers
//	@Tags			Admin - Breakers
//	@Produce		json
//	@Success		200	{object}	BreakersResponse
//	@Failure		401	{object}	apperr.Envelope
//	@Security		AdminAuth
//	@Router			/admin/breakers/reset [post]
func (h *Handler) ResetBreakers(w http.ResponseWriter, r *http.Request) error {
	h.registry.ResetAll()
	h.logger.Warn().Str("actor", bhttp.ActorFrom(r.Context())).Msg("all breakers reset")
	writeJSON(w, http.StatusOK, BreakersResponse{Breakers: h.registry.States()})
	return nil
}

// ResetBreaker forces one breaker closed.
//
//	@Summary		Reset a circuit breaker
//	@Tags			Admin - Breakers
//	@Produce		json
//	@Param			name	path		string	true	"Breaker name"
//	@Success		200		{object}	app.Snapshot
//	@Failure		404		{object}	apperr.Envelope
//	@Security		AdminAuth
//	@Router			/admin/breakers/{name}/reset [post]
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	if !h.registry.Reset(name) {
		return apperr.NotFound("Breaker " + name)
	}
	b, _ := h.registry.Lookup(name)
	h.logger.Warn().Str("breaker", name).Str("actor", bhttp.ActorFrom(r.Context())).Msg("breaker reset")
	writeJSON(w, http.StatusOK, b.State())
	return nil
}

// -----------------------------------------------------------------------------
// Rate limit API
// -----------------------------------------------------------------------------

// RulesResponse lists the active rate limit rules.
type RulesResponse struct {
	Rules map[string]ratelimit.Rule `json:"rules"`
}

// ListRules returns the active rate limit tiers.
//
//	@Summary		List rate limit tiers
//	@Tags			Admin - Rate limits
//	@Produce		json
//	@Success		200	{object}	RulesResponse
//	@Security		AdminAuth
//	@Router			/admin/ratelimit/rules [get]
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, RulesResponse{Rules: h.limiter.Rules()})
	return nil
}

// StatsResponse holds allowed/denied totals per rule.
type StatsResponse struct {
	Totals map[string]ratelimit.StatsTotals `json:"totals"`
}

// Stats returns cumulative decision counts.
//
//	@Summary		Rate limit decision totals
//	@Tags			Admin - Rate limits
//	@Produce		json
//	@Success		200	{object}	StatsResponse
//	@Failure		404	{object}	apperr.Envelope	"Stats are disabled"
//	@Security		AdminAuth
//	@Router			/admin/ratelimit/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) error {
	if h.stats == nil {
		return apperr.NotFound("Rate limit stats")
	}
	totals, err := h.stats.Totals(r.Context())
	if err != nil {
		return apperr.ExternalService("stats", "", apperr.WithCause(err))
	}
	writeJSON(w, http.StatusOK, StatsResponse{Totals: totals})
	return nil
}

// ResetCounter clears one caller's counter for a tier.
//
//	@Summary		Reset a rate limit counter
//	@Tags			Admin - Rate limits
//	@Param			rule	path	string	true	"Tier name"
//	@Param			key		path	string	true	"Caller key"
//	@Success		204
//	@Failure		404	{object}	apperr.Envelope
//	@Security		AdminAuth
//	@Router			/admin/ratelimit/{rule}/{key} [delete]
func (h *Handler) ResetCounter(w http.ResponseWriter, r *http.Request) error {
	rule, key := chi.URLParam(r, "rule"), chi.URLParam(r, "key")
	if _, ok := h.limiter.Rule(rule); !ok {
		return apperr.NotFound("Rate limit tier " + rule)
	}
	if err := h.limiter.Reset(r.Context(), rule, key); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// -----------------------------------------------------------------------------
// Audit API
// -----------------------------------------------------------------------------

// AuditResponse lists audit records, newest first.
type AuditResponse struct {
	Records []audit.Record `json:"records"`
	Count   int            `json:"count"`
}

// ListAudit returns audit records matching the query.
//
//	@Summary		List audit records
//	@Tags			Admin - Audit
//	@Produce		json
//	@Param			action	query		string	false	"Action"
//	@Param			actor	query		string	false	"Actor id"
//	@Param			result	query		string	false	"success or failure"
//	@Param			since	query		string	false	"RFC3339 lower bound (inclusive)"
//	@Param			until	query		string	false	"RFC3339 upper bound (exclusive)"
//	@Param			limit	query		int		false	"Max results"	default(100)
//	@Success		200		{object}	AuditResponse
//	@Failure		400		{object}	apperr.Envelope
//	@Security		AdminAuth
//	@Router			/admin/audit [get]
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) error {
	f, err := parseFilter(r)
	if err != nil {
		return err
	}
	recs, err := h.audit.List(r.Context(), f)
	if err != nil {
		return apperr.Database("failed to list audit records", apperr.WithCause(err))
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, AuditResponse{Records: recs, Count: len(recs)})
	return nil
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		Action:  q.Get("action"),
		ActorID: q.Get("actor"),
	}

	switch res := audit.Result(q.Get("result")); res {
	case "", audit.ResultSuccess, audit.ResultFailure:
		f.Result = res
	default:
		return f, apperr.Validation("result must be 'success' or 'failure'")
	}

	var err error
	if f.Since, err = parseTime(q.Get("since")); err != nil {
		return f, apperr.Validation("since must be an RFC3339 timestamp")
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		return f, apperr.Validation("until must be an RFC3339 timestamp")
	}

	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, apperr.Validation("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
