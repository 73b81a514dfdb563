package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/artpar/bulwark/adapters/metrics"
	"github.com/artpar/bulwark/domain/apperr"
	"github.com/artpar/bulwark/domain/redact"
	"github.com/artpar/bulwark/ports"
)

// HandlerFunc is an http.HandlerFunc that reports failure by returning it.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ErrorHandler turns every error raised while serving a request into one
// log entry and one JSON envelope.
type ErrorHandler struct {
	logger  zerolog.Logger
	clock   ports.Clock
	dev     bool
	metrics *metrics.Collector
}

// ErrorHandlerConfig configures an ErrorHandler.
type ErrorHandlerConfig struct {
	Logger zerolog.Logger
	Clock  ports.Clock
	// Development includes stack traces in responses.
	Development bool
	Metrics     *metrics.Collector // optional
}

// NewErrorHandler creates the central error handler.
func NewErrorHandler(cfg ErrorHandlerConfig) *ErrorHandler {
	return &ErrorHandler{
		logger:  cfg.Logger,
		clock:   cfg.Clock,
		dev:     cfg.Development,
		metrics: cfg.Metrics,
	}
}

// Respond logs err and writes its envelope with the error's status.
func (h *ErrorHandler) Respond(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	ae := h.report(err, r)

	if retry, ok := ae.Context.Extra["retryAfter"]; ok {
		w.Header().Set("Retry-After", fmt.Sprint(retry))
	}
	writeJSON(w, ae.Status, ae.Envelope(h.dev))
}

// report logs and counts err without writing a response.
func (h *ErrorHandler) report(err error, r *http.Request) *apperr.Error {
	ae := h.enrich(apperr.Wrap(err), r)
	h.log(ae, r)

	if h.metrics != nil {
		h.metrics.ErrorsTotal.WithLabelValues(string(ae.Kind), string(ae.Severity)).Inc()
		if name, ok := ae.Context.Extra["breaker"].(string); ok && ae.Kind == apperr.KindCircuitOpen {
			h.metrics.BreakerRejections.WithLabelValues(name).Inc()
		}
	}
	return ae
}

func (h *ErrorHandler) enrich(ae *apperr.Error, r *http.Request) *apperr.Error {
	return ae.WithDefaults(apperr.Context{
		Timestamp: h.clock.Now(),
		RequestID: middleware.GetReqID(r.Context()),
		UserID:    ActorFrom(r.Context()),
		Path:      r.URL.Path,
		Method:    r.Method,
		UserAgent: SummarizeUserAgent(r.UserAgent()),
	})
}

func (h *ErrorHandler) log(ae *apperr.Error, r *http.Request) {
	var event *zerolog.Event
	switch ae.Severity {
	case apperr.SeverityCritical, apperr.SeverityHigh:
		event = h.logger.Error()
	case apperr.SeverityMedium:
		event = h.logger.Warn()
	default:
		event = h.logger.Info()
	}

	event.
		Str("code", ae.Code()).
		Str("kind", string(ae.Kind)).
		Str("severity", string(ae.Severity)).
		Int("status", ae.Status).
		Bool("operational", ae.Operational).
		Str("request_id", ae.Context.RequestID).
		Str("method", ae.Context.Method).
		Str("path", ae.Context.Path).
		Str("remote_ip", ClientIP(r)).
		Str("user_agent", ae.Context.UserAgent)

	if ae.Context.UserID != "" {
		event.Str("user_id", ae.Context.UserID)
	}
	if cause := ae.Unwrap(); cause != nil {
		event.AnErr("cause", cause)
	}
	if len(ae.Context.Extra) > 0 {
		event.Interface("extra", redact.Value(ae.Context.Extra))
	}
	if ct, body := CapturedBody(r); len(body) > 0 {
		event.Interface("body", redact.Body(ct, body))
	}
	if ae.Severity.Rank() >= apperr.SeverityHigh.Rank() {
		event.Str("stack", ae.Stack())
	}

	event.Msg(ae.Message)
}

// Handle adapts fn so that a returned error reaches Respond.
func (h *ErrorHandler) Handle(fn HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			h.Respond(w, r, err)
		}
	})
}

// Recover turns a panic in next into an internal error delivered to Respond.
// If next had already started the response the error is only logged.
// http.ErrAbortHandler is re-raised so the server can abort the connection.
func (h *ErrorHandler) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			ae := apperr.Internal("panic while serving request", apperr.WithCause(err))
			if ww.Status() != 0 {
				h.report(ae, r)
				return
			}
			h.Respond(ww, r, ae)
		}()
		next.ServeHTTP(ww, r)
	})
}

// NotFound answers unmatched routes.
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.Respond(w, r, apperr.NotFound("Route "+r.Method+" "+r.URL.Path))
}

// MethodNotAllowed answers routes matched with the wrong method.
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.Respond(w, r, apperr.New(apperr.KindValidation,
		"Method "+r.Method+" is not allowed on "+r.URL.Path,
		apperr.WithStatus(http.StatusMethodNotAllowed)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
