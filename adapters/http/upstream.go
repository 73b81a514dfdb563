package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/bulwark/adapters/metrics"
	"github.com/artpar/bulwark/app"
	"github.com/artpar/bulwark/domain/apperr"
)

// MaxUpstreamBody bounds buffered upstream responses.
const MaxUpstreamBody = 50 << 20

// UpstreamClient forwards requests to one protected dependency. Every call
// goes through the dependency's circuit breaker.
type UpstreamClient struct {
	name    string
	client  *http.Client
	baseURL *url.URL
	breaker *app.Breaker
	metrics *metrics.Collector
}

// UpstreamConfig contains configuration for the upstream client.
type UpstreamConfig struct {
	Name            string
	BaseURL         string
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// UpstreamResponse is a buffered upstream reply.
type UpstreamResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// StatusError reports an upstream reply that counts as a dependency failure.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d %s", e.Status, http.StatusText(e.Status))
}

// FailureStatus reports whether an upstream status means the dependency is
// unhealthy rather than the request being wrong.
func FailureStatus(status int) bool {
	return status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

// NewUpstreamClient creates an upstream client guarded by b.
func NewUpstreamClient(cfg UpstreamConfig, b *app.Breaker, m *metrics.Collector) (*UpstreamClient, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns == 0 {
		maxIdleConns = 100
	}

	idleConnTimeout := cfg.IdleConnTimeout
	if idleConnTimeout == 0 {
		idleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     idleConnTimeout,
	}

	return &UpstreamClient{
		name:    cfg.Name,
		client:  &http.Client{Transport: transport, Timeout: timeout},
		baseURL: baseURL,
		breaker: b,
		metrics: m,
	}, nil
}

// Name returns the dependency name.
func (u *UpstreamClient) Name() string { return u.name }

// Forward sends r to the upstream at path. Transport errors and 502/503/504
// replies count against the breaker and come back as external-service
// errors; an open breaker comes back as a circuit-open error without any
// request being made. An unreadable client body is a validation error and
// never reaches the breaker.
func (u *UpstreamClient) Forward(ctx context.Context, r *http.Request, path string) (UpstreamResponse, error) {
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return UpstreamResponse{}, apperr.Validation("unreadable request body", apperr.WithCause(err))
		}
		body = data
	}

	return app.GuardValue(ctx, u.breaker, func(ctx context.Context) (UpstreamResponse, error) {
		start := time.Now()
		resp, err := u.do(ctx, r, path, body)
		u.observe(start, resp.Status, err)
		if err != nil {
			return UpstreamResponse{}, err
		}
		if FailureStatus(resp.Status) {
			return UpstreamResponse{}, &StatusError{Status: resp.Status}
		}
		return resp, nil
	})
}

func (u *UpstreamClient) do(ctx context.Context, r *http.Request, path string, body []byte) (UpstreamResponse, error) {
	target := u.baseURL.ResolveReference(&url.URL{
		Path:     strings.TrimSuffix(u.baseURL.Path, "/") + path,
		RawQuery: r.URL.RawQuery,
	})

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), reqBody)
	if err != nil {
		return UpstreamResponse{}, fmt.Errorf("create request: %w", err)
	}

	for k, vs := range r.Header {
		if isHopHeader(k) {
			continue
		}
		req.Header[k] = append([]string(nil), vs...)
	}

	// Preserve original Host header for virtual hosting
	req.Host = r.Host

	req.Header.Set("X-Forwarded-For", ClientIP(r))
	if id := middleware.GetReqID(r.Context()); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return UpstreamResponse{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxUpstreamBody))
	if err != nil {
		return UpstreamResponse{Status: resp.StatusCode}, fmt.Errorf("read response: %w", err)
	}

	header := make(http.Header, len(resp.Header))
	for k, vs := range resp.Header {
		if isHopHeader(k) {
			continue
		}
		header[k] = vs
	}

	return UpstreamResponse{Status: resp.StatusCode, Header: header, Body: respBody}, nil
}

func (u *UpstreamClient) observe(start time.Time, status int, err error) {
	if u.metrics == nil {
		return
	}
	label := statusLabel(status)
	if err != nil {
		label = "error"
		kind := "transport"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			kind = "timeout"
		case errors.Is(err, context.Canceled):
			kind = "canceled"
		}
		u.metrics.UpstreamErrors.WithLabelValues(u.name, kind).Inc()
	} else if FailureStatus(status) {
		u.metrics.UpstreamErrors.WithLabelValues(u.name, "status").Inc()
	}
	u.metrics.UpstreamDuration.WithLabelValues(u.name, label).Observe(time.Since(start).Seconds())
}

// Proxy returns a handler forwarding requests to the upstream, with prefix
// removed from the path when non-empty.
func (u *UpstreamClient) Proxy(errs *ErrorHandler, prefix string) http.Handler {
	return errs.Handle(func(w http.ResponseWriter, r *http.Request) error {
		path := r.URL.Path
		if prefix != "" {
			path = strings.TrimPrefix(path, strings.TrimSuffix(prefix, "/"))
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
		}

		resp, err := u.Forward(r.Context(), r, path)
		if err != nil {
			return err
		}

		for k, vs := range resp.Header {
			w.Header()[k] = vs
		}
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
		return nil
	})
}

// Close releases idle connections.
func (u *UpstreamClient) Close() error {
	u.client.CloseIdleConnections()
	return nil
}

var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func isHopHeader(k string) bool {
	return hopHeaders[http.CanonicalHeaderKey(k)]
}
