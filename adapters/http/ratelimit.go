package http

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/artpar/bulwark/app"
)

// RateLimiter applies limiter tiers to HTTP requests.
type RateLimiter struct {
	limiter *app.Limiter
	errors  *ErrorHandler
	keyFn   KeyFunc

	// Hot-reloadable
	bypass atomic.Pointer[map[string]struct{}]
}

// NewRateLimiter creates the rate limit middleware factory. Requests whose
// path is in bypass are never counted.
func NewRateLimiter(limiter *app.Limiter, errors *ErrorHandler, keyFn KeyFunc, bypass []string) *RateLimiter {
	if keyFn == nil {
		keyFn = DefaultKeyFunc("", false)
	}
	rl := &RateLimiter{limiter: limiter, errors: errors, keyFn: keyFn}
	rl.SetBypassPaths(bypass)
	return rl
}

// SetBypassPaths replaces the exempt path set.
func (rl *RateLimiter) SetBypassPaths(paths []string) {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[normalizePath(p)] = struct{}{}
	}
	rl.bypass.Store(&set)
}

// Bypassed reports whether path is exempt from rate limiting.
func (rl *RateLimiter) Bypassed(path string) bool {
	_, ok := (*rl.bypass.Load())[normalizePath(path)]
	return ok
}

func normalizePath(p string) string {
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// Tier returns middleware that counts each request against the named tier.
// X-RateLimit-* headers are set on allowed and rejected responses alike.
func (rl *RateLimiter) Tier(name string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.Bypassed(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			d, err := rl.limiter.Check(r.Context(), name, app.Attempt{
				Key:    rl.keyFn(r),
				Method: r.Method,
				Path:   r.URL.Path,
			})
			if d.Limit > 0 {
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				h.Set("X-RateLimit-Reset", d.ResetAt.UTC().Format("2006-01-02T15:04:05Z"))
			}
			if err != nil {
				rl.errors.Respond(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
