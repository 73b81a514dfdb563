package http

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

type ctxKey int

const (
	actorKey ctxKey = iota
	actorSlotKey
	bodyKey
)

// MaxCapturedBody bounds how much of a request body CaptureBody keeps.
const MaxCapturedBody = 64 << 10

// actorSlot lets an enclosing AuditWrap see an actor established by
// middleware further down the chain.
type actorSlot struct {
	id string
}

// WithActor returns ctx carrying the authenticated caller id.
func WithActor(ctx context.Context, id string) context.Context {
	if slot, ok := ctx.Value(actorSlotKey).(*actorSlot); ok {
		slot.id = id
	}
	return context.WithValue(ctx, actorKey, id)
}

func withActorSlot(ctx context.Context) (context.Context, *actorSlot) {
	slot := &actorSlot{id: ActorFrom(ctx)}
	return context.WithValue(ctx, actorSlotKey, slot), slot
}

// ActorFrom returns the caller id stored by Identity, or "".
func ActorFrom(ctx context.Context) string {
	id, _ := ctx.Value(actorKey).(string)
	return id
}

// Identity reads the caller id from a header set by a trusted authenticator.
func Identity(header string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if header != "" {
				if id := strings.TrimSpace(r.Header.Get(header)); id != "" {
					r = r.WithContext(WithActor(r.Context(), id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type capturedBody struct {
	contentType string
	data        []byte
}

// CaptureBody keeps the first MaxCapturedBody bytes of the request body for
// error logging. Downstream handlers still read the full body.
func CaptureBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}

		head, err := io.ReadAll(io.LimitReader(r.Body, MaxCapturedBody))
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}

		cb := &capturedBody{contentType: r.Header.Get("Content-Type"), data: head}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyKey, cb)))
	})
}

// CapturedBody returns the body prefix stored by CaptureBody.
func CapturedBody(r *http.Request) (contentType string, body []byte) {
	cb, _ := r.Context().Value(bodyKey).(*capturedBody)
	if cb == nil {
		return "", nil
	}
	return cb.contentType, cb.data
}

// KeyFunc derives the rate limit key for a request.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc keys by keyHeader when present, then by the first
// X-Forwarded-For entry when trusted, then by the remote address.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		return ClientIP(r)
	}
}

// ClientIP returns the host part of r.RemoteAddr.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}
	return "unknown"
}

const maxAgentSummary = 64

// SummarizeUserAgent reduces a User-Agent header to "<client> on <platform>",
// at most 64 bytes and never splitting a UTF-8 sequence.
func SummarizeUserAgent(ua string) string {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return ""
	}

	client := clientFamily(ua)
	platform := platformFamily(ua)

	var out string
	switch {
	case client != "" && platform != "":
		out = client + " on " + platform
	case client != "":
		out = client
	default:
		// Unknown agents keep their product token, e.g. "Go-http-client/1.1".
		out, _, _ = strings.Cut(ua, " ")
	}
	if len(out) > maxAgentSummary {
		cut := maxAgentSummary
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out
}

// Order matters: Edge and Opera advertise Chrome, Chrome advertises Safari.
var clientTokens = []struct{ token, name string }{
	{"Edg/", "Edge"},
	{"OPR/", "Opera"},
	{"Firefox/", "Firefox"},
	{"Chrome/", "Chrome"},
	{"Safari/", "Safari"},
	{"curl/", "curl"},
	{"PostmanRuntime/", "Postman"},
	{"python-requests/", "python-requests"},
	{"Go-http-client/", "Go"},
	{"okhttp/", "okhttp"},
}

var platformTokens = []struct{ token, name string }{
	{"Android", "Android"},
	{"iPhone", "iOS"},
	{"iPad", "iOS"},
	{"Windows", "Windows"},
	{"Mac OS X", "macOS"},
	{"Macintosh", "macOS"},
	{"CrOS", "ChromeOS"},
	{"Linux", "Linux"},
}

func clientFamily(ua string) string {
	for _, c := range clientTokens {
		if strings.Contains(ua, c.token) {
			return c.name
		}
	}
	return ""
}

func platformFamily(ua string) string {
	for _, p := range platformTokens {
		if strings.Contains(ua, p.token) {
			return p.name
		}
	}
	return ""
}
