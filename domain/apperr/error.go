package apperr

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Context carries request metadata attached to an error.
type Context struct {
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"requestId,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Path      string         `json:"path,omitempty"`
	Method    string         `json:"method,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Error is the application error value. Every error that crosses a component
// boundary is an *Error.
type Error struct {
	Kind        Kind
	Message     string
	Severity    Severity
	Status      int
	Context     Context
	Operational bool

	cause error
	stack []uintptr
}

// Option customizes an Error at construction.
type Option func(*Error)

// WithSeverity overrides the kind's default severity.
func WithSeverity(s Severity) Option {
	return func(e *Error) {
		if s.Valid() {
			e.Severity = s
		}
	}
}

// WithStatus overrides the kind's default status code.
func WithStatus(status int) Option {
	return func(e *Error) {
		if status >= 400 && status <= 599 {
			e.Status = status
		}
	}
}

// WithOperational overrides the kind's default operational flag.
func WithOperational(op bool) Option {
	return func(e *Error) { e.Operational = op }
}

// WithCause records the underlying error. It is never shown to callers.
func WithCause(err error) Option {
	return func(e *Error) { e.cause = err }
}

// WithTimestamp sets the context timestamp.
func WithTimestamp(t time.Time) Option {
	return func(e *Error) { e.Context.Timestamp = t }
}

// WithRequestID sets the request id in the context.
func WithRequestID(id string) Option {
	return func(e *Error) { e.Context.RequestID = id }
}

// WithUserID sets the user id in the context.
func WithUserID(id string) Option {
	return func(e *Error) { e.Context.UserID = id }
}

// WithRequest sets method and path in the context.
func WithRequest(method, path string) Option {
	return func(e *Error) {
		e.Context.Method = method
		e.Context.Path = path
	}
}

// WithExtra adds one entry to the context's extra map.
func WithExtra(key string, value any) Option {
	return func(e *Error) {
		if e.Context.Extra == nil {
			e.Context.Extra = make(map[string]any)
		}
		e.Context.Extra[key] = value
	}
}

// New builds an error of kind k with k's defaults, then applies opts.
func New(k Kind, message string, opts ...Option) *Error {
	return newError(3, k, message, opts...)
}

func newError(skip int, k Kind, message string, opts ...Option) *Error {
	if !k.Valid() {
		k = KindInternal
	}
	e := &Error{
		Kind:        k,
		Message:     message,
		Severity:    k.DefaultSeverity(),
		Status:      k.DefaultStatus(),
		Operational: k.DefaultOperational(),
		Context:     Context{Timestamp: time.Now().UTC()},
		stack:       callers(skip + 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validation reports invalid caller input.
func Validation(message string, opts ...Option) *Error {
	return newError(3, KindValidation, message, opts...)
}

// Authentication reports a missing or invalid identity.
func Authentication(message string, opts ...Option) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return newError(3, KindAuthentication, message, opts...)
}

// Authorization reports an authenticated caller lacking permission.
func Authorization(message string, opts ...Option) *Error {
	if message == "" {
		message = "Insufficient permissions"
	}
	return newError(3, KindAuthorization, message, opts...)
}

// NotFound reports a missing resource.
func NotFound(resource string, opts ...Option) *Error {
	if resource == "" {
		resource = "Resource"
	}
	return newError(3, KindNotFound, resource+" not found", opts...)
}

// Conflict reports a state conflict such as a duplicate record.
func Conflict(message string, opts ...Option) *Error {
	return newError(3, KindConflict, message, opts...)
}

// RateLimited reports a caller that exceeded a rate limit rule.
func RateLimited(message string, opts ...Option) *Error {
	if message == "" {
		message = "Too many requests, please try again later"
	}
	return newError(3, KindRateLimited, message, opts...)
}

// Database reports a storage failure. It is non-operational by default.
func Database(message string, opts ...Option) *Error {
	return newError(3, KindDatabase, message, opts...)
}

// ExternalService reports a failed call to a named upstream dependency.
func ExternalService(service, message string, opts ...Option) *Error {
	if message == "" {
		message = fmt.Sprintf("external service %s failed", service)
	}
	opts = append([]Option{WithExtra("service", service)}, opts...)
	return newError(3, KindExternalService, message, opts...)
}

// CircuitOpen reports a call rejected by an open circuit breaker.
func CircuitOpen(breaker string, retryAfter time.Duration, opts ...Option) *Error {
	base := []Option{WithExtra("breaker", breaker)}
	if retryAfter > 0 {
		base = append(base, WithExtra("retryAfter", RetryAfterSeconds(retryAfter)))
	}
	return newError(3, KindCircuitOpen, fmt.Sprintf("circuit breaker %s is open", breaker), append(base, opts...)...)
}

// RetryAfterSeconds rounds d up to whole seconds, never below one, for use
// in a Retry-After header.
func RetryAfterSeconds(d time.Duration) int64 {
	s := int64((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

// Internal reports an unexpected fault.
func Internal(message string, opts ...Option) *Error {
	return newError(3, KindInternal, message, opts...)
}

// Wrap returns the *Error found in err's chain, or wraps err as an internal
// error that keeps the original message server-side. Wrap(nil) is nil.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return newError(3, KindInternal, err.Error(), WithCause(err))
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}

// IsKind reports whether err's chain holds an *Error of kind k.
func IsKind(err error, k Kind) bool {
	ae, ok := As(err)
	return ok && ae.Kind == k
}

// Error implements error.
func (e *Error) Error() string {
	if e.cause != nil && e.cause.Error() != e.Message {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Code returns the wire code of the error's kind.
func (e *Error) Code() string { return e.Kind.Code() }

// WithDefaults returns a copy of e whose empty context fields are filled
// from c. Extra entries already present on e win.
func (e *Error) WithDefaults(c Context) *Error {
	cp := *e
	if cp.Context.Timestamp.IsZero() {
		cp.Context.Timestamp = c.Timestamp
	}
	if cp.Context.RequestID == "" {
		cp.Context.RequestID = c.RequestID
	}
	if cp.Context.UserID == "" {
		cp.Context.UserID = c.UserID
	}
	if cp.Context.Path == "" {
		cp.Context.Path = c.Path
	}
	if cp.Context.Method == "" {
		cp.Context.Method = c.Method
	}
	if cp.Context.UserAgent == "" {
		cp.Context.UserAgent = c.UserAgent
	}
	if len(e.Context.Extra) > 0 || len(c.Extra) > 0 {
		cp.Context.Extra = make(map[string]any, len(e.Context.Extra)+len(c.Extra))
		for k, v := range c.Extra {
			cp.Context.Extra[k] = v
		}
		for k, v := range e.Context.Extra {
			cp.Context.Extra[k] = v
		}
	}
	return &cp
}

// Stack formats the call stack captured when the error was built.
func (e *Error) Stack() string {
	if len(e.stack) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}

func callers(skip int) []uintptr {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	return pcs[:n]
}
