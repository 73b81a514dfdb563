package apperr_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/artpar/bulwark/domain/apperr"
	"github.com/tidwall/gjson"
)

func TestKindDefaults(t *testing.T) {
	tests := []struct {
		kind        apperr.Kind
		code        string
		severity    apperr.Severity
		status      int
		operational bool
	}{
		{apperr.KindValidation, "VALIDATION_ERROR", apperr.SeverityLow, 400, true},
		{apperr.KindAuthentication, "AUTHENTICATION_ERROR", apperr.SeverityMedium, 401, true},
		{apperr.KindAuthorization, "AUTHORIZATION_ERROR", apperr.SeverityMedium, 403, true},
		{apperr.KindNotFound, "NOT_FOUND", apperr.SeverityLow, 404, true},
		{apperr.KindConflict, "CONFLICT", apperr.SeverityMedium, 409, true},
		{apperr.KindRateLimited, "RATE_LIMIT_EXCEEDED", apperr.SeverityMedium, 429, true},
		{apperr.KindDatabase, "DATABASE_ERROR", apperr.SeverityHigh, 500, false},
		{apperr.KindExternalService, "EXTERNAL_SERVICE_ERROR", apperr.SeverityHigh, 502, true},
		{apperr.KindCircuitOpen, "CIRCUIT_BREAKER_OPEN", apperr.SeverityHigh, 503, true},
		{apperr.KindInternal, "INTERNAL_ERROR", apperr.SeverityCritical, 500, true},
	}

	if len(tests) != len(apperr.Kinds()) {
		t.Fatalf("table covers %d kinds, taxonomy has %d", len(tests), len(apperr.Kinds()))
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := apperr.New(tt.kind, "boom")
			if e.Code() != tt.code {
				t.Errorf("code = %q, want %q", e.Code(), tt.code)
			}
			if e.Severity != tt.severity {
				t.Errorf("severity = %q, want %q", e.Severity, tt.severity)
			}
			if e.Status != tt.status {
				t.Errorf("status = %d, want %d", e.Status, tt.status)
			}
			if e.Operational != tt.operational {
				t.Errorf("operational = %v, want %v", e.Operational, tt.operational)
			}
			if e.Context.Timestamp.IsZero() {
				t.Error("timestamp not set")
			}
		})
	}
}

func TestNew_UnknownKindFallsBackToInternal(t *testing.T) {
	e := apperr.New(apperr.Kind("bogus"), "x")
	if e.Kind != apperr.KindInternal {
		t.Errorf("kind = %q, want internal", e.Kind)
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	ts := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	e := apperr.Validation("bad email",
		apperr.WithSeverity(apperr.SeverityHigh),
		apperr.WithStatus(http.StatusUnprocessableEntity),
		apperr.WithOperational(false),
		apperr.WithTimestamp(ts),
		apperr.WithRequestID("req-1"),
		apperr.WithRequest("POST", "/users"),
		apperr.WithExtra("field", "email"),
	)

	if e.Severity != apperr.SeverityHigh {
		t.Errorf("severity = %q", e.Severity)
	}
	if e.Status != 422 {
		t.Errorf("status = %d", e.Status)
	}
	if e.Operational {
		t.Error("operational should be overridden")
	}
	if !e.Context.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v", e.Context.Timestamp)
	}
	if e.Context.RequestID != "req-1" || e.Context.Method != "POST" || e.Context.Path != "/users" {
		t.Errorf("context = %+v", e.Context)
	}
	if e.Context.Extra["field"] != "email" {
		t.Errorf("extra = %v", e.Context.Extra)
	}
}

func TestWithStatus_IgnoresNonErrorCodes(t *testing.T) {
	e := apperr.Conflict("dup", apperr.WithStatus(200))
	if e.Status != http.StatusConflict {
		t.Errorf("status = %d, want 409", e.Status)
	}
}

func TestWrap(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if apperr.Wrap(nil) != nil {
			t.Error("Wrap(nil) should be nil")
		}
	})

	t.Run("keeps existing app error", func(t *testing.T) {
		orig := apperr.NotFound("User")
		wrapped := fmt.Errorf("loading: %w", orig)
		got := apperr.Wrap(wrapped)
		if got != orig {
			t.Error("expected the original *Error")
		}
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		raw := errors.New("disk on fire")
		got := apperr.Wrap(raw)
		if got.Kind != apperr.KindInternal {
			t.Errorf("kind = %q", got.Kind)
		}
		if got.Message != "disk on fire" {
			t.Errorf("message = %q", got.Message)
		}
		if !errors.Is(got, raw) {
			t.Error("cause should be reachable through errors.Is")
		}
		if got.Stack() == "" {
			t.Error("stack should be captured")
		}
	})

	t.Run("context cancellation becomes internal", func(t *testing.T) {
		got := apperr.Wrap(context.Canceled)
		if got.Kind != apperr.KindInternal || !errors.Is(got, context.Canceled) {
			t.Errorf("got %v (%s)", got, got.Kind)
		}
	})
}

func TestAsAndIsKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", apperr.RateLimited(""))
	if !apperr.IsKind(err, apperr.KindRateLimited) {
		t.Error("IsKind should find rate-limited")
	}
	if apperr.IsKind(err, apperr.KindInternal) {
		t.Error("IsKind should not match internal")
	}
	if _, ok := apperr.As(errors.New("plain")); ok {
		t.Error("As should fail for plain errors")
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	e := apperr.Database("insert audit record", apperr.WithCause(errors.New("locked")))
	if e.Error() != "insert audit record: locked" {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestCircuitOpen_Extras(t *testing.T) {
	e := apperr.CircuitOpen("payments", 30*time.Second)
	if e.Context.Extra["breaker"] != "payments" {
		t.Errorf("breaker extra = %v", e.Context.Extra["breaker"])
	}
	if e.Context.Extra["retryAfter"] != int64(30) {
		t.Errorf("retryAfter extra = %v", e.Context.Extra["retryAfter"])
	}
	if !strings.Contains(e.Message, "payments") {
		t.Errorf("message = %q", e.Message)
	}
}

func TestCircuitOpen_SubSecondRetryAfterRoundsUp(t *testing.T) {
	e := apperr.CircuitOpen("payments", 400*time.Millisecond)
	if e.Context.Extra["retryAfter"] != int64(1) {
		t.Errorf("retryAfter extra = %v, want 1", e.Context.Extra["retryAfter"])
	}
	e = apperr.CircuitOpen("payments", 1500*time.Millisecond)
	if e.Context.Extra["retryAfter"] != int64(2) {
		t.Errorf("retryAfter extra = %v, want 2", e.Context.Extra["retryAfter"])
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int64
	}{
		{0, 1},
		{time.Millisecond, 1},
		{400 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{14 * time.Minute, 840},
	}
	for _, tt := range tests {
		if got := apperr.RetryAfterSeconds(tt.in); got != tt.want {
			t.Errorf("RetryAfterSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestWithDefaults_DoesNotMutateOriginal(t *testing.T) {
	e := apperr.Validation("bad", apperr.WithExtra("field", "name"))
	filled := e.WithDefaults(apperr.Context{
		RequestID: "req-9",
		Path:      "/x",
		Extra:     map[string]any{"field": "other", "hint": "y"},
	})

	if e.Context.RequestID != "" {
		t.Error("original was mutated")
	}
	if filled.Context.RequestID != "req-9" || filled.Context.Path != "/x" {
		t.Errorf("filled context = %+v", filled.Context)
	}
	if filled.Context.Extra["field"] != "name" {
		t.Error("error's own extras should win")
	}
	if filled.Context.Extra["hint"] != "y" {
		t.Error("default extras should be merged")
	}
}

func TestEnvelope_StackOnlyInDevelopment(t *testing.T) {
	e := apperr.Internal("kaboom")

	prod, _ := json.Marshal(e.Envelope(false))
	if gjson.GetBytes(prod, "error.stack").Exists() {
		t.Errorf("stack present outside development: %s", prod)
	}

	dev, _ := json.Marshal(e.Envelope(true))
	if !gjson.GetBytes(dev, "error.stack").Exists() {
		t.Errorf("stack missing in development: %s", dev)
	}
}

func TestEnvelope_Shape(t *testing.T) {
	e := apperr.Validation("name is required",
		apperr.WithRequestID("req-1"),
		apperr.WithExtra("field", "name"),
	)
	body, err := json.Marshal(e.Envelope(false))
	if err != nil {
		t.Fatal(err)
	}

	checks := map[string]string{
		"success":                   "false",
		"error.code":                "VALIDATION_ERROR",
		"error.message":             "name is required",
		"error.severity":            "low",
		"error.context.requestId":   "req-1",
		"error.context.extra.field": "name",
	}
	for path, want := range checks {
		if got := gjson.GetBytes(body, path).String(); got != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}
	if !gjson.GetBytes(body, "error.context.timestamp").Exists() {
		t.Error("timestamp missing")
	}
}

func TestEnvelope_HidesInfrastructureDetail(t *testing.T) {
	tests := []struct {
		name string
		err  *apperr.Error
	}{
		{"database", apperr.Database("pq: relation users does not exist", apperr.WithExtra("table", "users"))},
		{"external", apperr.ExternalService("billing", "dial tcp 10.0.0.3:443: refused")},
		{"internal", apperr.Internal("nil pointer in handler", apperr.WithExtra("x", 1))},
		{"circuit", apperr.CircuitOpen("billing", time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.err.Envelope(false))
			msg := gjson.GetBytes(body, "error.message").String()
			if msg == tt.err.Message {
				t.Errorf("curated message leaked: %q", msg)
			}
			if gjson.GetBytes(body, "error.context.extra").Exists() {
				t.Errorf("extras leaked: %s", body)
			}
		})
	}
}

func TestSeverityRank(t *testing.T) {
	if !(apperr.SeverityLow.Rank() < apperr.SeverityMedium.Rank() &&
		apperr.SeverityMedium.Rank() < apperr.SeverityHigh.Rank() &&
		apperr.SeverityHigh.Rank() < apperr.SeverityCritical.Rank()) {
		t.Error("severities out of order")
	}
	if apperr.Severity("nope").Valid() {
		t.Error("unknown severity should be invalid")
	}
}
