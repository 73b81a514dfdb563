package redact_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/artpar/bulwark/domain/redact"
)

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"newPassword", true},
		{"PASSWORD_CONFIRM", true},
		{"token", true},
		{"refresh_token", true},
		{"client_secret", true},
		{"apiKey", true},
		{"api_key", true},
		{"X-Api-Key", true},
		{"email", false},
		{"name", false},
		{"key", false},
		{"api", false},
	}

	for _, tt := range tests {
		if got := redact.IsSensitiveKey(tt.key); got != tt.want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestBody_JSONNested(t *testing.T) {
	body := []byte(`{
		"email": "a@b.c",
		"password": "hunter2",
		"profile": {"api_key": "k-123", "bio": "hi"},
		"devices": [{"token": "t-1", "os": "ios"}]
	}`)

	got := redact.Body("application/json; charset=utf-8", body)
	out, err := json.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)

	for _, secret := range []string{"hunter2", "k-123", "t-1"} {
		if strings.Contains(s, secret) {
			t.Errorf("secret %q leaked: %s", secret, s)
		}
	}
	for _, keep := range []string{"a@b.c", "hi", "ios"} {
		if !strings.Contains(s, keep) {
			t.Errorf("value %q lost: %s", keep, s)
		}
	}
	if strings.Count(s, redact.Marker) != 3 {
		t.Errorf("expected 3 markers: %s", s)
	}
}

func TestBody_Form(t *testing.T) {
	got := redact.Body("application/x-www-form-urlencoded", []byte("user=bob&password=pw&tag=a&tag=b"))
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("got %T", got)
	}
	if m["password"] != redact.Marker {
		t.Errorf("password = %v", m["password"])
	}
	if m["user"] != "bob" {
		t.Errorf("user = %v", m["user"])
	}
	if tags, ok := m["tag"].([]string); !ok || len(tags) != 2 {
		t.Errorf("tag = %v", m["tag"])
	}
}

func TestBody_NeverReturnsRawUndecodable(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"broken json", "application/json", `{"password": "pw"`},
		{"plain text", "text/plain", "password=pw"},
		{"no content type", "", "password=pw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := redact.Body(tt.contentType, []byte(tt.body)).(string)
			if !ok {
				t.Fatalf("expected a summary string")
			}
			if strings.Contains(got, "pw") {
				t.Errorf("raw body leaked: %q", got)
			}
		})
	}
}

func TestBody_Empty(t *testing.T) {
	if got := redact.Body("application/json", nil); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestValue_DoesNotMutateInput(t *testing.T) {
	in := map[string]any{"secret": "s"}
	_ = redact.Value(in)
	if in["secret"] != "s" {
		t.Error("input mutated")
	}
}

func TestHeaders(t *testing.T) {
	got := redact.Headers(map[string][]string{
		"Authorization": {"Bearer abc"},
		"X-Api-Key":     {"k"},
		"Accept":        {"a", "b"},
	})
	if got["Authorization"] != redact.Marker || got["X-Api-Key"] != redact.Marker {
		t.Errorf("credentials not masked: %v", got)
	}
	if got["Accept"] != "a, b" {
		t.Errorf("Accept = %q", got["Accept"])
	}
}
