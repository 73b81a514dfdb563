// Package redact strips secrets from request payloads before they are logged.
package redact

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"strings"
)

// Marker replaces every redacted value.
const Marker = "[REDACTED]"

var sensitive = []string{"password", "token", "secret", "apikey"}

// IsSensitiveKey reports whether a field name looks like it holds a secret.
// Matching ignores case, dashes and underscores, so "api_key", "X-Api-Key"
// and "refreshToken" all match.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	k = strings.NewReplacer("-", "", "_", "").Replace(k)
	for _, s := range sensitive {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Value returns a copy of v with sensitive map entries replaced by Marker,
// descending into nested maps and slices.
func Value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if IsSensitiveKey(k) {
				out[k] = Marker
				continue
			}
			out[k] = Value(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Value(val)
		}
		return out
	default:
		return v
	}
}

// Body decodes a captured request body by content type and redacts it.
// Bodies that cannot be decoded are summarized, never returned raw.
func Body(contentType string, body []byte) any {
	if len(body) == 0 {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return fmt.Sprintf("[invalid json, %d bytes]", len(body))
		}
		return Value(v)

	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return fmt.Sprintf("[invalid form, %d bytes]", len(body))
		}
		out := make(map[string]any, len(values))
		for k, vs := range values {
			if IsSensitiveKey(k) {
				out[k] = Marker
				continue
			}
			if len(vs) == 1 {
				out[k] = vs[0]
			} else {
				out[k] = vs
			}
		}
		return out

	default:
		if mediaType == "" {
			mediaType = "unknown"
		}
		return fmt.Sprintf("[%d bytes %s]", len(body), mediaType)
	}
}

// Headers returns h flattened with sensitive and credential headers masked.
func Headers(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		switch {
		case IsSensitiveKey(k), strings.EqualFold(k, "Authorization"), strings.EqualFold(k, "Cookie"):
			out[k] = Marker
		default:
			out[k] = strings.Join(vs, ", ")
		}
	}
	return out
}
