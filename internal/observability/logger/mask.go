package logger

import (
	"net/http"
	"strings"
)

// Keys whose values never reach a log line in the clear. API-key material
// and gateway credentials are the main concern for this service.
var sensitiveKeys = []string{
	"api_key",
	"authorization",
	"password",
	"secret",
	"token",
	"webhook_secret",
}

// MaskAuthorization redacts a credential header value, keeping the Bearer
// scheme visible so auth failures stay diagnosable.
func MaskAuthorization(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	parts := strings.Fields(value)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return "Bearer " + redactTail(parts[1])
	}
	return redactTail(value)
}

// MaskCookie redacts cookie values, keeping each cookie name.
func MaskCookie(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	parts := strings.Split(value, ";")
	masked := make([]string, 0, len(parts))
	for _, part := range parts {
		segment := strings.TrimSpace(part)
		if segment == "" {
			continue
		}
		if idx := strings.Index(segment, "="); idx >= 0 {
			name := strings.TrimSpace(segment[:idx])
			val := strings.TrimSpace(segment[idx+1:])
			segment = name + "=" + redactTail(val)
		} else {
			segment = redactTail(segment)
		}
		masked = append(masked, segment)
	}
	return strings.Join(masked, "; ")
}

// MaskAPIKey redacts a presented API key down to its last 4 characters.
func MaskAPIKey(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return redactTail(value)
}

// MaskHeaders copies request headers with credential fields redacted.
func MaskHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	masked := make(map[string]string, len(headers))
	for key, values := range headers {
		joined := strings.Join(values, ",")
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "authorization":
			masked[key] = MaskAuthorization(joined)
		case "cookie":
			masked[key] = MaskCookie(joined)
		default:
			masked[key] = joined
		}
	}
	return masked
}

// MaskJSON deep-copies a document, redacting values under sensitive keys at
// any nesting depth.
func MaskJSON(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		if sensitiveKey(key) {
			out[key] = redactScalar(value)
			continue
		}
		out[key] = redactNested(value)
	}
	return out
}

func redactNested(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return MaskJSON(typed)
	case []any:
		items := make([]any, 0, len(typed))
		for _, entry := range typed {
			items = append(items, redactNested(entry))
		}
		return items
	default:
		return value
	}
}

func redactScalar(value any) any {
	switch typed := value.(type) {
	case string:
		return redactTail(typed)
	case []byte:
		return redactTail(string(typed))
	default:
		return "****"
	}
}

func sensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, needle := range sensitiveKeys {
		if strings.Contains(key, needle) {
			return true
		}
	}
	return false
}

// redactTail keeps the last 4 characters so operators can still correlate a
// leaked-looking value against the real one.
func redactTail(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****" + value
	}
	return "****" + value[len(value)-4:]
}
