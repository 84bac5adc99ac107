package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chiMiddleware "github.com/go-chi/chi/middleware"
)

// redactedKeys are matched as substrings against header and JSON field
// names; anything that matches is masked before logging.
var redactedKeys = []string{
	"password",
	"token",
	"access_token",
	"authorization",
	"secret",
	"client_secret",
	"api_key",
	"subscription_key",
	"signature",
	"verif-hash",
	"phone_number",
	"credential",
	"auth",
}

const redactedPlaceholder = "[FILTERED]"

// maxLoggedBody caps how much of a request or response body ends up in a
// log line. Webhook payloads can run large.
const maxLoggedBody = 4096

// LoggingMiddleware logs every request and response pair with credentials
// and cardholder-adjacent fields masked.
func LoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := chiMiddleware.GetReqID(r.Context())

			var reqBody []byte
			if r.Body != nil {
				reqBody, _ = io.ReadAll(r.Body)
				r.Body = io.NopCloser(bytes.NewReader(reqBody))
			}

			logger.Info("incoming request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
				"headers", maskHeaders(r.Header),
				"body", maskBody(reqBody),
			)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "response",
				"request_id", reqID,
				"status_code", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"response_size", rec.buf.Len(),
				"body", maskBody(rec.buf.Bytes()),
			)
		})
	}
}

// statusRecorder captures the status code and body so both can be logged
// after the handler runs.
type statusRecorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.buf.Write(b)
	return s.ResponseWriter.Write(b)
}

func isRedactedKey(name string) bool {
	lower := strings.ToLower(name)
	for _, key := range redactedKeys {
		if strings.Contains(lower, key) {
			return true
		}
	}
	return false
}

// maskHeaders flattens headers for logging, masking any that may carry
// credentials.
func maskHeaders(headers http.Header) map[string]string {
	masked := make(map[string]string, len(headers))
	for name, values := range headers {
		if isRedactedKey(name) {
			masked[name] = redactedPlaceholder
			continue
		}
		masked[name] = strings.Join(values, ", ")
	}
	return masked
}

// maskBody renders a body for logging. JSON bodies get sensitive fields
// masked recursively. Non-JSON provider callbacks are opaque blobs, so one
// that mentions a sensitive key is dropped outright.
func maskBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		if isRedactedKey(string(body)) {
			return "[FILTERED - Contains sensitive data]"
		}
		return clip(string(body))
	}

	masked, err := json.Marshal(maskValue(decoded))
	if err != nil {
		return "[ERROR - Failed to marshal filtered JSON]"
	}
	return clip(string(masked))
}

func maskValue(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		masked := make(map[string]interface{}, len(v))
		for key, value := range v {
			if isRedactedKey(key) {
				masked[key] = redactedPlaceholder
				continue
			}
			masked[key] = maskValue(value)
		}
		return masked
	case []interface{}:
		masked := make([]interface{}, len(v))
		for i, item := range v {
			masked[i] = maskValue(item)
		}
		return masked
	default:
		return v
	}
}

func clip(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "...(truncated)"
}
