package middleware

import (
	"net/http"

	"github.com/sokoworks/payment-hub/pkg/logger"

	"github.com/google/uuid"
)

const traceHeader = "X-Trace-ID"

// maxTraceIDLen caps client-supplied trace ids so log lines stay sane.
const maxTraceIDLen = 64

// RequestID tags each request with a trace id, minting one when the client
// did not send a usable value. The id is attached to the request-scoped
// logger and echoed back in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" || len(traceID) > maxTraceIDLen {
			traceID = uuid.NewString()
		}

		ctx := logger.With(r.Context(), "trace_id", traceID)
		w.Header().Set(traceHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
