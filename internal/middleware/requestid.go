package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

const (
	// RequestIDHeader is the header name for request ID.
	RequestIDHeader = "X-Request-ID"

	// UniqueIDHeader is the bus-wide unique id, used as request id when
	// no X-Request-ID is present.
	UniqueIDHeader = "X-Rp-Unique-Id"
)

// Request id origins.
const (
	originHeader    = "header"
	originUniqueID  = "unique_id"
	originGenerated = "generated"
)

// RequestID returns a middleware that adds a request ID to each request.
func RequestID() func(http.Handler) http.Handler {
	return RequestIDWithGenerator(func() string { return uuid.New().String() })
}

// RequestIDWithGenerator returns a middleware that uses a custom ID generator.
func RequestIDWithGenerator(generator func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID, origin := r.Header.Get(RequestIDHeader), originHeader
			if requestID == "" {
				requestID, origin = r.Header.Get(UniqueIDHeader), originUniqueID
			}
			if requestID == "" {
				requestID, origin = generator(), originGenerated
			}
			GetMiddlewareMetrics().requestIDs.WithLabelValues(origin).Inc()

			ctx := observability.ContextWithRequestID(r.Context(), requestID)
			r = r.WithContext(ctx)

			w.Header().Set(RequestIDHeader, requestID)

			next.ServeHTTP(w, r)
		})
	}
}
