package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/beatforge/storefront/pkg/logger"
)

// RequestIDHeader carries the request identifier; an inbound value is kept so
// callers can correlate their own traces, otherwise one is generated.
const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with an identifier, exposes it to
// request-scoped logging through the context and echoes it in the response.
func RequestID(log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			ctx := context.WithValue(r.Context(), logger.RequestIDKey, id)
			w.Header().Set(RequestIDHeader, id)

			next.ServeHTTP(w, r.WithContext(ctx))

			log.WithContext(ctx).
				WithField("method", r.Method).
				WithField("path", r.URL.Path).
				Debug("request handled")
		})
	}
}
