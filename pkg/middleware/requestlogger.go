package middleware

import (
	"log/slog"
	"net/http"

	"github.com/orchardlane/pricing/pkg/logger"
)

// RequestLogger stores a request-scoped logger in context, enriched with
// correlation_id, user_id and any active trace identifiers. Handlers pull
// it back out with logger.FromContext.
//
// Mount it after RequestLogging, which is what sets the correlation ID.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if userID := requestUserID(r); userID != "" {
				ctx = logger.WithUserID(ctx, userID)
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestUserID prefers the identity set by the auth middleware and falls
// back to the X-User-ID header the gateway forwards.
func requestUserID(r *http.Request) string {
	if id := UserIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-User-ID")
}
