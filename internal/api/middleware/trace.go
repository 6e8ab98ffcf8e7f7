package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/render-api/internal/api/shared"
	"github.com/phrazzld/render-api/internal/platform/logger"
)

// TraceMiddleware assigns each request a trace ID, taken from the
// X-Trace-ID header when the client sent a usable one, and stores a logger
// tagged with it in the request context. The ID is echoed in the response.
func TraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, traceID := shared.WithTraceID(r.Context(), r.Header.Get(shared.TraceIDHeader))
			log := base.With(slog.String("trace_id", traceID))
			ctx = logger.WithLogger(ctx, log)

			w.Header().Set(shared.TraceIDHeader, traceID)
			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
