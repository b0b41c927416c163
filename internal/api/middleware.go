package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/asuasu0131/parking-monitor/internal/logutil"
)

// LoggingMiddleware attaches a request-scoped logger carrying the trace ID
// and logs every completed request. The wrapped writer keeps Hijack working
// for websocket upgrades.
func LoggingMiddleware(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			traceID := middleware.GetReqID(r.Context())
			if traceID == "" {
				traceID = r.Header.Get(middleware.RequestIDHeader)
			}
			if traceID == "" {
				traceID = uuid.NewString()
			}

			logger := base.With(
				zap.String("trace_id", traceID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			r = r.WithContext(logutil.WithLogger(r.Context(), logger))

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request complete",
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
