package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/rohits-web03/memoscribe/internal/logger"
	"github.com/sirupsen/logrus"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

type loggerKey struct{}

// Logger tags each request with an id, stores a request-scoped entry in the
// context and logs one line when the handler returns.
func Logger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := logger.RequestID(r)
			r.Header.Set(logger.RequestIDHeader, reqID)
			w.Header().Set(logger.RequestIDHeader, reqID)
			entry := logger.WithRequest(log, r)

			rec := &statusRecorder{
				ResponseWriter: w,
				status:         http.StatusOK,
			}

			ctx := context.WithValue(r.Context(), loggerKey{}, entry)
			next.ServeHTTP(rec, r.WithContext(ctx))

			fields := logrus.Fields{
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			switch {
			case rec.status >= 500:
				entry.WithFields(fields).Error("request failed")
			case rec.status >= 400:
				entry.WithFields(fields).Warn("request rejected")
			default:
				entry.WithFields(fields).Info("request completed")
			}
		})
	}
}

// LoggerFrom returns the request-scoped entry, or the standard logger when
// the request did not pass through Logger.
func LoggerFrom(ctx context.Context) logrus.FieldLogger {
	if entry, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return entry
	}
	return logrus.StandardLogger()
}
