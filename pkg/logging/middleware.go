package logging

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// HeaderRequestID carries the per-request identifier
	HeaderRequestID = "X-Request-ID"
	// HeaderCorrelationID carries the identifier shared by every attempt of one operation
	HeaderCorrelationID = "X-Correlation-ID"
)

// HTTPMiddleware logs every request of the health server. The request id is taken from
// X-Request-ID, then X-Correlation-ID, and generated when both are absent; it is echoed in the
// response and carried in the request context.
func HTTPMiddleware(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(HeaderCorrelationID)
			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = correlationID
			}
			if requestID == "" {
				requestID = uuid.New().String()
			}
			w.Header().Set(HeaderRequestID, requestID)

			ctx := ContextWithRequestID(r.Context(), requestID)
			if correlationID != "" {
				ctx = ContextWithCorrelationID(ctx, correlationID)
			}
			r = r.WithContext(ctx)

			reqLogger := logger.WithContext(ctx).WithFields(
				String("method", r.Method),
				String("path", r.URL.Path),
				String("remote_addr", r.RemoteAddr),
			)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rw, r)

			reqLogger.WithFields(
				Int("status", rw.statusCode),
				Int("bytes", rw.bytesWritten),
				Duration("duration", time.Since(start)),
			).Debug("HTTP request completed")
		})
	}
}

// responseWriter captures the status and size of a response
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(data)
	rw.bytesWritten += n
	return n, err
}
