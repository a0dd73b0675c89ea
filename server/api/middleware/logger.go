package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// statusWriter captures the response code and body size for the access log.
type statusWriter struct {
	http.ResponseWriter
	code    int
	written int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Logger emits one access-log line per request, leveled by response code.
func Logger(log zerolog.Logger) func(next http.Handler) http.Handler {
	accessLog := log.With().Str("component", "api").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

			next.ServeHTTP(sw, r)

			var evt *zerolog.Event
			switch {
			case sw.code >= http.StatusInternalServerError:
				evt = accessLog.Error()
			case sw.code >= http.StatusBadRequest:
				evt = accessLog.Warn()
			default:
				evt = accessLog.Info()
			}

			requestID, _ := r.Context().Value(RequestIDKey).(string)
			evt.
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", sw.code).
				Int64("bytes", sw.written).
				Dur("latency", time.Since(start)).
				Msg("request completed")
		})
	}
}
