package server

import (
	"net/http"
	"runtime/debug"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/teranos/repost/logger"
)

const maxBodyBytes = 1 << 20

// statusWriter captures status and size for the request log
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// requestLog logs each request once it completes. Must run after chimw.RequestID.
func requestLog(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			reqID := chimw.GetReqID(r.Context())
			next.ServeHTTP(sw, r.WithContext(logger.WithRequestID(r.Context(), reqID)))

			log.Debugw("request",
				logger.FieldRequestID, reqID,
				logger.FieldMethod, r.Method,
				logger.FieldPath, r.URL.Path,
				logger.FieldStatus, sw.status,
				logger.FieldDurationMS, time.Since(start).Milliseconds(),
				"size", sw.size)
		})
	}
}

// recoverer turns a handler panic into a 500 JSON response
func recoverer(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Errorw("panic recovered",
						logger.FieldRequestID, chimw.GetReqID(r.Context()),
						logger.FieldMethod, r.Method,
						logger.FieldPath, r.URL.Path,
						"panic", rec,
						"stack", string(debug.Stack()))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
