package httpd

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w gzipResponseWriter) Write(b []byte) (int, error) { return w.Writer.Write(b) }
func (w gzipResponseWriter) Flush() {
	w.Writer.(*gzip.Writer).Flush()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// gzipFilter compresses the response when the client advertises support,
// same negotiation as the teacher's.
func gzipFilter(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			inner.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		inner.ServeHTTP(gzipResponseWriter{Writer: gz, ResponseWriter: w}, r)
	})
}

func jsonContent(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		inner.ServeHTTP(w, r)
	})
}

// cors answers CORS preflight requests the same way the teacher's does.
func cors(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", strings.Join([]string{"DELETE", "GET", "OPTIONS", "POST", "PUT"}, ", "))
			w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{"Accept", "Accept-Encoding", "Authorization", "Content-Length", "Content-Type"}, ", "))
		}
		if r.Method == http.MethodOptions {
			return
		}
		inner.ServeHTTP(w, r)
	})
}

// requestID stamps every request with a fresh correlation id, set as the
// Request-Id header on both the request and the response; the access log
// does not record it.
func requestID(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		r.Header.Set("Request-Id", id)
		w.Header().Set("Request-Id", id)
		inner.ServeHTTP(w, r)
	})
}

type responseLogger struct {
	http.ResponseWriter
	status int
	size   int
}

func (l *responseLogger) WriteHeader(status int) {
	l.status = status
	l.ResponseWriter.WriteHeader(status)
}

func (l *responseLogger) Write(b []byte) (int, error) {
	if l.status == 0 {
		l.status = http.StatusOK
	}
	n, err := l.ResponseWriter.Write(b)
	l.size += n
	return n, err
}

// Flush passes through to the wrapped writer so streamed responses (SSE)
// reach the client as they are written.
func (l *responseLogger) Flush() {
	if f, ok := l.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// logAndRecover logs every access (access-log style, like the teacher's
// logHandler) and recovers panics into a 500 rather than crashing the
// listener, combining the teacher's separate logHandler/recovery wrappers
// into one since both need the same responseLogger and timer.
func logAndRecover(inner http.Handler, name string, log *zap.Logger, enabled bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := &responseLogger{ResponseWriter: w}

		defer func() {
			if rec := recover(); rec != nil {
				if l.status == 0 {
					l.WriteHeader(http.StatusInternalServerError)
				}
				log.Error("panic handling request", zap.String("route", name), zap.Any("recover", rec))
			}
			if enabled {
				log.Info("request",
					zap.String("route", name),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", l.status),
					zap.Int("size", l.size),
					zap.Duration("elapsed", time.Since(start)),
				)
			}
		}()

		inner.ServeHTTP(l, r)
	})
}

// writeError writes a {"error": "..."} body with the given status, the
// teacher's HttpError in spirit.
func writeError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, err.Error())
}
