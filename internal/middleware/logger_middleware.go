package middleware

import (
	"bufio"
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const requestLogKey contextKey = "requestLog"

// requestLog is filled in by handlers deeper in the chain. Auth runs on a subrouter, so
// its request context never reaches the logger.
type requestLog struct {
	userID string
}

// RecordUser attributes the request to userID in the access log.
func RecordUser(r *http.Request, userID string) {
	if entry, ok := r.Context().Value(requestLogKey).(*requestLog); ok {
		entry.userID = userID
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through; the handshake itself answers 101.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// LoggerMiddleware writes one access line per request. Paths listed in quiet, such as
// the health check, are served without logging.
func LoggerMiddleware(quiet ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(quiet))
	for _, path := range quiet {
		skip[path] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			entry := &requestLog{}
			r = r.WithContext(context.WithValue(r.Context(), requestLogKey, entry))
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			userID := entry.userID
			if userID == "" {
				userID = "anonymous"
			}

			line := r.URL.Path
			if noteID := mux.Vars(r)["id"]; noteID != "" {
				line += " note=" + noteID
			}

			log.Printf("[HTTP] %s %s - Status: %d - Duration: %v - User: %s",
				r.Method,
				line,
				rw.statusCode,
				time.Since(start),
				userID,
			)
		})
	}
}
