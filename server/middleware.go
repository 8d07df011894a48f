package server

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/executor"
)

type ctxKey struct{}

// requestInfo collects what handlers learn about a request for the
// completion log line.
type requestInfo struct {
	id         string
	convention string
	source     string
	cache      string
}

func infoFrom(ctx context.Context) *requestInfo {
	if info, ok := ctx.Value(ctxKey{}).(*requestInfo); ok {
		return info
	}
	return &requestInfo{}
}

// requestID echoes a caller-supplied X-Request-ID or generates one.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" && len(id) <= 128 {
		return id
	}
	return uuid.NewString()
}

// recorder captures the status and body size of a response. It passes
// flushes and hijacks through to the underlying writer so streaming and
// websocket upgrades keep working.
type recorder struct {
	http.ResponseWriter
	status   int
	bytes    int64
	hijacked bool
}

func (rec *recorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *recorder) Write(p []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(p)
	rec.bytes += int64(n)
	return n, err
}

func (rec *recorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rec *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rec.hijacked = true
	rec.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rec *recorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// instrument tags each request with an id and logs and counts it once it
// completes.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{id: requestID(r)}
		w.Header().Set("X-Request-ID", info.id)

		rec := &recorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, info)))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		convention := info.convention
		if convention == "" {
			convention = "meta"
		}
		s.metrics.RecordRequest(convention, status, rec.bytes)

		attrs := []any{
			"request_id", info.id,
			"method", r.Method,
			"path", r.URL.Path,
			"convention", convention,
			"status", status,
			"bytes", rec.bytes,
			"duration", time.Since(start),
		}
		if info.source != "" {
			attrs = append(attrs, "source", info.source)
		}
		if info.cache != "" {
			attrs = append(attrs, "cache", info.cache)
		}
		s.logger.Info("Request completed", attrs...)
	})
}

// readOnly answers CORS preflights and rejects anything but GET and HEAD.
func (s *Server) readOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			next.ServeHTTP(w, r)
		case http.MethodOptions:
			executor.SetCORS(w.Header(), s.allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, X-Request-ID")
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Allow", "GET, HEAD, OPTIONS")
			s.writeJSON(w, http.StatusMethodNotAllowed, errorBody{
				Error:  "method " + r.Method + " not allowed",
				Type:   errors.KindQuery.String(),
				Status: http.StatusMethodNotAllowed,
			})
		}
	})
}
