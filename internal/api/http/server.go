// Package apihttp serves the operational endpoints of a running process:
// Prometheus metrics, a health probe and a VFS status report.
package apihttp

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// StatusFunc reports the state shown at /status. It must be safe to call
// concurrently.
type StatusFunc func() any

type Server struct {
	logger  *slog.Logger
	status  StatusFunc
	handler http.Handler
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithStatus(fn StatusFunc) ServerOption {
	return func(s *Server) {
		s.status = fn
	}
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

	traced := otelhttp.NewHandler(accessLog(s.logger, mux), "torrentsql",
		otelhttp.WithFilter(func(r *http.Request) bool { return !isScrape(r) }),
	)
	s.handler = recoverPanics(s.logger, traced)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.status == nil {
		writeError(w, http.StatusNotFound, "not_found", "status not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}
