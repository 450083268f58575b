// Package server exposes the bookie's debugging endpoints: expvar metrics,
// pprof profiles, a live runtime dashboard and node status.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/MegAtonBoom/bookkeeper/config"
	"github.com/arl/statsviz"
)

const shutdownTimeout = 5 * time.Second

// StatusFunc returns a JSON-encodable snapshot of node state.
type StatusFunc func() (any, error)

// MetricsServer serves the debugging endpoints of a bookie.
type MetricsServer struct {
	server *http.Server
	mux    *http.ServeMux
	logger *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewMetricsServer builds the debug mux from cfg. Nothing listens until Start
// or Serve is called.
func NewMetricsServer(cfg *config.DebugConfig, logger *slog.Logger) *MetricsServer {
	if logger == nil {
		logger = slog.Default().With("component", "MetricsServer_default")
	} else {
		logger = logger.With("component", "MetricsServer")
	}
	mux := http.NewServeMux()

	if cfg.PProfEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		logger.Info("pprof endpoints enabled", "path", "/debug/pprof/")
	}
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", expvar.Handler())
		logger.Info("expvar endpoint enabled", "path", "/metrics")

		err := statsviz.Register(mux,
			statsviz.Root("/viz"),
			statsviz.SendFrequency(250*time.Millisecond),
		)
		if err != nil {
			logger.Warn("Failed to register runtime dashboard", "error", err)
		}
	}

	addr := cfg.ListenAddress
	if addr == "" {
		addr = ":6060"
	}
	return &MetricsServer{
		server: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		mux:    mux,
		logger: logger,
	}
}

// HandleStatus serves the result of status as JSON on path. It may be called
// while the server is running.
func (s *MetricsServer) HandleStatus(path string, status StatusFunc) {
	s.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		v, err := status()
		if err != nil {
			s.logger.Warn("Status request failed", "path", path, "error", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			s.logger.Warn("Failed to encode status", "path", path, "error", err)
		}
	})
}

// Handler returns the debug mux.
func (s *MetricsServer) Handler() http.Handler {
	return s.mux
}

// Start listens on the configured address and serves until Stop. It blocks.
func (s *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves the debugging endpoints on ln until Stop is called.
func (s *MetricsServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		ln.Close()
		return errors.New("metrics server already running")
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("Debug server listening", "address", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("debug server on %s: %w", ln.Addr(), err)
	}
	return nil
}

// Stop shuts the server down, waiting up to five seconds for open requests.
func (s *MetricsServer) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Debug server shutdown failed", "error", err)
		return
	}
	s.logger.Info("Debug server stopped")
}
