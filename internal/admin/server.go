package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/revware/revcache/internal/cache"
	"github.com/revware/revcache/internal/logging"
	"github.com/revware/revcache/internal/metrics"
)

// Server exposes cache diagnostics over HTTP for operational dashboards:
// /healthz, /stats and /metrics.
type Server struct {
	manager   *cache.Manager
	collector *metrics.Collector
	httpSrv   *http.Server
}

// NewServer creates an admin server bound to addr.
func NewServer(addr string, manager *cache.Manager, collector *metrics.Collector) *Server {
	s := &Server{
		manager:   manager,
		collector: collector,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/metrics", s.handleMetrics)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	logging.Info("admin server listening", zap.String("address", s.httpSrv.Addr))
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.manager.Health(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if !health.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.Tiered().Stats(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.collector.WritePrometheus(w)
}
