// Package admin exposes a minimal HTTP surface for operating the driver
// out-of-process: Prometheus metrics, a liveness probe, and a JSON snapshot
// of the connection pool.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mysqlwire/client/internal/connpool"
	"github.com/mysqlwire/client/internal/metrics"
)

// Server is the admin HTTP server.
type Server struct {
	pool       *connpool.Pool
	metrics    *metrics.Collector
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates a new admin server over the given pool and metrics
// collector. Either may be nil; handlers degrade gracefully.
func NewServer(p *connpool.Pool, m *metrics.Collector) *Server {
	return &Server{
		pool:      p,
		metrics:   m,
		startTime: time.Now(),
	}
}

// Start begins serving on bind:port in the background.
func (s *Server) Start(bind string, port int) error {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	r.HandleFunc("/stats", s.statsHandler).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	addr := fmt.Sprintf("%s:%d", bind, port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	slog.Info("admin server listening", "addr", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the admin server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	UptimeSeconds int    `json:"uptime_seconds"`
	GoVersion     string `json:"go_version"`
	Goroutines    int    `json:"goroutines"`
	PoolSize      int    `json:"pool_size,omitempty"`
	PoolAvailable int    `json:"pool_available,omitempty"`
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		UptimeSeconds: int(time.Since(s.startTime).Seconds()),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
	}
	if s.pool != nil {
		resp.PoolSize = s.pool.Size()
		resp.PoolAvailable = s.pool.AvailableCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
