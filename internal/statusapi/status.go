// Package statusapi provides a lightweight, read-only HTTP API for
// inspecting a running elastic-queue process.
//
// Endpoints:
//
//	GET /status   - holding-area path, uptime, per-queue pending/spilled state
//	GET /metrics  - process-wide counters (internal/metrics)
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"elasticqueue/internal/elasticqueue"
	"elasticqueue/internal/holding"
	"elasticqueue/internal/logger"
	"elasticqueue/internal/metrics"
)

// Server is the status API server. It holds no mutable state of its
// own — every response is computed fresh from the registry, holding
// area, and metrics it was constructed with.
type Server struct {
	startTime time.Time
	area      *holding.Area
	registry  *elasticqueue.Registry
	metrics   *metrics.Metrics // nil = no metrics
	log       *logger.Logger
}

// New creates a status server over the given holding area, queue
// registry, and metrics (which may be nil).
func New(area *holding.Area, registry *elasticqueue.Registry, m *metrics.Metrics, log *logger.Logger) *Server {
	return &Server{
		startTime: time.Now(),
		area:      area,
		registry:  registry,
		metrics:   m,
		log:       log,
	}
}

// Handler returns the HTTP handler for the status API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status      string                `json:"status"`
		Uptime      string                `json:"uptime"`
		HoldingArea string                `json:"holdingArea"`
		Queues      []elasticqueue.Status `json:"queues"`
	}

	queues := s.registry.Snapshot()
	sort.Slice(queues, func(i, j int) bool { return queues[i].ID < queues[j].ID })

	resp := response{
		Status:      "running",
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		HoldingArea: s.area.Path(),
		Queues:      queues,
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("handler", "json encode error: %v", err)
	}
}

// ListenAndServe starts the status HTTP server on port, serving
// cleartext HTTP/2 (h2c) with an HTTP/1.1 fallback over the same
// listener — there is no TLS termination concern for an internal
// status port.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	s.log.Infof("listen", "status API listening on %s", addr)

	h2s := &http2.Server{}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(s.Handler(), h2s),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("statusapi: listen on %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		srv.Close() //nolint:errcheck // best-effort shutdown
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("statusapi: serve: %w", err)
	}
	return nil
}
