// ============================================================================
// LAPS Web Server - Client-Facing HTTP API
// ============================================================================
//
// Package: internal/web
// Purpose: Exposes the coordination core over HTTP.
//
// Routes:
//   POST /job/submit          submit a job, returns 202 + token
//   GET  /job/result/{token}  poll a result: 200 ready / 204 not ready /
//                             404 unknown token / 503 admission reject
//   GET  /algorithms          list registered modules
//   GET  /maps                list stored map ids
//   GET  /map/{id}            map image bytes
//   GET  /metrics             Prometheus metrics (when enabled)
//
// Input errors map to 4xx with a plain-text reason. Store errors map to an
// opaque 500; the cause is logged, never leaked.
//
// ============================================================================

package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LAPS-Group/laps/internal/config"
	"github.com/LAPS-Group/laps/internal/dispatch"
	"github.com/LAPS-Group/laps/internal/gate"
	"github.com/LAPS-Group/laps/internal/mapstore"
	"github.com/LAPS-Group/laps/internal/metrics"
	"github.com/LAPS-Group/laps/internal/registry"
	"github.com/LAPS-Group/laps/pkg/types"
)

var log = slog.Default()

// maxSubmissionBytes bounds the submit request body.
const maxSubmissionBytes = 4096

// Server wires the coordination core to HTTP handlers.
type Server struct {
	cfg        config.Config
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	gate       *gate.Gate
	maps       *mapstore.Store
	metrics    *metrics.Collector
}

// NewServer creates the HTTP server front.
func NewServer(cfg config.Config, reg *registry.Registry, disp *dispatch.Dispatcher, g *gate.Gate, maps *mapstore.Store, m *metrics.Collector) *Server {
	return &Server{cfg: cfg, registry: reg, dispatcher: disp, gate: g, maps: maps, metrics: m}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/job/submit", s.submitJob)
	r.Get("/job/result/{token}", s.jobResult)
	r.Get("/algorithms", s.listAlgorithms)
	r.Get("/maps", s.listMaps)
	r.Get("/map/{id}", s.getMap)
	if s.cfg.Metrics.Enabled {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Web.Address, strconv.Itoa(s.cfg.Web.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Web server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down web server: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("web server failed: %w", err)
	}
}

// submitJob handles POST /job/submit.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var sub types.JobSubmission
	body := http.MaxBytesReader(w, r.Body, maxSubmissionBytes)
	if err := json.NewDecoder(body).Decode(&sub); err != nil {
		http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
		return
	}

	token, err := s.dispatcher.Submit(r.Context(), sub)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, token)
	case errors.Is(err, dispatch.ErrEqualEndpoints), errors.Is(err, dispatch.ErrPointOutOfBounds):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, dispatch.ErrModuleNotRegistered):
		http.Error(w, "no such module", http.StatusNotFound)
	case errors.Is(err, mapstore.ErrNotFound):
		http.Error(w, "no such map", http.StatusNotFound)
	default:
		s.internalError(w, "Job submission failed", err)
	}
}

// jobResult handles GET /job/result/{token}.
func (s *Server) jobResult(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	result, err := s.gate.Poll(r.Context(), token)
	switch {
	case err == nil:
		// The job id stays internal; clients only ever see their token.
		writeJSON(w, map[string]any{"points": result.Points})
	case errors.Is(err, gate.ErrNotReady):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, gate.ErrUnknownToken):
		http.Error(w, "unknown token", http.StatusNotFound)
	case errors.Is(err, gate.ErrTooManyPollers):
		http.Error(w, "too many polling clients", http.StatusServiceUnavailable)
	default:
		s.internalError(w, "Result poll failed", err)
	}
}

// listAlgorithms handles GET /algorithms.
func (s *Server) listAlgorithms(w http.ResponseWriter, r *http.Request) {
	modules, err := s.registry.RegisteredModules(r.Context())
	if err != nil {
		s.internalError(w, "Listing registered modules failed", err)
		return
	}
	writeJSON(w, modules)
}

// listMaps handles GET /maps.
func (s *Server) listMaps(w http.ResponseWriter, r *http.Request) {
	ids, err := s.maps.List(r.Context())
	if err != nil {
		s.internalError(w, "Listing maps failed", err)
		return
	}
	writeJSON(w, map[string]any{"maps": ids})
}

// getMap handles GET /map/{id}.
func (s *Server) getMap(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid map id", http.StatusBadRequest)
		return
	}

	data, err := s.maps.Data(r.Context(), int32(id))
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	case errors.Is(err, mapstore.ErrNotFound):
		http.Error(w, "no such map", http.StatusNotFound)
	default:
		s.internalError(w, "Reading map failed", err)
	}
}

// internalError logs the cause and returns an opaque 500.
func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	log.Error(msg, "error", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Encoding response failed", "error", err)
	}
}
