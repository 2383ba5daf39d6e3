package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/txpilot/internal/core/domain"
	"github.com/vietddude/txpilot/internal/lifecycle"
)

// HistorySource serves recorded lifecycle events for one operation.
type HistorySource interface {
	History(ctx context.Context, operationID string) ([]domain.Event, error)
}

// ArchiveSource serves settled records that may already be pruned from
// the registry.
type ArchiveSource interface {
	ListRecent(ctx context.Context, limit int) ([]domain.OperationRecord, error)
}

// Server exposes health, metrics and the read-only operation query surface.
type Server struct {
	registry *lifecycle.Registry
	history  HistorySource
	archive  ArchiveSource
	server   *http.Server
}

// NewServer creates the HTTP server. history and archive may be nil.
func NewServer(registry *lifecycle.Registry, history HistorySource, archive ArchiveSource, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		registry: registry,
		history:  history,
		archive:  archive,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /operations", s.handleList)
	mux.HandleFunc("GET /operations/{id}", s.handleGet)
	mux.HandleFunc("GET /operations/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /archive", s.handleArchive)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active := len(s.registry.List(lifecycle.Filter{Status: domain.StatusConfirming})) +
		len(s.registry.List(lifecycle.Filter{Status: domain.StatusSubmitted})) +
		len(s.registry.List(lifecycle.Filter{Status: domain.StatusPending}))

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"active": active,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var filter lifecycle.Filter

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.OperationStatus(status)
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		filter.CreatedAfter = t
	}

	writeJSON(w, http.StatusOK, s.registry.List(filter))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history not configured"})
		return
	}

	events, err := s.history.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "archive not configured"})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	recs, err := s.archive.ListRecent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
