// Package status serves tracker snapshots over HTTP.
package status

import (
	"context"
	"danawa-tracker/internal/tracker"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Registry interface {
	Name() string
	Snapshots() []tracker.Snapshot
	Get(id string) (*tracker.Tracker, bool)
}

type Server struct {
	registry Registry
	// RefreshTimeout bounds a manual refresh requested over HTTP.
	RefreshTimeout time.Duration
}

func NewServer(registry Registry) *Server {
	return &Server{
		registry:       registry,
		RefreshTimeout: 45 * time.Second,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.handleHealth)
	r.Route("/trackers", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Post("/{id}/refresh", s.handleRefresh)
	})
	return r
}

type healthResponse struct {
	Status   string `json:"status"`
	Name     string `json:"name"`
	Trackers int    `json:"trackers"`
	Failing  int    `json:"failing"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snaps := s.registry.Snapshots()
	res := healthResponse{
		Status:   "ok",
		Name:     s.registry.Name(),
		Trackers: len(snaps),
	}
	for _, snap := range snaps {
		if snap.LastOutcome == tracker.OutcomeFailed {
			res.Failing++
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshots())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	t, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("tracker not found"))
		return
	}
	writeJSON(w, http.StatusOK, t.Snapshot())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	t, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("tracker not found"))
		return
	}

	ctx := r.Context()
	if s.RefreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.RefreshTimeout)
		defer cancel()
	}

	err := t.Refresh(ctx)
	switch {
	case errors.Is(err, tracker.ErrStopped):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeJSON(w, http.StatusBadGateway, refreshFailure{
			Error:    err.Error(),
			Kind:     tracker.Classify(err),
			Snapshot: t.Snapshot(),
		})
	default:
		writeJSON(w, http.StatusOK, t.Snapshot())
	}
}

type refreshFailure struct {
	Error    string            `json:"error"`
	Kind     tracker.ErrorKind `json:"kind"`
	Snapshot tracker.Snapshot  `json:"snapshot"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
