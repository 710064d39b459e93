// Package web exposes the pending-candidate review API. Candidates are
// surfaced to a review UI over JSON; approval, dismissal and
// remind-later decisions come back through the same surface.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"rosterlog/internal/config"
	"rosterlog/internal/detect"
	appLog "rosterlog/internal/log"
	"rosterlog/internal/model"
	"rosterlog/internal/pending"
)

// Server provides the HTTP review API.
type Server struct {
	cfg    *config.Config
	runner *detect.Runner
	mux    *http.ServeMux
}

// NewServer constructs a review API server around a detection runner.
func NewServer(cfg *config.Config, runner *detect.Runner) *Server {
	s := &Server{
		cfg:    cfg,
		runner: runner,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for this server, wrapped with basic
// auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password counts as disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="rosterlog", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/pending", s.handleListPending)
	s.mux.HandleFunc("POST /api/detect", s.handleDetect)
	s.mux.HandleFunc("POST /api/pending/{id}/approve", s.handleApprove)
	s.mux.HandleFunc("POST /api/pending/{id}/dismiss", s.handleDismiss)
	s.mux.HandleFunc("POST /api/pending/{id}/remind", s.handleRemindLater)
	s.mux.HandleFunc("POST /api/pending/{id}/legs", s.handleAddLegs)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	policy := pending.PolicyFromConfig(s.cfg.Detection, time.Now())
	cands, err := s.runner.Pending.Load(r.Context(), policy)
	if err != nil {
		appLog.Error("list pending failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load pending candidates")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": cands})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	summary, err := s.runner.RunPass(r.Context(), time.Now())
	if err != nil {
		appLog.Error("detection pass failed", err)
		writeError(w, http.StatusInternalServerError, "detection pass failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trip, err := s.runner.Approve(r.Context(), id, time.Now())
	if err != nil {
		respondStoreError(w, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.runner.Pending.Dismiss(r.Context(), id, time.Now()); err != nil {
		respondStoreError(w, "dismiss", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed", "id": id})
}

func (s *Server) handleRemindLater(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.runner.Pending.RemindLater(r.Context(), id); err != nil {
		respondStoreError(w, "remind later", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "remind_later", "id": id})
}

// addLegsRequest is the manual-mode merge payload.
type addLegsRequest struct {
	Legs           []model.Leg `json:"legs"`
	SourceEventIDs []string    `json:"source_event_ids"`
}

func (s *Server) handleAddLegs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req addLegsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Legs) == 0 {
		writeError(w, http.StatusBadRequest, "no legs to add")
		return
	}

	cand, err := s.runner.Pending.AddLegs(r.Context(), id, req.Legs, req.SourceEventIDs)
	if err != nil {
		respondStoreError(w, "add legs", err)
		return
	}
	writeJSON(w, http.StatusOK, cand)
}

func respondStoreError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, pending.ErrNotFound) {
		writeError(w, http.StatusNotFound, "pending candidate not found")
		return
	}
	if errors.Is(err, pending.ErrNotMergeable) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	appLog.Error(op+" failed", err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

// StartServer runs the review API until ctx is canceled.
func StartServer(ctx context.Context, cfg *config.Config, runner *detect.Runner) error {
	s := NewServer(cfg, runner)
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	appLog.Info("starting review API", "listen", "http://"+cfg.Listen)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
