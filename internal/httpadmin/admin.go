package httpadmin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/you/chatminder/internal/viewerstore"

	"log/slog"
)

const (
	defaultViewerLimit = 20
	maxViewerLimit     = 200
)

type Reloader interface {
	ReloadTwitch() (login string, err error)
}

type CostToggler interface {
	SetCostControl(ctx context.Context, enabled bool) (previous bool, err error)
}

type ViewerLister interface {
	Recent(ctx context.Context, limit int) ([]viewerstore.ViewerRecord, error)
}

type Options struct {
	Reloader Reloader
	Cost     CostToggler
	Viewers  ViewerLister
	Log      *slog.Logger
}

// Server carries the mutating endpoints. It mounts onto the ops mux, so the
// same middleware covers both surfaces.
type Server struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{opts: opts, log: log}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/twitch/reload", s.handleReload)
	mux.HandleFunc("/admin/costcontrol", s.handleCostControl)
	mux.HandleFunc("/admin/viewers", s.handleViewers)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Reloader == nil {
		http.Error(w, "twitch reload not configured", http.StatusServiceUnavailable)
		return
	}
	login, err := s.opts.Reloader.ReloadTwitch()
	if err != nil {
		s.log.Error("admin: twitch reload failed", "err", err)
		http.Error(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("admin: twitch token reloaded", "login", login)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"reloaded": true,
		"login":    login,
	})
}

func (s *Server) handleCostControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Cost == nil {
		http.Error(w, "cost control not configured", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		http.Error(w, `body must be {"enabled":bool}`, http.StatusBadRequest)
		return
	}
	previous, err := s.opts.Cost.SetCostControl(r.Context(), *body.Enabled)
	if err != nil {
		s.log.Error("admin: cost control toggle failed", "err", err)
		http.Error(w, "triage manager unavailable", http.StatusServiceUnavailable)
		return
	}
	s.log.Info("admin: cost control toggled", "enabled", *body.Enabled, "was", previous)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"enabled": *body.Enabled,
		"was":     previous,
	})
}

func (s *Server) handleViewers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Viewers == nil {
		http.Error(w, "viewer store not configured", http.StatusServiceUnavailable)
		return
	}
	limit := defaultViewerLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
		if limit > maxViewerLimit {
			limit = maxViewerLimit
		}
	}
	records, err := s.opts.Viewers.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("admin: viewer listing failed", "err", err)
		http.Error(w, "list error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []viewerstore.ViewerRecord{}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(records)
}
