package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/you/chatminder/internal/core"
	"github.com/you/chatminder/internal/metrics"
	"github.com/you/chatminder/internal/triage"

	"log/slog"
)

// The ops surface reports state owned by other components. Each source is a
// small read-only view; any of them may be nil and its section is simply
// omitted from /status.

type TriageSource interface {
	Snapshot(ctx context.Context) (triage.Snapshot, error)
}

type ConnSource interface {
	Status() map[string]core.ConnStatus
	Session() (string, map[string]string)
}

type FeedSource interface {
	Watermark() string
}

type ViewerSource interface {
	Count(ctx context.Context) (int64, error)
}

// BuildInfo describes the compiled binary.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

type Options struct {
	Addr string

	RateLimitRPS   int
	RateLimitBurst int

	Build BuildInfo

	Triage  TriageSource
	Conns   ConnSource
	Feed    FeedSource
	Viewers ViewerSource

	Log     *slog.Logger
	Metrics *metrics.Metrics
}

type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	opts       Options
	log        *slog.Logger
	limiter    *ipRateLimiter
	started    time.Time
}

func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	srv := &Server{
		mux:     http.NewServeMux(),
		opts:    opts,
		log:     log,
		limiter: newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		started: time.Now(),
	}

	srv.mux.HandleFunc("/healthz", srv.handleHealthz)
	srv.mux.HandleFunc("/status", srv.handleStatus)
	if opts.Metrics != nil {
		srv.mux.Handle("/metrics", opts.Metrics.Handler())
	}

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           srv.withMiddleware(srv.mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Mux exposes the routing table so admin handlers can mount behind the same
// listener and middleware.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// Handler returns the full middleware-wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Build       buildResponse              `json:"build"`
	UptimeS     int64                      `json:"uptime_s"`
	Connections map[string]core.ConnStatus `json:"connections,omitempty"`
	EventSub    *eventsubStatus            `json:"eventsub,omitempty"`
	Triage      *triage.Snapshot           `json:"triage,omitempty"`
	X           *feedStatus                `json:"x,omitempty"`
	Viewers     *viewerStatus              `json:"viewers,omitempty"`
}

type buildResponse struct {
	Version  string `json:"version"`
	Revision string `json:"rev"`
	BuiltAt  string `json:"built_at,omitempty"`
	Go       string `json:"go"`
}

type eventsubStatus struct {
	SessionID     string            `json:"session_id,omitempty"`
	Subscriptions map[string]string `json:"subscriptions,omitempty"`
}

type feedStatus struct {
	Watermark string `json:"watermark,omitempty"`
}

type viewerStatus struct {
	Count int64  `json:"count"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{
		Build: buildResponse{
			Version:  s.opts.Build.Version,
			Revision: s.opts.Build.Revision,
			Go:       runtime.Version(),
		},
		UptimeS: int64(time.Since(s.started).Seconds()),
	}
	if !s.opts.Build.BuiltAt.IsZero() {
		resp.Build.BuiltAt = s.opts.Build.BuiltAt.UTC().Format(time.RFC3339)
	}

	if s.opts.Conns != nil {
		resp.Connections = s.opts.Conns.Status()
		sessionID, acks := s.opts.Conns.Session()
		if sessionID != "" || len(acks) > 0 {
			resp.EventSub = &eventsubStatus{SessionID: sessionID, Subscriptions: acks}
		}
	}
	if s.opts.Triage != nil {
		if snap, err := s.opts.Triage.Snapshot(r.Context()); err != nil {
			s.log.Warn("status: triage snapshot unavailable", "err", err)
		} else {
			resp.Triage = &snap
		}
	}
	if s.opts.Feed != nil {
		resp.X = &feedStatus{Watermark: s.opts.Feed.Watermark()}
	}
	if s.opts.Viewers != nil {
		st := &viewerStatus{}
		if count, err := s.opts.Viewers.Count(r.Context()); err != nil {
			st.Error = err.Error()
		} else {
			st.Count = count
		}
		resp.Viewers = st
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) Start() error {
	s.log.Info("ops server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
