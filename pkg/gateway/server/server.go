// Package server assembles the HTTP surface of the gateway: health probes,
// Prometheus metrics, and the /v1/live websocket endpoint.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/interact"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/config"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/handlers"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/lifecycle"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/live/session"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/live/sessions"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/metrics"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/mw"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	metrics   *metrics.Metrics
	lifecycle *lifecycle.Lifecycle
	sessions  *sessions.Tracker
}

type Deps struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker

	// Collab is the shared collaborator set handed to every live session.
	Collab session.Collaborators

	// NewRecorder binds turn persistence to each session. Nil disables it.
	NewRecorder func(userID, sessionID string) interact.Recorder
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}
	if deps.Sessions == nil {
		deps.Sessions = sessions.NewTracker(cfg.WSMaxSessionsPerUser)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		metrics:   deps.Metrics,
		lifecycle: deps.Lifecycle,
		sessions:  deps.Sessions,
	}

	s.routes(deps)
	return s
}

func (s *Server) routes(deps Deps) {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Metrics:      s.metrics,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.sessions,
		Collab:       deps.Collab,
		NewRecorder:  deps.NewRecorder,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Sessions exposes the tracker for shutdown draining.
func (s *Server) Sessions() *sessions.Tracker { return s.sessions }

// Lifecycle exposes the drain flag for shutdown coordination.
func (s *Server) Lifecycle() *lifecycle.Lifecycle { return s.lifecycle }

// SetDraining flips readiness and makes /v1/live refuse new sessions.
func (s *Server) SetDraining() { s.lifecycle.SetDraining(true) }

// NotifyLiveSessionsDraining tells connected devices the gateway is going away.
func (s *Server) NotifyLiveSessionsDraining() {
	s.sessions.NotifyAll("draining", "gateway is shutting down")
}

// WaitLiveSessions blocks until every live session has finished or ctx expires.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.sessions.Wait(ctx)
}

// CancelLiveSessions force-closes whatever is still connected.
func (s *Server) CancelLiveSessions() { s.sessions.CancelAll() }
