// Package api exposes the engine's trigger surface over HTTP: cron
// stage triggers, the reply webhook, and the small manual operations
// (approve, deactivate). Everything under /api is guarded by a shared
// bearer secret intended for the cron scheduler, not end users.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/touchbase/followup/internal/config"
	"github.com/touchbase/followup/internal/pkg/httputil"
)

// Server wraps the HTTP server and its router.
type Server struct {
	cfg    config.ServerConfig
	router *chi.Mux
	server *http.Server
}

func NewServer(cfg config.ServerConfig, h *Handlers) *Server {
	s := &Server{cfg: cfg}
	s.router = setupRoutes(h, cfg.CronSecret)
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func setupRoutes(h *Handlers, cronSecret string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(cronSecret))

		r.Route("/cron", func(r chi.Router) {
			r.Post("/followups", h.TriggerFollowUps)
			r.Post("/approvals", h.TriggerApprovals)
			r.Post("/sends", h.TriggerSends)
			r.Post("/run", h.TriggerRun)
		})

		r.Post("/replies/webhook", h.ReplyWebhook)
		r.Post("/messages/{id}/approve", h.ApproveMessage)
		r.Post("/sequences/{id}/deactivate", h.DeactivateSequence)
	})

	return r
}

// bearerAuth guards the API with a shared secret. An empty configured
// secret rejects everything rather than opening the surface.
func bearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || secret == "" ||
				subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				httputil.Unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
