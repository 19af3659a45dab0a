// Package server is the HTTP transport: the chat endpoints over the workflow
// runner, health and metrics, and the auth middleware.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/climatepath/pendo/pkg/auth"
	"github.com/climatepath/pendo/pkg/cache"
	"github.com/climatepath/pendo/pkg/config"
	"github.com/climatepath/pendo/pkg/observability"
	"github.com/climatepath/pendo/pkg/session"
	"github.com/climatepath/pendo/pkg/store"
	"github.com/climatepath/pendo/pkg/workflow"
)

const defaultTurnTimeout = 30 * time.Second

// Deps carries everything the server needs.
type Deps struct {
	Config    config.ServerConfig
	Runner    *workflow.Runner
	Sessions  *session.Tracker
	Store     store.Store
	Cache     *cache.Cache
	Metrics   *observability.Metrics
	Validator *auth.Validator
	Logger    *slog.Logger
}

// Server is the HTTP transport.
type Server struct {
	cfg      config.ServerConfig
	runner   *workflow.Runner
	sessions *session.Tracker
	store    store.Store
	cache    *cache.Cache
	metrics  *observability.Metrics
	logger   *slog.Logger

	router chi.Router
}

// New assembles the router.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      deps.Config,
		runner:   deps.Runner,
		sessions: deps.Sessions,
		store:    deps.Store,
		cache:    deps.Cache,
		metrics:  deps.Metrics,
		logger:   logger,
	}
	if s.cfg.TurnTimeout <= 0 {
		s.cfg.TurnTimeout = defaultTurnTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/chat", func(r chi.Router) {
		if deps.Validator != nil {
			r.Use(auth.Middleware(deps.Validator))
		}
		r.Post("/message", s.handleMessage)
		r.Post("/stream", s.handleStream)
		r.Get("/history/{conversation_id}", s.handleHistory)
		r.Get("/summary/{conversation_id}", s.handleSummary)
		r.Get("/conversations", s.handleConversations)
		r.Get("/stats", s.handleStats)
		r.Get("/health", s.handleHealth)
		r.Delete("/conversation/{conversation_id}", s.handleDeleteConversation)
	})
	s.router = r
	return s
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.AllowedOrigins) > 0 {
		return s.cfg.AllowedOrigins
	}
	return []string{"*"}
}

// Handler returns the assembled router.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the server until ctx is cancelled, then drains with a
// short shutdown grace.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
