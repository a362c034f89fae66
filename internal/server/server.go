package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brainquiz/apiserver/config"
	"github.com/brainquiz/apiserver/internal/auth"
	"github.com/brainquiz/apiserver/internal/handlers"
	"github.com/brainquiz/apiserver/internal/logging"
	"github.com/brainquiz/apiserver/internal/metrics"
	"github.com/brainquiz/apiserver/internal/mq"
	"github.com/brainquiz/apiserver/internal/services"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	closers    []func() error
}

// New constructs a Server from cfg. Invalid auth settings and unreachable
// backends are reported before anything listens.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	hasher, err := auth.NewHasher(cfg.Auth.HashingCost)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}

	s := &Server{logger: logger}

	repo, closeRepo, err := OpenUserRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeRepo)

	opts := []services.UserServiceOption{services.WithLogger(logger)}
	queue, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		s.close()
		return nil, err
	}
	if queue != nil {
		s.closers = append(s.closers, queue.Close)
		opts = append(opts, services.WithEvents(queue, cfg.MQ.UserTopic))
	}

	s.router, err = NewRouter(handlers.Deps{
		Users:        services.NewUserService(repo, opts...),
		Hasher:       hasher,
		Tokens:       tokens,
		SecureCookie: cfg.CookieSecure,
		Logger:       logger,
		Metrics:      metrics.New(),
	})
	if err != nil {
		s.close()
		return nil, err
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// NewRouter builds the HTTP routes around deps.
func NewRouter(deps handlers.Deps) (*chi.Mux, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authHandler, err := handlers.NewAuthHandler(deps)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.RequestLogger(logger),
		deps.Metrics.Middleware,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	router.Route("/user", func(r chi.Router) {
		handlers.UserRouter(r, authHandler)
	})
	return router, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close backend", "error", err)
		}
	}
	s.closers = nil
}
