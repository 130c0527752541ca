package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/keplerai/kepler/pkg/auth"
	"github.com/keplerai/kepler/pkg/config"
	"github.com/keplerai/kepler/pkg/observability"
	"github.com/keplerai/kepler/pkg/store"
)

// Server is the HTTP surface. It owns the router and the http.Server
// lifecycle; the heavy lifting lives in StreamService.
type Server struct {
	cfg      config.ServerConfig
	agentCfg config.AgentConfig

	streams     *StreamService
	store       *store.ConversationStore
	tasks       *TaskRegistry
	idempotency *IdempotencyStore

	authenticator auth.Authenticator
	metrics       *observability.Metrics
	logger        *slog.Logger

	httpServer *http.Server
}

type Options struct {
	Config        config.ServerConfig
	AgentConfig   config.AgentConfig
	Streams       *StreamService
	Store         *store.ConversationStore
	Tasks         *TaskRegistry
	Authenticator auth.Authenticator
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Streams == nil {
		return nil, fmt.Errorf("stream service is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if opts.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tasks == nil {
		opts.Tasks = NewTaskRegistry()
	}

	return &Server{
		cfg:           opts.Config,
		agentCfg:      opts.AgentConfig,
		streams:       opts.Streams,
		store:         opts.Store,
		tasks:         opts.Tasks,
		idempotency:   NewIdempotencyStore(0),
		authenticator: opts.Authenticator,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
	}, nil
}

// Router assembles the middleware chain and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(observability.Middleware(s.metrics))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.authenticator))
		r.Use(RateLimitMiddleware(s.cfg.RateLimit))

		r.Post("/stream", s.handleStream)
		r.Get("/conversations", s.handleListConversations)
		r.Get("/conversations/{session_id}", s.handleGetConversation)
		r.Delete("/conversations/{session_id}", s.handleDeleteConversation)
		r.Post("/conversations/{session_id}/cancel", s.handleCancel)
	})

	return r
}

// Start serves until the context is cancelled, then drains gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// No global write timeout: streams are bounded per request by
		// timeout_seconds instead.
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests with a bounded grace period.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
