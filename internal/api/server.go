package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/pollbridge/internal/bridge"
	"github.com/mattjoyce/pollbridge/internal/events"
)

// Bridge is the part of *bridge.Bridge the HTTP surface drives.
type Bridge interface {
	Submit(ctx context.Context, payload json.RawMessage) (bridge.Result, error)
	Poll(ctx context.Context, timeout time.Duration) (*bridge.Invocation, error)
	Resolve(ctx context.Context, id string, res bridge.Result) bridge.Outcome
	Requeue(id string) bool
	Stats() bridge.Stats
	PollTimeout() time.Duration
}

// EventSource feeds GET /events and records relayed tool calls.
type EventSource interface {
	Publish(eventType string, data any) events.Event
	SnapshotSince(lastID int64) []events.Event
	Subscribe() (<-chan events.Event, func())
}

// Config holds API server configuration
type Config struct {
	Listen       string
	Version      string
	MaxBodyBytes int64
	// MaxPollTimeout caps the timeout_ms a dispatch request may ask for.
	// Zero means the bridge's poll timeout.
	MaxPollTimeout time.Duration

	// Optional surfaces; nil disables the route.
	Events  EventSource
	Metrics http.Handler

	// OnProxied, if set, is called after each /proxy call is answered.
	OnProxied func(isError bool)
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	bridge    Bridge
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, b Bridge, logger *slog.Logger) *Server {
	if config.MaxPollTimeout <= 0 {
		config.MaxPollTimeout = b.PollTimeout()
	}
	return &Server{
		config:    config,
		bridge:    b,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start listens on the configured address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on an already bound listener until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// Dispatch requests hold the connection for the poll interval and
		// /proxy for as long as the executor takes; no write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Executor protocol.
	r.Post("/dispatch-request", s.handleDispatchRequest)
	r.Post("/dispatch-response", s.handleDispatchResponse)

	// Secondary bridges forward tool calls here.
	r.Post("/proxy", s.handleProxy)

	// Ops.
	r.Get("/healthz", s.handleHealthz)
	if s.config.Events != nil {
		r.Get("/events", s.handleEvents)
	}
	if s.config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.config.Metrics)
	}

	return r
}

// loggingMiddleware logs HTTP requests. Dispatch traffic is constant while an
// executor is attached, so it logs at debug.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		switch r.URL.Path {
		case "/dispatch-request", "/dispatch-response", "/healthz", "/metrics":
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
