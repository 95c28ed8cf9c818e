package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/harun/ccserver/internal/observability"
	"github.com/harun/ccserver/pkg/agent"
	"github.com/harun/ccserver/pkg/events"
	"github.com/harun/ccserver/pkg/msgbuffer"
	"github.com/harun/ccserver/pkg/session"
	"github.com/harun/ccserver/pkg/tasks"
	"github.com/rs/zerolog"
)

// DebouncePolicy controls how /chat/async buffers messages
type DebouncePolicy struct {
	Enabled   bool
	Window    time.Duration // used when the request does not set one
	MaxWindow time.Duration // larger request windows are rejected; zero disables the check
}

// Config holds server configuration and collaborators
type Config struct {
	Host            string // default: "0.0.0.0"
	Port            int    // default: 8000
	APIKey          string
	AllowedUsers    []string
	EnableCORS      bool
	CORSOrigins     []string
	Version         string
	Debounce        DebouncePolicy
	ChatTimeout     time.Duration // upper bound for a sync /chat turn, default: 10m
	ShutdownTimeout time.Duration // default: 30s

	Buffer   *msgbuffer.Buffer
	Tasks    *tasks.Manager
	Runner   *agent.Runner
	Sessions *session.Manager
	Hub      *events.Hub // optional, enables /events

	Logger zerolog.Logger
}

// Server is the HTTP API server
type Server struct {
	config       Config
	allowedUsers map[string]struct{}
	router       chi.Router
	server       *http.Server
	logger       zerolog.Logger
	startTime    time.Time

	debounce   DebouncePolicy
	debounceMu sync.RWMutex

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new Server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Buffer == nil {
		return nil, fmt.Errorf("message buffer is required")
	}
	if cfg.Tasks == nil {
		return nil, fmt.Errorf("task manager is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("agent runner is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = 10 * time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Debounce.Window <= 0 {
		cfg.Debounce.Window = cfg.Buffer.Window()
	}

	observability.EnsureRegistered()

	s := &Server{
		config:       cfg,
		allowedUsers: make(map[string]struct{}, len(cfg.AllowedUsers)),
		logger:       cfg.Logger.With().Str("component", "server").Logger(),
		startTime:    time.Now(),
		debounce:     cfg.Debounce,
	}
	for _, userID := range cfg.AllowedUsers {
		s.allowedUsers[userID] = struct{}{}
	}

	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(traceRequest)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.config.EnableCORS {
		r.Use(s.corsHandler())
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", observability.MetricsHandler())

	r.Group(func(api chi.Router) {
		api.Use(s.requireAPIKey)
		api.Use(s.trackInFlight)

		api.Post("/chat", s.handleChat)
		api.Post("/chat/stream", s.handleChatStream)
		api.Post("/chat/async", s.handleChatAsync)
		api.Get("/task/{taskID}", s.handleGetTask)
		api.Get("/tasks", s.handleListTasks)
		api.Post("/session/{sessionID}/flush", s.handleFlushSession)
		api.Get("/session/{sessionID}/history", s.handleHistory)
		api.Delete("/session/{sessionID}", s.handleClearSession)
		if s.config.Hub != nil {
			api.Handle("/events", s.config.Hub)
		}
	})

	return r
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", s.config.Port))
}

// DebouncePolicy returns the active debounce policy
func (s *Server) DebouncePolicy() DebouncePolicy {
	s.debounceMu.RLock()
	defer s.debounceMu.RUnlock()
	return s.debounce
}

// SetDebouncePolicy replaces the debounce policy. Messages already buffered keep their window.
func (s *Server) SetDebouncePolicy(policy DebouncePolicy) {
	if policy.Window <= 0 {
		policy.Window = s.config.Buffer.Window()
	}

	s.debounceMu.Lock()
	s.debounce = policy
	s.debounceMu.Unlock()

	s.logger.Info().
		Bool("enabled", policy.Enabled).
		Dur("window", policy.Window).
		Dur("max_window", policy.MaxWindow).
		Msg("Debounce policy updated")
}

// Start listens and serves until Stop is called
func (s *Server) Start() error {
	httpServer := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.server = httpServer
	s.shutdownMu.Unlock()

	s.logger.Info().
		Str("host", s.config.Host).
		Int("port", s.config.Port).
		Msg("Starting HTTP server")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Stop rejects new requests, flushes buffered messages, waits for running
// tasks and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	httpServer := s.server
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	var errs []error
	if err := s.config.Buffer.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush message buffer: %w", err))
	}
	if err := s.config.Tasks.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop task manager: %w", err))
	}
	if s.config.Hub != nil {
		s.config.Hub.Close()
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown HTTP server: %w", err))
		}
	}

	s.logger.Info().Msg("HTTP server stopped")
	return errors.Join(errs...)
}

// trackInFlight refuses requests during shutdown and counts the rest
func (s *Server) trackInFlight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			respondError(w, http.StatusServiceUnavailable, "Server is shutting down")
			return
		}
		s.inFlightReqs.Add(1)
		s.shutdownMu.RUnlock()

		defer s.inFlightReqs.Done()
		next.ServeHTTP(w, r)
	})
}
