// Package api is the gateway's HTTP ops surface: health, plugin registry
// state and reload, live connections, the event stream, and remote exit.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/sensus-gw/internal/auth"
	"github.com/mattjoyce/sensus-gw/internal/connection"
	"github.com/mattjoyce/sensus-gw/internal/events"
	"github.com/mattjoyce/sensus-gw/internal/httpx"
	"github.com/mattjoyce/sensus-gw/internal/plugin"
)

// PluginRegistry is the registry view the API reads and reloads.
type PluginRegistry interface {
	Snapshot() *plugin.Snapshot
	Summary() *plugin.Summary
	Units() []*plugin.Unit
	Reload(ctx context.Context) (*plugin.Summary, error)
}

// ConnectionLister reports live websocket connections.
type ConnectionLister interface {
	Len() int
	List() []connection.Info
}

// LoadReporter reports dispatcher load.
type LoadReporter interface {
	InFlight() int64
	Capacity() int64
}

// Exiter requests a graceful gateway shutdown.
type Exiter interface {
	ExitServer(reason string)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the admin bearer token (full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// Fingerprint identifies the loaded configuration on /healthz.
	Fingerprint string
}

// Deps are the gateway components the API reports on.
type Deps struct {
	Registry    PluginRegistry
	Connections ConnectionLister
	Load        LoadReporter
	Exiter      Exiter
	Events      *events.Hub
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if deps.Events == nil {
		deps.Events = events.NewHub(0)
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	return httpx.Serve(ctx, "api", &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /events streams for as long as the client stays.
		IdleTimeout: 60 * time.Second,
	}, s.logger)
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := httpx.NewRouter(s.logger, slog.LevelDebug)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopePluginsRead)).Get("/plugins", s.handleListPlugins)
		r.With(s.requireScopes(auth.ScopePluginsWrite)).Post("/plugins/reload", s.handleReload)
		r.With(s.requireScopes(auth.ScopeConnsRead)).Get("/connections", s.handleListConnections)
		r.With(s.requireScopes(auth.ScopeEventsRead)).Get("/events", s.handleEvents)
		r.With(s.requireScopes(auth.ScopeSystemControl)).Post("/system/exit", s.handleExit)
	})

	return r
}
