// Package gateway accepts websocket clients, authenticates them by their
// first subprotocol, and feeds decoded envelopes to the dispatcher.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mattjoyce/sensus-gw/internal/auth"
	"github.com/mattjoyce/sensus-gw/internal/connection"
	"github.com/mattjoyce/sensus-gw/internal/dispatch"
	"github.com/mattjoyce/sensus-gw/internal/events"
	"github.com/mattjoyce/sensus-gw/internal/log"
)

// Close codes sent when a handshake is rejected.
const (
	CloseMissingSubprotocol = 4000
	CloseInvalidToken       = 4001
)

const (
	DefaultPingInterval = 54 * time.Second
	DefaultPongWait     = 60 * time.Second

	shutdownGrace = 5 * time.Second
)

// Options configures the websocket listener.
type Options struct {
	Listen           string
	Path             string
	Token            string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	PingInterval     time.Duration
	PongWait         time.Duration
}

func (o *Options) applyDefaults() {
	if o.Path == "" {
		o.Path = "/"
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = o.PingInterval + o.PingInterval/9
	}
}

// Gateway owns the listener and every live connection.
type Gateway struct {
	opts       Options
	table      *connection.Table
	dispatcher *dispatch.Dispatcher
	hub        events.Publisher
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	// serveCtx is the server lifetime context handed to every dispatch.
	serveCtx context.Context
	conns    sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
}

// New creates a Gateway. hub may be nil.
func New(opts Options, table *connection.Table, dispatcher *dispatch.Dispatcher, hub events.Publisher) *Gateway {
	opts.applyDefaults()
	return &Gateway{
		opts:       opts,
		table:      table,
		dispatcher: dispatcher,
		hub:        hub,
		logger:     log.WithComponent("gateway"),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: opts.HandshakeTimeout,
			// Clients are authenticated by token, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		serveCtx: context.Background(),
	}
}

// Table exposes the live connection table.
func (g *Gateway) Table() *connection.Table { return g.table }

// Addr returns the bound address once Start is listening, or nil.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Handler serves the websocket endpoint at the configured path.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(g.opts.Path, g)
	return mux
}

// Start binds the listener and serves until ctx is cancelled. A bind failure
// is returned immediately. On cancellation every live connection is closed
// with 1001 and Start waits for their read loops to finish.
func (g *Gateway) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.opts.Listen)
	if err != nil {
		return fmt.Errorf("gateway listen %s: %w", g.opts.Listen, err)
	}
	g.mu.Lock()
	g.listener = ln
	g.mu.Unlock()

	g.serveCtx = ctx
	srv := &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.logger.Info("gateway listening", "listen", ln.Addr().String(), "path", g.opts.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("gateway serve: %w", err)
	}

	g.logger.Info("gateway shutting down", "connections", g.table.Len())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	// Shutdown does not touch hijacked websocket connections.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		g.logger.Warn("http shutdown incomplete", "error", err)
	}
	g.CloseAll(websocket.CloseGoingAway, "server shutting down")

	done := make(chan struct{})
	go func() {
		g.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		g.logger.Warn("connections still draining at shutdown", "remaining", g.table.Len())
	}
	return nil
}

// CloseAll closes every live connection with code.
func (g *Gateway) CloseAll(code int, reason string) {
	for _, c := range g.table.Conns() {
		_ = c.Close(code, reason)
	}
}

func (g *Gateway) publish(eventType string, data any) {
	if g.hub != nil {
		g.hub.Publish(eventType, data)
	}
}

// ServeHTTP performs the handshake and, when it succeeds, runs the
// connection's read loop on the calling goroutine.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, tokErr := auth.SubprotocolToken(r.Header.Values("Sec-WebSocket-Protocol"))

	// Echo the first offered value so browsers complete the upgrade and see
	// our close code rather than a failed handshake.
	var hdr http.Header
	if tokErr == nil {
		hdr = http.Header{"Sec-WebSocket-Protocol": {token}}
	}
	ws, err := g.upgrader.Upgrade(w, r, hdr)
	if err != nil {
		// Upgrade has already written an HTTP error.
		g.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	origin := r.Header.Get("Origin")
	c := connection.NewConn(ws, origin, g.opts.WriteTimeout)

	switch {
	case tokErr != nil:
		g.reject(c, r, CloseMissingSubprotocol, "missing subprotocol")
		return
	case !auth.ValidToken(token, g.opts.Token):
		g.reject(c, r, CloseInvalidToken, "invalid token")
		return
	}

	g.conns.Add(1)
	defer g.conns.Done()

	id := g.table.Insert(connection.DeriveID(r.Header.Get("Sec-WebSocket-Key"), origin), c)
	g.serve(c, id)
}

func (g *Gateway) reject(c *connection.Conn, r *http.Request, code int, reason string) {
	g.logger.Warn("handshake rejected",
		"remote_addr", r.RemoteAddr,
		"origin", r.Header.Get("Origin"),
		"reason", reason,
		"code", code,
	)
	g.publish(events.ConnRejected, map[string]any{
		"remote_addr": r.RemoteAddr,
		"reason":      reason,
		"code":        code,
	})
	_ = c.Close(code, reason)
}
