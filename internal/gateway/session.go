package gateway

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mattjoyce/sensus-gw/internal/connection"
	"github.com/mattjoyce/sensus-gw/internal/events"
	"github.com/mattjoyce/sensus-gw/internal/log"
	"github.com/mattjoyce/sensus-gw/internal/protocol"
)

// serve runs the read loop for an admitted connection. It owns the only
// teardown path, so the id leaves the table exactly once.
func (g *Gateway) serve(c *connection.Conn, id string) {
	logger := log.WithConn(id)
	info := c.Info()
	logger.Info("connection opened", "origin", info.Origin, "remote_addr", info.RemoteAddr)
	g.publish(events.ConnOpened, info)

	ws := c.WS()
	stopPing := make(chan struct{})
	var readErr error

	defer func() {
		close(stopPing)
		code, clean := closeStatus(readErr)
		if c.Closed() {
			code, clean = c.CloseCode(), true
		}
		_ = c.Close(websocket.CloseNormalClosure, "")
		if !g.table.Remove(id) {
			return
		}
		fields := map[string]any{"id": id, "clean": clean, "code": code}
		if !clean && readErr != nil {
			fields["error"] = readErr.Error()
			logger.Info("connection closed with error", "code", code, "error", readErr)
		} else {
			logger.Info("connection closed", "code", code)
		}
		g.publish(events.ConnClosed, fields)
	}()

	if g.opts.ReadLimit > 0 {
		ws.SetReadLimit(g.opts.ReadLimit)
	}
	extend := func() error { return ws.SetReadDeadline(time.Now().Add(g.opts.PongWait)) }
	_ = extend()
	ws.SetPongHandler(func(string) error { return extend() })

	go g.keepalive(c, stopPing)

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		_ = extend()

		if mt != websocket.TextMessage {
			logger.Warn("malformed frame", "reason", "non-text frame", "type", mt)
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("malformed frame", "error", err, "bytes", len(data))
			continue
		}
		// Handlers run on the server context so a closing client never
		// cancels work already dispatched.
		g.dispatcher.Dispatch(g.serveCtx, c, msg)
		// Pongs are only read inside ReadMessage, so time spent waiting for
		// dispatch capacity must not count against the peer.
		_ = extend()
	}
}

func (g *Gateway) keepalive(c *connection.Conn, stop <-chan struct{}) {
	t := time.NewTicker(g.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := c.Ping(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// closeStatus classifies how a read loop ended from the peer's side.
func closeStatus(err error) (code int, clean bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			clean = true
		}
		return ce.Code, clean
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return websocket.CloseGoingAway, true
	}
	return websocket.CloseAbnormalClosure, false
}
