// Package echo provides the Echo unit, which writes messages straight back
// to the sending connection.
package echo

import (
	"context"
	"log/slog"

	"github.com/mattjoyce/sensus-gw/internal/plugin"
	"github.com/mattjoyce/sensus-gw/internal/protocol"
)

const Name = "Echo"

func init() {
	plugin.Register(Name, New)
}

type Echo struct {
	logger *slog.Logger
}

func New(pctx *plugin.Context) (plugin.Plugin, error) {
	return &Echo{logger: pctx.Logger}, nil
}

func (e *Echo) OnMessage(_ context.Context, conn plugin.Conn, msg protocol.Message) error {
	switch msg.Method {
	case "echo":
		return conn.WriteJSON(protocol.OK(msg.Message))
	case "ping":
		return conn.WriteJSON(protocol.OK("pong"))
	default:
		e.logger.Warn("unsupported method", "method", msg.Method, "conn_id", conn.ID())
		return conn.WriteJSON(protocol.Failf("unsupported method %q", msg.Method))
	}
}
