package plugin

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattjoyce/sensus-gw/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_plugin.go -package=mocks github.com/mattjoyce/sensus-gw/internal/plugin Conn,Plugin

// Conn is the narrow view of a client connection handed to units.
type Conn interface {
	ID() string
	WriteJSON(v any) error
}

// Plugin is the message-handling contract every unit satisfies.
//
// Handlers should answer malformed or irrelevant input with an error-shaped
// reply (protocol.Fail) rather than returning an error. Returned errors and
// panics are isolated and logged by the dispatcher; they never reach the
// client.
type Plugin interface {
	OnMessage(ctx context.Context, c Conn, m protocol.Message) error
}

// Stopper is implemented by units owning background work.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Webhook is a verified inbound webhook delivery.
type Webhook struct {
	Endpoint   string
	Headers    http.Header
	Body       []byte
	ReceivedAt time.Time
}

// WebhookReceiver is implemented by units accepting webhook deliveries.
type WebhookReceiver interface {
	ReceiveWebhook(ctx context.Context, w Webhook) (any, error)
}

// Host is the slice of the gateway a unit may call back into.
type Host interface {
	// ExitServer requests a graceful process shutdown.
	ExitServer(reason string)
	// DB returns the shared state database, or nil when none is open.
	DB() *sql.DB
	// Publish emits an operational event.
	Publish(eventType string, data any)
}

// Context is the sole argument to unit construction.
type Context struct {
	Unit   *Unit
	Config map[string]any
	Logger *slog.Logger
	Host   Host
}

// Factory builds one unit instance.
type Factory func(ctx *Context) (Plugin, error)

// PanicError is a recovered panic from unit code.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// NopHost is a Host that does nothing. Useful for offline discovery and tests.
type NopHost struct{}

func (NopHost) ExitServer(string) {}

func (NopHost) DB() *sql.DB { return nil }

func (NopHost) Publish(string, any) {}
