package gateway

import (
	"database/sql"
	"os"
	"sync"
	"syscall"

	"github.com/mattjoyce/sensus-gw/internal/events"
	"github.com/mattjoyce/sensus-gw/internal/log"
)

// SignalFunc delivers a shutdown signal to the running process.
type SignalFunc func(sig os.Signal) error

// SignalSelf signals the current process.
func SignalSelf(sig os.Signal) error {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

// Host is the plugin.Host handed to units. ExitServer raises SIGTERM against
// the gateway's own process so shutdown follows the signal path.
type Host struct {
	db     *sql.DB
	hub    events.Publisher
	signal SignalFunc

	exitOnce sync.Once
}

// NewHost builds a Host. db and hub may be nil; a nil signal uses SignalSelf.
func NewHost(db *sql.DB, hub events.Publisher, signal SignalFunc) *Host {
	if signal == nil {
		signal = SignalSelf
	}
	return &Host{db: db, hub: hub, signal: signal}
}

// ExitServer requests a graceful shutdown. Only the first call signals.
func (h *Host) ExitServer(reason string) {
	h.exitOnce.Do(func() {
		logger := log.WithComponent("gateway")
		logger.Warn("exit requested", "reason", reason)
		h.Publish(events.SystemExit, map[string]string{"reason": reason})
		if err := h.signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to signal shutdown", "error", err)
		}
	})
}

func (h *Host) DB() *sql.DB { return h.db }

func (h *Host) Publish(eventType string, data any) {
	if h.hub != nil {
		h.hub.Publish(eventType, data)
	}
}
