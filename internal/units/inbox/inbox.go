// Package inbox provides the Inbox unit. Webhook deliveries are stored as
// short-lived messages in the state database and read back over the
// websocket with get_latest_messages.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/sensus-gw/internal/plugin"
	"github.com/mattjoyce/sensus-gw/internal/protocol"
	"github.com/mattjoyce/sensus-gw/internal/scheduler"
	"github.com/mattjoyce/sensus-gw/internal/storage"
	"github.com/mattjoyce/sensus-gw/internal/units/unitcfg"
)

const (
	Name = "Inbox"

	DefaultRetentionDays = 3
	DefaultPruneInterval = time.Hour
	MaxCount             = 500

	// UntitledTitle replaces an empty title.
	UntitledTitle = "(untitled)"

	EventReceived = "inbox.received"
)

var ErrInvalidMessage = errors.New("invalid inbox message")

func init() {
	plugin.Register(Name, New)
}

type Inbox struct {
	logger    *slog.Logger
	host      plugin.Host
	store     *storage.Inbox
	retention time.Duration
	sched     *scheduler.Scheduler
	cancel    context.CancelFunc
}

// incoming is the webhook body. Pointers tell an absent field from an empty
// one.
type incoming struct {
	Title   *string `json:"title"`
	Source  string  `json:"source"`
	Message string  `json:"message"`
}

func New(pctx *plugin.Context) (plugin.Plugin, error) {
	db := pctx.Host.DB()
	if db == nil {
		return nil, errors.New("state database unavailable")
	}
	days, err := unitcfg.Int(pctx.Config, "retention_days", DefaultRetentionDays)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("retention_days must be positive, got %d", days)
	}
	prune, err := unitcfg.Duration(pctx.Config, "prune_interval", DefaultPruneInterval)
	if err != nil {
		return nil, err
	}

	u := &Inbox{
		logger:    pctx.Logger,
		host:      pctx.Host,
		store:     storage.NewInbox(db),
		retention: time.Duration(days) * 24 * time.Hour,
		sched:     scheduler.New(pctx.Logger),
	}
	if err := u.sched.Every("prune", prune, 0, u.prune); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	u.sched.Start(ctx)
	return u, nil
}

func (u *Inbox) prune(ctx context.Context) error {
	n, err := u.store.PruneExpired(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		u.logger.Info("pruned expired messages", "count", n)
	}
	return nil
}

// ReceiveWebhook validates and stores one delivery.
func (u *Inbox) ReceiveWebhook(ctx context.Context, wh plugin.Webhook) (any, error) {
	var in incoming
	if err := json.Unmarshal(wh.Body, &in); err != nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrInvalidMessage)
	}
	if in.Title == nil || strings.TrimSpace(in.Source) == "" || strings.TrimSpace(in.Message) == "" {
		return nil, fmt.Errorf("%w: title, source and message are required", ErrInvalidMessage)
	}
	title := *in.Title
	if strings.TrimSpace(title) == "" {
		title = UntitledTitle
	}

	m, err := u.store.Add(ctx, title, in.Source, in.Message, u.retention)
	if err != nil {
		return nil, err
	}
	u.logger.Info("message stored", "id", m.ID, "source", m.Source, "endpoint", wh.Endpoint)
	u.host.Publish(EventReceived, map[string]string{"id": m.ID, "source": m.Source, "title": m.Title})
	return map[string]any{"id": m.ID, "expires_at": m.ExpiresAt}, nil
}

func (u *Inbox) OnMessage(ctx context.Context, conn plugin.Conn, msg protocol.Message) error {
	if msg.Method != "get_latest_messages" {
		u.logger.Warn("unsupported method", "method", msg.Method, "conn_id", conn.ID())
		return conn.WriteJSON(protocol.Failf("unsupported method %q", msg.Method))
	}

	payload := map[string]any{}
	if msg.Message != "" {
		if err := msg.Payload(&payload); err != nil {
			return conn.WriteJSON(protocol.Fail("payload must be a JSON object"))
		}
	}
	raw, err := protocol.RequireKey(payload, "count")
	if err != nil {
		return err
	}
	count, ok := parseCount(raw)
	if !ok {
		return conn.WriteJSON(protocol.Fail("count must be a positive integer"))
	}

	msgs, err := u.store.Latest(ctx, min(count, MaxCount))
	if err != nil {
		u.logger.Error("load messages failed", "error", err)
		return conn.WriteJSON(protocol.Fail("failed to load messages"))
	}
	return conn.WriteJSON(protocol.OK(msgs))
}

// parseCount accepts a JSON number or a numeric string.
func parseCount(v any) (int, bool) {
	var n int
	switch c := v.(type) {
	case float64:
		if c != float64(int(c)) {
			return 0, false
		}
		n = int(c)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(c))
		if err != nil {
			return 0, false
		}
		n = i
	default:
		return 0, false
	}
	return n, n > 0
}

// Stop halts the prune task.
func (u *Inbox) Stop(context.Context) error {
	u.cancel()
	u.sched.Stop()
	return nil
}
