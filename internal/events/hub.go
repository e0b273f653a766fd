// Package events is the in-process operational event stream: connection
// lifecycle, dispatch outcomes, and registry passes. The ops API serves it
// over SSE.
package events

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Event types.
const (
	ConnOpened      = "conn.opened"
	ConnRejected    = "conn.rejected"
	ConnClosed      = "conn.closed"
	DispatchDropped = "dispatch.dropped"
	DispatchFailed  = "dispatch.failed"
	RegistryLoaded  = "registry.loaded"
	SystemExit      = "system.exit"
)

const (
	defaultBacklog   = 256
	subscriberBuffer = 128
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Matches reports whether the event type starts with any of the prefixes.
// No prefixes matches everything.
func (e Event) Matches(prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(e.Type, p) {
			return true
		}
	}
	return false
}

// Publisher is the write side of a Hub.
type Publisher interface {
	Publish(eventType string, data any)
}

type subscriber struct {
	ch       chan Event
	prefixes []string
}

// Hub fans events out to subscribers and keeps the most recent ones so a
// reconnecting client can catch up.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	backlog []Event
	limit   int
	subs    map[*subscriber]struct{}
}

func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{
		backlog: make([]Event, 0, backlog),
		limit:   backlog,
		subs:    make(map[*subscriber]struct{}),
	}
}

// Publish records an event. Data is marshalled once; a nil or unmarshalable
// value becomes an empty object. Subscribers whose buffer is full miss the
// event.
func (h *Hub) Publish(eventType string, data any) {
	if h == nil {
		return
	}
	payload := encode(data)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}
	h.remember(ev)

	for sub := range h.subs {
		if !ev.Matches(sub.prefixes) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

func encode(data any) json.RawMessage {
	if data == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

func (h *Hub) remember(ev Event) {
	if len(h.backlog) == h.limit {
		n := copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:n]
	}
	h.backlog = append(h.backlog, ev)
}

// Subscribe returns a channel of live events whose type starts with one of
// the prefixes (all events when none are given). The cancel func closes the
// channel and may be called more than once.
func (h *Hub) Subscribe(prefixes ...string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer), prefixes: prefixes}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// SnapshotSince returns remembered events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, len(h.backlog))
	for _, ev := range h.backlog {
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}
