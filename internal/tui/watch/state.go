package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/sensus-gw/internal/connection"
	"github.com/mattjoyce/sensus-gw/internal/events"
)

const maxEventLog = 50

// ConnState is one live connection as seen by the watcher.
type ConnState struct {
	ID         string
	Seq        uint64
	Origin     string
	RemoteAddr string
	OpenedAt   time.Time
	Dispatched int
	Failed     int
}

// Counters accumulate totals since the watcher started.
type Counters struct {
	Opened   int
	Rejected int
	Closed   int
	Unclean  int
	Dropped  int
	Failed   int
	Reloads  int
}

// State is everything the view renders, rebuilt from events and polling.
type State struct {
	Conns    map[string]*ConnState
	Counters Counters
	Log      []events.Event
	LastID   int64
}

func NewState() *State {
	return &State{Conns: make(map[string]*ConnState)}
}

// Seed replaces the connection set with a fresh listing.
func (s *State) Seed(list []connection.Info) {
	conns := make(map[string]*ConnState, len(list))
	for _, info := range list {
		cs := fromInfo(info)
		if old, ok := s.Conns[info.ID]; ok {
			cs.Dispatched = old.Dispatched
			cs.Failed = old.Failed
		}
		conns[info.ID] = cs
	}
	s.Conns = conns
}

func fromInfo(info connection.Info) *ConnState {
	return &ConnState{
		ID:         info.ID,
		Seq:        info.Seq,
		Origin:     info.Origin,
		RemoteAddr: info.RemoteAddr,
		OpenedAt:   info.OpenedAt,
	}
}

// Apply folds one event into the state. Events already seen are ignored.
func (s *State) Apply(e events.Event) {
	if e.ID != 0 {
		if e.ID <= s.LastID {
			return
		}
		s.LastID = e.ID
	}

	s.Log = append([]events.Event{e}, s.Log...)
	if len(s.Log) > maxEventLog {
		s.Log = s.Log[:maxEventLog]
	}

	switch e.Type {
	case events.ConnOpened:
		var info connection.Info
		if err := json.Unmarshal(e.Data, &info); err == nil && info.ID != "" {
			s.Conns[info.ID] = fromInfo(info)
		}
		s.Counters.Opened++
	case events.ConnClosed:
		var data struct {
			ID    string `json:"id"`
			Clean bool   `json:"clean"`
		}
		_ = json.Unmarshal(e.Data, &data)
		delete(s.Conns, data.ID)
		s.Counters.Closed++
		if !data.Clean {
			s.Counters.Unclean++
		}
	case events.ConnRejected:
		s.Counters.Rejected++
	case events.DispatchDropped:
		s.Counters.Dropped++
	case events.DispatchFailed:
		s.Counters.Failed++
		var data struct {
			ConnID string `json:"conn_id"`
		}
		if json.Unmarshal(e.Data, &data) == nil {
			if cs, ok := s.Conns[data.ConnID]; ok {
				cs.Failed++
			}
		}
	case events.RegistryLoaded:
		s.Counters.Reloads++
	}
}

// Sorted returns live connections in creation order.
func (s *State) Sorted() []*ConnState {
	out := make([]*ConnState, 0, len(s.Conns))
	for _, cs := range s.Conns {
		out = append(out, cs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// describe pulls a short human summary out of an event payload.
func describe(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	for _, key := range []string{"id", "conn_id", "plugin", "method", "reason", "code", "error"} {
		v, ok := data[key]
		if !ok || v == nil || v == "" {
			continue
		}
		switch key {
		case "id", "conn_id":
			parts = append(parts, fmt.Sprintf("[%v]", v))
		case "code":
			parts = append(parts, fmt.Sprintf("code=%v", v))
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}

	if e.Type == events.RegistryLoaded {
		if loaded, ok := data["loaded"].([]any); ok {
			parts = append(parts, fmt.Sprintf("%d loaded", len(loaded)))
		}
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
