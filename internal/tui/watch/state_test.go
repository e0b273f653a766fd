package watch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sensus-gw/internal/connection"
	"github.com/mattjoyce/sensus-gw/internal/events"
)

func ev(t *testing.T, id int64, typ string, data any) events.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return events.Event{ID: id, Type: typ, At: time.Now(), Data: raw}
}

func TestStateTracksConnectionLifecycle(t *testing.T) {
	s := NewState()

	s.Apply(ev(t, 1, events.ConnOpened, connection.Info{ID: "b", Seq: 2, Origin: "https://x"}))
	s.Apply(ev(t, 2, events.ConnOpened, connection.Info{ID: "a", Seq: 1}))
	s.Apply(ev(t, 3, events.DispatchFailed, map[string]any{"conn_id": "a", "plugin": "Echo"}))

	sorted := s.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, "a", sorted[0].ID)
	assert.Equal(t, "b", sorted[1].ID)
	assert.Equal(t, 1, sorted[0].Failed)

	s.Apply(ev(t, 4, events.ConnClosed, map[string]any{"id": "a", "clean": true}))
	s.Apply(ev(t, 5, events.ConnClosed, map[string]any{"id": "b", "clean": false, "code": 1006}))
	assert.Empty(t, s.Conns)

	assert.Equal(t, Counters{Opened: 2, Closed: 2, Unclean: 1, Failed: 1}, s.Counters)
	assert.Equal(t, int64(5), s.LastID)
	assert.Len(t, s.Log, 5)
	assert.Equal(t, events.ConnClosed, s.Log[0].Type, "log is newest first")
}

func TestStateIgnoresReplayedEvents(t *testing.T) {
	s := NewState()
	opened := ev(t, 7, events.ConnOpened, connection.Info{ID: "a"})
	s.Apply(opened)
	s.Apply(opened)
	s.Apply(ev(t, 3, events.ConnRejected, map[string]any{"reason": "invalid token"}))

	assert.Equal(t, 1, s.Counters.Opened)
	assert.Zero(t, s.Counters.Rejected)
	assert.Len(t, s.Log, 1)
}

func TestStateLogIsBounded(t *testing.T) {
	s := NewState()
	for i := 1; i <= maxEventLog+10; i++ {
		s.Apply(ev(t, int64(i), events.DispatchDropped, map[string]any{"plugin": "X"}))
	}
	assert.Len(t, s.Log, maxEventLog)
	assert.Equal(t, int64(maxEventLog+10), s.Log[0].ID)
	assert.Equal(t, maxEventLog+10, s.Counters.Dropped)
}

func TestStateSeedKeepsCounters(t *testing.T) {
	s := NewState()
	s.Apply(ev(t, 1, events.ConnOpened, connection.Info{ID: "a", Seq: 1}))
	s.Apply(ev(t, 2, events.DispatchFailed, map[string]any{"conn_id": "a"}))
	s.Apply(ev(t, 3, events.ConnOpened, connection.Info{ID: "gone", Seq: 2}))

	s.Seed([]connection.Info{{ID: "a", Seq: 1}, {ID: "c", Seq: 3}})

	require.Len(t, s.Conns, 2)
	assert.Equal(t, 1, s.Conns["a"].Failed)
	assert.Contains(t, s.Conns, "c")
	assert.NotContains(t, s.Conns, "gone")
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		e    events.Event
		want string
	}{
		{
			name: "closed",
			e:    ev(t, 1, events.ConnClosed, map[string]any{"id": "abc", "code": 1001}),
			want: "[abc] code=1001",
		},
		{
			name: "dispatch failure",
			e:    ev(t, 2, events.DispatchFailed, map[string]any{"conn_id": "c1", "plugin": "Echo", "method": "boom", "error": "bad"}),
			want: "[c1] Echo boom bad",
		},
		{
			name: "registry",
			e:    ev(t, 3, events.RegistryLoaded, map[string]any{"loaded": []string{"A", "B"}}),
			want: "2 loaded",
		},
		{
			name: "fallback to raw",
			e:    ev(t, 4, "other", map[string]any{"x": 1}),
			want: `{"x":1}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describe(tt.e))
		})
	}
}
