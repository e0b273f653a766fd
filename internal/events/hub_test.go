package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHub_RingBufferWraps(t *testing.T) {
	h := NewHub(3)
	for i := range 5 {
		h.Publish(ConnOpened, map[string]int{"n": i})
	}

	got := h.SnapshotSince(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 buffered events, got %d", len(got))
	}
	if got[0].ID != 3 || got[2].ID != 5 {
		t.Fatalf("unexpected ids: %d..%d", got[0].ID, got[2].ID)
	}

	since := h.SnapshotSince(4)
	if len(since) != 1 || since[0].ID != 5 {
		t.Fatalf("SnapshotSince(4) = %+v", since)
	}

	var data map[string]int
	if err := json.Unmarshal(got[2].Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["n"] != 4 {
		t.Errorf("expected n=4, got %d", data["n"])
	}
}

func TestHub_Subscribe(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()

	h.Publish(ConnClosed, map[string]string{"conn_id": "abc"})

	select {
	case ev := <-ch:
		if ev.Type != ConnClosed {
			t.Errorf("expected %s, got %s", ConnClosed, ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after cancel")
	}
}

func TestHub_NilDataAndNilHub(t *testing.T) {
	h := NewHub(0)
	h.Publish(SystemExit, nil)
	got := h.SnapshotSince(0)
	if len(got) != 1 || string(got[0].Data) != "{}" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	var nilHub *Hub
	nilHub.Publish(SystemExit, nil)
}

func TestHub_SubscribeWithPrefixes(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe("conn.")
	defer cancel()

	h.Publish(RegistryLoaded, nil)
	h.Publish(ConnOpened, map[string]string{"id": "a"})

	select {
	case ev := <-ch:
		if ev.Type != ConnOpened {
			t.Fatalf("expected only conn.* events, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	if n := len(h.SnapshotSince(0)); n != 2 {
		t.Fatalf("backlog keeps every event, got %d", n)
	}
}

func TestEvent_Matches(t *testing.T) {
	ev := Event{Type: DispatchFailed}
	if !ev.Matches(nil) {
		t.Error("no prefixes should match")
	}
	if !ev.Matches([]string{"conn.", "dispatch."}) {
		t.Error("dispatch. should match")
	}
	if ev.Matches([]string{"system."}) {
		t.Error("system. should not match")
	}
}
