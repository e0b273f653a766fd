package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/sensus-gw/internal/events"
	"github.com/mattjoyce/sensus-gw/internal/httpx"
)

const sseKeepAlive = 15 * time.Second

// sseStream writes events as text/event-stream frames and remembers the last
// id sent so replayed and live events are never duplicated.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	sent    int64
}

func (s *sseStream) send(ev events.Event) error {
	if ev.ID <= s.sent {
		return nil
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data); err != nil {
		return err
	}
	s.sent = ev.ID
	return nil
}

func (s *sseStream) ping() error {
	_, err := fmt.Fprint(s.w, ": keep-alive\n\n")
	return err
}

// handleEvents streams hub events. Clients resume with Last-Event-ID (or
// ?since=N) and narrow the stream with ?types=conn.,dispatch.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	resume := parseLastEventID(r.Header.Get("Last-Event-ID"))
	if resume == 0 {
		resume = parseLastEventID(r.URL.Query().Get("since"))
	}
	prefixes := splitTypes(r.URL.Query().Get("types"))

	// Subscribe first so nothing published during replay is missed.
	live, cancel := s.deps.Events.Subscribe(prefixes...)
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := &sseStream{w: w, flusher: flusher, sent: resume}
	for _, ev := range s.deps.Events.SnapshotSince(resume) {
		if !ev.Matches(prefixes) {
			continue
		}
		if err := stream.send(ev); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			err = stream.send(ev)
		case <-ticker.C:
			err = stream.ping()
		}
		if err != nil {
			return
		}
		flusher.Flush()
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func splitTypes(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
