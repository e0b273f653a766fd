package connection

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// Info is a point-in-time description of a live connection.
type Info struct {
	ID         string    `json:"id"`
	Seq        uint64    `json:"seq"`
	Origin     string    `json:"origin,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Table maps ids to live connections.
type Table struct {
	mu      sync.RWMutex
	conns   map[string]*Conn
	nextSeq uint64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{conns: make(map[string]*Conn)}
}

// Insert stores c under base, or under the first of base-1, base-2, ... not
// currently live. It assigns c's id and sequence and returns the id.
func (t *Table) Insert(base string, c *Conn) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := base
	for n := 1; ; n++ {
		if _, taken := t.conns[id]; !taken {
			break
		}
		id = base + "-" + strconv.Itoa(n)
	}

	t.nextSeq++
	c.id = id
	c.seq = t.nextSeq
	t.conns[id] = c
	return id
}

// Remove deletes id. It returns true only for the call that removed it.
func (t *Table) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.conns[id]; !ok {
		return false
	}
	delete(t.conns, id)
	return true
}

// Get returns the live connection for id.
func (t *Table) Get(id string) (*Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[id]
	return c, ok
}

// Len returns the number of live connections.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// Conns returns the live connections ordered by sequence.
func (t *Table) Conns() []*Conn {
	t.mu.RLock()
	out := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// List describes the live connections ordered by sequence.
func (t *Table) List() []Info {
	conns := t.Conns()
	out := make([]Info, len(conns))
	for i, c := range conns {
		out[i] = c.Info()
	}
	return out
}
