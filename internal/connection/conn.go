package connection

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by writes on a closed connection.
var ErrClosed = errors.New("connection closed")

// Conn is one live websocket client.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	id       string
	seq      uint64
	origin   string
	remote   string
	openedAt time.Time

	mu        sync.Mutex
	closed    bool
	closeCode int
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an upgraded websocket. The id is assigned by Table.Insert.
func NewConn(ws *websocket.Conn, origin string, writeTimeout time.Duration) *Conn {
	c := &Conn{
		ws:           ws,
		writeTimeout: writeTimeout,
		origin:       origin,
		openedAt:     time.Now().UTC(),
	}
	if ws != nil {
		c.remote = addrString(ws.RemoteAddr())
	}
	return c
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Seq returns the creation order assigned by the table.
func (c *Conn) Seq() uint64 { return c.seq }

// WS exposes the underlying websocket for the read side.
func (c *Conn) WS() *websocket.Conn { return c.ws }

// Info describes the connection.
func (c *Conn) Info() Info {
	return Info{
		ID:         c.id,
		Seq:        c.seq,
		Origin:     c.origin,
		RemoteAddr: c.remote,
		OpenedAt:   c.openedAt,
	}
}

// WriteJSON sends v as one text frame. Safe for concurrent use.
func (c *Conn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteJSON(v)
}

// Ping sends a ping control frame.
func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.controlTimeout()))
}

// Close sends a close frame with code and reason, then closes the socket.
// Subsequent calls return the first result.
func (c *Conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeCode = code
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.controlTimeout()))
		c.mu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCode returns the code passed to the first Close, or 0.
func (c *Conn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

func (c *Conn) controlTimeout() time.Duration {
	if c.writeTimeout > 0 {
		return c.writeTimeout
	}
	return time.Second
}
