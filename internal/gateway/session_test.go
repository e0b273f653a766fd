package gateway

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sensus-gw/internal/connection"
	"github.com/mattjoyce/sensus-gw/internal/dispatch"
	"github.com/mattjoyce/sensus-gw/internal/plugin"
	"github.com/mattjoyce/sensus-gw/internal/protocol"
)

func TestCloseStatus(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantClean bool
	}{
		{"normal", &websocket.CloseError{Code: websocket.CloseNormalClosure}, websocket.CloseNormalClosure, true},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, websocket.CloseGoingAway, true},
		{"no status", &websocket.CloseError{Code: websocket.CloseNoStatusReceived}, websocket.CloseNoStatusReceived, true},
		{"protocol error", &websocket.CloseError{Code: websocket.CloseProtocolError}, websocket.CloseProtocolError, false},
		{"eof", io.ErrUnexpectedEOF, websocket.CloseAbnormalClosure, false},
		{"wrapped", errors.Join(errors.New("read"), &websocket.CloseError{Code: websocket.CloseNormalClosure}), websocket.CloseNormalClosure, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, clean := closeStatus(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantClean, clean)
		})
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}
	o.applyDefaults()
	assert.Equal(t, "/", o.Path)
	assert.Equal(t, DefaultPingInterval, o.PingInterval)
	assert.Equal(t, DefaultPongWait, o.PongWait)

	o = Options{PingInterval: time.Second, PongWait: time.Second}
	o.applyDefaults()
	assert.Greater(t, o.PongWait, o.PingInterval)
}

type slowUnit struct{ delay time.Duration }

func (u slowUnit) OnMessage(_ context.Context, c plugin.Conn, m protocol.Message) error {
	time.Sleep(u.delay)
	return c.WriteJSON(protocol.OK(m.Message))
}

// A read loop blocked on dispatch capacity for longer than PongWait must not
// drop the connection once capacity frees up.
func TestDispatchBackpressureKeepsConnection(t *testing.T) {
	root := t.TempDir()
	folderDir := filepath.Join(root, "plugins")
	require.NoError(t, os.MkdirAll(filepath.Join(folderDir, "p_Slow"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(folderDir, "p_Slow", "unit.yaml"), []byte("# slow\n"), 0o644))

	catalog := plugin.NewCatalog()
	catalog.Register("Slow", func(*plugin.Context) (plugin.Plugin, error) {
		return slowUnit{delay: 400 * time.Millisecond}, nil
	})
	reg := plugin.NewRegistry(catalog, nil, plugin.Options{
		FolderDir: folderDir,
		FileDir:   filepath.Join(folderDir, "example"),
	})
	_, err := reg.Reload(context.Background())
	require.NoError(t, err)

	gw := New(Options{
		Token:        testToken,
		WriteTimeout: time.Second,
		PingInterval: 100 * time.Millisecond,
		PongWait:     150 * time.Millisecond,
	}, connection.NewTable(), dispatch.New(reg, 1, nil), nil)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		gw.CloseAll(websocket.CloseGoingAway, "test done")
		srv.Close()
	})

	ws := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/", testToken)
	for _, m := range []string{"one", "two"} {
		frame, err := protocol.Encode(protocol.Message{Plugin: "Slow", Method: "m", Message: m})
		require.NoError(t, err)
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
	}

	assert.Equal(t, "one", readReply(t, ws).Message)
	assert.Equal(t, "two", readReply(t, ws).Message)

	frame, err := protocol.Encode(protocol.Message{Plugin: "Slow", Method: "m", Message: "three"})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
	assert.Equal(t, "three", readReply(t, ws).Message)
}
