package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serverConn upgrades one request and hands the server side to the test.
func serverConn(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()
	serverSide := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverSide <- ws
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ws := <-serverSide
	return NewConn(ws, "test-origin", time.Second), client
}

func TestConn_WriteJSON(t *testing.T) {
	c, client := serverConn(t)

	require.NoError(t, c.WriteJSON(map[string]string{"message": "hi"}))

	var got map[string]string
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, "hi", got["message"])
	assert.NotEmpty(t, c.Info().RemoteAddr)
	assert.Equal(t, "test-origin", c.Info().Origin)
}

func TestConn_CloseIdempotent(t *testing.T) {
	c, client := serverConn(t)

	require.NoError(t, c.Close(websocket.CloseNormalClosure, "bye"))
	assert.True(t, c.Closed())
	assert.NoError(t, c.Close(websocket.CloseGoingAway, "again"))

	assert.ErrorIs(t, c.WriteJSON("late"), ErrClosed)
	assert.ErrorIs(t, c.Ping(), ErrClosed)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
	assert.Equal(t, "bye", ce.Text)
}
