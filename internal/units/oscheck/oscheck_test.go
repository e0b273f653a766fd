package oscheck

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sensus-gw/internal/plugin"
	"github.com/mattjoyce/sensus-gw/internal/plugin/mocks"
	"github.com/mattjoyce/sensus-gw/internal/protocol"
)

type recordingHost struct {
	plugin.NopHost
	mu      sync.Mutex
	reasons []string
}

func (h *recordingHost) ExitServer(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reasons = append(h.reasons, reason)
}

func (h *recordingHost) exits() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.reasons...)
}

type fakeProcesses struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeProcesses) set(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = names
}

func (f *fakeProcesses) list(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...), nil
}

func testContext(cfg map[string]any, host plugin.Host) *plugin.Context {
	return &plugin.Context{
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Host:   host,
	}
}

func TestGetInfo(t *testing.T) {
	u, err := newWithLister(testContext(nil, plugin.NopHost{}), nil)
	require.NoError(t, err)
	defer u.Stop(context.Background())

	ctrl := gomock.NewController(t)
	conn := mocks.NewMockConn(ctrl)
	conn.EXPECT().WriteJSON(gomock.Any()).DoAndReturn(func(v any) error {
		info, ok := v.(protocol.Reply).Message.(Info)
		require.True(t, ok)
		assert.Equal(t, runtime.GOOS, info.OS)
		assert.Equal(t, runtime.GOARCH, info.Arch)
		return nil
	})

	require.NoError(t, u.OnMessage(context.Background(), conn, protocol.Message{Method: "get_info"}))
}

func TestUnsupportedMethod(t *testing.T) {
	u, err := newWithLister(testContext(nil, plugin.NopHost{}), nil)
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	conn := mocks.NewMockConn(ctrl)
	conn.EXPECT().ID().Return("c1")
	conn.EXPECT().WriteJSON(protocol.Failf("unsupported method %q", "x")).Return(nil)

	require.NoError(t, u.OnMessage(context.Background(), conn, protocol.Message{Method: "x"}))
}

func TestWatchdogExitsOnceAfterProcessDisappears(t *testing.T) {
	procs := &fakeProcesses{}
	procs.set("init", "termux-app")
	host := &recordingHost{}

	u, err := newWithLister(testContext(map[string]any{
		"watch_process":  "termux-app",
		"watch_interval": "5ms",
	}, host), procs.list)
	require.NoError(t, err)
	defer u.Stop(context.Background())

	require.Eventually(t, u.seen.Load, time.Second, time.Millisecond)
	assert.Empty(t, host.exits())

	procs.set("init")
	require.Eventually(t, func() bool { return len(host.exits()) == 1 }, time.Second, time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, host.exits(), 1)
	assert.Contains(t, host.exits()[0], "termux-app")
}

func TestWatchdogIgnoresNeverSeenProcess(t *testing.T) {
	procs := &fakeProcesses{}
	procs.set("init")
	host := &recordingHost{}

	u, err := newWithLister(testContext(nil, host), procs.list)
	require.NoError(t, err)
	u.watch = "ghost"

	require.NoError(t, u.check(context.Background()))
	require.NoError(t, u.check(context.Background()))
	assert.Empty(t, host.exits())
}

func TestInvalidWatchInterval(t *testing.T) {
	_, err := newWithLister(testContext(map[string]any{
		"watch_process":  "x",
		"watch_interval": "-1s",
	}, plugin.NopHost{}), (&fakeProcesses{}).list)
	assert.Error(t, err)
}
