package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sensus-gw/internal/events"
	"github.com/mattjoyce/sensus-gw/internal/log"
	"github.com/mattjoyce/sensus-gw/internal/plugin"
	"github.com/mattjoyce/sensus-gw/internal/plugin/mocks"
	"github.com/mattjoyce/sensus-gw/internal/protocol"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

// lockedBuffer collects log output from concurrent handlers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogs(d *Dispatcher) *lockedBuffer {
	buf := &lockedBuffer{}
	d.logger = slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return buf
}

type staticSource struct {
	snap      *plugin.Snapshot
	instances map[string]*plugin.Instance
}

func (s *staticSource) Snapshot() *plugin.Snapshot             { return s.snap }
func (s *staticSource) Instances() map[string]*plugin.Instance { return s.instances }

func newSource() *staticSource {
	return &staticSource{
		snap: &plugin.Snapshot{
			FolderPlugins: map[string]plugin.Entry{},
			FilePlugins:   map[string]plugin.Entry{},
		},
		instances: map[string]*plugin.Instance{},
	}
}

// add registers p as a loaded unit; enabled=false records it disabled.
func (s *staticSource) add(name string, kind plugin.Kind, enabled bool, p plugin.Plugin) {
	entry := plugin.Entry{Enable: enabled, Version: "1.0"}
	if kind == plugin.KindFolder {
		s.snap.FolderPlugins[name] = entry
	} else {
		s.snap.FilePlugins[name] = entry
	}
	if p == nil {
		return
	}
	s.instances[plugin.TypeName(name)] = &plugin.Instance{
		Unit:     &plugin.Unit{Name: name, Kind: kind, Enabled: enabled},
		TypeName: plugin.TypeName(name),
		Plugin:   p,
	}
}

type pluginFunc func(ctx context.Context, c plugin.Conn, m protocol.Message) error

func (f pluginFunc) OnMessage(ctx context.Context, c plugin.Conn, m protocol.Message) error {
	return f(ctx, c, m)
}

func mockConn(t *testing.T, ctrl *gomock.Controller) *mocks.MockConn {
	t.Helper()
	c := mocks.NewMockConn(ctrl)
	c.EXPECT().ID().Return("conn-1").AnyTimes()
	return c
}

func TestDispatch_AllIsolatesFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := mockConn(t, ctrl)

	src := newSource()
	failing := mocks.NewMockPlugin(ctrl)
	failing.EXPECT().OnMessage(gomock.Any(), conn, gomock.Any()).Return(errors.New("sensor offline"))
	src.add("Failing", plugin.KindFolder, true, failing)

	src.add("Panicky", plugin.KindFile, true, pluginFunc(func(context.Context, plugin.Conn, protocol.Message) error {
		panic("nil map write")
	}))

	healthy := mocks.NewMockPlugin(ctrl)
	healthy.EXPECT().OnMessage(gomock.Any(), conn, gomock.Any()).DoAndReturn(
		func(_ context.Context, c plugin.Conn, m protocol.Message) error {
			return c.WriteJSON(protocol.OK(m.Message))
		})
	src.add("Healthy", plugin.KindFile, true, healthy)
	conn.EXPECT().WriteJSON(protocol.OK("ping")).Return(nil)

	// Disabled units never run, even when an instance exists.
	src.add("Dormant", plugin.KindFile, false, mocks.NewMockPlugin(ctrl))

	hub := events.NewHub(16)
	d := New(src, 10, hub)
	logs := captureLogs(d)

	batch := d.Dispatch(context.Background(), conn, protocol.Message{Plugin: protocol.AllPlugins, Method: "status", Message: "ping"})
	batch.Wait()

	assert.Equal(t, []string{"FailingPlugin", "HealthyPlugin", "PanickyPlugin"}, batch.Targets())
	assert.Equal(t, int64(0), d.InFlight())

	out := logs.String()
	assert.Contains(t, out, `"msg":"plugin handler failed"`)
	assert.Contains(t, out, `"msg":"plugin handler panicked"`)
	assert.Contains(t, out, `"stack":"goroutine`)

	failed := 0
	for _, ev := range hub.SnapshotSince(0) {
		if ev.Type == events.DispatchFailed {
			failed++
		}
	}
	assert.Equal(t, 2, failed)
}

func TestDispatch_NamedTarget(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := mockConn(t, ctrl)

	src := newSource()
	echo := mocks.NewMockPlugin(ctrl)
	echo.EXPECT().OnMessage(gomock.Any(), conn, protocol.Message{Plugin: "Echo", Method: "echo", Message: "x"}).Return(nil)
	src.add("Echo", plugin.KindFile, true, echo)

	d := New(src, 0, nil)
	batch := d.Dispatch(context.Background(), conn, protocol.Message{Plugin: "Echo", Method: "echo", Message: "x"})
	batch.Wait()

	assert.Equal(t, []string{"EchoPlugin"}, batch.Targets())
	assert.Equal(t, int64(DefaultMaxConcurrent), d.Capacity())
}

func TestDispatch_DroppedTargets(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := mockConn(t, ctrl)

	src := newSource()
	// No EXPECT: any invocation fails the test.
	src.add("Disabled", plugin.KindFolder, false, mocks.NewMockPlugin(ctrl))
	src.add("Split", plugin.KindFolder, true, mocks.NewMockPlugin(ctrl))
	src.snap.FilePlugins["Split"] = plugin.Entry{Enable: false}
	src.add("SnapshotOnly", plugin.KindFile, true, nil)

	hub := events.NewHub(16)
	d := New(src, 10, hub)
	logs := captureLogs(d)

	for _, target := range []string{"Disabled", "Split", "SnapshotOnly", "Unknown", ""} {
		batch := d.Dispatch(context.Background(), conn, protocol.Message{Plugin: target, Method: "x"})
		batch.Wait()
		assert.Empty(t, batch.Targets(), target)
	}

	assert.Contains(t, logs.String(), `"level":"DEBUG"`)
	assert.NotContains(t, logs.String(), `"level":"ERROR"`)
	assert.Len(t, hub.SnapshotSince(0), 5)
}

func TestDispatch_MissingKeyLoggedAtDebug(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := mockConn(t, ctrl)

	src := newSource()
	src.add("Inbox", plugin.KindFolder, true, pluginFunc(func(_ context.Context, _ plugin.Conn, m protocol.Message) error {
		var payload map[string]any
		if err := m.Payload(&payload); err != nil {
			return err
		}
		_, err := protocol.RequireKey(payload, "count")
		return err
	}))

	var siblingDone atomic.Bool
	src.add("Sibling", plugin.KindFile, true, pluginFunc(func(context.Context, plugin.Conn, protocol.Message) error {
		time.Sleep(10 * time.Millisecond)
		siblingDone.Store(true)
		return nil
	}))

	d := New(src, 10, nil)
	logs := captureLogs(d)

	batch := d.Dispatch(context.Background(), conn, protocol.Message{Plugin: protocol.AllPlugins, Method: "get_latest_messages", Message: `{}`})
	batch.Wait()

	assert.True(t, siblingDone.Load())
	out := logs.String()
	assert.Contains(t, out, `"msg":"plugin handler missing required key"`)
	assert.Contains(t, out, `"level":"DEBUG"`)
	assert.NotContains(t, out, `"level":"ERROR"`)
}

func TestDispatch_ConcurrencyCap(t *testing.T) {
	const (
		limit    = 200
		messages = 500
	)

	var (
		current atomic.Int64
		peak    atomic.Int64
		total   atomic.Int64
	)
	src := newSource()
	src.add("Slow", plugin.KindFile, true, pluginFunc(func(context.Context, plugin.Conn, protocol.Message) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		total.Add(1)
		return nil
	}))

	ctrl := gomock.NewController(t)
	conn := mockConn(t, ctrl)
	d := New(src, limit, nil)

	var wg sync.WaitGroup
	for range messages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Dispatch(context.Background(), conn, protocol.Message{Plugin: "Slow"})
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))

	assert.Equal(t, int64(messages), total.Load())
	assert.LessOrEqual(t, peak.Load(), int64(limit))
	assert.Positive(t, peak.Load())
	assert.Equal(t, int64(0), d.InFlight())
}

func TestDispatch_AcquireCancelled(t *testing.T) {
	release := make(chan struct{})
	src := newSource()
	src.add("Block", plugin.KindFile, true, pluginFunc(func(context.Context, plugin.Conn, protocol.Message) error {
		<-release
		return nil
	}))

	ctrl := gomock.NewController(t)
	conn := mockConn(t, ctrl)
	d := New(src, 1, nil)

	first := d.Dispatch(context.Background(), conn, protocol.Message{Plugin: "Block"})
	require.Equal(t, []string{"BlockPlugin"}, first.Targets())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	second := d.Dispatch(ctx, conn, protocol.Message{Plugin: "Block"})
	assert.Empty(t, second.Targets())

	close(release)
	first.Wait()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	assert.NoError(t, d.Wait(waitCtx))
}
