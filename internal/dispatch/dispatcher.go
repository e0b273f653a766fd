package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"runtime/pprof"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mattjoyce/sensus-gw/internal/events"
	"github.com/mattjoyce/sensus-gw/internal/log"
	"github.com/mattjoyce/sensus-gw/internal/plugin"
	"github.com/mattjoyce/sensus-gw/internal/protocol"
)

// DefaultMaxConcurrent is the gateway-wide handler cap used when none is
// configured.
const DefaultMaxConcurrent = 200

// Source is the registry view the dispatcher resolves targets against.
type Source interface {
	Snapshot() *plugin.Snapshot
	Instances() map[string]*plugin.Instance
}

// Dispatcher fans messages out to plugin instances under a global cap.
type Dispatcher struct {
	source Source
	hub    events.Publisher
	logger *slog.Logger

	sem      *semaphore.Weighted
	max      int64
	inFlight atomic.Int64
	wg       sync.WaitGroup
}

// New creates a Dispatcher. maxConcurrent <= 0 means DefaultMaxConcurrent.
// hub may be nil.
func New(source Source, maxConcurrent int, hub events.Publisher) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Dispatcher{
		source: source,
		hub:    hub,
		logger: log.WithComponent("dispatch"),
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		max:    int64(maxConcurrent),
	}
}

// Batch tracks the handlers started for one message.
type Batch struct {
	ID      string
	targets []string
	wg      sync.WaitGroup
}

// Targets returns the type names of the handlers started.
func (b *Batch) Targets() []string {
	return append([]string(nil), b.targets...)
}

// Wait blocks until every handler in the batch has returned.
func (b *Batch) Wait() {
	b.wg.Wait()
}

// Dispatch resolves msg's targets and starts one handler per target. It
// returns once every target holds a permit, or ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, conn plugin.Conn, msg protocol.Message) *Batch {
	batch := &Batch{ID: uuid.NewString()}
	logger := d.logger.With("conn_id", conn.ID(), "target", msg.Plugin, "method", msg.Method)

	targets := d.resolve(msg.Plugin)
	if len(targets) == 0 {
		logger.Debug("no enabled plugin for target, dropping message")
		d.publish(events.DispatchDropped, map[string]any{
			"conn_id": conn.ID(),
			"plugin":  msg.Plugin,
			"method":  msg.Method,
		})
		return batch
	}

	for _, inst := range targets {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			logger.Warn("dispatch aborted while waiting for capacity", "plugin", inst.TypeName, "error", err)
			break
		}
		batch.targets = append(batch.targets, inst.TypeName)
		batch.wg.Add(1)
		d.wg.Add(1)
		d.inFlight.Add(1)
		go d.run(ctx, batch, inst, conn, msg)
	}
	return batch
}

func (d *Dispatcher) resolve(target string) []*plugin.Instance {
	snap := d.source.Snapshot()
	instances := d.source.Instances()

	if target == protocol.AllPlugins {
		out := make([]*plugin.Instance, 0, len(instances))
		for _, inst := range instances {
			if e, ok := snap.Lookup(inst.Unit.Kind, inst.Unit.Name); ok && e.Enable {
				out = append(out, inst)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].TypeName < out[j].TypeName })
		return out
	}

	if !snap.Enabled(target) {
		return nil
	}
	inst, ok := instances[plugin.TypeName(target)]
	if !ok {
		return nil
	}
	return []*plugin.Instance{inst}
}

func (d *Dispatcher) run(ctx context.Context, batch *Batch, inst *plugin.Instance, conn plugin.Conn, msg protocol.Message) {
	defer func() {
		d.inFlight.Add(-1)
		d.sem.Release(1)
		batch.wg.Done()
		d.wg.Done()
	}()

	pprof.Do(ctx, pprof.Labels("plugin", inst.TypeName), func(ctx context.Context) {
		if err := invoke(ctx, inst.Plugin, conn, msg); err != nil {
			d.handleFailure(batch, inst, conn, msg, err)
		}
	})
}

func invoke(ctx context.Context, p plugin.Plugin, conn plugin.Conn, msg protocol.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &plugin.PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return p.OnMessage(ctx, conn, msg)
}

func (d *Dispatcher) handleFailure(batch *Batch, inst *plugin.Instance, conn plugin.Conn, msg protocol.Message, err error) {
	logger := d.logger.With(
		"plugin", inst.TypeName,
		"method", msg.Method,
		"conn_id", conn.ID(),
		"batch_id", batch.ID,
	)

	if errors.Is(err, protocol.ErrMissingKey) {
		logger.Debug("plugin handler missing required key", "error", err.Error())
	} else {
		var pe *plugin.PanicError
		if errors.As(err, &pe) {
			logger.Error("plugin handler panicked", "error", err.Error(), "stack", string(pe.Stack))
		} else {
			logger.Error("plugin handler failed", "error", err.Error())
		}
	}

	d.publish(events.DispatchFailed, map[string]any{
		"batch_id": batch.ID,
		"conn_id":  conn.ID(),
		"plugin":   inst.TypeName,
		"method":   msg.Method,
		"error":    err.Error(),
	})
}

func (d *Dispatcher) publish(eventType string, data any) {
	if d.hub != nil {
		d.hub.Publish(eventType, data)
	}
}

// InFlight returns the number of handlers currently running.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// Capacity returns the configured concurrency cap.
func (d *Dispatcher) Capacity() int64 {
	return d.max
}

// Wait blocks until every started handler returns or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
