package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/sensus-gw/internal/log"
)

// retireTimeout bounds Stop for instances dropped by a load pass.
const retireTimeout = 5 * time.Second

var (
	// ErrUnknownUnit means no factory is registered for a unit's public name.
	ErrUnknownUnit = errors.New("no factory registered for unit")
	// ErrDuplicateUnit means another unit already owns the derived type name.
	ErrDuplicateUnit = errors.New("duplicate unit type name")
)

// Instance is a constructed unit. Optional capabilities are resolved once at
// construction time.
type Instance struct {
	Unit     *Unit
	TypeName string
	Plugin   Plugin

	stopper  Stopper
	receiver WebhookReceiver
	serial   uint64 // shared by every reused copy of one construction
}

// Receiver returns the webhook capability, if the unit has one.
func (i *Instance) Receiver() (WebhookReceiver, bool) {
	return i.receiver, i.receiver != nil
}

// Options configures a Registry.
type Options struct {
	FolderDir    string
	FileDir      string
	SnapshotPath string
	// UnitConfig is merged over each unit's descriptor config, keyed by public name.
	UnitConfig map[string]map[string]any
}

// view is the state published by one load pass.
type view struct {
	snapshot  *Snapshot
	instances map[string]*Instance
	units     []*Unit
	summary   *Summary
}

// Registry discovers, constructs, and publishes plugin units.
type Registry struct {
	catalog *Catalog
	host    Host
	opts    Options
	logger  *slog.Logger

	passMu      sync.Mutex
	// constructed holds the instances live after the last pass, by type
	// name. Anything dropped from it has been stopped.
	constructed map[string]*Instance
	serial      uint64

	current atomic.Pointer[view]
}

// NewRegistry creates a registry. A nil catalog means Default; a nil host is
// replaced with NopHost.
func NewRegistry(catalog *Catalog, host Host, opts Options) *Registry {
	if catalog == nil {
		catalog = Default
	}
	if host == nil {
		host = NopHost{}
	}
	r := &Registry{
		catalog:     catalog,
		host:        host,
		opts:        opts,
		logger:      log.WithComponent("plugin"),
		constructed: make(map[string]*Instance),
	}
	r.current.Store(&view{
		snapshot:  newSnapshot(),
		instances: map[string]*Instance{},
		summary:   newSummary(),
	})
	return r
}

// Load runs one load pass over units and publishes the result. One unit's
// failure never aborts the pass.
func (r *Registry) Load(units []*Unit) *Summary {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	snap := newSnapshot()
	live := make(map[string]*Instance)
	summary := newSummary()

	enabled := make(map[string]bool, len(units))
	for _, u := range units {
		if u.Enabled {
			enabled[u.Key()] = true
		}
	}

	for _, u := range units {
		u.Err, u.Detail = nil, ""
		if !u.Enabled {
			u.State = StateDisabled
			snap.namespace(u.Kind)[u.Name] = Entry{Enable: false, Version: u.Version}
			summary.add(u)
			continue
		}

		inst, err := r.loadUnit(u, live, enabled)
		if err != nil {
			u.State = StateFailed
			u.Err = err
			u.Detail = failureDetail(err)
			r.logger.Error("failed to load plugin",
				"plugin", u.Name,
				"path", u.Path,
				"error", err.Error(),
				"detail", u.Detail,
			)
			summary.add(u)
			continue
		}

		u.State = StateLoaded
		inst.Unit = u
		live[inst.TypeName] = inst
		snap.namespace(u.Kind)[u.Name] = Entry{Enable: true, Version: u.Version}
		summary.add(u)
		r.logger.Debug("loaded plugin", "plugin", u.Name, "type", inst.TypeName, "version", u.Version)
	}
	summary.sort()

	r.current.Store(&view{
		snapshot:  snap,
		instances: live,
		units:     units,
		summary:   summary,
	})
	r.retire(live)

	if r.opts.SnapshotPath != "" {
		if err := snap.WriteFile(r.opts.SnapshotPath); err != nil {
			r.logger.Error("failed to write plugin snapshot", "path", r.opts.SnapshotPath, "error", err)
		}
	}
	summary.Log(r.logger)
	r.host.Publish("registry.loaded", summary)
	return summary
}

// loadUnit resolves u to an instance. An instance built in an earlier pass
// keeps its type name for as long as the unit that built it stays enabled;
// any other unit deriving the same type name is rejected.
func (r *Registry) loadUnit(u *Unit, live map[string]*Instance, enabled map[string]bool) (*Instance, error) {
	typeName := u.TypeName()
	if other, ok := live[typeName]; ok {
		return nil, fmt.Errorf("%w: %s already provided by %s", ErrDuplicateUnit, typeName, other.Unit.Path)
	}

	if inst, ok := r.constructed[typeName]; ok {
		switch owner := inst.Unit; {
		case owner.Key() == u.Key():
			reused := *inst
			return &reused, nil
		case enabled[owner.Key()]:
			return nil, fmt.Errorf("%w: %s already provided by %s", ErrDuplicateUnit, typeName, owner.Path)
		}
		// The owner is gone; its instance is retired at the end of the pass.
	}

	factory, ok := r.catalog.Lookup(u.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, u.Name)
	}

	desc, err := readDescriptor(u.Path)
	if err != nil {
		return nil, err
	}

	pctx := &Context{
		Unit:   u,
		Config: mergeConfig(desc.Config, r.opts.UnitConfig[u.Name]),
		Logger: log.WithPlugin(typeName),
		Host:   r.host,
	}
	p, err := construct(factory, pctx)
	if err != nil {
		return nil, fmt.Errorf("failed to construct %s: %w", typeName, err)
	}

	r.serial++
	inst := &Instance{Unit: u, TypeName: typeName, Plugin: p, serial: r.serial}
	inst.stopper, _ = p.(Stopper)
	inst.receiver, _ = p.(WebhookReceiver)
	return inst, nil
}

// retire stops every previously constructed instance missing from live and
// makes live the new constructed set.
func (r *Registry) retire(live map[string]*Instance) {
	ctx, cancel := context.WithTimeout(context.Background(), retireTimeout)
	defer cancel()

	for typeName, old := range r.constructed {
		if cur, ok := live[typeName]; ok && cur.serial == old.serial {
			continue
		}
		r.logger.Info("retiring plugin instance", "plugin", old.Unit.Name, "type", typeName, "path", old.Unit.Path)
		_ = r.stopInstance(ctx, old)
	}
	r.constructed = maps.Clone(live)
}

func construct(f Factory, pctx *Context) (p Plugin, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p, err = nil, &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	p, err = f(pctx)
	if err == nil && p == nil {
		err = errors.New("factory returned nil plugin")
	}
	return p, err
}

func failureDetail(err error) string {
	var pe *PanicError
	if errors.As(err, &pe) {
		return err.Error() + "\n" + string(pe.Stack)
	}
	return err.Error()
}

func mergeConfig(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	maps.Copy(out, base)
	maps.Copy(out, overlay)
	return out
}

// Reload rediscovers both locations and runs a full load pass.
func (r *Registry) Reload(ctx context.Context) (*Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	units, err := Discover(r.opts.FolderDir, r.opts.FileDir)
	if err != nil {
		return nil, fmt.Errorf("plugin discovery failed: %w", err)
	}
	return r.Load(units), nil
}

// Snapshot returns the published snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load().snapshot
}

// Summary returns the most recent load pass summary.
func (r *Registry) Summary() *Summary {
	return r.current.Load().summary
}

// Units returns the units classified by the most recent pass.
func (r *Registry) Units() []*Unit {
	return append([]*Unit(nil), r.current.Load().units...)
}

// Instances returns a copy of the live instances keyed by type name.
func (r *Registry) Instances() map[string]*Instance {
	return maps.Clone(r.current.Load().instances)
}

// Receiver resolves the webhook capability of an enabled, loaded unit.
func (r *Registry) Receiver(name string) (WebhookReceiver, bool) {
	v := r.current.Load()
	if !v.snapshot.Enabled(name) {
		return nil, false
	}
	inst, ok := v.instances[TypeName(name)]
	if !ok {
		return nil, false
	}
	return inst.Receiver()
}

// Stop calls Stop on every constructed instance that supports it.
func (r *Registry) Stop(ctx context.Context) error {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	var errs []error
	for _, inst := range r.constructed {
		if err := r.stopInstance(ctx, inst); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", inst.TypeName, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) stopInstance(ctx context.Context, inst *Instance) (err error) {
	if inst.stopper == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	if err = inst.stopper.Stop(ctx); err != nil {
		r.logger.Warn("plugin stop failed", "plugin", inst.Unit.Name, "error", err)
	}
	return err
}
