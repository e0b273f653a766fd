// Package sysstat provides the SystemStatus unit: a background sampler of
// cpu, memory, disk, network and host figures served on get_status.
package sysstat

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/sensus-gw/internal/plugin"
	"github.com/mattjoyce/sensus-gw/internal/protocol"
	"github.com/mattjoyce/sensus-gw/internal/scheduler"
	"github.com/mattjoyce/sensus-gw/internal/units/unitcfg"
)

const (
	Name = "SystemStatus"

	DefaultInterval = 2 * time.Second
	DefaultDiskPath = "/"
)

func init() {
	plugin.Register(Name, New)
}

type SystemStatus struct {
	logger *slog.Logger
	sched  *scheduler.Scheduler
	cancel context.CancelFunc
	latest atomic.Pointer[Status]
}

func New(pctx *plugin.Context) (plugin.Plugin, error) {
	path, err := unitcfg.String(pctx.Config, "disk_path", DefaultDiskPath)
	if err != nil {
		return nil, err
	}
	return newWithSampler(pctx, newHostSampler(path))
}

func newWithSampler(pctx *plugin.Context, s Sampler) (*SystemStatus, error) {
	interval, err := unitcfg.Duration(pctx.Config, "interval", DefaultInterval)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}

	u := &SystemStatus{logger: pctx.Logger, sched: scheduler.New(pctx.Logger)}
	if err := u.sched.Every("sample", interval, 0, func(ctx context.Context) error {
		st, err := s.Sample(ctx)
		if st != nil {
			u.latest.Store(st)
		}
		return err
	}); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	u.sched.Start(ctx)
	return u, nil
}

func (u *SystemStatus) OnMessage(_ context.Context, conn plugin.Conn, msg protocol.Message) error {
	if msg.Method != "get_status" {
		u.logger.Warn("unsupported method", "method", msg.Method, "conn_id", conn.ID())
		return conn.WriteJSON(protocol.Failf("unsupported method %q", msg.Method))
	}
	st := u.latest.Load()
	if st == nil {
		return conn.WriteJSON(protocol.Fail("status not sampled yet"))
	}
	return conn.WriteJSON(protocol.OK(st))
}

// Stop halts the sampler.
func (u *SystemStatus) Stop(context.Context) error {
	u.cancel()
	u.sched.Stop()
	return nil
}
