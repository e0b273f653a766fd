// Package oscheck provides the OSCheck unit. It reports the host platform on
// get_info and can watch a named process, asking the gateway to exit once
// that process goes away.
package oscheck

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/mattjoyce/sensus-gw/internal/plugin"
	"github.com/mattjoyce/sensus-gw/internal/protocol"
	"github.com/mattjoyce/sensus-gw/internal/scheduler"
	"github.com/mattjoyce/sensus-gw/internal/units/unitcfg"
)

const (
	Name = "OSCheck"

	DefaultWatchInterval = 10 * time.Second
)

func init() {
	plugin.Register(Name, New)
}

// Info describes the machine the gateway runs on.
type Info struct {
	OS              string `json:"os"`
	Arch            string `json:"arch"`
	Hostname        string `json:"hostname"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	Kernel          string `json:"kernel"`
	Termux          bool   `json:"termux"`
	NumCPU          int    `json:"num_cpu"`
	GoVersion       string `json:"go_version"`
}

// processNames lists the names of running processes.
type processNames func(ctx context.Context) ([]string, error)

type OSCheck struct {
	logger *slog.Logger
	host   plugin.Host
	info   Info

	watch  string
	list   processNames
	seen   atomic.Bool
	fired  atomic.Bool
	sched  *scheduler.Scheduler
	cancel context.CancelFunc
}

func New(pctx *plugin.Context) (plugin.Plugin, error) {
	return newWithLister(pctx, runningProcesses)
}

func newWithLister(pctx *plugin.Context, list processNames) (*OSCheck, error) {
	watch, err := unitcfg.String(pctx.Config, "watch_process", "")
	if err != nil {
		return nil, err
	}
	interval, err := unitcfg.Duration(pctx.Config, "watch_interval", DefaultWatchInterval)
	if err != nil {
		return nil, err
	}

	u := &OSCheck{
		logger: pctx.Logger,
		host:   pctx.Host,
		info:   collectInfo(),
		watch:  watch,
		list:   list,
	}
	u.logger.Info("host platform",
		"os", u.info.OS,
		"arch", u.info.Arch,
		"platform", u.info.Platform,
		"kernel", u.info.Kernel,
		"termux", u.info.Termux,
	)

	if watch == "" {
		return u, nil
	}
	if interval <= 0 {
		return nil, fmt.Errorf("watch_interval must be positive, got %s", interval)
	}
	u.sched = scheduler.New(pctx.Logger)
	if err := u.sched.Every("watch_process", interval, 0, u.check); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	u.sched.Start(ctx)
	u.logger.Info("watching process", "process", watch, "interval", interval)
	return u, nil
}

// check requests an exit once the watched process, having been seen at
// least once, is no longer running.
func (u *OSCheck) check(ctx context.Context) error {
	names, err := u.list(ctx)
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}
	for _, n := range names {
		if n == u.watch {
			u.seen.Store(true)
			return nil
		}
	}
	if u.seen.Load() && u.fired.CompareAndSwap(false, true) {
		u.logger.Warn("watched process exited", "process", u.watch)
		u.host.ExitServer(fmt.Sprintf("watched process %q exited", u.watch))
	}
	return nil
}

func (u *OSCheck) OnMessage(_ context.Context, conn plugin.Conn, msg protocol.Message) error {
	if msg.Method != "get_info" {
		u.logger.Warn("unsupported method", "method", msg.Method, "conn_id", conn.ID())
		return conn.WriteJSON(protocol.Failf("unsupported method %q", msg.Method))
	}
	return conn.WriteJSON(protocol.OK(u.info))
}

// Stop halts the process watch, if any.
func (u *OSCheck) Stop(context.Context) error {
	if u.sched != nil {
		u.cancel()
		u.sched.Stop()
	}
	return nil
}

func collectInfo() Info {
	info := Info{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Termux:    isTermux(),
		NumCPU:    runtime.NumCPU(),
		GoVersion: runtime.Version(),
	}
	if hi, err := host.Info(); err == nil {
		info.Hostname = hi.Hostname
		info.Platform = hi.Platform
		info.PlatformVersion = hi.PlatformVersion
		info.Kernel = hi.KernelVersion
	}
	return info
}

func isTermux() bool {
	if runtime.GOOS != "linux" && runtime.GOOS != "android" {
		return false
	}
	if _, ok := os.LookupEnv("TERMUX_VERSION"); ok {
		return true
	}
	_, err := os.Stat("/data/data/com.termux")
	return err == nil
}

func runningProcesses(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		// Processes can exit between listing and lookup.
		if n, err := p.NameWithContext(ctx); err == nil {
			names = append(names, n)
		}
	}
	return names, nil
}
