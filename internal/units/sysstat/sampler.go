package sysstat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// Status is one machine sample.
type Status struct {
	CPU       CPU       `json:"cpu"`
	Memory    Memory    `json:"memory"`
	Disk      Disk      `json:"disk"`
	Network   Network   `json:"network"`
	Host      Host      `json:"host"`
	SampledAt time.Time `json:"sampled_at"`
}

type CPU struct {
	Usage   float64   `json:"cpu_usage"`
	PerCore []float64 `json:"per_core"`
}

type Memory struct {
	Usage float64 `json:"memory_usage"`
	Total uint64  `json:"total_memory"`
	Used  uint64  `json:"used_memory"`
}

type Disk struct {
	Path  string  `json:"path"`
	Usage float64 `json:"disk_usage"`
	Total uint64  `json:"total"`
	Used  uint64  `json:"used"`
}

// Network speeds are bytes per second since the previous sample.
type Network struct {
	Down float64 `json:"down_speed"`
	Up   float64 `json:"up_speed"`
}

type Host struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Platform string `json:"platform"`
	Kernel   string `json:"kernel"`
	Uptime   uint64 `json:"uptime"`
}

// Sampler produces a Status. Implementations are called from a single
// scheduler goroutine.
type Sampler interface {
	Sample(ctx context.Context) (*Status, error)
}

type hostSampler struct {
	diskPath string
	now      func() time.Time

	lastRecv, lastSent uint64
	lastAt             time.Time
}

func newHostSampler(diskPath string) *hostSampler {
	return &hostSampler{diskPath: diskPath, now: time.Now}
}

func (h *hostSampler) Sample(ctx context.Context) (*Status, error) {
	st := &Status{SampledAt: h.now()}
	var errs []error

	if perCore, err := cpu.PercentWithContext(ctx, 0, true); err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	} else {
		st.CPU = CPU{Usage: mean(perCore), PerCore: perCore}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		st.Memory = Memory{Usage: vm.UsedPercent, Total: vm.Total, Used: vm.Used}
	}

	if du, err := disk.UsageWithContext(ctx, h.diskPath); err != nil {
		errs = append(errs, fmt.Errorf("disk %s: %w", h.diskPath, err))
	} else {
		st.Disk = Disk{Path: h.diskPath, Usage: du.UsedPercent, Total: du.Total, Used: du.Used}
	}

	if counters, err := net.IOCountersWithContext(ctx, false); err != nil {
		errs = append(errs, fmt.Errorf("network: %w", err))
	} else if len(counters) > 0 {
		st.Network = h.speeds(counters[0].BytesRecv, counters[0].BytesSent, st.SampledAt)
	}

	if info, err := host.InfoWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("host: %w", err))
	} else {
		st.Host = Host{
			Hostname: info.Hostname,
			OS:       info.OS,
			Platform: info.Platform + " " + info.PlatformVersion,
			Kernel:   info.KernelVersion,
			Uptime:   info.Uptime,
		}
	}

	return st, errors.Join(errs...)
}

func (h *hostSampler) speeds(recv, sent uint64, at time.Time) Network {
	var n Network
	if !h.lastAt.IsZero() && recv >= h.lastRecv && sent >= h.lastSent {
		if secs := at.Sub(h.lastAt).Seconds(); secs > 0 {
			n.Down = float64(recv-h.lastRecv) / secs
			n.Up = float64(sent-h.lastSent) / secs
		}
	}
	h.lastRecv, h.lastSent, h.lastAt = recv, sent, at
	return n
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
