// Package scheduler runs named periodic tasks on their own tickers. Units use
// it for background sampling and housekeeping; the gateway core never sees it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mattjoyce/sensus-gw/internal/log"
)

// TaskFunc is one run of a periodic task.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	jitter   time.Duration
	fn       TaskFunc
}

// Scheduler manages a set of periodic tasks.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	tasks   []task
	started bool
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Scheduler. A nil logger uses the global one.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = log.Get()
	}
	return &Scheduler{
		logger: logger.With("component", "scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Every registers fn to run every interval, plus up to jitter of random delay
// before the first run. Tasks must be registered before Start.
func (s *Scheduler) Every(name string, interval, jitter time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("task %q: interval must be positive", name)
	}
	if fn == nil {
		return fmt.Errorf("task %q: nil func", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, jitter: jitter, fn: fn})
	return nil
}

// Start launches one goroutine per task. Each task runs once right away
// (after its jitter) and then on every tick until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
}

// Stop signals every task loop and waits for them to return. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t task) {
	defer s.wg.Done()

	if d := calculateJitteredInterval(0, t.jitter); d > 0 {
		select {
		case <-time.After(d):
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
	s.run(ctx, t)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.run(ctx, t)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "task", t.name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	if err := t.fn(ctx); err != nil {
		s.logger.Warn("task failed", "task", t.name, "error", err)
	}
}

func calculateJitteredInterval(baseInterval time.Duration, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return baseInterval
	}
	return baseInterval + time.Duration(rand.Int63n(jitter.Nanoseconds()))
}
