// Package lifecycle runs the long-lived jobs of a process and tears them
// down in order.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"
)

const DefaultShutdownTimeout = 10 * time.Second

type job struct {
	name string
	run  func(context.Context) error
}

type Manager struct {
	logger          *slog.Logger
	shutdownTimeout time.Duration

	mu           sync.Mutex
	runJobs      []job
	shutdownJobs []job
}

type Option func(*Manager)

func WithLogger(lg *slog.Logger) Option {
	return func(m *Manager) {
		if lg != nil {
			m.logger = lg
		}
	}
}

// WithShutdownTimeout bounds the context handed to shutdown jobs.
func WithShutdownTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.shutdownTimeout = d
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{logger: slog.Default(), shutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("module", "lifecycle")
	return m
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// AddShutdown registers a teardown step. Steps run in reverse order of
// registration once every run job has returned.
func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// StartAndWait runs every run job until parent is done, one of sig arrives,
// or a run job fails. Then it runs the shutdown jobs.
func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		defer stop()
	}

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	runJobs := m.snapshot(&m.runJobs)
	errCh := make(chan error, len(runJobs))
	var wg sync.WaitGroup
	for _, j := range runJobs {
		j := j
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.logger.Info("run job started", "job", j.name)
			if err := j.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", j.name, err)
				cancelRuns()
				return
			}
			m.logger.Info("run job stopped", "job", j.name)
		}()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		m.logger.Info("shutdown requested")
		cancelRuns()
	case err := <-errCh:
		m.logger.Error("run job failed", "err", err)
		runErr = err
		cancelRuns()
	case <-doneCh:
	}
	<-doneCh

	return errors.Join(runErr, m.shutdown())
}

func (m *Manager) shutdown() error {
	jobs := m.snapshot(&m.shutdownJobs)
	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	var out error
	for i := len(jobs) - 1; i >= 0; i-- {
		j := jobs[i]
		if err := j.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("shutdown job failed", "job", j.name, "err", err)
			out = errors.Join(out, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return out
}

func (m *Manager) snapshot(src *[]job) []job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]job, len(*src))
	copy(out, *src)
	return out
}
