// Package runner drives tasks from pending to a terminal status.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Avis2912/magnus/internal/bridge"
	"github.com/Avis2912/magnus/internal/engine"
	"github.com/Avis2912/magnus/internal/event"
	"github.com/Avis2912/magnus/internal/logging"
	"github.com/Avis2912/magnus/internal/task"
)

const DefaultDeadline = 3600 * time.Second

var (
	ErrEngineTimeout  = errors.New("timed out")
	ErrSetup          = errors.New("setup failed")
	ErrEmptyPrompt    = errors.New("prompt is required")
	ErrAlreadyRunning = errors.New("task is already running")
	ErrFinished       = errors.New("task already finished")
)

// Store is the part of task.Registry the runner drives.
type Store interface {
	Create(prompt string) task.Task
	Get(id string) (task.Task, error)
	AppendStep(id string, seq int, text string, kind event.Kind) error
	Transition(id string, status task.Status, reason string) error
}

type Bridge interface {
	Attach(taskID string) (*bridge.Listener, error)
	Detach(l *bridge.Listener)
}

type Options struct {
	// Deadline bounds one engine run. Zero means DefaultDeadline.
	Deadline time.Duration
	// MaxConcurrent limits how many engines run at once. Tasks waiting for
	// a slot stay pending. Zero means unlimited.
	MaxConcurrent int
	// Logger should be backed by the log hub so that records tagged with
	// task_id reach the task's bridge listener.
	Logger *slog.Logger
}

type run struct {
	done     chan struct{}
	finished bool
}

type Runner struct {
	store    Store
	bridge   Bridge
	engine   engine.Engine
	logger   *slog.Logger
	deadline time.Duration
	slots    chan struct{}

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

func New(store Store, br Bridge, eng engine.Engine, opts Options) *Runner {
	r := &Runner{
		store:    store,
		bridge:   br,
		engine:   eng,
		logger:   opts.Logger,
		deadline: opts.Deadline,
		runs:     map[string]*run{},
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.deadline <= 0 {
		r.deadline = DefaultDeadline
	}
	if opts.MaxConcurrent > 0 {
		r.slots = make(chan struct{}, opts.MaxConcurrent)
	}
	return r
}

func (r *Runner) Deadline() time.Duration {
	return r.deadline
}

// Submit creates a task for prompt and starts it in the background. The
// returned task is the pending record.
func (r *Runner) Submit(prompt string) (task.Task, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return task.Task{}, ErrEmptyPrompt
	}
	t := r.store.Create(prompt)
	if err := r.Start(t.ID); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

// Start runs an existing pending task in the background.
func (r *Runner) Start(taskID string) error {
	t, err := r.store.Get(taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrFinished, t.ID)
	}
	r.mu.Lock()
	if existing, ok := r.runs[t.ID]; ok {
		r.mu.Unlock()
		if existing.finished {
			return fmt.Errorf("%w: %s", ErrFinished, t.ID)
		}
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, t.ID)
	}
	rn := &run{done: make(chan struct{})}
	r.runs[t.ID] = rn
	r.wg.Add(1)
	r.mu.Unlock()

	go r.execute(t, rn)
	return nil
}

// Wait blocks until the run of taskID has finished. It returns immediately
// for tasks that were never started.
func (r *Runner) Wait(ctx context.Context, taskID string) error {
	r.mu.Lock()
	rn, ok := r.runs[strings.TrimSpace(taskID)]
	r.mu.Unlock()
	if !ok {
		_, err := r.store.Get(taskID)
		return err
	}
	select {
	case <-rn.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitAll blocks until every started run has finished or ctx is done.
func (r *Runner) WaitAll(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) execute(t task.Task, rn *run) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		rn.finished = true
		r.mu.Unlock()
		close(rn.done)
	}()
	if r.slots != nil {
		r.slots <- struct{}{}
		defer func() { <-r.slots }()
	}
	r.runTask(t)
}

func (r *Runner) runTask(t task.Task) {
	id := t.ID
	// Logged under "task" rather than task_id so these records are not
	// captured as steps of the task itself.
	lg := r.logger.With("module", "runner", "task", id)
	started := time.Now()

	var listener *bridge.Listener
	var once sync.Once
	detach := func() {
		once.Do(func() {
			if listener != nil {
				r.bridge.Detach(listener)
			}
		})
	}
	defer detach()
	defer func() {
		if p := recover(); p != nil {
			detach()
			r.fail(lg, id, fmt.Errorf("%w: panic: %v", ErrSetup, p))
		}
	}()

	l, err := r.bridge.Attach(id)
	switch {
	case errors.Is(err, bridge.ErrAlreadyAttached):
		lg.Warn("bridge already attached, continuing without a new listener", "err", err)
	case err != nil:
		r.fail(lg, id, fmt.Errorf("%w: attach bridge: %v", ErrSetup, err))
		return
	default:
		listener = l
	}

	if err := r.store.Transition(id, task.StatusRunning, ""); err != nil {
		r.fail(lg, id, fmt.Errorf("%w: %v", ErrSetup, err))
		return
	}
	if err := r.store.AppendStep(id, task.StepStart, "Starting task execution: "+t.Prompt, event.KindLog); err != nil {
		r.fail(lg, id, fmt.Errorf("%w: %v", ErrSetup, err))
		return
	}
	lg.Info("task started")

	ctx, cancel := context.WithTimeout(context.Background(), r.deadline)
	ctx = engine.WithTaskID(ctx, id)
	ctx = logging.WithLogger(ctx, r.logger.With(logging.TaskIDKey, id))
	if listener != nil {
		ctx = engine.WithOutput(ctx, listener)
	}
	result, err := r.invoke(ctx, t.Prompt)
	cancel()
	detach()

	if err != nil {
		r.fail(lg, id, err)
		return
	}
	if err := r.store.AppendStep(id, task.StepResult, result, event.KindResult); err != nil {
		r.fail(lg, id, fmt.Errorf("record result: %w", err))
		return
	}
	if err := r.store.Transition(id, task.StatusCompleted, ""); err != nil {
		lg.Error("complete task failed", "err", err)
		return
	}
	lg.Info("task completed", "duration_ms", time.Since(started).Milliseconds())
}

type outcome struct {
	result string
	err    error
}

// invoke runs the engine on its own goroutine so that an engine ignoring
// ctx cannot hold the task past its deadline.
func (r *Runner) invoke(ctx context.Context, prompt string) (string, error) {
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("engine panic: %v", p)}
			}
		}()
		res, err := r.engine.Run(ctx, prompt)
		ch <- outcome{result: res, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", r.timeoutErr()
		}
		return o.result, o.err
	case <-ctx.Done():
		return "", r.timeoutErr()
	}
}

func (r *Runner) timeoutErr() error {
	return fmt.Errorf("%w after %s", ErrEngineTimeout, r.deadline)
}

func (r *Runner) fail(lg *slog.Logger, id string, cause error) {
	reason := cause.Error()
	if errors.Is(cause, ErrEngineTimeout) {
		lg.Warn("task timed out", "deadline", r.deadline.String())
	} else {
		lg.Warn("task failed", "err", cause)
	}
	if err := r.store.Transition(id, task.StatusFailed, reason); err != nil {
		lg.Error("fail task failed", "err", err)
	}
}
