package task

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Avis2912/magnus/internal/event"
)

type record struct {
	mu            sync.Mutex
	order         uint64
	task          Task
	channel       *Channel
	sinceSnapshot int
}

// Registry is the in-memory store of tasks. Every mutation of a task is
// serialized on that task's record and the matching channel entries are pushed
// before the record is unlocked, so channel order equals commit order.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*record
	next  uint64

	snapshotEvery int
	now           func() time.Time
	newID         func() string

	hooksMu    sync.RWMutex
	onTerminal []func(Task)
}

type Option func(*Registry)

// WithSnapshotEvery sets how many step appends pass between cumulative status
// entries. 1 pushes a snapshot after every step.
func WithSnapshotEvery(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.snapshotEvery = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tasks:         map[string]*record{},
		snapshotEvery: 1,
		now:           time.Now,
		newID:         func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnTerminal registers fn to be called with a copy of each task that reaches
// a terminal status. Hooks run after the terminal entries are pushed.
func (r *Registry) OnTerminal(fn func(Task)) {
	if fn == nil {
		return
	}
	r.hooksMu.Lock()
	r.onTerminal = append(r.onTerminal, fn)
	r.hooksMu.Unlock()
}

func (r *Registry) Create(prompt string) Task {
	rec := &record{
		task: Task{
			ID:        r.newID(),
			Prompt:    prompt,
			CreatedAt: r.now().UTC(),
			Status:    StatusPending,
			Steps:     []Step{},
		},
		channel: NewChannel(),
	}
	r.mu.Lock()
	r.next++
	rec.order = r.next
	r.tasks[rec.task.ID] = rec
	r.mu.Unlock()
	return rec.task.clone()
}

func (r *Registry) lookup(id string) (*record, error) {
	r.mu.RLock()
	rec, ok := r.tasks[strings.TrimSpace(id)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// AppendStep records a step and pushes the step entry followed by a
// cumulative status entry.
func (r *Registry) AppendStep(id string, seq int, text string, kind event.Kind) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.task.Steps = append(rec.task.Steps, Step{Seq: seq, Result: text, Kind: kind})
	rec.channel.Push(event.StepEvent(kind, seq, text))
	rec.sinceSnapshot++
	if rec.sinceSnapshot >= r.snapshotEvery {
		rec.sinceSnapshot = 0
		rec.channel.Push(rec.task.StatusEvent())
	}
	return nil
}

// AppendEvent records a pre-typed step that carries extra attributes.
func (r *Registry) AppendEvent(id string, evt event.Event) error {
	if evt.Step == nil {
		return fmt.Errorf("append event %s: step number is required", evt.Type)
	}
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.task.Steps = append(rec.task.Steps, Step{Seq: *evt.Step, Result: evt.Result, Kind: evt.Type})
	evt.Terminal = false
	rec.channel.Push(evt)
	rec.sinceSnapshot++
	if rec.sinceSnapshot >= r.snapshotEvery {
		rec.sinceSnapshot = 0
		rec.channel.Push(rec.task.StatusEvent())
	}
	return nil
}

// Transition moves a task forward. Transitions out of a terminal status are
// ignored. Entering a terminal status pushes a status entry followed by a
// complete or error entry.
func (r *Registry) Transition(id string, status Status, reason string) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	current := rec.task.Status
	if current.Terminal() || current == status {
		rec.mu.Unlock()
		return nil
	}
	if status == StatusPending || !validStatus(status) {
		rec.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}
	rec.task.Status = status
	if status == StatusFailed {
		rec.task.Reason = reason
	}
	rec.sinceSnapshot = 0
	rec.channel.Push(rec.task.StatusEvent())
	switch status {
	case StatusCompleted:
		rec.channel.Push(event.CompleteEvent())
	case StatusFailed:
		rec.channel.Push(event.FailureEvent(reason))
	}
	snapshot := rec.task.clone()
	rec.mu.Unlock()

	if status.Terminal() {
		r.hooksMu.RLock()
		hooks := append([]func(Task){}, r.onTerminal...)
		r.hooksMu.RUnlock()
		for _, fn := range hooks {
			fn(snapshot)
		}
	}
	return nil
}

func validStatus(s Status) bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (r *Registry) Get(id string) (Task, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return Task{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.task.clone(), nil
}

// Snapshot returns the task and its channel read under the same lock, so the
// returned state covers every entry queued on the channel at that moment.
func (r *Registry) Snapshot(id string) (Task, *Channel, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return Task{}, nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.task.clone(), rec.channel, nil
}

func (r *Registry) Channel(id string) (*Channel, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return rec.channel, nil
}

// List returns every task, most recently created first.
func (r *Registry) List() []Task {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.tasks))
	for _, rec := range r.tasks {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].order > recs[j].order
	})
	out := make([]Task, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.task.clone())
		rec.mu.Unlock()
	}
	return out
}
