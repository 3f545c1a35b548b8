// Package bridge captures a running task's log records and raw output and
// turns them into task steps.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Avis2912/magnus/internal/classify"
	"github.com/Avis2912/magnus/internal/event"
	"github.com/Avis2912/magnus/internal/logging"
	"github.com/Avis2912/magnus/internal/task"
)

var ErrAlreadyAttached = errors.New("bridge already attached for task")

type Hub interface {
	Attach(taskID string, sink logging.Sink) (logging.Handle, error)
	Detach(handle logging.Handle) error
}

// Recorder is the part of task.Registry the bridge writes to.
type Recorder interface {
	AppendStep(id string, seq int, text string, kind event.Kind) error
	AppendEvent(id string, evt event.Event) error
}

type Bridge struct {
	hub        Hub
	recorder   Recorder
	classifier classify.Classifier
	logger     *slog.Logger

	mu     sync.Mutex
	active map[string]*Listener
}

type Option func(*Bridge)

func WithClassifier(c classify.Classifier) Option {
	return func(b *Bridge) {
		if c != nil {
			b.classifier = c
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(b *Bridge) {
		if lg != nil {
			b.logger = lg
		}
	}
}

func New(hub Hub, recorder Recorder, opts ...Option) *Bridge {
	b := &Bridge{
		hub:        hub,
		recorder:   recorder,
		classifier: classify.Text,
		logger:     slog.Default(),
		active:     map[string]*Listener{},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("module", "bridge")
	return b
}

// Attach starts capturing for taskID. Only one listener per task may be
// attached at a time.
func (b *Bridge) Attach(taskID string) (*Listener, error) {
	taskID = strings.TrimSpace(taskID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.active[taskID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, taskID)
	}
	l := newListener(b, taskID)
	handle, err := b.hub.Attach(taskID, l)
	if err != nil {
		l.stop()
		return nil, fmt.Errorf("attach log sink: %w", err)
	}
	l.handle = handle
	b.active[taskID] = l
	return l, nil
}

// Detach stops capturing and waits until every queued line has been
// recorded. It is safe to call more than once and never fails.
func (b *Bridge) Detach(l *Listener) {
	if l == nil {
		return
	}
	l.once.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("bridge detach panicked", "task", l.taskID, "panic", fmt.Sprint(r))
			}
		}()
		defer func() {
			b.mu.Lock()
			if b.active[l.taskID] == l {
				delete(b.active, l.taskID)
			}
			b.mu.Unlock()
		}()
		if err := b.hub.Detach(l.handle); err != nil {
			if errors.Is(err, logging.ErrHubClosed) {
				b.logger.Debug("log hub already closed", "task", l.taskID)
			} else {
				b.logger.Warn("detach log sink failed", "task", l.taskID, "err", err)
			}
		}
		l.flush()
		l.stop()
	})
}

// Attached reports whether a listener is currently attached for taskID.
func (b *Bridge) Attached(taskID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.active[strings.TrimSpace(taskID)]
	return ok
}

// record runs on the listener worker. Warnings are logged under "task" and
// not task_id so the hub does not route them back into the listener.
func (b *Bridge) record(l *Listener, rec logging.Record) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("intercepted line dropped", "task", l.taskID, "panic", fmt.Sprint(r))
		}
	}()
	if rec.Event != nil {
		b.recordTyped(l, rec.Event)
		return
	}
	kind, text := b.classifier.Classify(rec.Line)
	seq := l.nextSeq()
	if err := b.recorder.AppendStep(l.taskID, seq, text, kind); err != nil {
		b.logger.Warn("append intercepted step failed", "task", l.taskID, "step", seq, "err", err)
	}
}

func (b *Bridge) recordTyped(l *Listener, te *logging.TypedEvent) {
	kind := event.Kind(te.Kind)
	switch {
	case !kind.Valid(), kind == event.KindStatus, kind == event.KindComplete:
		kind = event.KindLog
	}
	var seq int
	if te.Step != nil {
		seq = *te.Step
	} else {
		seq = l.nextSeq()
	}
	evt := event.StepEvent(kind, seq, te.Message)
	if len(te.Attrs) > 0 {
		evt.Data = te.Attrs
	}
	if err := b.recorder.AppendEvent(l.taskID, evt); err != nil {
		b.logger.Warn("append typed step failed", "task", l.taskID, "step", seq, "err", err)
	}
}

var _ Recorder = (*task.Registry)(nil)
