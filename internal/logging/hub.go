package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Attribute keys the hub uses to route and type records.
const (
	TaskIDKey    = "task_id"
	EventKindKey = "event_kind"
	StepKey      = "step"
)

var (
	ErrHubClosed     = errors.New("log hub is closed")
	ErrUnknownHandle = errors.New("log sink handle is not attached")
)

// Record is what an attached sink receives. Exactly one of Line and Event is
// set: Line for free text that still needs classifying, Event for records
// that already carry an event_kind attribute.
type Record struct {
	TaskID string
	Line   string
	Event  *TypedEvent
}

func (r Record) Typed() bool { return r.Event != nil }

type TypedEvent struct {
	Kind    string
	Message string
	Step    *int
	Attrs   map[string]any
}

// Sink receives routed records. Deliver is called on the logging goroutine
// and must not block.
type Sink interface {
	Deliver(Record)
}

type Handle uint64

type hubSink struct {
	taskID string
	sink   Sink
}

type hubState struct {
	mu     sync.RWMutex
	sinks  map[Handle]hubSink
	next   Handle
	closed bool
}

// Hub is a slog.Handler that writes to a base handler and also routes every
// record at Info or above to the sinks attached for the record's task_id.
type Hub struct {
	base    slog.Handler
	state   *hubState
	attrs   []slog.Attr
	grouped bool
}

func NewHub(base slog.Handler) *Hub {
	if base == nil {
		base = Discard().Handler()
	}
	return &Hub{base: base, state: &hubState{sinks: map[Handle]hubSink{}}}
}

func (h *Hub) Logger() *slog.Logger {
	return slog.New(h)
}

// Attach registers sink for records tagged with taskID.
func (h *Hub) Attach(taskID string, sink Sink) (Handle, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return 0, errors.New("task id is required")
	}
	if sink == nil {
		return 0, errors.New("sink is required")
	}
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	if h.state.closed {
		return 0, ErrHubClosed
	}
	h.state.next++
	handle := h.state.next
	h.state.sinks[handle] = hubSink{taskID: taskID, sink: sink}
	return handle, nil
}

func (h *Hub) Detach(handle Handle) error {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	if h.state.closed {
		return ErrHubClosed
	}
	if _, ok := h.state.sinks[handle]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, handle)
	}
	delete(h.state.sinks, handle)
	return nil
}

// Close drops every sink. Later Attach and Detach calls fail with ErrHubClosed.
func (h *Hub) Close() {
	h.state.mu.Lock()
	h.state.closed = true
	h.state.sinks = map[Handle]hubSink{}
	h.state.mu.Unlock()
}

func (h *Hub) Attached() int {
	h.state.mu.RLock()
	defer h.state.mu.RUnlock()
	return len(h.state.sinks)
}

func (h *Hub) Enabled(ctx context.Context, level slog.Level) bool {
	if h.base.Enabled(ctx, level) {
		return true
	}
	return level >= slog.LevelInfo && h.Attached() > 0
}

func (h *Hub) Handle(ctx context.Context, rec slog.Record) error {
	var err error
	if h.base.Enabled(ctx, rec.Level) {
		err = h.base.Handle(ctx, rec)
	}
	if rec.Level >= slog.LevelInfo {
		h.route(rec)
	}
	return err
}

func (h *Hub) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := &Hub{base: h.base.WithAttrs(attrs), state: h.state, grouped: h.grouped}
	out.attrs = append(out.attrs, h.attrs...)
	if !h.grouped {
		out.attrs = append(out.attrs, attrs...)
	}
	return out
}

func (h *Hub) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := &Hub{base: h.base.WithGroup(name), state: h.state, grouped: true}
	out.attrs = append(out.attrs, h.attrs...)
	return out
}

func (h *Hub) route(rec slog.Record) {
	h.state.mu.RLock()
	if len(h.state.sinks) == 0 {
		h.state.mu.RUnlock()
		return
	}
	h.state.mu.RUnlock()

	fields := make(map[string]any, len(h.attrs)+rec.NumAttrs())
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Resolve().Any()
	}
	if !h.grouped {
		rec.Attrs(func(a slog.Attr) bool {
			fields[a.Key] = a.Value.Resolve().Any()
			return true
		})
	}
	taskID, _ := fields[TaskIDKey].(string)
	if taskID == "" {
		return
	}
	out := buildRecord(taskID, rec.Message, fields)

	h.state.mu.RLock()
	targets := make([]Sink, 0, 1)
	for _, s := range h.state.sinks {
		if s.taskID == taskID {
			targets = append(targets, s.sink)
		}
	}
	h.state.mu.RUnlock()
	for _, s := range targets {
		s.Deliver(out)
	}
}

func buildRecord(taskID, msg string, fields map[string]any) Record {
	kind, _ := fields[EventKindKey].(string)
	if strings.TrimSpace(kind) == "" {
		line := msg
		for _, key := range []string{"err", "error"} {
			if v, ok := fields[key]; ok && v != nil {
				line = fmt.Sprintf("%s: %v", line, v)
				break
			}
		}
		return Record{TaskID: taskID, Line: line}
	}
	evt := &TypedEvent{Kind: strings.TrimSpace(kind), Message: msg}
	if step, ok := intValue(fields[StepKey]); ok {
		evt.Step = &step
	}
	for k, v := range fields {
		switch k {
		case TaskIDKey, EventKindKey, StepKey, "component", "module":
			continue
		}
		if evt.Attrs == nil {
			evt.Attrs = map[string]any{}
		}
		evt.Attrs[k] = v
	}
	return Record{TaskID: taskID, Event: evt}
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}
