package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

type captureSink struct {
	mu   sync.Mutex
	recs []Record
}

func (c *captureSink) Deliver(r Record) {
	c.mu.Lock()
	c.recs = append(c.recs, r)
	c.mu.Unlock()
}

func (c *captureSink) all() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), c.recs...)
}

func TestHub_RoutesByTaskID(t *testing.T) {
	var buf bytes.Buffer
	hub := NewHub(NewHandler(Options{Level: "info", Writer: &buf}))
	a, b := &captureSink{}, &captureSink{}
	if _, err := hub.Attach("task-a", a); err != nil {
		t.Fatalf("attach a: %v", err)
	}
	if _, err := hub.Attach("task-b", b); err != nil {
		t.Fatalf("attach b: %v", err)
	}

	lg := hub.Logger()
	lg.With(TaskIDKey, "task-a").Info("✨ Manus's thoughts: hi")
	lg.Info("for b", TaskIDKey, "task-b")
	lg.Info("untagged")
	lg.With(TaskIDKey, "task-a").Debug("below info")

	if got := a.all(); len(got) != 1 || got[0].Line != "✨ Manus's thoughts: hi" {
		t.Fatalf("unexpected records for a: %+v", got)
	}
	if got := b.all(); len(got) != 1 || got[0].Line != "for b" {
		t.Fatalf("unexpected records for b: %+v", got)
	}
	if !strings.Contains(buf.String(), "untagged") {
		t.Fatalf("base handler should still receive records, got %s", buf.String())
	}
}

func TestHub_TypedRecords(t *testing.T) {
	hub := NewHub(nil)
	sink := &captureSink{}
	_, _ = hub.Attach("t1", sink)

	hub.Logger().Info("calling browser", TaskIDKey, "t1", EventKindKey, "tool", StepKey, 3, "tool", "browser")
	got := sink.all()
	if len(got) != 1 || !got[0].Typed() {
		t.Fatalf("expected one typed record, got %+v", got)
	}
	evt := got[0].Event
	if evt.Kind != "tool" || evt.Message != "calling browser" || evt.Step == nil || *evt.Step != 3 {
		t.Fatalf("unexpected typed event %+v", evt)
	}
	if evt.Attrs["tool"] != "browser" {
		t.Fatalf("expected passthrough attribute, got %+v", evt.Attrs)
	}
}

func TestHub_ErrorAttributeJoinsLine(t *testing.T) {
	hub := NewHub(nil)
	sink := &captureSink{}
	_, _ = hub.Attach("t1", sink)
	hub.Logger().Error("step aborted", TaskIDKey, "t1", "err", errors.New("boom"))
	got := sink.all()
	if len(got) != 1 || got[0].Line != "step aborted: boom" {
		t.Fatalf("unexpected line: %+v", got)
	}
}

func TestHub_EnabledForSinksEvenWhenBaseIsQuiet(t *testing.T) {
	hub := NewHub(NewHandler(Options{Level: "error", Writer: &bytes.Buffer{}}))
	if hub.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be disabled without sinks")
	}
	sink := &captureSink{}
	_, _ = hub.Attach("t1", sink)
	if !hub.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be enabled while a sink is attached")
	}
	hub.Logger().Info("quiet", TaskIDKey, "t1")
	if len(sink.all()) != 1 {
		t.Fatal("sink should receive info records the base handler drops")
	}
}

func TestHub_DetachAndClose(t *testing.T) {
	hub := NewHub(nil)
	sink := &captureSink{}
	h, _ := hub.Attach("t1", sink)
	if err := hub.Detach(h); err != nil {
		t.Fatalf("detach failed: %v", err)
	}
	if err := hub.Detach(h); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle, got %v", err)
	}
	hub.Logger().Info("after detach", TaskIDKey, "t1")
	if len(sink.all()) != 0 {
		t.Fatal("detached sink received a record")
	}

	h2, _ := hub.Attach("t1", sink)
	hub.Close()
	if err := hub.Detach(h2); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("expected ErrHubClosed, got %v", err)
	}
	if _, err := hub.Attach("t1", sink); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("expected ErrHubClosed on attach, got %v", err)
	}
}
