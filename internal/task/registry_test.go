package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/Avis2912/magnus/internal/event"
)

func drain(t *testing.T, ch *Channel) []event.Event {
	t.Helper()
	sub := ch.Subscribe()
	defer sub.Close()
	var out []event.Event
	for {
		evt, err := sub.Next(context.Background(), 10*time.Millisecond)
		if errors.Is(err, ErrIdle) {
			return out
		}
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		out = append(out, evt)
	}
}

func TestRegistry_CreateThenGet(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		reg := NewRegistry()
		prompt := rapid.StringMatching(`[a-zA-Z0-9 ]{1,40}`).Draw(rt, "prompt")
		created := reg.Create(prompt)
		got, err := reg.Get(created.ID)
		if err != nil {
			rt.Fatalf("get failed: %v", err)
		}
		if got.Status != StatusPending {
			rt.Fatalf("expected pending, got %s", got.Status)
		}
		if len(got.Steps) != 0 {
			rt.Fatalf("expected no steps, got %d", len(got.Steps))
		}
		if got.Prompt != prompt {
			rt.Fatalf("prompt mismatch: %q vs %q", got.Prompt, prompt)
		}
	})
}

func TestRegistry_AppendStepKeepsCallOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		reg := NewRegistry()
		created := reg.Create("p")
		texts := rapid.SliceOf(rapid.String()).Draw(rt, "texts")
		for i, text := range texts {
			if err := reg.AppendStep(created.ID, i+1, text, event.KindLog); err != nil {
				rt.Fatalf("append failed: %v", err)
			}
		}
		got, err := reg.Get(created.ID)
		if err != nil {
			rt.Fatalf("get failed: %v", err)
		}
		if len(got.Steps) != len(texts) {
			rt.Fatalf("expected %d steps, got %d", len(texts), len(got.Steps))
		}
		for i, step := range got.Steps {
			if step.Seq != i+1 || step.Result != texts[i] {
				rt.Fatalf("step %d out of order: %+v", i, step)
			}
		}
	})
}

func TestRegistry_TerminalIsFinal(t *testing.T) {
	statuses := []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed}
	rapid.Check(t, func(rt *rapid.T) {
		reg := NewRegistry()
		created := reg.Create("p")
		terminal := rapid.SampledFrom([]Status{StatusCompleted, StatusFailed}).Draw(rt, "terminal")
		if err := reg.Transition(created.ID, terminal, "first"); err != nil {
			rt.Fatalf("transition failed: %v", err)
		}
		for _, next := range rapid.SliceOf(rapid.SampledFrom(statuses)).Draw(rt, "next") {
			_ = reg.Transition(created.ID, next, "later")
		}
		got, _ := reg.Get(created.ID)
		if got.Status != terminal {
			rt.Fatalf("terminal status changed from %s to %s", terminal, got.Status)
		}
		if terminal == StatusFailed && got.Reason != "first" {
			rt.Fatalf("failure reason changed to %q", got.Reason)
		}
	})
}

func TestRegistry_UnknownTask(t *testing.T) {
	reg := NewRegistry()
	if err := reg.AppendStep("missing", 1, "x", event.KindLog); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from AppendStep, got %v", err)
	}
	if err := reg.Transition("missing", StatusRunning, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Transition, got %v", err)
	}
	if _, err := reg.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
}

func TestRegistry_RejectsBackwardTransition(t *testing.T) {
	reg := NewRegistry()
	created := reg.Create("p")
	if err := reg.Transition(created.ID, StatusRunning, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := reg.Transition(created.ID, StatusPending, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRegistry_DualPushAndTerminalEntries(t *testing.T) {
	reg := NewRegistry()
	created := reg.Create("hello")
	ch, err := reg.Channel(created.ID)
	if err != nil {
		t.Fatalf("channel failed: %v", err)
	}
	_ = reg.Transition(created.ID, StatusRunning, "")
	_ = reg.AppendStep(created.ID, StepStart, "Starting task execution: hello", event.KindLog)
	_ = reg.AppendStep(created.ID, StepResult, "done", event.KindResult)
	_ = reg.Transition(created.ID, StatusCompleted, "")

	got := drain(t, ch)
	want := []event.Kind{
		event.KindStatus,
		event.KindLog, event.KindStatus,
		event.KindResult, event.KindStatus,
		event.KindStatus, event.KindComplete,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %+v", len(want), len(got), got)
	}
	for i, kind := range want {
		if got[i].Type != kind {
			t.Fatalf("entry %d: expected %s, got %s", i, kind, got[i].Type)
		}
	}
	if len(got[4].Steps) != 2 {
		t.Fatalf("snapshot after second step should hold 2 steps, got %d", len(got[4].Steps))
	}
	if got[5].Status != string(StatusCompleted) {
		t.Fatalf("expected completed snapshot, got %s", got[5].Status)
	}
	if !got[6].EndsStream() {
		t.Fatal("complete entry should end the stream")
	}
}

func TestRegistry_FailurePushesTerminalError(t *testing.T) {
	reg := NewRegistry()
	created := reg.Create("p")
	ch, _ := reg.Channel(created.ID)
	_ = reg.Transition(created.ID, StatusFailed, "timed out after 1s")

	got := drain(t, ch)
	if len(got) != 2 {
		t.Fatalf("expected status + error, got %+v", got)
	}
	if got[0].Type != event.KindStatus || got[0].Reason != "timed out after 1s" {
		t.Fatalf("unexpected status entry %+v", got[0])
	}
	if got[1].Type != event.KindError || got[1].Message != "timed out after 1s" || !got[1].Terminal {
		t.Fatalf("unexpected terminal entry %+v", got[1])
	}
}

func TestRegistry_SnapshotEvery(t *testing.T) {
	reg := NewRegistry(WithSnapshotEvery(3))
	created := reg.Create("p")
	ch, _ := reg.Channel(created.ID)
	for i := 1; i <= 6; i++ {
		_ = reg.AppendStep(created.ID, i, "x", event.KindLog)
	}
	statusCount := 0
	for _, evt := range drain(t, ch) {
		if evt.Type == event.KindStatus {
			statusCount++
		}
	}
	if statusCount != 2 {
		t.Fatalf("expected 2 snapshots for 6 steps, got %d", statusCount)
	}
}

func TestRegistry_NoPhantomEvents(t *testing.T) {
	reg := NewRegistry()
	created := reg.Create("p")
	ch, _ := reg.Channel(created.ID)
	sub := ch.Subscribe()
	defer sub.Close()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_ = reg.AppendStep(created.ID, InterceptedBase+w*100+i, fmt.Sprintf("w%d-%d", w, i), event.KindLog)
			}
		}()
	}

	seen := 0
	for seen < 100 {
		evt, err := sub.Next(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("next failed after %d steps: %v", seen, err)
		}
		if evt.Type == event.KindStatus {
			continue
		}
		seen++
		current, _ := reg.Get(created.ID)
		found := false
		for _, step := range current.Steps {
			if step.Seq == *evt.Step && step.Result == evt.Result {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("event for step %d delivered before it was recorded", *evt.Step)
		}
	}
	wg.Wait()
}

func TestRegistry_ListMostRecentFirst(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	reg := NewRegistry(WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	first := reg.Create("first")
	second := reg.Create("second")
	third := reg.Create("third")

	got := reg.List()
	if len(got) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(got))
	}
	if got[0].ID != third.ID || got[1].ID != second.ID || got[2].ID != first.ID {
		t.Fatalf("unexpected order: %s %s %s", got[0].Prompt, got[1].Prompt, got[2].Prompt)
	}
	if !got[0].CreatedAt.After(got[2].CreatedAt) {
		t.Fatalf("created_at not descending: %v vs %v", got[0].CreatedAt, got[2].CreatedAt)
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	reg := NewRegistry()
	created := reg.Create("p")
	_ = reg.AppendStep(created.ID, 1, "a", event.KindLog)
	got, _ := reg.Get(created.ID)
	got.Steps[0].Result = "mutated"
	again, _ := reg.Get(created.ID)
	if again.Steps[0].Result != "a" {
		t.Fatalf("registry state leaked through Get copy: %q", again.Steps[0].Result)
	}
}

func TestRegistry_OnTerminalHook(t *testing.T) {
	reg := NewRegistry()
	var got []Task
	reg.OnTerminal(func(tk Task) { got = append(got, tk) })
	created := reg.Create("p")
	_ = reg.Transition(created.ID, StatusRunning, "")
	_ = reg.Transition(created.ID, StatusCompleted, "")
	_ = reg.Transition(created.ID, StatusFailed, "ignored")
	if len(got) != 1 || got[0].Status != StatusCompleted {
		t.Fatalf("expected one completed hook call, got %+v", got)
	}
}
