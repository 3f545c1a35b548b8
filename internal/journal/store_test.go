package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Avis2912/magnus/internal/event"
	"github.com/Avis2912/magnus/internal/logging"
	"github.com/Avis2912/magnus/internal/task"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndList(t *testing.T) {
	s := openMemory(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	first := task.Task{ID: "a", Prompt: "one", CreatedAt: base, Status: task.StatusCompleted, Steps: make([]task.Step, 3)}
	second := task.Task{ID: "b", Prompt: "two", CreatedAt: base, Status: task.StatusFailed, Reason: "timed out after 1s"}
	if err := s.Record(first); err != nil {
		t.Fatalf("record first failed: %v", err)
	}
	if err := s.Record(second); err != nil {
		t.Fatalf("record second failed: %v", err)
	}

	got, err := s.List(10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 || got[0].TaskID != "b" || got[1].TaskID != "a" {
		t.Fatalf("expected most recent first, got %+v", got)
	}
	if got[0].Reason != "timed out after 1s" || got[1].StepCount != 3 {
		t.Fatalf("unexpected rows %+v", got)
	}
	if !got[1].CreatedAt.Equal(base) {
		t.Fatalf("unexpected created_at %v", got[1].CreatedAt)
	}

	if got, _ := s.List(1); len(got) != 1 {
		t.Fatalf("limit not applied: %+v", got)
	}
}

func TestStore_RecordOverwrites(t *testing.T) {
	s := openMemory(t)
	tk := task.Task{ID: "a", Prompt: "one", Status: task.StatusFailed, Reason: "first"}
	_ = s.Record(tk)
	tk.Reason = "second"
	if err := s.Record(tk); err != nil {
		t.Fatalf("re-record failed: %v", err)
	}
	got, _ := s.List(10)
	if len(got) != 1 || got[0].Reason != "second" {
		t.Fatalf("expected single overwritten row, got %+v", got)
	}
}

func TestStore_RejectsEmptyID(t *testing.T) {
	if err := openMemory(t).Record(task.Task{}); err == nil {
		t.Fatal("expected error for empty task id")
	}
}

func TestStore_HookRecordsTerminalTasks(t *testing.T) {
	s := openMemory(t)
	reg := task.NewRegistry()
	reg.OnTerminal(s.Hook(logging.Discard()))

	tk := reg.Create("hello")
	_ = reg.Transition(tk.ID, task.StatusRunning, "")
	_ = reg.AppendStep(tk.ID, task.StepResult, "hi", event.KindResult)
	_ = reg.Transition(tk.ID, task.StatusCompleted, "")

	got, err := s.List(10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 || got[0].TaskID != tk.ID || got[0].Status != "completed" || got[0].StepCount != 1 {
		t.Fatalf("unexpected journal rows %+v", got)
	}
}

func TestOpen_FileDSNSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	_ = s.Record(task.Task{ID: "a", Status: task.StatusCompleted})
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	got, _ := s.List(0)
	if len(got) != 1 {
		t.Fatalf("expected persisted row, got %+v", got)
	}
}
