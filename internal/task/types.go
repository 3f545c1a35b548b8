package task

import (
	"errors"
	"time"

	"github.com/Avis2912/magnus/internal/event"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Caller-assigned step numbers. Intercepted lines are numbered from
// InterceptedBase upwards so they never collide with these.
const (
	StepStart       = 0
	StepResult      = 999
	InterceptedBase = 9000
)

type Step struct {
	Seq    int        `json:"step"`
	Result string     `json:"result"`
	Kind   event.Kind `json:"type"`
}

// Task is a point-in-time copy of a task record.
type Task struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Steps     []Step    `json:"steps"`
}

func (t Task) stepViews() []event.StepView {
	out := make([]event.StepView, 0, len(t.Steps))
	for _, s := range t.Steps {
		out = append(out, event.StepView{Step: s.Seq, Result: s.Result, Type: s.Kind})
	}
	return out
}

// StatusEvent returns the cumulative snapshot entry for t.
func (t Task) StatusEvent() event.Event {
	return event.StatusEvent(string(t.Status), t.Reason, t.stepViews())
}

func (t Task) clone() Task {
	out := t
	out.Steps = make([]Step, len(t.Steps))
	copy(out.Steps, t.Steps)
	return out
}
