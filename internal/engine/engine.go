// Package engine defines the execution boundary a task runs behind and the
// engines magnus ships with.
package engine

import (
	"context"
	"io"
	"time"
)

// Engine executes one prompt and returns its final result text.
//
// The context carries the task-scoped logger (logging.FromContext) and the
// raw output writer (Output). Anything written through either shows up as
// steps of the task.
type Engine interface {
	Run(ctx context.Context, prompt string) (string, error)
}

type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Run(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type outputKey struct{}
type taskIDKey struct{}

func WithOutput(ctx context.Context, w io.Writer) context.Context {
	if w == nil {
		return ctx
	}
	return context.WithValue(ctx, outputKey{}, w)
}

// Output returns the raw output writer of the running task, or io.Discard.
func Output(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(outputKey{}).(io.Writer); ok && w != nil {
		return w
	}
	return io.Discard
}

func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

func TaskID(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey{}).(string)
	return id
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
