package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Avis2912/magnus/internal/event"
	"github.com/Avis2912/magnus/internal/task"
)

var ErrTaskFailed = errors.New("task failed")

// RunPrompt runs a single prompt in-process and writes every stream entry to
// out as "<type> <json>" lines until the task's terminal entry.
func RunPrompt(ctx context.Context, opts StartOptions, prompt string, out io.Writer) (task.Task, error) {
	if out == nil {
		out = io.Discard
	}
	rt, err := NewRuntime(opts)
	if err != nil {
		return task.Task{}, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Close(closeCtx)
	}()

	t, err := rt.Runner.Submit(prompt)
	if err != nil {
		return task.Task{}, err
	}
	ch, err := rt.Registry.Channel(t.ID)
	if err != nil {
		return t, err
	}
	sub := ch.Subscribe()
	defer sub.Close()

	wait := opts.Config.Heartbeat
	if wait <= 0 {
		wait = time.Second
	}
	for {
		evt, err := sub.Next(ctx, wait)
		if errors.Is(err, task.ErrIdle) {
			continue
		}
		if err != nil {
			return t, err
		}
		kind, b, _ := event.EncodeOrDegrade(evt)
		if _, err := fmt.Fprintf(out, "%s %s\n", kind, b); err != nil {
			return t, err
		}
		if evt.EndsStream() {
			break
		}
	}

	if err := rt.Runner.Wait(ctx, t.ID); err != nil {
		return t, err
	}
	final, err := rt.Registry.Get(t.ID)
	if err != nil {
		return t, err
	}
	if final.Status == task.StatusFailed {
		return final, fmt.Errorf("%w: %s", ErrTaskFailed, final.Reason)
	}
	return final, nil
}
