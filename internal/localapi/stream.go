package localapi

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Avis2912/magnus/internal/event"
	"github.com/Avis2912/magnus/internal/task"
)

// eventWriter is one transport of a task event stream.
type eventWriter interface {
	Send(evt event.Event) error
	Heartbeat() error
	// Abort writes one best-effort error entry before the stream ends.
	Abort(msg string)
}

// pump relays channel entries to out until a terminal entry was written,
// the client went away, or a newer consumer took the channel over.
func (s *Server) pump(ctx context.Context, t task.Task, ch *task.Channel, out eventWriter, lg *slog.Logger) {
	sub := ch.Subscribe()
	defer sub.Close()

	if err := out.Send(t.StatusEvent()); err != nil {
		lg.Debug("stream write failed", "err", err)
		return
	}
	// A finished task whose entries were all taken by an earlier consumer
	// would otherwise idle forever.
	if t.Status.Terminal() && ch.Len() == 0 {
		final := event.CompleteEvent()
		if t.Status == task.StatusFailed {
			final = event.FailureEvent(t.Reason)
		}
		_ = out.Send(final)
		return
	}

	for {
		evt, err := sub.Next(ctx, s.heartbeat)
		switch {
		case err == nil:
			if err := out.Send(evt); err != nil {
				lg.Debug("stream write failed", "err", err)
				return
			}
			if evt.EndsStream() {
				lg.Debug("stream finished", "last", string(evt.Type))
				return
			}
		case errors.Is(err, task.ErrIdle):
			if err := out.Heartbeat(); err != nil {
				lg.Debug("heartbeat write failed", "err", err)
				return
			}
		case errors.Is(err, task.ErrRevoked):
			lg.Info("stream taken over by a newer consumer")
			return
		case ctx.Err() != nil:
			lg.Debug("stream client disconnected")
			return
		default:
			lg.Error("stream failed", "err", err)
			out.Abort(err.Error())
			return
		}
	}
}
