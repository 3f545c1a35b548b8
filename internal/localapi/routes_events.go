package localapi

import (
	"errors"
	"net/http"

	"github.com/Avis2912/magnus/internal/event"
	"github.com/Avis2912/magnus/internal/task"
)

type sseWriter struct {
	w          http.ResponseWriter
	flusher    http.Flusher
	onDegraded func(event.Kind, error)
}

func (s *sseWriter) write(b []byte) error {
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) Send(evt event.Event) error {
	kind, data, err := event.EncodeOrDegrade(evt)
	if err != nil && s.onDegraded != nil {
		s.onDegraded(kind, err)
	}
	return s.write(event.SSEFrame(kind, data))
}

func (s *sseWriter) Heartbeat() error {
	return s.write(event.Heartbeat)
}

func (s *sseWriter) Abort(msg string) {
	_, data, _ := event.EncodeOrDegrade(event.FailureEvent(msg))
	_ = s.write(event.SSEFrame(event.KindError, data))
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request, taskID string) {
	t, ch, err := s.deps.Tasks.Snapshot(taskID)
	if errors.Is(err, task.ErrNotFound) {
		respondError(w, http.StatusNotFound, "TASK_NOT_FOUND", "task not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "TASK_LOAD_FAILED", err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming is not supported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	lg := s.logger.With("task", t.ID, "transport", "sse")
	out := &sseWriter{w: w, flusher: flusher, onDegraded: func(kind event.Kind, err error) {
		lg.Warn("event sent degraded", "type", string(kind), "err", err)
	}}
	s.pump(r.Context(), t, ch, out, lg)
}
