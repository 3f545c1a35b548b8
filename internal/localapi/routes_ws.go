package localapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/Avis2912/magnus/internal/event"
	"github.com/Avis2912/magnus/internal/protocol"
	"github.com/Avis2912/magnus/internal/task"
)

const wsWriteTimeout = 5 * time.Second

type wsWriter struct {
	ctx        context.Context
	conn       *websocket.Conn
	seq        uint64
	onDegraded func(event.Kind, error)
}

func (s *wsWriter) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s_%d", prefix, s.seq)
}

func (s *wsWriter) write(msg protocol.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(s.ctx, wsWriteTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, b)
}

func (s *wsWriter) Send(evt event.Event) error {
	kind, data, err := event.EncodeOrDegrade(evt)
	if err != nil && s.onDegraded != nil {
		s.onDegraded(kind, err)
	}
	return s.write(protocol.NewEvent(s.nextID("evt"), string(kind), data))
}

func (s *wsWriter) Heartbeat() error {
	return s.write(protocol.NewHeartbeat(s.nextID("hb")))
}

func (s *wsWriter) Abort(msg string) {
	_ = s.write(protocol.NewError(s.nextID("err"), "STREAM_ERROR", msg))
}

func (s *Server) handleTaskWS(w http.ResponseWriter, r *http.Request, taskID string) {
	t, ch, err := s.deps.Tasks.Snapshot(taskID)
	if errors.Is(err, task.ErrNotFound) {
		respondError(w, http.StatusNotFound, "TASK_NOT_FOUND", "task not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "TASK_LOAD_FAILED", err.Error())
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns()})
	if err != nil {
		s.logger.Warn("websocket accept failed", "task", t.ID, "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "stream ended") }()

	// The client sends nothing; CloseRead cancels ctx once it goes away.
	ctx := conn.CloseRead(r.Context())
	lg := s.logger.With("task", t.ID, "transport", "ws")
	out := &wsWriter{ctx: ctx, conn: conn, onDegraded: func(kind event.Kind, err error) {
		lg.Warn("event sent degraded", "type", string(kind), "err", err)
	}}
	s.pump(ctx, t, ch, out, lg)
}
