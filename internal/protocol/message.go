package protocol

import "encoding/json"

const (
	TypeEvent     = "event"
	TypeHeartbeat = "heartbeat"
	TypeError     = "error"
)

// Message is the frame sent on a task's websocket stream. Op carries the
// stream event name for event frames.
type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
	Error   *ErrPayload     `json:"error,omitempty"`
}

type ErrPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewEvent(id, op string, payload []byte) Message {
	return Message{ID: id, Type: TypeEvent, Op: op, Payload: json.RawMessage(payload)}
}

func NewHeartbeat(id string) Message {
	return Message{ID: id, Type: TypeHeartbeat, Payload: json.RawMessage(`{}`)}
}

func NewError(id, code, msg string) Message {
	return Message{ID: id, Type: TypeError, Payload: json.RawMessage(`{}`), Error: &ErrPayload{Code: code, Message: msg}}
}
