package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrSerialization = errors.New("event serialization failed")

// Heartbeat is the SSE comment frame written while a stream is idle.
var Heartbeat = []byte(": heartbeat\n\n")

const degradedMessage = "serialization error"

// Payload builds the client-facing JSON object for e.
func (e Event) Payload() map[string]any {
	out := map[string]any{"type": string(e.Type)}
	switch {
	case e.Type == KindStatus:
		steps := e.Steps
		if steps == nil {
			steps = []StepView{}
		}
		out["status"] = e.Status
		out["steps"] = steps
		if e.Reason != "" {
			out["reason"] = e.Reason
		}
	case e.Type == KindComplete:
	case e.Step != nil:
		out["step"] = *e.Step
		out["result"] = e.Result
	default:
		out["message"] = e.Message
	}
	if len(e.Data) > 0 {
		out["data"] = e.Data
	}
	return out
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Payload())
}

// Encode returns the JSON payload of e. The error wraps ErrSerialization.
func Encode(e Event) ([]byte, error) {
	b, err := json.Marshal(e.Payload())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSerialization, e.Type, err)
	}
	return b, nil
}

// Degraded is the minimal payload sent in place of an event that could not be
// encoded.
func Degraded(e Event) []byte {
	kind := e.Type
	if !kind.Valid() {
		kind = KindError
	}
	b, _ := json.Marshal(map[string]string{"type": string(kind), "message": degradedMessage})
	return b
}

// EncodeOrDegrade never fails. The returned error is non-nil when the degraded
// payload was used.
func EncodeOrDegrade(e Event) (Kind, []byte, error) {
	kind := e.Type
	if !kind.Valid() {
		kind = KindError
	}
	b, err := Encode(e)
	if err != nil {
		return kind, Degraded(e), err
	}
	return kind, b, nil
}

// SSEFrame formats one named server-sent event.
func SSEFrame(kind Kind, data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data) + len(kind) + 16)
	buf.WriteString("event: ")
	buf.WriteString(string(kind))
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes()
}
