package event

// Kind names an event type on the task stream. The same names are used for
// step types in the task record and for SSE event names.
type Kind string

const (
	KindStatus   Kind = "status"
	KindLog      Kind = "log"
	KindThink    Kind = "think"
	KindTool     Kind = "tool"
	KindAct      Kind = "act"
	KindError    Kind = "error"
	KindResult   Kind = "result"
	KindComplete Kind = "complete"
)

var knownKinds = map[Kind]struct{}{
	KindStatus:   {},
	KindLog:      {},
	KindThink:    {},
	KindTool:     {},
	KindAct:      {},
	KindError:    {},
	KindResult:   {},
	KindComplete: {},
}

// Valid reports whether k is one of the stream event names.
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// StepView is the wire shape of one recorded step.
type StepView struct {
	Step   int    `json:"step"`
	Result string `json:"result"`
	Type   Kind   `json:"type"`
}

// Event is one entry of a task's event channel.
//
// Step entries carry Step and Result, status entries carry Status and Steps,
// terminal error entries carry Message. Data holds extra attributes of
// pre-typed events and is passed through to the client as is.
type Event struct {
	Type    Kind
	Step    *int
	Result  string
	Status  string
	Reason  string
	Steps   []StepView
	Message string
	Data    map[string]any

	// Terminal marks the last entry a task will ever push.
	Terminal bool
}

func StepEvent(kind Kind, seq int, result string) Event {
	s := seq
	return Event{Type: kind, Step: &s, Result: result}
}

func StatusEvent(status, reason string, steps []StepView) Event {
	if steps == nil {
		steps = []StepView{}
	}
	return Event{Type: KindStatus, Status: status, Reason: reason, Steps: steps}
}

func CompleteEvent() Event {
	return Event{Type: KindComplete, Terminal: true}
}

func FailureEvent(message string) Event {
	return Event{Type: KindError, Message: message, Terminal: true}
}

// EndsStream reports whether a stream consumer should stop after relaying e.
func (e Event) EndsStream() bool {
	return e.Terminal || e.Type == KindComplete
}
