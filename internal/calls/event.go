package calls

import "time"

// EventKind is the normalized call-lifecycle event type.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventInitiated
	EventInput
	EventBridged
	EventHangup
)

func (k EventKind) String() string {
	switch k {
	case EventInitiated:
		return "call.initiated"
	case EventInput:
		return "call.input"
	case EventBridged:
		return "call.bridged"
	case EventHangup:
		return "call.hangup"
	default:
		return "unknown"
	}
}

// Event is a carrier webhook reduced to what the IVR needs.
type Event struct {
	Kind     EventKind
	CallID   string
	TenantID string

	From string
	To   string

	// Digits holds DTMF input; empty means the caller entered nothing.
	Digits string
	// Speech holds a speech recognition transcript, when the carrier sends one.
	Speech string

	CallStatus string
	OccurredAt time.Time

	// Source is "json" or "form".
	Source string
}

// HasInput reports whether the caller entered digits or spoke.
func (e Event) HasInput() bool { return e.Digits != "" || e.Speech != "" }
