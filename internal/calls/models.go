package calls

import "time"

// Session is the per-call IVR state for one tenant-scoped toll-free call.
//
// Multi-tenant invariant: TenantID is set on every session.
// CallID is the carrier-issued id (call_control_id / CallSid) and never changes.
type Session struct {
	CallID   string `json:"call_id"`
	TenantID string `json:"tenant_id"`

	FromNumber string `json:"from_number"`
	ToNumber   string `json:"to_number"`

	State             State  `json:"state"`
	SelectedRoute     string `json:"selected_route,omitempty"`
	InvalidInputCount int    `json:"invalid_input_count"`

	// CapacityKey names the concurrency slot this call holds, if any.
	CapacityKey string `json:"capacity_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession seeds a session in the initial menu state.
func NewSession(callID, tenantID, from, to string, now time.Time) Session {
	now = now.UTC()
	return Session{
		CallID:     callID,
		TenantID:   tenantID,
		FromNumber: from,
		ToNumber:   to,
		State:      StateAwaitingMenuSelection,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

type State string

const (
	StateAwaitingMenuSelection State = "awaiting_menu_selection"
	StateRouting               State = "routing"
	StateConnected             State = "connected"
	StateTerminated            State = "terminated"
)

func (s State) rank() int {
	switch s {
	case StateAwaitingMenuSelection:
		return 0
	case StateRouting:
		return 1
	case StateConnected:
		return 2
	case StateTerminated:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool { return s.rank() >= 0 }

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool { return s == StateTerminated }

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle monotonic.
// Staying in the same state is allowed; terminated only allows itself.
func (s State) CanAdvanceTo(next State) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.IsTerminal() {
		return next == StateTerminated
	}
	return next.rank() >= s.rank()
}
