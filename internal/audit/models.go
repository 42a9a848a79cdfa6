package audit

import "time"

// Event is an immutable, append-only journal record for one call or admin action.
//
// Invariants:
// - Events are never updated or deleted.
// - tenant_id is required for tenancy isolation.
// - journaling is best-effort; call handling never blocks on it.
type Event struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenant_id"`
	Type     EventType `json:"type"`

	CallID string `json:"call_id,omitempty"`
	// State is the session state after the event was handled.
	State  string `json:"state,omitempty"`
	Route  string `json:"route,omitempty"`
	Digits string `json:"digits,omitempty"`

	ActorUserID string `json:"actor_user_id,omitempty"`
	ActorRole   string `json:"actor_role,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	OverrideID  string `json:"override_id,omitempty"`

	Message string `json:"message,omitempty"`
	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypeCallStarted       EventType = "call_started"
	EventTypeRouteSelected     EventType = "route_selected"
	EventTypeInvalidInput      EventType = "invalid_input"
	EventTypeNoInput           EventType = "no_input"
	EventTypeRetriesExhausted  EventType = "retries_exhausted"
	EventTypeCallConnected     EventType = "call_connected"
	EventTypeCallEnded         EventType = "call_ended"
	EventTypeAfterHours        EventType = "after_hours"
	EventTypeCapacityRejected  EventType = "capacity_rejected"
	EventTypePolicyUnavailable EventType = "policy_unavailable"
	EventTypeStoreUnavailable  EventType = "store_unavailable"
	EventTypeOverride          EventType = "route_override"
	EventTypeAdminAction       EventType = "admin_action"
)
