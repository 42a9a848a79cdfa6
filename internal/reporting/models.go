package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SummaryRequest asks for IVR outcome counts over [From, To).
// Tenant isolation: TenantID is required.
type SummaryRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`
}

// RouteCount is the number of callers who selected a route.
type RouteCount struct {
	Route string `json:"route"`
	Calls int    `json:"calls"`
}

type CallSummary struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`

	CallsStarted     int `json:"calls_started"`
	Routed           int `json:"routed"`
	Connected        int `json:"connected"`
	Completed        int `json:"completed"`
	InvalidInputs    int `json:"invalid_inputs"`
	NoInput          int `json:"no_input"`
	RetriesExhausted int `json:"retries_exhausted"`
	AfterHours       int `json:"after_hours"`
	CapacityRejected int `json:"capacity_rejected"`
	// Failures counts calls that got the technical-difficulties fallback.
	Failures      int `json:"failures"`
	OverridesUsed int `json:"overrides_used"`

	Routes []RouteCount `json:"routes"`

	// RoutedRate is Routed / CallsStarted.
	RoutedRate float64 `json:"routed_rate"`
}
