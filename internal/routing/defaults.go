package routing

// DefaultTenantID owns the built-in policies used when no policy source is configured.
const DefaultTenantID = "tetrix_enterprise"

// DefaultPolicies returns the built-in TETRIX configuration for both toll-free numbers.
func DefaultPolicies() []Policy {
	base := Policy{
		TenantID:     DefaultTenantID,
		Voice:        DefaultVoice,
		GreetingText: "Welcome to TETRIX Enterprise Solutions.",
		MenuText:     "Press 1 for sales. Press 2 for support. Press 3 for billing. Press 0 to speak with an operator.",
		PromptText:   DefaultPromptText,
		Menu: map[string]string{
			"1": "sales",
			"2": "support",
			"3": "billing",
			"0": "operator",
		},
		TransferTargets: map[string]string{
			"sales":    "+1-888-804-6762",
			"support":  "+1-800-596-3057",
			"billing":  "+1-888-804-6762",
			"operator": "+1-800-596-3057",
		},
		RouteMessages: map[string]string{
			"sales":    "Thank you for your interest in our sales department. Please hold while we connect you to a sales representative.",
			"support":  "You have reached our technical support team. Please hold while we connect you to a support specialist.",
			"billing":  "You have reached our billing department. Please hold while we connect you to a billing specialist.",
			"operator": "Please hold while we connect you to an operator.",
		},
		NoInputText: "We didn't receive any input. Please call back later. Goodbye.",
	}

	a := base
	a.Number = "+1-800-596-3057"
	b := base
	b.Number = "+1-888-804-6762"
	return []Policy{a, b}
}

// DefaultCatalog builds the catalog of DefaultPolicies.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultPolicies()...)
	if err != nil {
		panic("routing: built-in policies are invalid: " + err.Error())
	}
	return c
}
