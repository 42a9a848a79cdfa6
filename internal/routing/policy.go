package routing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	DefaultVoice                = "alice"
	DefaultPromptText           = "Please make your selection."
	DefaultInvalidSelectionText = "Invalid selection. Please try again."
	DefaultNoInputText          = "We didn't receive any input. Goodbye."
	DefaultTransferFailedText   = "The call could not be completed. Please try again later."
	DefaultRetriesExhaustedText = "We're sorry, we were unable to process your selection. Goodbye."
	DefaultUnavailableText      = "We apologize, but we are experiencing technical difficulties. Please try again later."
	DefaultBusyText             = "All of our representatives are currently assisting other callers. Please try again later."
	DefaultRouteMessage         = "Connecting you now."
	DefaultAfterHoursText       = "Thank you for calling. Our office is currently closed. Please call back during business hours."

	DefaultMaxInvalidAttempts   = 3
	DefaultGatherTimeoutSeconds = 10
	DefaultDialTimeoutSeconds   = 30
)

var ErrInvalidPolicy = errors.New("invalid routing policy")

// Policy is a tenant's IVR configuration for one toll-free number. Read-only at runtime.
type Policy struct {
	TenantID string `yaml:"tenant_id" json:"tenant_id"`
	Number   string `yaml:"number" json:"number"`

	Voice    string `yaml:"voice,omitempty" json:"voice,omitempty"`
	Language string `yaml:"language,omitempty" json:"language,omitempty"`

	GreetingText string `yaml:"greeting" json:"greeting"`
	// MenuText lists the options; it is spoken inside the gather so callers can barge in.
	MenuText   string `yaml:"menu_text,omitempty" json:"menu_text,omitempty"`
	PromptText string `yaml:"prompt,omitempty" json:"prompt,omitempty"`

	// Menu maps a single DTMF digit to a route name.
	Menu map[string]string `yaml:"menu" json:"menu"`
	// Extensions maps multi-digit codes to a route name.
	Extensions      map[string]string `yaml:"extensions,omitempty" json:"extensions,omitempty"`
	TransferTargets map[string]string `yaml:"transfer_targets" json:"transfer_targets"`
	RouteMessages   map[string]string `yaml:"route_messages,omitempty" json:"route_messages,omitempty"`

	InvalidSelectionText string `yaml:"invalid_selection,omitempty" json:"invalid_selection,omitempty"`
	NoInputText          string `yaml:"no_input,omitempty" json:"no_input,omitempty"`
	TransferFailedText   string `yaml:"transfer_failed,omitempty" json:"transfer_failed,omitempty"`
	RetriesExhaustedText string `yaml:"retries_exhausted,omitempty" json:"retries_exhausted,omitempty"`
	UnavailableText      string `yaml:"unavailable,omitempty" json:"unavailable,omitempty"`
	BusyText             string `yaml:"busy,omitempty" json:"busy,omitempty"`

	MaxInvalidAttempts   int  `yaml:"max_invalid_attempts,omitempty" json:"max_invalid_attempts,omitempty"`
	GatherTimeoutSeconds int  `yaml:"gather_timeout_seconds,omitempty" json:"gather_timeout_seconds,omitempty"`
	DialTimeoutSeconds   int  `yaml:"dial_timeout_seconds,omitempty" json:"dial_timeout_seconds,omitempty"`
	RecordingDisabled    bool `yaml:"recording_disabled,omitempty" json:"recording_disabled,omitempty"`
	RedirectOnInvalid    bool `yaml:"redirect_on_invalid,omitempty" json:"redirect_on_invalid,omitempty"`
	SpeechEnabled        bool `yaml:"speech_enabled,omitempty" json:"speech_enabled,omitempty"`
	// MaxConcurrentCalls caps simultaneous calls on this number; 0 means unlimited.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls,omitempty" json:"max_concurrent_calls,omitempty"`

	BusinessHours *BusinessHours `yaml:"business_hours,omitempty" json:"business_hours,omitempty"`
}

// WithDefaults returns a copy with every optional field filled.
func (p Policy) WithDefaults() Policy {
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&p.Voice, DefaultVoice)
	fill(&p.PromptText, DefaultPromptText)
	fill(&p.InvalidSelectionText, DefaultInvalidSelectionText)
	fill(&p.NoInputText, DefaultNoInputText)
	fill(&p.TransferFailedText, DefaultTransferFailedText)
	fill(&p.RetriesExhaustedText, DefaultRetriesExhaustedText)
	fill(&p.UnavailableText, DefaultUnavailableText)
	fill(&p.BusyText, DefaultBusyText)
	if p.MaxInvalidAttempts <= 0 {
		p.MaxInvalidAttempts = DefaultMaxInvalidAttempts
	}
	if p.GatherTimeoutSeconds <= 0 {
		p.GatherTimeoutSeconds = DefaultGatherTimeoutSeconds
	}
	if p.DialTimeoutSeconds <= 0 {
		p.DialTimeoutSeconds = DefaultDialTimeoutSeconds
	}
	if p.BusinessHours != nil {
		bh := *p.BusinessHours
		fill(&bh.AfterHoursText, DefaultAfterHoursText)
		p.BusinessHours = &bh
	}
	return p
}

// Validate reports every configuration problem at once.
func (p Policy) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(p.TenantID) == "" {
		add("tenant_id is required")
	}
	if NormalizeNumber(p.Number) == "" {
		add("number is required")
	}
	if strings.TrimSpace(p.GreetingText) == "" {
		add("greeting is required")
	}
	if len(p.Menu) == 0 {
		add("menu must have at least one option")
	}
	for key, route := range p.Menu {
		if len(key) != 1 || key[0] < '0' || key[0] > '9' {
			add("menu key %q must be a single digit", key)
		}
		if strings.TrimSpace(route) == "" {
			add("menu key %q has no route", key)
		} else if strings.TrimSpace(p.TransferTargets[route]) == "" {
			add("route %q has no transfer target", route)
		}
	}
	for code, route := range p.Extensions {
		if len(code) < 2 || strings.Trim(code, "0123456789") != "" {
			add("extension %q must be two or more digits", code)
		}
		if strings.TrimSpace(p.TransferTargets[route]) == "" {
			add("extension %q route %q has no transfer target", code, route)
		}
	}
	if p.MaxInvalidAttempts < 0 || p.GatherTimeoutSeconds < 0 || p.DialTimeoutSeconds < 0 || p.MaxConcurrentCalls < 0 {
		add("limits must not be negative")
	}
	if p.BusinessHours != nil {
		if err := p.BusinessHours.validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w (%s %s): %w", ErrInvalidPolicy, p.TenantID, p.Number, errors.Join(errs...))
}

// RouteForDigits maps DTMF input to a route. An exact extension match wins;
// otherwise the first digit that is a menu key is used and the rest ignored.
func (p Policy) RouteForDigits(digits string) (string, bool) {
	if len(digits) > 1 {
		if route, ok := p.Extensions[digits]; ok {
			return route, true
		}
	}
	for _, r := range digits {
		if route, ok := p.Menu[string(r)]; ok {
			return route, true
		}
	}
	return "", false
}

// RouteForSpeech returns the first route, in menu key order, named in the transcript.
func (p Policy) RouteForSpeech(speech string) (string, bool) {
	speech = strings.ToLower(strings.TrimSpace(speech))
	if speech == "" {
		return "", false
	}
	keys := make([]string, 0, len(p.Menu))
	for k := range p.Menu {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		route := p.Menu[k]
		if route != "" && strings.Contains(speech, strings.ToLower(route)) {
			return route, true
		}
	}
	return "", false
}

// MaxDigits is the gather length: 1 unless extensions need more.
func (p Policy) MaxDigits() int {
	n := 1
	for code := range p.Extensions {
		if len(code) > n {
			n = len(code)
		}
	}
	return n
}

// TransferTarget returns the dial target for route.
func (p Policy) TransferTarget(route string) (string, bool) {
	t := strings.TrimSpace(p.TransferTargets[route])
	return t, t != ""
}

// RouteMessage is what the caller hears before being transferred.
func (p Policy) RouteMessage(route string) string {
	if m := strings.TrimSpace(p.RouteMessages[route]); m != "" {
		return m
	}
	return DefaultRouteMessage
}

// Routes lists the distinct route names in stable order.
func (p Policy) Routes() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range []map[string]string{p.Menu, p.Extensions} {
		for _, r := range m {
			if r != "" && !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	sort.Strings(out)
	return out
}

// IsOpen reports whether calls are taken at t. Policies without hours are always open.
func (p Policy) IsOpen(t time.Time) bool {
	if p.BusinessHours == nil {
		return true
	}
	return p.BusinessHours.contains(t)
}

// AfterHoursText is spoken when a call arrives outside business hours.
func (p Policy) AfterHoursText() string {
	if p.BusinessHours != nil && strings.TrimSpace(p.BusinessHours.AfterHoursText) != "" {
		return p.BusinessHours.AfterHoursText
	}
	return DefaultAfterHoursText
}

func (p Policy) cloneTargets() map[string]string {
	out := make(map[string]string, len(p.TransferTargets))
	for k, v := range p.TransferTargets {
		out[k] = v
	}
	return out
}
