package ivr

import (
	"time"

	"tollfree-ivr/internal/calls"
	"tollfree-ivr/internal/routing"
	"tollfree-ivr/internal/telephony"
)

const (
	DefaultProcessPath  = "/webhooks/voice/process"
	DefaultGreetingPath = "/webhooks/voice/greeting"
)

// Outcome classifies what a step did; it drives journaling and logs.
type Outcome string

const (
	OutcomeMenuPlayed       Outcome = "menu_played"
	OutcomeRouteSelected    Outcome = "route_selected"
	OutcomeInvalidInput     Outcome = "invalid_input"
	OutcomeRetriesExhausted Outcome = "retries_exhausted"
	OutcomeNoInput          Outcome = "no_input"
	OutcomeAfterHours       Outcome = "after_hours"
	OutcomeTransferReplayed Outcome = "transfer_replayed"
	OutcomeConnected        Outcome = "connected"
	OutcomeHungUp           Outcome = "hung_up"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeMisconfigured    Outcome = "misconfigured"
)

// Step is the result of feeding one event to the machine.
type Step struct {
	Session  calls.Session
	Response telephony.Response
	Outcome  Outcome
}

// Machine is the per-call IVR state machine. Step is pure: same inputs, same output.
type Machine struct {
	ProcessPath  string
	GreetingPath string
	// RecordingStatusCallback is attached to transfers when set.
	RecordingStatusCallback string
}

func (m Machine) processPath() string {
	if m.ProcessPath == "" {
		return DefaultProcessPath
	}
	return m.ProcessPath
}

func (m Machine) greetingPath() string {
	if m.GreetingPath == "" {
		return DefaultGreetingPath
	}
	return m.GreetingPath
}

// Step advances s by ev under policy p. now is only used for business hours.
func (m Machine) Step(s calls.Session, p routing.Policy, ev calls.Event, now time.Time) Step {
	if s.State.IsTerminal() {
		return Step{Session: s, Response: HangupResponse(), Outcome: OutcomeIgnored}
	}

	switch ev.Kind {
	case calls.EventHangup:
		s.State = calls.StateTerminated
		return Step{Session: s, Response: HangupResponse(), Outcome: OutcomeHungUp}
	case calls.EventUnknown:
		return Step{Session: s, Outcome: OutcomeIgnored}
	}

	switch s.State {
	case calls.StateAwaitingMenuSelection:
		return m.awaitingMenu(s, p, ev, now)
	case calls.StateRouting:
		return m.routing(s, p, ev)
	case calls.StateConnected:
		return Step{Session: s, Outcome: OutcomeIgnored}
	default:
		return Step{Session: s, Response: HangupResponse(), Outcome: OutcomeIgnored}
	}
}

func (m Machine) awaitingMenu(s calls.Session, p routing.Policy, ev calls.Event, now time.Time) Step {
	switch ev.Kind {
	case calls.EventInitiated:
		if !p.IsOpen(now) {
			s.State = calls.StateTerminated
			return Step{
				Session:  s,
				Response: telephony.NewResponse(say(p, p.AfterHoursText()), telephony.Hangup{}),
				Outcome:  OutcomeAfterHours,
			}
		}
		return Step{Session: s, Response: m.menuResponse(p, p.GreetingText), Outcome: OutcomeMenuPlayed}

	case calls.EventInput:
		if !ev.HasInput() {
			s.State = calls.StateTerminated
			return Step{
				Session:  s,
				Response: telephony.NewResponse(say(p, p.NoInputText), telephony.Hangup{}),
				Outcome:  OutcomeNoInput,
			}
		}

		route, ok := p.RouteForDigits(ev.Digits)
		if !ok && p.SpeechEnabled {
			route, ok = p.RouteForSpeech(ev.Speech)
		}
		if ok {
			s.State = calls.StateRouting
			s.SelectedRoute = route
			return m.transfer(s, p, OutcomeRouteSelected)
		}

		s.InvalidInputCount++
		if s.InvalidInputCount > p.MaxInvalidAttempts {
			s.State = calls.StateTerminated
			return Step{
				Session:  s,
				Response: telephony.NewResponse(say(p, p.RetriesExhaustedText), telephony.Hangup{}),
				Outcome:  OutcomeRetriesExhausted,
			}
		}
		if p.RedirectOnInvalid {
			return Step{
				Session: s,
				Response: telephony.NewResponse(
					say(p, p.InvalidSelectionText),
					telephony.Redirect{URL: m.greetingPath(), Method: "POST"},
				),
				Outcome: OutcomeInvalidInput,
			}
		}
		return Step{Session: s, Response: m.menuResponse(p, p.InvalidSelectionText), Outcome: OutcomeInvalidInput}

	default:
		return Step{Session: s, Outcome: OutcomeIgnored}
	}
}

func (m Machine) routing(s calls.Session, p routing.Policy, ev calls.Event) Step {
	switch ev.Kind {
	case calls.EventBridged:
		s.State = calls.StateConnected
		return Step{Session: s, Outcome: OutcomeConnected}
	case calls.EventInitiated, calls.EventInput:
		// redelivery or a late digit: repeat the transfer, never re-route
		return m.transfer(s, p, OutcomeTransferReplayed)
	default:
		return Step{Session: s, Outcome: OutcomeIgnored}
	}
}

// menuResponse opens with lead (greeting or invalid-selection text), then gathers.
// If the gather times out the carrier falls through to the no-input goodbye.
func (m Machine) menuResponse(p routing.Policy, lead string) telephony.Response {
	g := telephony.Gather{
		NumDigits:      p.MaxDigits(),
		Action:         m.processPath(),
		Method:         "POST",
		TimeoutSeconds: p.GatherTimeoutSeconds,
	}
	if p.MaxDigits() > 1 {
		g.FinishOnKey = "#"
	}
	if p.SpeechEnabled {
		g.Input = "dtmf speech"
	}
	if p.MenuText != "" {
		g.Prompts = append(g.Prompts, say(p, p.MenuText))
	}
	g.Prompts = append(g.Prompts, say(p, p.PromptText))

	return telephony.NewResponse(
		say(p, lead),
		g,
		say(p, p.NoInputText),
		telephony.Hangup{},
	)
}

func (m Machine) transfer(s calls.Session, p routing.Policy, outcome Outcome) Step {
	target, ok := p.TransferTarget(s.SelectedRoute)
	if !ok {
		s.State = calls.StateTerminated
		return Step{Session: s, Response: FallbackResponse(p), Outcome: OutcomeMisconfigured}
	}
	return Step{
		Session: s,
		Response: telephony.NewResponse(
			say(p, p.RouteMessage(s.SelectedRoute)),
			telephony.Dial{
				Number:                  target,
				TimeoutSeconds:          p.DialTimeoutSeconds,
				Record:                  !p.RecordingDisabled,
				RecordingStatusCallback: m.RecordingStatusCallback,
			},
			say(p, p.TransferFailedText),
			telephony.Hangup{},
		),
		Outcome: outcome,
	}
}

func say(p routing.Policy, text string) telephony.Say {
	return telephony.Say{Text: text, Voice: p.Voice, Language: p.Language}
}

// HangupResponse is the minimal end-call document.
func HangupResponse() telephony.Response {
	return telephony.NewResponse(telephony.Hangup{})
}

// FallbackResponse apologizes and hangs up, using the policy's voice and wording when known.
func FallbackResponse(p routing.Policy) telephony.Response {
	p = p.WithDefaults()
	return telephony.NewResponse(say(p, p.UnavailableText), telephony.Hangup{})
}

// BusyResponse is played when the number's concurrent-call cap is reached.
func BusyResponse(p routing.Policy) telephony.Response {
	p = p.WithDefaults()
	return telephony.NewResponse(say(p, p.BusyText), telephony.Hangup{})
}
