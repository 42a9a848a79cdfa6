package ivr

import (
	"context"
	"strings"
	"testing"
	"time"

	"tollfree-ivr/internal/calls"
	"tollfree-ivr/internal/routing"
	"tollfree-ivr/internal/telephony"
)

var testNow = time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC) // Tuesday

func tetrixPolicy(t *testing.T) routing.Policy {
	t.Helper()
	p, err := routing.DefaultCatalog().Resolve(context.Background(), routing.DefaultTenantID, "+18005963057")
	if err != nil {
		t.Fatalf("resolve default policy: %v", err)
	}
	return p
}

func freshSession() calls.Session {
	return calls.NewSession("call-1", routing.DefaultTenantID, "+15551234567", "+18005963057", testNow)
}

func render(t *testing.T, r telephony.Response) string {
	t.Helper()
	b, err := telephony.Render(r)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return string(b)
}

func TestStepInitiatedPlaysMenu(t *testing.T) {
	m := Machine{}
	p := tetrixPolicy(t)
	s := freshSession()

	step := m.Step(s, p, calls.Event{Kind: calls.EventInitiated, CallID: s.CallID}, testNow)
	if step.Outcome != OutcomeMenuPlayed {
		t.Fatalf("expected menu played, got %s", step.Outcome)
	}
	if step.Session.State != calls.StateAwaitingMenuSelection {
		t.Fatalf("expected state unchanged, got %s", step.Session.State)
	}
	if len(step.Response.Verbs) != 4 {
		t.Fatalf("expected say, gather, say, hangup; got %d verbs", len(step.Response.Verbs))
	}
	g, ok := step.Response.Verbs[1].(telephony.Gather)
	if !ok {
		t.Fatalf("expected gather second, got %T", step.Response.Verbs[1])
	}
	if g.NumDigits != 1 || g.Action != DefaultProcessPath || g.Method != "POST" || g.TimeoutSeconds != 10 {
		t.Fatalf("unexpected gather: %+v", g)
	}
	if len(g.Prompts) != 2 || !strings.HasPrefix(g.Prompts[0].Text, "Press 1 for sales") {
		t.Fatalf("unexpected prompts: %+v", g.Prompts)
	}

	out := render(t, step.Response)
	for _, want := range []string{
		`<Say voice="alice">Welcome to TETRIX Enterprise Solutions.</Say>`,
		`<Gather numDigits="1" action="/webhooks/voice/process" method="POST" timeout="10">`,
		`<Say voice="alice">We didn't receive any input. Please call back later. Goodbye.</Say>`,
		`<Hangup/>`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
}

func TestStepMenuDigitsRoute(t *testing.T) {
	m := Machine{}
	p := tetrixPolicy(t)

	cases := []struct {
		digits string
		route  string
		target string
	}{
		{"1", "sales", "+1-888-804-6762"},
		{"2", "support", "+1-800-596-3057"},
		{"3", "billing", "+1-888-804-6762"},
		{"0", "operator", "+1-800-596-3057"},
		{"27", "support", "+1-800-596-3057"},
	}
	for _, tc := range cases {
		t.Run(tc.digits, func(t *testing.T) {
			step := m.Step(freshSession(), p, calls.Event{Kind: calls.EventInput, Digits: tc.digits}, testNow)
			if step.Outcome != OutcomeRouteSelected {
				t.Fatalf("expected route selected, got %s", step.Outcome)
			}
			if step.Session.State != calls.StateRouting || step.Session.SelectedRoute != tc.route {
				t.Fatalf("unexpected session: %+v", step.Session)
			}
			d, ok := step.Response.Verbs[1].(telephony.Dial)
			if !ok {
				t.Fatalf("expected dial second, got %T", step.Response.Verbs[1])
			}
			if d.Number != tc.target || d.TimeoutSeconds != 30 || !d.Record {
				t.Fatalf("unexpected dial: %+v", d)
			}
			if !telephony.HasVerb[telephony.Hangup](step.Response) {
				t.Fatalf("expected trailing hangup")
			}
		})
	}
}

func TestStepInvalidInputUntilExhausted(t *testing.T) {
	m := Machine{}
	p := tetrixPolicy(t)
	s := freshSession()

	for i := 1; i <= p.MaxInvalidAttempts; i++ {
		step := m.Step(s, p, calls.Event{Kind: calls.EventInput, Digits: "9"}, testNow)
		if step.Outcome != OutcomeInvalidInput {
			t.Fatalf("attempt %d: expected invalid input, got %s", i, step.Outcome)
		}
		if step.Session.InvalidInputCount != i || step.Session.State != calls.StateAwaitingMenuSelection {
			t.Fatalf("attempt %d: unexpected session %+v", i, step.Session)
		}
		if !telephony.HasVerb[telephony.Gather](step.Response) {
			t.Fatalf("attempt %d: expected re-gather", i)
		}
		s = step.Session
	}

	step := m.Step(s, p, calls.Event{Kind: calls.EventInput, Digits: "9"}, testNow)
	if step.Outcome != OutcomeRetriesExhausted || step.Session.State != calls.StateTerminated {
		t.Fatalf("expected retries exhausted and terminated, got %s/%s", step.Outcome, step.Session.State)
	}
	if telephony.HasVerb[telephony.Gather](step.Response) {
		t.Fatalf("exhausted response must not gather")
	}
	if first := step.Response.Verbs[0].(telephony.Say); first.Text != routing.DefaultRetriesExhaustedText {
		t.Fatalf("unexpected apology %q", first.Text)
	}
}

func TestStepInvalidInputRedirects(t *testing.T) {
	m := Machine{GreetingPath: "/hooks/greeting"}
	p := tetrixPolicy(t)
	p.RedirectOnInvalid = true

	step := m.Step(freshSession(), p, calls.Event{Kind: calls.EventInput, Digits: "*"}, testNow)
	r, ok := step.Response.Verbs[1].(telephony.Redirect)
	if !ok || r.URL != "/hooks/greeting" || r.Method != "POST" {
		t.Fatalf("expected redirect to greeting, got %+v", step.Response.Verbs)
	}
}

func TestStepNoInputTerminates(t *testing.T) {
	step := Machine{}.Step(freshSession(), tetrixPolicy(t), calls.Event{Kind: calls.EventInput}, testNow)
	if step.Outcome != OutcomeNoInput || step.Session.State != calls.StateTerminated {
		t.Fatalf("expected no input and terminated, got %s/%s", step.Outcome, step.Session.State)
	}
	if len(step.Response.Verbs) != 2 || !telephony.HasVerb[telephony.Hangup](step.Response) {
		t.Fatalf("unexpected response %+v", step.Response.Verbs)
	}
}

func TestStepSpeechRoutes(t *testing.T) {
	p := tetrixPolicy(t)
	p.SpeechEnabled = true

	initiated := Machine{}.Step(freshSession(), p, calls.Event{Kind: calls.EventInitiated}, testNow)
	if g := initiated.Response.Verbs[1].(telephony.Gather); g.Input != "dtmf speech" {
		t.Fatalf("expected speech gather, got %q", g.Input)
	}

	step := Machine{}.Step(freshSession(), p, calls.Event{Kind: calls.EventInput, Speech: "I need Billing please"}, testNow)
	if step.Session.SelectedRoute != "billing" {
		t.Fatalf("expected billing from speech, got %+v", step.Session)
	}
}

func TestStepExtensionsFinishOnPound(t *testing.T) {
	p := tetrixPolicy(t)
	p.Extensions = map[string]string{"2001": "billing"}

	step := Machine{}.Step(freshSession(), p, calls.Event{Kind: calls.EventInitiated}, testNow)
	g := step.Response.Verbs[1].(telephony.Gather)
	if g.NumDigits != 4 || g.FinishOnKey != "#" {
		t.Fatalf("unexpected gather for extensions: %+v", g)
	}
	step = Machine{}.Step(freshSession(), p, calls.Event{Kind: calls.EventInput, Digits: "2001"}, testNow)
	if step.Session.SelectedRoute != "billing" {
		t.Fatalf("expected extension route, got %q", step.Session.SelectedRoute)
	}
}

func TestStepRoutingLifecycle(t *testing.T) {
	m := Machine{}
	p := tetrixPolicy(t)
	s := m.Step(freshSession(), p, calls.Event{Kind: calls.EventInput, Digits: "2"}, testNow).Session

	replay := m.Step(s, p, calls.Event{Kind: calls.EventInput, Digits: "1"}, testNow)
	if replay.Outcome != OutcomeTransferReplayed || replay.Session.SelectedRoute != "support" {
		t.Fatalf("late digit must replay the original transfer, got %s/%q", replay.Outcome, replay.Session.SelectedRoute)
	}
	if d := replay.Response.Verbs[1].(telephony.Dial); d.Number != "+1-800-596-3057" {
		t.Fatalf("unexpected replayed dial %+v", d)
	}

	bridged := m.Step(s, p, calls.Event{Kind: calls.EventBridged}, testNow)
	if bridged.Session.State != calls.StateConnected || !bridged.Response.IsEmpty() {
		t.Fatalf("expected connected with empty response, got %+v", bridged)
	}

	again := m.Step(bridged.Session, p, calls.Event{Kind: calls.EventInitiated}, testNow)
	if again.Outcome != OutcomeIgnored || again.Session.State != calls.StateConnected {
		t.Fatalf("connected must ignore initiated, got %+v", again)
	}

	hung := m.Step(bridged.Session, p, calls.Event{Kind: calls.EventHangup}, testNow)
	if hung.Session.State != calls.StateTerminated || hung.Outcome != OutcomeHungUp {
		t.Fatalf("expected terminated on hangup, got %+v", hung)
	}
}

func TestStepTerminatedIsAbsorbing(t *testing.T) {
	s := freshSession()
	s.State = calls.StateTerminated
	for _, kind := range []calls.EventKind{calls.EventInitiated, calls.EventInput, calls.EventBridged, calls.EventHangup, calls.EventUnknown} {
		step := Machine{}.Step(s, tetrixPolicy(t), calls.Event{Kind: kind, Digits: "1"}, testNow)
		if step.Session.State != calls.StateTerminated {
			t.Fatalf("%s: left terminated", kind)
		}
		if len(step.Response.Verbs) != 1 || !telephony.HasVerb[telephony.Hangup](step.Response) {
			t.Fatalf("%s: expected bare hangup, got %+v", kind, step.Response.Verbs)
		}
	}
}

func TestStepIgnoresBridgedAndUnknownWhileAwaiting(t *testing.T) {
	for _, kind := range []calls.EventKind{calls.EventBridged, calls.EventUnknown} {
		step := Machine{}.Step(freshSession(), tetrixPolicy(t), calls.Event{Kind: kind}, testNow)
		if step.Outcome != OutcomeIgnored || !step.Response.IsEmpty() || step.Session.State != calls.StateAwaitingMenuSelection {
			t.Fatalf("%s: expected no-op, got %+v", kind, step)
		}
	}
}

func TestStepAfterHours(t *testing.T) {
	p := tetrixPolicy(t)
	p.BusinessHours = &routing.BusinessHours{Days: []string{"mon", "tue"}, Open: "09:00", Close: "12:00", AfterHoursText: "We are closed."}

	step := Machine{}.Step(freshSession(), p, calls.Event{Kind: calls.EventInitiated}, testNow)
	if step.Outcome != OutcomeAfterHours || step.Session.State != calls.StateTerminated {
		t.Fatalf("expected after hours, got %s/%s", step.Outcome, step.Session.State)
	}
	if say := step.Response.Verbs[0].(telephony.Say); say.Text != "We are closed." {
		t.Fatalf("unexpected after-hours text %q", say.Text)
	}

	open := testNow.Add(-5 * time.Hour)
	if step := (Machine{}).Step(freshSession(), p, calls.Event{Kind: calls.EventInitiated}, open); step.Outcome != OutcomeMenuPlayed {
		t.Fatalf("expected menu during hours, got %s", step.Outcome)
	}
}

func TestStepMissingTargetFallsBack(t *testing.T) {
	p := tetrixPolicy(t)
	s := freshSession()
	s.State = calls.StateRouting
	s.SelectedRoute = "legal"

	step := Machine{}.Step(s, p, calls.Event{Kind: calls.EventInitiated}, testNow)
	if step.Outcome != OutcomeMisconfigured || step.Session.State != calls.StateTerminated {
		t.Fatalf("expected misconfigured termination, got %+v", step)
	}
	if say := step.Response.Verbs[0].(telephony.Say); say.Text != routing.DefaultUnavailableText {
		t.Fatalf("unexpected fallback text %q", say.Text)
	}
}
