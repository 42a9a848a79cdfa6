package telephony

import (
	"strconv"
	"strings"
)

// Verb is one call-control instruction. The set is closed; Render knows every verb.
type Verb interface {
	render(w *markupWriter, depth int) error
}

// Response is an ordered list of verbs for a single webhook reply.
type Response struct {
	Verbs []Verb
}

func NewResponse(verbs ...Verb) Response { return Response{Verbs: verbs} }

// Add appends verbs and returns the response for chaining.
func (r *Response) Add(verbs ...Verb) *Response {
	r.Verbs = append(r.Verbs, verbs...)
	return r
}

// IsEmpty reports whether the response carries no instructions.
func (r Response) IsEmpty() bool { return len(r.Verbs) == 0 }

// HasVerb reports whether a verb of the same concrete type as v is present at the top level.
func HasVerb[T Verb](r Response) bool {
	for _, v := range r.Verbs {
		if _, ok := v.(T); ok {
			return true
		}
	}
	return false
}

// Say speaks text.
type Say struct {
	Text     string
	Voice    string
	Language string
	Loop     int
}

// Gather collects DTMF (and optionally speech) and posts it to Action.
type Gather struct {
	NumDigits      int
	TimeoutSeconds int
	Action         string
	Method         string
	// Input is "dtmf", "speech" or "dtmf speech"; empty leaves the carrier default.
	Input       string
	FinishOnKey string
	Prompts     []Say
}

// Dial transfers the call. Targets starting with "sip:" are dialed as SIP URIs.
type Dial struct {
	Number                  string
	TimeoutSeconds          int
	Record                  bool
	Action                  string
	RecordingStatusCallback string
}

// Redirect hands control to another webhook URL.
type Redirect struct {
	URL    string
	Method string
}

// Hangup ends the call.
type Hangup struct{}

func (s Say) attrs() []attr {
	a := []attr{{"voice", s.Voice}, {"language", s.Language}}
	if s.Loop > 1 {
		a = append(a, attr{"loop", strconv.Itoa(s.Loop)})
	}
	return a
}

func (s Say) render(w *markupWriter, depth int) error {
	if strings.TrimSpace(s.Text) == "" {
		return errVerb("Say", "text is required")
	}
	w.element(depth, "Say", s.attrs(), s.Text)
	return nil
}

func (g Gather) render(w *markupWriter, depth int) error {
	if strings.TrimSpace(g.Action) == "" {
		return errVerb("Gather", "action is required")
	}
	if g.NumDigits < 0 || g.TimeoutSeconds < 0 {
		return errVerb("Gather", "limits must not be negative")
	}
	a := []attr{}
	if g.NumDigits > 0 {
		a = append(a, attr{"numDigits", strconv.Itoa(g.NumDigits)})
	}
	a = append(a, attr{"action", g.Action}, attr{"method", g.Method})
	if g.TimeoutSeconds > 0 {
		a = append(a, attr{"timeout", strconv.Itoa(g.TimeoutSeconds)})
	}
	a = append(a, attr{"input", g.Input}, attr{"finishOnKey", g.FinishOnKey})

	if len(g.Prompts) == 0 {
		w.empty(depth, "Gather", a)
		return nil
	}
	w.open(depth, "Gather", a)
	for _, p := range g.Prompts {
		if err := p.render(w, depth+1); err != nil {
			return err
		}
	}
	w.close(depth, "Gather")
	return nil
}

func (d Dial) render(w *markupWriter, depth int) error {
	target := strings.TrimSpace(d.Number)
	if target == "" {
		return errVerb("Dial", "number is required")
	}
	a := []attr{}
	if d.TimeoutSeconds > 0 {
		a = append(a, attr{"timeout", strconv.Itoa(d.TimeoutSeconds)})
	}
	if d.Record {
		a = append(a, attr{"record", "record-from-answer"})
	}
	a = append(a, attr{"action", d.Action}, attr{"recordingStatusCallback", d.RecordingStatusCallback})

	w.open(depth, "Dial", a)
	if strings.HasPrefix(strings.ToLower(target), "sip:") {
		w.element(depth+1, "Sip", nil, target)
	} else {
		w.element(depth+1, "Number", nil, target)
	}
	w.close(depth, "Dial")
	return nil
}

func (r Redirect) render(w *markupWriter, depth int) error {
	if strings.TrimSpace(r.URL) == "" {
		return errVerb("Redirect", "url is required")
	}
	w.element(depth, "Redirect", []attr{{"method", r.Method}}, r.URL)
	return nil
}

func (Hangup) render(w *markupWriter, depth int) error {
	w.empty(depth, "Hangup", nil)
	return nil
}
