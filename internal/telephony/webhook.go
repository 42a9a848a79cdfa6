package telephony

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"time"

	"tollfree-ivr/internal/calls"
)

var ErrMalformedPayload = errors.New("malformed webhook payload")

// jsonWebhook accepts three shapes:
//   - {"event_type": "...", "data": {"call_control_id": ...}}
//   - {"data": {"event_type": "...", "payload": {"call_control_id": ...}}}
//   - the flat legacy {"eventType": "...", "callControlId": ...}
type jsonWebhook struct {
	EventType     string    `json:"event_type"`
	EventTypeFlat string    `json:"eventType"`
	Data          *jsonCall `json:"data"`
	jsonCall
}

type jsonCall struct {
	EventType string    `json:"event_type"`
	Payload   *jsonCall `json:"payload"`

	CallControlID      string `json:"call_control_id"`
	CallControlIDCamel string `json:"callControlId"`
	TenantID           string `json:"tenantId"`
	TenantIDSnake      string `json:"tenant_id"`
	From               string `json:"from"`
	To                 string `json:"to"`
	DTMF               string `json:"dtmf"`
	Digits             string `json:"digits"`
	Speech             string `json:"speech"`
	State              string `json:"state"`
	Timestamp          string `json:"timestamp"`
	OccurredAt         string `json:"occurred_at"`
}

func (c *jsonCall) merge(o *jsonCall) {
	if o == nil {
		return
	}
	pick := func(dst *string, vals ...string) {
		if *dst != "" {
			return
		}
		for _, v := range vals {
			if v != "" {
				*dst = v
				return
			}
		}
	}
	pick(&c.EventType, o.EventType)
	pick(&c.CallControlID, o.CallControlID, o.CallControlIDCamel)
	pick(&c.TenantID, o.TenantID, o.TenantIDSnake)
	pick(&c.From, o.From)
	pick(&c.To, o.To)
	pick(&c.DTMF, o.DTMF, o.Digits)
	pick(&c.Speech, o.Speech)
	pick(&c.State, o.State)
	pick(&c.Timestamp, o.Timestamp, o.OccurredAt)
	c.merge(o.Payload)
}

// IsJSON reports whether a webhook body should be decoded as JSON.
func IsJSON(contentType string, body []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if mt == "application/json" || strings.HasSuffix(mt, "+json") {
			return true
		}
		if mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data" {
			return false
		}
	}
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("{"))
}

// ParseWebhook normalizes a carrier webhook. hint is the event kind implied by
// the endpoint; it is used when the payload does not say.
//
// A malformed or partial payload still yields a best-effort event alongside
// ErrMalformedPayload so the caller can answer with sensible defaults.
func ParseWebhook(contentType string, body []byte, hint calls.EventKind, now time.Time) (calls.Event, error) {
	if IsJSON(contentType, body) {
		return parseJSON(body, hint, now)
	}
	return parseForm(body, hint, now)
}

func parseJSON(body []byte, hint calls.EventKind, now time.Time) (calls.Event, error) {
	ev := calls.Event{Kind: hint, OccurredAt: now.UTC(), Source: "json"}

	var w jsonWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var c jsonCall
	c.EventType = firstNonEmpty(w.EventType, w.EventTypeFlat)
	c.merge(w.Data)
	c.merge(&w.jsonCall)

	if c.EventType != "" {
		ev.Kind = kindFromEventType(c.EventType)
	}
	ev.CallID = strings.TrimSpace(c.CallControlID)
	ev.TenantID = strings.TrimSpace(c.TenantID)
	ev.From = normalizePhone(c.From)
	ev.To = normalizePhone(c.To)
	ev.Digits = normalizeDigits(c.DTMF)
	ev.Speech = strings.TrimSpace(c.Speech)
	ev.CallStatus = c.State
	if ts, ok := parseTimestamp(c.Timestamp); ok {
		ev.OccurredAt = ts
	}

	if ev.CallID == "" {
		return ev, fmt.Errorf("%w: missing call_control_id", ErrMalformedPayload)
	}
	return ev, nil
}

var terminalCallStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

func parseForm(body []byte, hint calls.EventKind, now time.Time) (calls.Event, error) {
	ev := calls.Event{Kind: hint, OccurredAt: now.UTC(), Source: "form"}

	form, perr := url.ParseQuery(string(body))
	// ParseQuery keeps every pair it could decode, so carry on with what we have.
	ev.CallID = strings.TrimSpace(form.Get("CallSid"))
	ev.TenantID = strings.TrimSpace(firstNonEmpty(form.Get("TenantId"), form.Get("tenantId")))
	ev.From = normalizePhone(form.Get("From"))
	ev.To = normalizePhone(form.Get("To"))
	ev.Digits = normalizeDigits(form.Get("Digits"))
	ev.Speech = strings.TrimSpace(form.Get("SpeechResult"))
	ev.CallStatus = strings.ToLower(strings.TrimSpace(form.Get("CallStatus")))
	if ts, ok := parseTimestamp(form.Get("Timestamp")); ok {
		ev.OccurredAt = ts
	}

	_, hasDigits := form["Digits"]
	_, hasSpeech := form["SpeechResult"]
	switch {
	case terminalCallStatuses[ev.CallStatus]:
		ev.Kind = calls.EventHangup
	case hint != calls.EventUnknown:
		ev.Kind = hint
	case hasDigits || hasSpeech:
		ev.Kind = calls.EventInput
	default:
		ev.Kind = calls.EventInitiated
	}

	if perr != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedPayload, perr)
	}
	if ev.CallID == "" {
		return ev, fmt.Errorf("%w: missing CallSid", ErrMalformedPayload)
	}
	return ev, nil
}

func kindFromEventType(t string) calls.EventKind {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "call.initiated":
		return calls.EventInitiated
	case "call.input", "call.gather.ended", "call.dtmf.received":
		return calls.EventInput
	case "call.bridged":
		return calls.EventBridged
	case "call.hangup":
		return calls.EventHangup
	default:
		return calls.EventUnknown
	}
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func normalizePhone(s string) string {
	// Carriers sometimes send "anonymous" or empty; keep as-is.
	return strings.TrimSpace(s)
}

// normalizeDigits keeps DTMF symbols only.
func normalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '*' || r == '#' {
			return r
		}
		return -1
	}, s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
