package telephony

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/twilio/twilio-go/client"
)

var ErrBadSignature = errors.New("webhook signature verification failed")

// Authenticator proves a webhook came from the carrier.
type Authenticator interface {
	Authenticate(r *http.Request, body []byte) error
}

// TwilioSignature checks X-Twilio-Signature on form-encoded webhooks.
type TwilioSignature struct {
	validator client.RequestValidator
	// BaseURL is the public scheme://host the carrier calls; when empty it is
	// derived from the request and X-Forwarded-Proto.
	BaseURL string
}

func NewTwilioSignature(authToken, baseURL string) *TwilioSignature {
	return &TwilioSignature{
		validator: client.NewRequestValidator(authToken),
		BaseURL:   strings.TrimRight(baseURL, "/"),
	}
}

func (s *TwilioSignature) Authenticate(r *http.Request, body []byte) error {
	sig := r.Header.Get("X-Twilio-Signature")
	if sig == "" {
		return fmt.Errorf("%w: missing X-Twilio-Signature", ErrBadSignature)
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	params := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	if !s.validator.Validate(s.publicURL(r), params, sig) {
		return ErrBadSignature
	}
	return nil
}

func (s *TwilioSignature) publicURL(r *http.Request) string {
	base := s.BaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
			scheme = p
		}
		base = scheme + "://" + r.Host
	}
	return base + r.URL.RequestURI()
}

// TelnyxSignature checks ed25519-signed JSON webhooks. The signed message is
// "<telnyx-timestamp>|<raw body>".
type TelnyxSignature struct {
	PublicKey ed25519.PublicKey
	Tolerance time.Duration
	Now       func() time.Time
}

// NewTelnyxSignature decodes a base64 ed25519 public key.
func NewTelnyxSignature(publicKeyB64 string) (*TelnyxSignature, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(publicKeyB64))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return &TelnyxSignature{PublicKey: ed25519.PublicKey(raw), Tolerance: 5 * time.Minute, Now: time.Now}, nil
}

func (s *TelnyxSignature) Authenticate(r *http.Request, body []byte) error {
	sigB64 := r.Header.Get("Telnyx-Signature-Ed25519")
	ts := r.Header.Get("Telnyx-Timestamp")
	if sigB64 == "" || ts == "" {
		return fmt.Errorf("%w: missing signature headers", ErrBadSignature)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	if s.Tolerance > 0 {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		skew := now().Sub(time.Unix(unix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > s.Tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
		}
	}
	msg := make([]byte, 0, len(ts)+1+len(body))
	msg = append(msg, ts...)
	msg = append(msg, '|')
	msg = append(msg, body...)
	if !ed25519.Verify(s.PublicKey, msg, sig) {
		return ErrBadSignature
	}
	return nil
}
