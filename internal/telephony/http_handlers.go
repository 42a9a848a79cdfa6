package telephony

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tollfree-ivr/internal/audit"
	"tollfree-ivr/internal/calls"
	"tollfree-ivr/pkg/logger"
)

const (
	ContentTypeXML      = "text/xml; charset=utf-8"
	defaultMaxBodyBytes = 64 << 10
)

// CallHandler turns a normalized event into call-control instructions. It never fails.
type CallHandler interface {
	HandleEvent(ctx context.Context, ev calls.Event) Response
}

// VoiceWebhookHandler is the carrier-facing HTTP boundary.
//
// Every request that passes authentication is answered 200 with XML, including
// malformed payloads and internal panics. No business logic here.
type VoiceWebhookHandler struct {
	Calls CallHandler

	// FormAuth and JSONAuth are optional; nil skips verification for that encoding.
	FormAuth Authenticator
	JSONAuth Authenticator

	MaxBodyBytes int64
	Now          func() time.Time
}

// HandleEvent serves POST /webhooks/voice; the payload decides the event kind.
func (h VoiceWebhookHandler) HandleEvent(c *gin.Context) { h.serve(c, calls.EventUnknown) }

// HandleMenuInput serves the gather action URL.
func (h VoiceWebhookHandler) HandleMenuInput(c *gin.Context) { h.serve(c, calls.EventInput) }

// HandleGreeting serves the redirect target that replays the menu.
func (h VoiceWebhookHandler) HandleGreeting(c *gin.Context) { h.serve(c, calls.EventInitiated) }

func (h VoiceWebhookHandler) serve(c *gin.Context, hint calls.EventKind) {
	log := logger.FromGin(c)
	defer func() {
		if p := recover(); p != nil {
			log.Error("voice webhook panic", "panic", p)
			c.Data(http.StatusOK, ContentTypeXML, []byte(FallbackXML))
		}
	}()

	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit))
	if err != nil {
		log.Warn("voice webhook body read failed", "err", err)
	}

	contentType := c.GetHeader("Content-Type")
	isJSON := IsJSON(contentType, body)
	auth := h.FormAuth
	if isJSON {
		auth = h.JSONAuth
	}
	if auth != nil {
		if err := auth.Authenticate(c.Request, body); err != nil {
			log.Warn("voice webhook rejected", "err", err)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	ev, err := ParseWebhook(contentType, body, hint, now())
	if err != nil {
		log.Warn("voice webhook payload malformed", "err", err, "kind", ev.Kind.String(), "call_id", ev.CallID)
	}

	if h.Calls == nil {
		log.Error("voice webhook has no call handler")
		c.Data(http.StatusOK, ContentTypeXML, []byte(FallbackXML))
		return
	}

	ctx := audit.WithClientIP(c.Request.Context(), c.ClientIP())
	out, err := Render(h.Calls.HandleEvent(ctx, ev))
	if err != nil {
		log.Error("markup render failed", "err", err, "call_id", ev.CallID)
		out = []byte(FallbackXML)
	}
	c.Data(http.StatusOK, ContentTypeXML, out)
}
