package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tollfree-ivr/internal/audit"
	"tollfree-ivr/internal/auth"
	"tollfree-ivr/internal/rbac"
	"tollfree-ivr/internal/reporting"
	"tollfree-ivr/internal/routing"
	"tollfree-ivr/internal/session"
	"tollfree-ivr/pkg/logger"
)

// Handlers groups the admin API handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Sessions  session.Store
	Policies  routing.Resolver
	Overrides *routing.OverrideEngine
	Journal   *audit.Service
	Reports   *reporting.Service
	Now       func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// tenantScope is the tenant resolved by rbac.RequireTenant.
func tenantScope(c *gin.Context) (string, bool) {
	tid, ok := rbac.Scope(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return "", false
	}
	return tid, true
}

// --- Auth ---

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Role         string `json:"role"`
}

// Refresh exchanges a refresh token for a new pair. Refresh tokens carry no
// role, so the caller restates it; tokens are minted by ivrctl.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.RefreshToken == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token, role required"})
		return
	}
	if !rbac.Known(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.Refresh(h.now(), req.RefreshToken, req.Role)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Calls ---

// GetCall returns the live session of a call owned by the caller's tenant.
func (h Handlers) GetCall(c *gin.Context) {
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session store not configured"})
		return
	}
	tenantID, ok := tenantScope(c)
	if !ok {
		return
	}
	s, err := h.Sessions.Get(c.Request.Context(), c.Param("call_id"))
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	case err != nil:
		logger.FromGin(c).Error("session lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
		return
	}
	// other tenants' calls do not exist as far as this caller knows
	if s.TenantID != tenantID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// CallEvents returns a call's journal, including override use.
func (h Handlers) CallEvents(c *gin.Context) {
	if h.Journal == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "journal not configured"})
		return
	}
	tenantID, ok := tenantScope(c)
	if !ok {
		return
	}
	events, err := h.Journal.CallEvents(c.Request.Context(), tenantID, c.Param("call_id"))
	if err != nil {
		if errors.Is(err, audit.ErrNotListable) {
			c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "journal is write-only"})
			return
		}
		logger.FromGin(c).Error("journal lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "journal lookup failed"})
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"call_id": c.Param("call_id"), "events": events})
}

// --- Policies ---

func (h Handlers) GetPolicy(c *gin.Context) {
	if h.Policies == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "policy source not configured"})
		return
	}
	tenantID, ok := tenantScope(c)
	if !ok {
		return
	}
	p, err := h.Policies.Resolve(c.Request.Context(), tenantID, c.Param("number"))
	switch {
	case errors.Is(err, routing.ErrPolicyNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no policy for number"})
		return
	case err != nil:
		logger.FromGin(c).Error("policy lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "policy source unavailable"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// --- Overrides ---

type createOverrideRequest struct {
	Number    string    `json:"number,omitempty"`
	Route     string    `json:"route"`
	ConnectTo string    `json:"connect_to"`
	ExpiresAt time.Time `json:"expires_at"`
	// TTLMinutes is an alternative to ExpiresAt.
	TTLMinutes int    `json:"ttl_minutes,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// CreateOverride installs a time-bounded route override.
// RBAC: tenant_admin, network_operator or super_admin.
func (h Handlers) CreateOverride(c *gin.Context) {
	if h.Overrides == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "overrides not configured"})
		return
	}
	tenantID, ok := tenantScope(c)
	if !ok {
		return
	}
	caller, _ := auth.IdentityFrom(c.Request.Context())

	var req createOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ExpiresAt.IsZero() && req.TTLMinutes > 0 {
		req.ExpiresAt = h.now().Add(time.Duration(req.TTLMinutes) * time.Minute)
	}
	if req.Number != "" && h.Policies != nil {
		// the route must exist on that number for this tenant
		p, err := h.Policies.Resolve(c.Request.Context(), tenantID, req.Number)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown number"})
			return
		}
		if _, ok := p.TransferTarget(req.Route); !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown route"})
			return
		}
	}

	o, err := h.Overrides.Create(c.Request.Context(), routing.RouteOverride{
		TenantID:  tenantID,
		Number:    req.Number,
		Route:     req.Route,
		ConnectTo: req.ConnectTo,
		ExpiresAt: req.ExpiresAt,
		Reason:    req.Reason,
		CreatedBy: caller.UserID,
	})
	if err != nil {
		if errors.Is(err, routing.ErrInvalidOverride) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromGin(c).Error("override create failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "override create failed"})
		return
	}

	if h.Journal != nil {
		meta := fmt.Sprintf(`{"override_id":%q,"route":%q,"expires_at":%q}`, o.ID, o.Route, o.ExpiresAt.Format(time.RFC3339))
		if err := h.Journal.LogAdminAction(c.Request.Context(), tenantID, caller.UserID, caller.Role, "route override created", meta); err != nil {
			logger.FromGin(c).Warn("journal admin action", "err", err)
		}
	}
	c.JSON(http.StatusCreated, o)
}

// --- Reports ---

// Summary reports IVR outcomes over ?from=&to= (RFC 3339); the default window is the last 24h.
func (h Handlers) Summary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	tenantID, ok := tenantScope(c)
	if !ok {
		return
	}
	to := h.now().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
	}

	out, err := h.Reports.Summary(c.Request.Context(), reporting.SummaryRequest{
		TenantID: tenantID,
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		logger.FromGin(c).Error("summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}
