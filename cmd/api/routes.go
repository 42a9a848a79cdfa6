package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tollfree-ivr/internal/auth"
	"tollfree-ivr/internal/httpapi"
	"tollfree-ivr/internal/rbac"
	"tollfree-ivr/internal/telephony"
	"tollfree-ivr/pkg/utils"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d *deps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx := c.Request.Context()
		if d.db != nil {
			if err := utils.HealthCheck(ctx, d.db, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "postgres unavailable"})
				return
			}
		}
		if d.rdb != nil {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := d.rdb.Ping(ctx).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Carrier webhooks (public; optionally signature-checked).
	{
		h := telephony.VoiceWebhookHandler{Calls: d.calls, FormAuth: d.formAuth, JSONAuth: d.jsonAuth}
		voice := r.Group("/webhooks/voice")
		voice.POST("", h.HandleEvent)
		voice.POST("/process", h.HandleMenuInput)
		voice.POST("/greeting", h.HandleGreeting)
	}

	h := httpapi.Handlers{
		Auth:      d.auth,
		Sessions:  d.sessions,
		Policies:  d.policies,
		Overrides: d.overrides,
		Journal:   d.journal,
		Reports:   d.reports,
	}

	// token refresh is unauthenticated; the refresh token is the credential
	r.POST("/v1/auth/refresh", h.Refresh)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth))
	v1.Use(rbac.RequireTenant())
	{
		v1.GET("/me", func(c *gin.Context) {
			id, _ := auth.IdentityFrom(c.Request.Context())
			c.JSON(http.StatusOK, id)
		})

		readers := []string{rbac.RoleTenantAdmin, rbac.RoleOperator, rbac.RoleAnalyst}

		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleTenantAdmin, rbac.RoleOperator))
		{
			calls.GET("/:call_id", h.GetCall)
			calls.GET("/:call_id/events", h.CallEvents)
		}

		v1.GET("/policies/:number", rbac.RequireAnyRole(readers...), h.GetPolicy)
		v1.GET("/reports/summary", rbac.RequireAnyRole(readers...), h.Summary)

		// Hidden network_operator may reroute during carrier incidents.
		v1.POST("/overrides", rbac.RequireAnyRole(rbac.RoleTenantAdmin, rbac.RoleNetworkOperator), h.CreateOverride)
	}
}
