package rbac

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"tollfree-ivr/internal/auth"
	"tollfree-ivr/pkg/logger"
)

type scopeKey struct{}

// Scope returns the tenant a request acts on, as resolved by RequireTenant.
func Scope(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(scopeKey{}).(string)
	return s, ok && s != ""
}

// WithScope pins the acting tenant on ctx.
func WithScope(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, scopeKey{}, tenantID)
}

// RequireTenant resolves the tenant a request acts on. It is the caller's own
// tenant unless a super_admin names another with ?tenant_id=.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.IdentityFrom(c.Request.Context())
		if !ok || id.TenantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
			return
		}
		scope := id.TenantID
		if q := c.Query("tenant_id"); q != "" && q != scope {
			if !IsSuperAdmin(id.Role) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
			logger.FromGin(c).Info("cross-tenant request", "scope_tenant_id", q)
			scope = q
		}
		c.Request = c.Request.WithContext(WithScope(c.Request.Context(), scope))
		c.Next()
	}
}

// RequireAnyRole passes callers holding one of allowed. super_admin always
// passes; hidden roles pass only when listed.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	set := make(map[string]bool, len(allowed))
	for _, r := range allowed {
		set[r] = true
	}
	return func(c *gin.Context) {
		id, ok := auth.IdentityFrom(c.Request.Context())
		switch {
		case !ok || id.Role == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
		case IsSuperAdmin(id.Role) || set[id.Role]:
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		}
	}
}
