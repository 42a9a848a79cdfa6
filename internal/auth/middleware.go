package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tollfree-ivr/pkg/logger"
)

// bearerToken extracts the credential from an "Authorization: Bearer <t>" header.
func bearerToken(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// RequireAccessToken authenticates the admin API caller. Role checks live in rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			logger.FromGin(c).Info("admin token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		id := claims.Identity()
		l := logger.FromGin(c).With("user_id", id.UserID, "tenant_id", id.TenantID, "role", id.Role)
		ctx := logger.With(ContextWith(c.Request.Context(), id), l)
		c.Request = c.Request.WithContext(ctx)
		logger.SetGin(c, l)
		c.Next()
	}
}
