package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAccessToken verifies an access token and injects identity into request context.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return RequireAccessTokenWithClock(m, time.Now)
}

// RequireAccessTokenWithClock is RequireAccessToken with an injectable
// clock for token validation.
func RequireAccessTokenWithClock(m *Manager, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		claims, err := m.Verify(tok, TokenTypeAccess, now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.OrgID, claims.Role)
		c.Request = c.Request.WithContext(ctx)

		// Also store on gin context for handler convenience.
		c.Set("user_id", claims.UserID)
		c.Set("org_id", claims.OrgID)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// IdentityFromRequest returns the claims of a bearer access token when one
// is present and valid. Anonymous or invalid requests return ok=false; the
// caller decides what anonymity means (the webhook hangup path treats it
// as "call not found").
func IdentityFromRequest(m *Manager, r *http.Request, now time.Time) (Claims, bool) {
	raw := strings.TrimSpace(r.Header.Get(authorizationHeader))
	if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
		return Claims{}, false
	}
	claims, err := m.Verify(strings.TrimPrefix(raw, bearerPrefix), TokenTypeAccess, now)
	if err != nil {
		return Claims{}, false
	}
	return claims, true
}
