// README: Firebase bearer-token auth middleware; exposes the caller's UID to handlers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"handoff/internal/infra"
)

const callerUIDKey = "caller_uid"

func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			abortWithError(c, http.StatusUnauthorized, "Unauthenticated", "missing bearer token")
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil || token == nil || token.UID == "" {
			abortWithError(c, http.StatusUnauthorized, "Unauthenticated", "invalid token")
			return
		}
		c.Set(callerUIDKey, token.UID)
		c.Next()
	}
}

// CallerUID returns the verified Firebase UID, or "" outside Auth.
func CallerUID(c *gin.Context) string {
	return c.GetString(callerUIDKey)
}
