package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"triagechat/internal/pkg/jwtutil"
	"triagechat/internal/transport/http/response"
)

const (
	ContextUserIDKey   = "user_id"
	ContextUsernameKey = "username"
)

const bearerPrefix = "Bearer "

// AuthJWT verifies the bearer token and stores the requesting user on the
// gin context. Handlers read it back with UserID.
func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			abortUnauthorized(c, "invalid authorization scheme")
			return
		}

		claims, err := jwtutil.ParseToken(secret, strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix)))
		if err != nil || claims.UserID == 0 {
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextUsernameKey, claims.Username)
		c.Next()
	}
}

func UserID(c *gin.Context) (uint, bool) {
	v, exists := c.Get(ContextUserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id > 0
}

func abortUnauthorized(c *gin.Context, message string) {
	response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, message)
	c.Abort()
}
