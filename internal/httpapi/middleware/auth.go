package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const UserIDKey = "user_id"

// TokenVerifier turns a bearer access token into a user id.
type TokenVerifier interface {
	VerifyAccess(token string) (string, error)
}

// OptionalAuth sets UserIDKey when a valid bearer token is present and
// leaves the request anonymous otherwise. Handlers decide what an anonymous
// caller may see.
func OptionalAuth(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			c.Next()
			return
		}
		tok := BearerToken(c)
		if tok != "" {
			if uid, err := v.VerifyAccess(tok); err == nil && uid != "" {
				c.Set(UserIDKey, uid)
			}
		}
		c.Next()
	}
}

func BearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
