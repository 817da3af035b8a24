package auth

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const userIDKey = "auth_user_id"

// RequireAuth enforces a valid bearer token and stores the user id in the
// gin context.
func RequireAuth(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := verify(c, verifier)
		if !ok {
			log.Printf("auth failure: path=%s", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "unauthorized",
			})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// OptionalAuth stores the user id when a valid token is present and lets the
// request through either way. Guest-capable endpoints use this.
func OptionalAuth(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID, ok := verify(c, verifier); ok {
			c.Set(userIDKey, userID)
		}
		c.Next()
	}
}

// UserIDFromContext returns the authenticated user id, 0 when anonymous.
func UserIDFromContext(c *gin.Context) int64 {
	if v, ok := c.Get(userIDKey); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

func verify(c *gin.Context, verifier *Verifier) (int64, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return 0, false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return 0, false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return 0, false
	}
	userID, err := verifier.Verify(token)
	if err != nil {
		return 0, false
	}
	return userID, true
}
