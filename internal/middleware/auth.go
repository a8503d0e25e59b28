package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HostIDKey is the gin context key holding the authenticated host id.
const HostIDKey = "host_id"

// TokenValidator resolves a bearer token to a host id.
type TokenValidator interface {
	ValidateToken(token string) (uint, error)
}

// JWTAuth rejects requests without a valid bearer token and stores the host id
// under HostIDKey.
func JWTAuth(auth TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c, "bearer token required")
			return
		}
		hostID, err := auth.ValidateToken(token)
		if err != nil {
			_ = c.Error(err)
			unauthorized(c, "invalid or expired token")
			return
		}
		c.Set(HostIDKey, hostID)
		c.Next()
	}
}

// HostID returns the host id stored by JWTAuth, zero when absent.
func HostID(c *gin.Context) uint {
	return c.GetUint(HostIDKey)
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", `Bearer realm="quiz"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
