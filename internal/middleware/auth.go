package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"musicaltracker/api/internal/models"
	"musicaltracker/api/internal/security"
)

const callerKey = "current_caller"

// Auth resolves the caller from a bearer token issued by the auth service.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server misconfigured"})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		claims, err := security.ParseAccessToken(strings.TrimPrefix(authHeader, "Bearer "), secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		role := models.UserRole(claims.Role)
		if role == "" {
			role = models.UserRoleUser
		}
		c.Set(callerKey, models.Caller{UserID: claims.UserID, Role: role})

		c.Next()
	}
}

// CurrentCaller returns the caller stored by Auth.
func CurrentCaller(c *gin.Context) (models.Caller, bool) {
	val, exists := c.Get(callerKey)
	if !exists {
		return models.Caller{}, false
	}
	caller, ok := val.(models.Caller)
	return caller, ok
}
