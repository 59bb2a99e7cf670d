package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimit admits at most n requests at once. Waiting requests give
// up when their own context ends.
func ConcurrencyLimit(n int64) gin.HandlerFunc {
	if n <= 0 {
		n = 1
	}
	slots := semaphore.NewWeighted(n)

	return func(c *gin.Context) {
		if err := slots.Acquire(c.Request.Context(), 1); err != nil {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "server busy, try again"})
			return
		}
		defer slots.Release(1)

		c.Next()
	}
}
