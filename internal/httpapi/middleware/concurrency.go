package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CapConcurrentRequests limits the number of requests in flight, rejecting
// the rest with 429. Used to protect the leader poll loop/log backend from
// a thundering herd of waitForApplied/writes. Lifted verbatim in behavior
// from the teacher's internal/http/middleware/concurrent_requests.go.
func CapConcurrentRequests(maxConcurrent int) gin.HandlerFunc {
	semaphore := make(chan struct{}, maxConcurrent)

	return func(c *gin.Context) {
		select {
		case semaphore <- struct{}{}:
			defer func() { <-semaphore }()
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many concurrent requests",
			})
		}
	}
}
