package middleware

import (
	"strconv"
	"time"

	"socialchat/internal/metrics"
	"socialchat/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs each request and records it in the HTTP metrics.
// Long-poll GETs are logged at debug level since they arrive continuously.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(duration.Seconds())

		entry := logger.WithFields(map[string]interface{}{
			"method":      c.Request.Method,
			"route":       route,
			"status":      status,
			"duration_ms": duration.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"user_id":     c.GetString(ContextUserID),
		})
		switch {
		case status >= 500:
			entry.Error("Request failed")
		case route == "/socket/poll/:sid" || route == "/health":
			entry.Debug("Request handled")
		default:
			entry.Info("Request handled")
		}
	}
}
