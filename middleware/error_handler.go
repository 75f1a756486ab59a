package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"playzone-consent/utils"
)

// ErrorHandler reports errors attached to the gin context once the handler
// chain has finished.
func ErrorHandler(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, ginErr := range c.Errors {
			logger.Error("request failed",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"status", c.Writer.Status(),
				"error", ginErr.Err,
			)
			utils.CaptureError(ginErr.Err, map[string]interface{}{
				"endpoint": c.Request.URL.Path,
				"method":   c.Request.Method,
				"status":   c.Writer.Status(),
			})
		}
	}
}
