package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const RequestIDKey = "request_id"

// Middleware attaches a request-scoped logger to the request context and logs
// one line per request once the handler chain has finished.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		l := log
		if rid := c.GetString(RequestIDKey); rid != "" {
			l = l.With(zap.String("request_id", rid))
		}
		c.Request = c.Request.WithContext(WithContext(c.Request.Context(), l))

		c.Next()

		l.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
