package middleware

import (
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"go.uber.org/zap"
	"time"
)

const (
	LoggerKey       = "logger"
	RequestIDHeader = "X-Request-ID"
)

// LoggingMiddleware attaches a request-scoped logger under LoggerKey and logs
// each request once it completes.
func LoggingMiddleware(log *zap.Logger) ginext.HandlerFunc {
	return func(c *ginext.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		reqLog := log.With(zap.String("request_id", requestID))
		c.Set(LoggerKey, reqLog)

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= 500 {
			reqLog.Warn("Request handled", fields...)
			return
		}
		reqLog.Info("Request handled", fields...)
	}
}
