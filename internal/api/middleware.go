package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDContextKey = "request_id"
	runIDContextKey     = "run_id"
)

// RequestIDMiddleware checks every request carries a request id.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDContextKey, reqID)
		c.Writer.Header().Set("X-Request-ID", reqID)
		c.Next()
	}
}

func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if rid := GetRequestID(c); rid != "" {
			fields = append(fields, zap.String("request_id", rid))
		}
		if id := GetRunID(c); id != "" {
			fields = append(fields, zap.String("run_id", id))
		}
		if len(c.Errors) != 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		// status polling is frequent
		if c.FullPath() == "/status" || c.FullPath() == "/metrics" {
			logger.Debug("request", fields...)
			return
		}
		logger.Info("request", fields...)
	}
}

func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic caught",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("reqid", GetRequestID(c)),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

func SetRunID(c *gin.Context, runID string) {
	c.Set(runIDContextKey, runID)
}

func GetRunID(c *gin.Context) string {
	if v, ok := c.Get(runIDContextKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDContextKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
