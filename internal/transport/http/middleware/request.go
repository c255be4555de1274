package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"triagechat/internal/pkg/logger"
)

const (
	HeaderRequestID     = "X-Request-ID"
	ContextRequestIDKey = "request_id"
)

// RequestID reuses an incoming X-Request-ID or mints a new one, and echoes it
// back on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ContextRequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString(ContextRequestIDKey),
		}
		if userID, ok := c.Get(ContextUserIDKey); ok {
			kv = append(kv, "user_id", userID)
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Warn("request failed", kv...)
		default:
			log.Debug("request served", kv...)
		}
	}
}
