package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourdesk/backoffice/utils"
)

const HeaderCorrelationId = "x-correlation-id"

// CorrelationId generates one id per request unless the caller sent one, and
// echoes it back so support can match a response to the server logs.
func CorrelationId() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(HeaderCorrelationId)
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Header(HeaderCorrelationId, cid)
		c.Next()
	}
}

// RequestLogger logs every request that ended in an error status or recorded gin errors.
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if status < 400 && len(c.Errors) == 0 {
			return
		}
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		entry := logger.WithFields(logrus.Fields{
			"status":         status,
			"method":         c.Request.Method,
			"path":           c.FullPath(),
			"latency_ms":     time.Since(start).Milliseconds(),
			"correlation_id": cid,
		})
		switch {
		case len(c.Errors) > 0:
			entry.Error(c.Errors.String())
		case status >= 500:
			entry.Error("request failed")
		default:
			entry.Warn("request rejected")
		}
	}
}
