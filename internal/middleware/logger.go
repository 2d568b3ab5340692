package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-forms/pkg/logger"
)

// Logger logs one line per request. Bodies are never logged: submissions
// carry patient answers and signature images.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		if raw != "" {
			path = path + "?" + raw
		}

		reqLog := RequestLogger(c, log)
		var evt *zerolog.Event
		msg := "Request processed"
		switch {
		case statusCode >= 500:
			evt = reqLog.Error()
			msg = "Server error"
		case statusCode >= 400:
			evt = reqLog.Warn()
			msg = "Client error"
		default:
			evt = reqLog.Info()
		}

		evt.
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("route", c.FullPath()).
			Int("status", statusCode).
			Int64("request_bytes", c.Request.ContentLength).
			Int("response_bytes", c.Writer.Size()).
			Dur("latency", latency).
			Str("user_agent", c.Request.UserAgent()).
			Msg(msg)
	}
}
