package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-forms/pkg/logger"
)

const (
	HeaderXRequestID = "X-Request-ID"
	ContextRequestID = "request_id"
	maxRequestIDLen  = 128
)

// RequestID tags each request with an id, taken from X-Request-ID when the
// caller sends a usable one, and echoes it back. A child logger carrying the
// id is attached to the request context for RequestLogger and zerolog.Ctx.
func RequestID(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderXRequestID)
		if rid == "" || len(rid) > maxRequestIDLen {
			rid = uuid.New().String()
		}

		reqLog := log.ZL.With().Str(ContextRequestID, rid).Logger()
		c.Set(ContextRequestID, rid)
		c.Request = c.Request.WithContext(reqLog.WithContext(c.Request.Context()))
		c.Header(HeaderXRequestID, rid)
		c.Next()
	}
}

// RequestLogger returns the request-scoped logger set by RequestID, or
// fallback when the request did not pass through it.
func RequestLogger(c *gin.Context, fallback *logger.Logger) *zerolog.Logger {
	if _, ok := c.Get(ContextRequestID); ok {
		return zerolog.Ctx(c.Request.Context())
	}
	return &fallback.ZL
}
