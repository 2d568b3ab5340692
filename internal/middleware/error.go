package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/clinic-forms/internal/handler"
	apperrors "github.com/jwalitptl/clinic-forms/pkg/errors"
	"github.com/jwalitptl/clinic-forms/pkg/logger"
)

// ErrorHandler renders the last error a handler attached with c.Error as
// {"status":"error","message":...}. Application errors keep their status and
// message; anything unexpected becomes a logged 500.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last().Err
		status, message := classify(lastErr)

		reqLog := RequestLogger(c, log)
		evt := reqLog.Warn()
		if status >= http.StatusInternalServerError {
			evt = reqLog.Error()
		}
		evt.Err(lastErr).
			Str("path", c.Request.URL.Path).
			Str("method", c.Request.Method).
			Int("status", status).
			Msg("Request error")

		c.JSON(status, handler.NewErrorResponse(message))
	}
}

func classify(err error) (int, string) {
	if appErr, ok := apperrors.From(err); ok {
		return appErr.HTTPStatus(), appErr.Message
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest, ValidationMessage(verrs)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return http.StatusBadRequest, "invalid request body"
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge, "request body too large"
	}

	return http.StatusInternalServerError, "internal server error"
}
