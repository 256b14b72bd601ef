package middleware

import (
	"animehub-be/internal/apperr"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorBody struct {
	Code    apperr.Kind `json:"code"`
	Message string      `json:"message"`
	Detail  string      `json:"detail,omitempty"`
}

// Errors renders the last error a handler attached with c.Error. Internal
// errors are logged; their cause is only exposed when dev is set.
func Errors(dev bool, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}
		err := last.Err
		kind := apperr.KindOf(err)
		body := errorBody{Code: kind, Message: apperr.Message(err)}
		if kind == apperr.KindInternal {
			log.Error("request failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Error(err))
		}
		if dev {
			body.Detail = err.Error()
		}
		c.JSON(kind.Status(), gin.H{"error": body})
	}
}
