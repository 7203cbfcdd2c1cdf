package dto

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/errors"
)

// ErrorBody 错误响应体
type ErrorBody struct {
	OK      bool     `json:"ok"`
	Error   ErrorDTO `json:"error"`
	TraceID string   `json:"traceId,omitempty"`
}

// ErrorDTO 错误信息
type ErrorDTO struct {
	Code    constants.ErrorCode    `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewErrorBody converts err into the wire error. Non-application errors are
// reported as internal errors without leaking their text.
func NewErrorBody(err error, traceID string) (int, *ErrorBody) {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		appErr = errors.ErrInternal("internal server error")
	}
	return appErr.HTTPStatus(), &ErrorBody{
		OK: false,
		Error: ErrorDTO{
			Code:    appErr.Code(),
			Message: errors.Message(appErr),
			Details: appErr.Metadata(),
		},
		TraceID: traceID,
	}
}

// SendError 发送错误响应 and aborts the handler chain. A rate-limit error also
// sets the Retry-After header.
func SendError(c *gin.Context, err error) {
	status, body := NewErrorBody(err, traceID(c))
	if retry, ok := body.Error.Details[constants.MetadataRetryAfterSeconds].(int); ok {
		c.Header(constants.HeaderRetryAfter, strconv.Itoa(retry))
	}
	c.AbortWithStatusJSON(status, body)
}

func traceID(c *gin.Context) string {
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	if id, ok := c.Request.Context().Value(constants.ContextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
