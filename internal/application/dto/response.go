package dto

import (
	"fmt"
	"time"

	"github.com/turtacn/contatto/pkg/errors"
)

// APIResponse is the envelope of every /api/v1 response.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorDTO   `json:"error,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// ErrorDTO carries the error code clients switch on, plus human-readable text.
type ErrorDTO struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Description string            `json:"description,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

// hints tell an operator what to do about codes that need action on their side.
var hints = map[errors.Code]string{
	errors.CodeReauthRequired: "The vendor rejected the stored credentials. Update them and restart the bridge.",
	errors.CodeAuthFailed:     "The vendor refused the request. It is retried after the token is renewed.",
	errors.CodeAPI:            "The vendor cloud answered unexpectedly. Try again later.",
	errors.CodeTransport:      "The vendor cloud is unreachable. Try again later.",
	errors.CodeRateLimited:    "Wait for the interval in retry_after before sending another command.",
}

func envelope(traceID string) *APIResponse {
	return &APIResponse{TraceID: traceID, Timestamp: time.Now().Unix()}
}

// SuccessResponse wraps data.
func SuccessResponse(data interface{}, traceID string) *APIResponse {
	r := envelope(traceID)
	r.Success = true
	r.Data = data
	return r
}

// ErrorResponse maps err onto the envelope and the HTTP status to send.
// Errors outside the module's taxonomy are reported as internal without
// echoing their text as the message.
func ErrorResponse(err error, traceID string) (int, *APIResponse) {
	r := envelope(traceID)
	ce, ok := errors.As(err)
	if !ok {
		r.Error = &ErrorDTO{
			Code:        string(errors.CodeInternal),
			Message:     "Internal server error",
			Description: err.Error(),
		}
		return errors.HTTPStatusOf(err), r
	}

	e := &ErrorDTO{
		Code:        string(ce.Code()),
		Message:     ce.Error(),
		Description: hints[ce.Code()],
	}
	for k, v := range ce.Metadata() {
		// vendor bodies may echo tokens
		if k == "body" {
			continue
		}
		if e.Details == nil {
			e.Details = make(map[string]string)
		}
		e.Details[k] = fmt.Sprint(v)
	}
	r.Error = e
	return ce.HTTPStatus(), r
}

// ValidationErrorResponse reports a request body that failed binding or validation.
func ValidationErrorResponse(err error, traceID string) *APIResponse {
	r := envelope(traceID)
	r.Error = &ErrorDTO{
		Code:        string(errors.CodeInvalidArgument),
		Message:     "Validation failed",
		Description: err.Error(),
	}
	return r
}

// NotFoundResponse reports an unknown route or a missing resource.
func NotFoundResponse(resource string, traceID string) *APIResponse {
	r := envelope(traceID)
	r.Error = &ErrorDTO{
		Code:        string(errors.CodeNotFound),
		Message:     "Resource not found",
		Description: resource + " not found",
	}
	return r
}
