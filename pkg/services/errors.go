package services

import "fmt"

// Request error codes surfaced to API clients.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeRequestCancelled = "REQUEST_CANCELLED"
	CodeRequestTimeout   = "REQUEST_TIMEOUT"
	CodeContextFailed    = "CONTEXT_RESOLUTION_FAILED"
	CodeAnalysisFailed   = "ANALYSIS_FAILED"
)

// RequestError pairs a stable code and user-safe message with the internal
// cause. The internal error is logged, never serialized.
type RequestError struct {
	Code        string
	UserMessage string
	Internal    error
}

func (e *RequestError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.UserMessage)
}

func (e *RequestError) Unwrap() error {
	return e.Internal
}

func newRequestError(code, userMessage string, internal error) *RequestError {
	return &RequestError{Code: code, UserMessage: userMessage, Internal: internal}
}
