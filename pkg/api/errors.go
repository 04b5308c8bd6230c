package api

import (
	"errors"
	"fmt"
)

// Error is a failed gateway call with its HTTP status preserved, so callers
// can split retryable server-class failures from client-class ones. A zero
// status code means the request never produced a response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// ClientClass reports whether the failure is a 4xx. Client-class errors are
// not retryable; replaying the identical request cannot succeed.
func (e *Error) ClientClass() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsClientError reports whether err is a non-retryable 4xx gateway error.
func IsClientError(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.ClientClass()
}
