package stream

import (
	"errors"
	"fmt"
)

// ErrTimeout is the terminal error for a session that exceeded its deadline.
var ErrTimeout = errors.New("stream timeout")

// ErrAborted is the terminal error for a manually canceled session.
var ErrAborted = errors.New("stream aborted")

// ServerError is an explicit error event sent by the backend over the stream.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", e.Message)
}

// NetworkError wraps a transport-level failure, before or during streaming.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
