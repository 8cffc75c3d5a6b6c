package chatclient

import (
	"errors"
	"fmt"
)

// ErrClosed is returned from operations attempted after Close.
var ErrClosed = errors.New("chat client is closed")

// ErrNotConnected is returned when an operation needs a live channel.
var ErrNotConnected = errors.New("chat client is not connected")

// ValidationError reports locally rejected input. The message never leaves
// the client, so callers can surface the field to the user directly.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ServerError is an error frame relayed by the backend.
type ServerError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}
