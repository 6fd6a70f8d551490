package backend

import (
	"errors"
	"fmt"
	"slices"
)

// StatusError is returned when the backend answered with a non-2xx status.
// The parsed response is kept so callers can read the backend's message.
type StatusError struct {
	Call     string
	Response *Response
}

func (e *StatusError) Error() string {
	msg := e.Response.Message
	if msg == "" {
		msg = truncate(string(e.Response.Raw), 200)
	}
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Call, e.Response.StatusCode, msg)
}

// StatusCode is the HTTP status of the response.
func (e *StatusError) StatusCode() int { return e.Response.StatusCode }

// NetworkError means no response was received.
type NetworkError struct {
	err error
}

func (e *NetworkError) Error() string {
	return e.err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.err
}

// NewNetworkError wraps an error as a transport failure.
func NewNetworkError(err error) error {
	return &NetworkError{err: err}
}

// IsStatus reports whether err is a StatusError. With codes given, the status must be one of them.
func IsStatus(err error, codes ...int) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return len(codes) == 0 || slices.Contains(codes, se.StatusCode())
}

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// AsStatus returns the StatusError in err's chain, if any.
func AsStatus(err error) (*StatusError, bool) {
	var se *StatusError
	ok := errors.As(err, &se)
	return se, ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
