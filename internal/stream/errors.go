package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is reported when the firehose rejects the token. The token is
	// invalidated and the next tick re-authenticates.
	ErrUnauthorized = errors.New("unauthorized, will retry auth")

	// ErrDisconnected is reported when an established stream ends.
	ErrDisconnected = errors.New("disconnected, will attempt reconnect")

	// ErrDead is returned by Driver.Tick once the stream has been given up on.
	ErrDead = errors.New("firehose stream is dead")
)

// UnexpectedStatusError reports a stream response status the connector cannot recover from.
type UnexpectedStatusError struct {
	StatusCode int
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d, aborting", e.StatusCode)
}

// RequestError wraps transport-level failures (DNS, TLS, socket). Retried on the next tick.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request error: %v", e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// AuthError wraps a failed token request. Fatal.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// MalformedRecordError reports a line that could not be decoded. The line is skipped
// and the stream keeps going.
type MalformedRecordError struct {
	Line int
	Err  error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record on line %d: %v", e.Line, e.Err)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err ends the stream for good.
func IsFatal(err error) bool {
	var statusErr *UnexpectedStatusError
	var authErr *AuthError
	return errors.As(err, &statusErr) || errors.As(err, &authErr) || errors.Is(err, ErrDead)
}
