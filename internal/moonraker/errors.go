package moonraker

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed fails every request still waiting for a response
	// when the connection goes away.
	ErrConnectionClosed = errors.New("moonraker: connection closed")
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("moonraker: not connected")
)

// ConnectionError reports a transport failure: the daemon is unreachable or
// the socket broke. The supervisor reacts by reconnecting.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("moonraker: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a well-formed JSON-RPC error response. It only affects the
// request it answers; the connection stays up.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("moonraker error %d: %s", e.Code, msg)
}

// IsConnectionError reports whether err is (or wraps) a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsProtocolError reports whether err is (or wraps) a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
