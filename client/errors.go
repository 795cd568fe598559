package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by SendRaw when no connection is
	// established. Callers connect first; sends never dial implicitly.
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidMessage is returned when the send path is handed a nil
	// message.
	ErrInvalidMessage = errors.New("message must not be nil")
)

// ConnectError reports that every attempt in the connect budget failed. It
// wraps the last underlying cause.
type ConnectError struct {
	Addr     string
	Attempts int
	Last     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s failed after %d attempts: %s", e.Addr, e.Attempts, e.Last)
}

func (e *ConnectError) Unwrap() error { return e.Last }

// ConnectionLostError reports a write failure on an established connection.
// The client is Disconnected afterwards; reconnecting is the caller's call.
type ConnectionLostError struct {
	Cause error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("connection lost: %s", e.Cause)
}

func (e *ConnectionLostError) Unwrap() error { return e.Cause }
