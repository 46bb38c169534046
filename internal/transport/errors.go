package transport

import "errors"

var (
	// ErrBind is returned when binding the listening side of a socket fails
	// (typically: port already in use).
	ErrBind = errors.New("transport: bind failed")
	// ErrClosed is returned by any operation attempted on a closed socket.
	ErrClosed = errors.New("transport: socket closed")
	// ErrTimeout is returned when a send or receive exceeds its deadline.
	ErrTimeout = errors.New("transport: deadline exceeded")
)
