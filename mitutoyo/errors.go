package mitutoyo

import "errors"

var (
	// ErrConnConfigNil indicates that a nil ConnectionConfig was provided.
	ErrConnConfigNil = errors.New("connection config is nil")

	// ErrConnectFailed indicates that the TCP connection to the hub could not be established.
	// The connect attempt is not retried inside this package; the caller decides fault escalation.
	ErrConnectFailed = errors.New("connect to hub failed")

	// ErrAlreadyConnected indicates that Connect was called while the link is already connected.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotConnected indicates that an I/O operation was attempted while the link is disconnected.
	// It is always a caller-contract violation and is never silently ignored.
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidReply indicates that a hub reply could not be parsed into the expected
	// "<slot>:<value>" shape. A malformed reply means the link is desynchronized; it is
	// intentionally fatal and must not be masked as an empty reply.
	ErrInvalidReply = errors.New("invalid position reply")

	// ErrInvalidResetLimit indicates that a negative recovery round count was requested.
	// It is rejected eagerly, before any network activity.
	ErrInvalidResetLimit = errors.New("max resets must be greater than or equal to 0")

	// ErrUnknownCommand indicates that the simulated hub received a command it does not
	// implement. This points at a test bug, not at hub behavior.
	ErrUnknownCommand = errors.New("unknown command")
)
