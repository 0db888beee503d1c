package constants

import "errors"

// Command errors reported back to the originating connection. They map
// one-to-one onto the wire error codes in the protocol package.
var (
	// ErrInvalidArgument is returned for out-of-range coordinates and
	// malformed commands.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when an operation references an unknown
	// entity id.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when a create command reuses an id.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrPermissionDenied is returned on capability or ownership
	// violations.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInternal signals an index/store inconsistency. It never leaves
	// the server except as an opaque error code; it aborts the command,
	// not the process.
	ErrInternal = errors.New("internal inconsistency")
)

// Session and transport errors.
var (
	// ErrSessionAlreadyBound is returned when a connection tries to bind
	// a second agent or view.
	ErrSessionAlreadyBound = errors.New("session already has an entity bound")

	// ErrIllegalEntityID is returned when a bind is attempted with an
	// empty id.
	ErrIllegalEntityID = errors.New("entity id is illegal")

	// ErrSessionClosed is returned when pushing to a closed session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrServerShutdown is returned for commands that arrive after the
	// processor stopped draining its queue.
	ErrServerShutdown = errors.New("server is shutting down")

	// ErrInvalidToken is returned when the connection token is missing,
	// expired or fails signature verification.
	ErrInvalidToken = errors.New("invalid token")
)
