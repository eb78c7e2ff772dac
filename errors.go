package agentwire

import "errors"

// Configuration errors, surfaced synchronously by NewClient and never
// retried.
var (
	// ErrInvalidTarget indicates a remote target string that matches none
	// of the accepted forms (PORT, HOST:PORT, http(s)://HOST:PORT).
	ErrInvalidTarget = errors.New("agentwire: invalid remote target")

	// ErrInvalidPort indicates a port outside [1, 65535].
	ErrInvalidPort = errors.New("agentwire: invalid port")

	// ErrConflictingConfig indicates a remote target supplied together
	// with an explicit executable path or transport-mode override.
	// Attaching to an existing server excludes both.
	ErrConflictingConfig = errors.New("agentwire: conflicting configuration")
)

// Lifecycle errors.
var (
	// ErrSpawnFailed indicates the server executable could not be located
	// or launched. Start does not retry; the caller may.
	ErrSpawnFailed = errors.New("agentwire: spawn failed")

	// ErrAlreadyStarting indicates a Start issued while another Start is
	// in flight. Concurrent starts are rejected, not coalesced.
	ErrAlreadyStarting = errors.New("agentwire: start already in progress")

	// ErrNotConnected indicates an operation that requires a Connected
	// client. Callers observe Connected via State or a completed Start.
	ErrNotConnected = errors.New("agentwire: client not connected")

	// ErrConnectionClosed indicates the connection closed before an
	// outstanding request received its response. Every pending request is
	// failed exactly once in response to a single close event.
	ErrConnectionClosed = errors.New("agentwire: connection closed")

	// ErrRequestTimeout indicates a local wait deadline elapsed. The
	// underlying request is not cancelled or retried; server-side
	// processing may still complete.
	ErrRequestTimeout = errors.New("agentwire: request timed out")

	// ErrProtocolMismatch indicates the server reported an incompatible
	// protocol version during the start handshake.
	ErrProtocolMismatch = errors.New("agentwire: protocol version mismatch")

	// ErrSessionExists indicates a session id already live in the
	// client's registry.
	ErrSessionExists = errors.New("agentwire: session already exists")

	// ErrSessionDestroyed indicates an operation on a destroyed Session.
	ErrSessionDestroyed = errors.New("agentwire: session destroyed")
)
