// Package transport provides the Socket abstraction the host session talks
// to: a single bidirectional byte-frame connection to the orchestrator,
// reconnected transparently by the caller (package host owns reconnect
// policy; this package only owns one connection's lifecycle at a time).
package transport

import "context"

// Socket is a single connection to the orchestrator. Implementations must
// be safe for concurrent Send calls racing a single read loop; Connect and
// Close are not expected to be called concurrently with themselves.
type Socket interface {
	// Connect dials the orchestrator and blocks until the connection is
	// ready to send and receive, or ctx is done, or the dial fails.
	Connect(ctx context.Context) error

	// Send transmits one logical message. Implementations are responsible
	// for any wire-level chunking a message of this size requires.
	Send(ctx context.Context, payload []byte) error

	// Ping performs a liveness check against the peer, returning an error
	// if the peer does not respond within ctx's deadline.
	Ping(ctx context.Context) error

	// Close releases the connection. Calling Close more than once is a
	// no-op after the first call.
	Close() error

	// InstanceID identifies this logical connection attempt. It is stable
	// across reconnect retries issued by the same Socket value so the peer
	// can distinguish a fresh session from a resumed one, per the host's
	// reconnect handshake.
	InstanceID() string

	// SetOnMessage registers the callback invoked with each fully
	// reassembled inbound payload. Must be called before Connect.
	SetOnMessage(func(payload []byte))

	// SetOnClose registers the callback invoked once, with a non-nil error,
	// when the connection ends, including after a local Close.
	SetOnClose(func(err error))
}

// Dialer opens a Socket to the configured endpoint. Implementations of
// Socket typically pair with a matching Dialer so the reconnect loop in
// package host can produce a fresh Socket value per attempt while reusing
// dial configuration (endpoint, headers, timeouts).
type Dialer interface {
	Dial(instanceID string) Socket
}
