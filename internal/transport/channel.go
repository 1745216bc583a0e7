// Package transport abstracts the duplex, framed channels the session core
// speaks over: JSON text frames plus binary audio frames, with ping/pong and
// close codes. The core never touches a websocket connection directly; it
// sees only the Channel interface, which keeps the managers testable with
// in-memory fakes.
package transport

import "errors"

// ReadyState mirrors the websocket readyState vocabulary.
type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

// ErrChannelClosed is returned by writes on a channel that is not open.
var ErrChannelClosed = errors.New("transport: channel is not open")

// Channel is a single-writer duplex message channel. Reads are owned by the
// connection edge (the server read loop); the core only writes.
//
// All methods are safe for concurrent use. Send marshals v to a JSON text
// frame. Writes on a non-open channel return ErrChannelClosed.
type Channel interface {
	// Send marshals v and writes it as a text frame.
	Send(v any) error

	// SendBinary writes a binary frame (audio).
	SendBinary(data []byte) error

	// Ping writes a ping control frame.
	Ping() error

	// Close writes a close control frame with the given code and reason,
	// then tears the connection down. Idempotent.
	Close(code int, reason string) error

	// State reports the channel's current ready state.
	State() ReadyState

	// Open reports whether the channel accepts writes.
	Open() bool
}
