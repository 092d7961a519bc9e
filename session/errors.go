package session

import (
	"fmt"
)

var (
	// ErrSessionClosed is returned by Call on a closed session and used to
	// fail every pending request when a session tears down. Requests are
	// failed explicitly rather than abandoned: a future that never resolves
	// is a goroutine leak waiting to happen.
	ErrSessionClosed = fmt.Errorf("session: closed")

	// ErrNotEstablished is returned by Call before the handshake completed.
	ErrNotEstablished = fmt.Errorf("session: not established")

	// ErrHandshakeFailed wraps any failure between bind and key agreement:
	// malformed HELLO payloads, invalid curve points, signature mismatch.
	// The session never proceeds to the established state after one.
	ErrHandshakeFailed = fmt.Errorf("session: handshake failed")

	// ErrHelloTooShort is returned when a HELLO payload is shorter than its
	// fixed-size prefix.
	ErrHelloTooShort = fmt.Errorf("session: hello payload too short")
)

// State is the lifecycle state of a session.
type State int32

const (
	// StateUninitialized is the state before Establish is called.
	StateUninitialized State = iota

	// StateAwaitingHelloRsp means HELLO_REQ has been sent and the session
	// is waiting for the wallet's ephemeral key.
	StateAwaitingHelloRsp

	// StateEstablished means keys are derived and the encrypted JSON-RPC
	// channel is live.
	StateEstablished

	// StateClosed is terminal: explicit close, decrypt/sequence failure,
	// or transport closure.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingHelloRsp:
		return "awaiting_hello_rsp"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}
