package websocket

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// CloseNormal is the RFC 6455 normal-closure status code.
	CloseNormal = 1000

	// CloseProtocolError is sent when a peer violates the framing rules
	// (fragmentation, unmasked client frames, reserved bits).
	CloseProtocolError = 1002

	// inboundBuffer is the capacity of the inbound message channel. The
	// session reader drains it continuously; the buffer only absorbs
	// short bursts.
	inboundBuffer = 32
)

// ErrTransportClosed is returned by Send after the transport has closed.
var ErrTransportClosed = fmt.Errorf("websocket: transport closed")

// Transport is one established full-duplex WebSocket connection.
//
// A dedicated reader goroutine decodes inbound frames onto the Inbound
// channel; Send is safe for concurrent use (a single writer lock serializes
// frame writes, since the session may emit requests from caller goroutines
// while the reader dispatches responses).
type Transport struct {
	conn net.Conn
	// br wraps conn and may hold bytes buffered during the upgrade
	// handshake; all reads must go through it.
	br *bufio.Reader

	// maskOutbound is true on the client side: client-to-server frames are
	// always masked per RFC 6455.
	maskOutbound bool

	// requireMaskedInbound is true on the server side.
	requireMaskedInbound bool

	inbound chan []byte

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	logger  logrus.FieldLogger
	metrics *Metrics

	// readErr records why the reader loop stopped, for diagnostics.
	readErr atomic.Value

	// quit unblocks the reader if it is parked on an inbound send when the
	// transport closes.
	quit chan struct{}
	done chan struct{}
}

func newTransport(conn net.Conn, br *bufio.Reader, server bool, logger logrus.FieldLogger, metrics *Metrics) *Transport {
	t := &Transport{
		conn:                 conn,
		br:                   br,
		maskOutbound:         !server,
		requireMaskedInbound: server,
		inbound:              make(chan []byte, inboundBuffer),
		logger:               logger,
		metrics:              metrics,
		quit:                 make(chan struct{}),
		done:                 make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Inbound returns the channel of complete text/binary message payloads.
// The channel is closed when the connection terminates for any reason.
func (t *Transport) Inbound() <-chan []byte {
	return t.inbound
}

// RemoteAddr returns the peer's network address.
func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Send writes one complete binary frame.
//
// Thread-safe: a writer lock serializes concurrent callers so interleaved
// frame bytes can never reach the wire.
func (t *Transport) Send(payload []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := writeFrame(t.conn, opcodeBinary, payload, t.maskOutbound); err != nil {
		t.metrics.IncrementSendErrors()
		return fmt.Errorf("websocket: frame write failed: %w", err)
	}
	t.metrics.RecordSent(uint64(len(payload)))
	return nil
}

// Close shuts the transport down: a best-effort Close frame, then the
// socket. Idempotent; the inbound channel is closed by the reader loop as
// it exits.
func (t *Transport) Close(code uint16, reason string) error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.quit)

		// Best-effort close frame; the peer may already be gone.
		t.writeMu.Lock()
		t.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = writeFrame(t.conn, opcodeClose, closePayload(code, reason), t.maskOutbound)
		t.writeMu.Unlock()

		_ = t.conn.Close()
	})
	return nil
}

// Done returns a channel closed when the reader loop has exited.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// ReadErr reports why the reader loop stopped, or nil for a clean close.
func (t *Transport) ReadErr() error {
	if err, ok := t.readErr.Load().(error); ok {
		return err
	}
	return nil
}

// readLoop decodes frames until the connection closes or a protocol
// violation occurs. Text and binary payloads are delivered to the inbound
// channel; a Close opcode terminates the loop; ping/pong and other opcodes
// are ignored.
func (t *Transport) readLoop() {
	defer func() {
		close(t.inbound)
		close(t.done)
		_ = t.conn.Close()
		t.closed.Store(true)
	}()

	for {
		f, err := readFrame(t.br)
		if err != nil {
			if !t.closed.Load() {
				t.readErr.Store(err)
				t.metrics.IncrementReceiveErrors()
				t.logger.WithError(err).Debug("websocket read failed")
			}
			return
		}

		if t.requireMaskedInbound && !f.masked {
			t.failProtocol(ErrUnmaskedClientFrame)
			return
		}

		switch f.opcode {
		case opcodeText, opcodeBinary:
			if !f.fin {
				t.failProtocol(ErrFragmentedMessage)
				return
			}
			t.metrics.RecordReceived(uint64(len(f.payload)))
			select {
			case t.inbound <- f.payload:
			case <-t.quit:
				return
			}

		case opcodeContinuation:
			t.failProtocol(ErrFragmentedMessage)
			return

		case opcodeClose:
			t.logger.Debug("peer sent close frame")
			return

		default:
			// Ping, pong, and unknown opcodes are ignored on this
			// single-purpose pairing channel.
			t.metrics.IncrementIgnoredFrames()
		}
	}
}

// failProtocol records a protocol violation, notifies the peer, and tears
// the connection down.
func (t *Transport) failProtocol(err error) {
	t.readErr.Store(err)
	t.metrics.IncrementReceiveErrors()
	t.logger.WithError(err).Warn("websocket protocol violation")
	_ = t.Close(CloseProtocolError, err.Error())
}
