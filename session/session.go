// Package session implements the Mobile Wallet Adapter session protocol:
// the HELLO_REQ/HELLO_RSP handshake that authenticates an ephemeral ECDH
// exchange with a long-lived association key, and the encrypted, strictly
// sequenced JSON-RPC request/response layer that runs on top of it.
//
// One Session value owns all mutable protocol state (sequence counters,
// pending-request map, transport); nothing here is process-global, so any
// number of sessions can run concurrently.
package session

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solmwa/mwanode/crypto"
	"github.com/solmwa/mwanode/stats"
	"github.com/solmwa/mwanode/websocket"
)

// DefaultAcceptTimeout bounds how long Establish waits for the wallet to
// connect after the association URI has been presented.
const DefaultAcceptTimeout = 30 * time.Second

// Config configures a dApp-side session.
type Config struct {
	// AssociationKey is the long-lived P-256 key pair that signs the
	// ephemeral public key during HELLO_REQ. Required.
	AssociationKey *ecdsa.PrivateKey

	// Host is the listen interface; defaults to loopback. The pairing
	// channel is local by design.
	Host string

	// Port is the listen port; 0 requests an OS-assigned ephemeral port.
	Port int

	// AcceptTimeout bounds the wait for the wallet connection; defaults to
	// DefaultAcceptTimeout.
	AcceptTimeout time.Duration

	// Logger for session events. Required.
	Logger logrus.FieldLogger
}

// Session is one dApp-side wallet-adapter session.
//
// Lifecycle: New binds the listener (UNINITIALIZED), Establish runs the
// handshake (AWAITING_HELLO_RSP then ESTABLISHED), Call issues encrypted
// JSON-RPC requests, Close (or any fatal transport/crypto failure) moves to
// CLOSED and fails every pending request.
type Session struct {
	logger logrus.FieldLogger

	assocKey  *ecdsa.PrivateKey
	ephemeral *ecdsa.PrivateKey

	server    *websocket.Server
	transport *websocket.Transport

	keys *SessionKeys

	state atomic.Int32

	// sendMu covers the send path end to end: claiming a sequence number,
	// encrypting under it, and writing the frame happen atomically so two
	// callers can neither claim the same number nor reorder their writes.
	sendMu  sync.Mutex
	sendSeq uint32

	// recvSeq is touched only by Establish and then the reader goroutine,
	// never concurrently.
	recvSeq uint32

	tracker *requestTracker

	acceptTimeout time.Duration

	// sessionProps holds the decrypted session-properties payload from
	// HELLO_RSP, if the wallet sent one.
	sessionProps []byte

	closeOnce sync.Once
	closeErr  atomic.Value

	done chan struct{}
}

// New generates a fresh ephemeral key pair and binds the pairing listener.
//
// The ephemeral private key lives only in memory for the session lifetime.
// The caller supplies the association key; its public half ends up in the
// association URI the wallet scans.
func New(cfg Config) (*Session, error) {
	if cfg.AssociationKey == nil {
		return nil, fmt.Errorf("session: association key required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("session: logger required")
	}
	if cfg.AcceptTimeout <= 0 {
		cfg.AcceptTimeout = DefaultAcceptTimeout
	}

	ephemeral, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, err
	}

	server, err := websocket.Listen(cfg.Host, cfg.Port, cfg.Logger)
	if err != nil {
		return nil, err
	}

	s := &Session{
		logger:        cfg.Logger.WithField("module", "session"),
		assocKey:      cfg.AssociationKey,
		ephemeral:     ephemeral,
		server:        server,
		tracker:       newRequestTracker(),
		acceptTimeout: cfg.AcceptTimeout,
		done:          make(chan struct{}),
	}
	s.state.Store(int32(StateUninitialized))
	return s, nil
}

// Port returns the bound listener port, for embedding in the association
// URI.
func (s *Session) Port() int {
	return s.server.Port()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// SessionProperties returns the wallet's decrypted session-properties
// payload from HELLO_RSP, or nil if none was sent (or it failed its sanity
// decrypt).
func (s *Session) SessionProperties() []byte {
	return s.sessionProps
}

// Done returns a channel closed when the session reaches CLOSED.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the session closed, or nil while it is live.
func (s *Session) Err() error {
	if err, ok := s.closeErr.Load().(error); ok {
		return err
	}
	return nil
}

// TransportMetrics returns the underlying frame transport counters.
func (s *Session) TransportMetrics() websocket.Stats {
	return s.server.Metrics().Snapshot()
}

// RequestStats returns JSON-RPC request accounting.
func (s *Session) RequestStats() TrackerStats {
	return s.tracker.Stats()
}

// Establish accepts the wallet connection and runs the handshake to
// completion.
//
//	UNINITIALIZED        -> AWAITING_HELLO_RSP  (HELLO_REQ sent)
//	AWAITING_HELLO_RSP   -> ESTABLISHED         (keys derived)
//
// Any failure closes the session; it never proceeds half-established. The
// context bounds the wait for HELLO_RSP after the wallet has connected;
// the wallet connection itself is bounded by the configured accept timeout.
func (s *Session) Establish(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateAwaitingHelloRsp)) {
		return fmt.Errorf("%w: establish called in state %s", ErrHandshakeFailed, s.State())
	}
	stats.SessionsStarted.Inc()

	if err := s.handshake(ctx); err != nil {
		stats.HandshakeFailures.Inc()
		s.closeWith(err, stats.ReasonTransport)
		return err
	}

	s.state.Store(int32(StateEstablished))
	stats.SessionsEstablished.Inc()
	s.logger.Info("session established")

	go s.readLoop()
	return nil
}

func (s *Session) handshake(ctx context.Context) error {
	transport, err := s.server.Accept(s.acceptTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	s.transport = transport

	// HELLO_REQ: Qd || Sa. The only plaintext message this side ever sends.
	qd := crypto.UncompressedPoint(&s.ephemeral.PublicKey)
	sa, err := crypto.SignP1363(s.assocKey, qd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if err := transport.Send(append(qd, sa...)); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	// HELLO_RSP: Qw, optionally followed by an encrypted session-properties
	// packet at sequence 1.
	var helloRsp []byte
	select {
	case payload, ok := <-transport.Inbound():
		if !ok {
			return fmt.Errorf("%w: connection closed before HELLO_RSP", ErrHandshakeFailed)
		}
		helloRsp = payload
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, ctx.Err())
	}

	if len(helloRsp) < crypto.PointSize {
		return fmt.Errorf("%w: HELLO_RSP is %d bytes (%w)", ErrHandshakeFailed, len(helloRsp), ErrHelloTooShort)
	}

	qw, err := crypto.ParseUncompressedPoint(helloRsp[:crypto.PointSize])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	sharedSecret, err := crypto.ECDH(s.ephemeral, qw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	assocPub := crypto.UncompressedPoint(&s.assocKey.PublicKey)
	key, err := crypto.DeriveSessionKey(sharedSecret, assocPub)
	crypto.ZeroBytes(sharedSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	keys, err := newSessionKeys(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	s.keys = keys
	s.sendSeq = 1
	s.recvSeq = 1

	// A HELLO_RSP longer than the bare point carries session properties
	// encrypted at sequence 1. The decrypt is a sanity check on the derived
	// key: failure is non-fatal to setup, but the receive counter advances
	// either way since the wallet has consumed sequence 1.
	if len(helloRsp) > crypto.PointSize {
		props, err := keys.Cipher().Decrypt(s.recvSeq, helloRsp[crypto.PointSize:])
		if err != nil {
			s.logger.WithError(err).Warn("session properties did not decrypt; derived key is likely wrong")
		} else {
			s.sessionProps = props
			s.logger.WithField("bytes", len(props)).Debug("received session properties")
		}
		s.recvSeq++
	}

	return nil
}

// Call sends a JSON-RPC request and blocks until the matching response
// arrives, the context is cancelled, or the session closes.
//
// Safe for concurrent use: sequence numbers on the wire are distinct and
// strictly increasing across concurrent callers. No timeout is imposed
// here - bound the wait with the context.
func (s *Session) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if s.State() != StateEstablished {
		if s.State() == StateClosed {
			return nil, ErrSessionClosed
		}
		return nil, ErrNotEstablished
	}

	id, result := s.tracker.Register()

	plaintext, err := encodeRequest(id, method, params)
	if err != nil {
		s.tracker.Cancel(id)
		return nil, err
	}

	if err := s.sendPacket(plaintext); err != nil {
		s.tracker.Cancel(id)
		// A transport write failure is fatal to the session.
		s.closeWith(err, stats.ReasonTransport)
		return nil, err
	}
	stats.RequestsSent.WithLabelValues(method).Inc()

	select {
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Response.Error != nil {
			return nil, res.Response.Error
		}
		return res.Response.Result, nil
	case <-ctx.Done():
		s.tracker.Cancel(id)
		return nil, ctx.Err()
	}
}

// sendPacket encrypts plaintext under the next send sequence number and
// writes it. Sequence claim, encryption, and write are one critical
// section.
func (s *Session) sendPacket(plaintext []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	packet, err := s.keys.Cipher().Encrypt(s.sendSeq, plaintext)
	if err != nil {
		return err
	}
	if err := s.transport.Send(packet); err != nil {
		return err
	}
	s.sendSeq++
	return nil
}

// readLoop drains the transport: decrypt under the expected receive
// sequence, parse JSON-RPC, resolve the pending request by id.
//
// Failure policy per packet:
//   - decrypt failure (length, sequence, authentication): fatal, session
//     closes with the distinct underlying error preserved
//   - malformed JSON: packet dropped, loop continues
//   - response with no id, or an unmatched id: dropped silently
func (s *Session) readLoop() {
	for payload := range s.transport.Inbound() {
		plaintext, err := s.keys.Cipher().Decrypt(s.recvSeq, payload)
		if err != nil {
			reason := stats.ReasonTransport
			switch {
			case errors.Is(err, crypto.ErrSequenceMismatch):
				reason = stats.ReasonSequence
			case errors.Is(err, crypto.ErrAuthenticationFailed):
				reason = stats.ReasonAuth
			}
			stats.DecryptFailures.WithLabelValues(reason).Inc()
			s.logger.WithError(err).Error("inbound packet rejected, closing session")
			s.closeWith(err, reason)
			return
		}
		s.recvSeq++

		var resp Response
		if err := json.Unmarshal(plaintext, &resp); err != nil {
			stats.DroppedMessages.WithLabelValues("malformed_json").Inc()
			s.logger.WithError(err).Debug("dropping undecodable message")
			continue
		}
		if resp.ID == nil {
			stats.DroppedMessages.WithLabelValues("no_id").Inc()
			s.logger.Debug("dropping message without id")
			continue
		}
		if !s.tracker.Resolve(&resp) {
			stats.DroppedMessages.WithLabelValues("unmatched_id").Inc()
			s.logger.WithField("id", *resp.ID).Debug("dropping response with unmatched id")
		}
	}

	// Transport gone: peer closed or read failed.
	err := ErrSessionClosed
	if s.transport.ReadErr() != nil {
		err = fmt.Errorf("%w: %v", ErrSessionClosed, s.transport.ReadErr())
	}
	s.closeWith(err, stats.ReasonTransport)
}

// Close terminates the session explicitly.
func (s *Session) Close() error {
	s.closeWith(ErrSessionClosed, stats.ReasonExplicit)
	return nil
}

// closeWith performs the one-way transition to CLOSED: record the cause,
// fail all pending requests, scrub keys, release the transport and
// listener. Idempotent; the first cause wins.
func (s *Session) closeWith(cause error, reason string) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.closeErr.Store(cause)

		s.tracker.FailAll(fmt.Errorf("%w: %v", ErrSessionClosed, cause))

		if s.keys != nil {
			s.keys.Destroy()
		}
		if s.transport != nil {
			_ = s.transport.Close(websocket.CloseNormal, "session closed")
		}
		_ = s.server.Close()

		stats.SessionsClosed.WithLabelValues(reason).Inc()
		s.logger.WithField("reason", reason).Info("session closed")
		close(s.done)
	})
}
