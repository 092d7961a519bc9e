package session

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solmwa/mwanode/crypto"
	"github.com/solmwa/mwanode/websocket"
)

// helloReqSize is Qd (65 bytes) plus Sa (64 bytes).
const helloReqSize = crypto.PointSize + crypto.SignatureSize

// Handler answers one decrypted JSON-RPC request on a wallet endpoint.
// Return a result value to marshal, or a non-nil *RPCError for a protocol
// level failure.
type Handler func(method string, params json.RawMessage) (any, *RPCError)

// WalletConfig configures the responder side of a session.
type WalletConfig struct {
	// AssociationPublicKey is the dApp's association public key, obtained
	// out of band from the association URI. It verifies HELLO_REQ and salts
	// key derivation. Required.
	AssociationPublicKey *ecdsa.PublicKey

	// SessionProperties, if non-nil, is sent encrypted at sequence 1
	// alongside HELLO_RSP.
	SessionProperties []byte

	// Handler answers inbound requests. Required.
	Handler Handler

	// DialTimeout bounds the TCP connect and upgrade. Defaults to
	// DefaultAcceptTimeout.
	DialTimeout time.Duration

	// Logger for endpoint events. Required.
	Logger logrus.FieldLogger
}

// WalletEndpoint is the wallet (responder) half of a session: it dials the
// dApp's pairing listener, verifies HELLO_REQ, completes the key exchange,
// and serves encrypted JSON-RPC requests through its Handler.
//
// The simulated wallet binary and the end-to-end tests run one of these
// against a Session.
type WalletEndpoint struct {
	logger    logrus.FieldLogger
	transport *websocket.Transport
	handler   Handler

	keys *SessionKeys

	sendMu  sync.Mutex
	sendSeq uint32
	recvSeq uint32

	closeOnce sync.Once
	done      chan struct{}
}

// ConnectWallet dials addr, performs the responder handshake, and starts
// serving requests.
//
// HELLO_REQ must be exactly 129 bytes and carry a valid association
// signature over the dApp's ephemeral point; anything else aborts the
// connection before any key material is derived.
func ConnectWallet(addr string, cfg WalletConfig) (*WalletEndpoint, error) {
	if cfg.AssociationPublicKey == nil {
		return nil, fmt.Errorf("session: association public key required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("session: handler required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("session: logger required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultAcceptTimeout
	}

	transport, err := websocket.Dial(addr, cfg.DialTimeout, cfg.Logger)
	if err != nil {
		return nil, err
	}

	w := &WalletEndpoint{
		logger:    cfg.Logger.WithField("module", "wallet"),
		transport: transport,
		handler:   cfg.Handler,
		done:      make(chan struct{}),
	}

	if err := w.handshake(cfg); err != nil {
		_ = transport.Close(websocket.CloseProtocolError, "handshake failed")
		return nil, err
	}

	go w.serveLoop()
	return w, nil
}

func (w *WalletEndpoint) handshake(cfg WalletConfig) error {
	payload, ok := <-w.transport.Inbound()
	if !ok {
		return fmt.Errorf("%w: connection closed before HELLO_REQ", ErrHandshakeFailed)
	}
	if len(payload) != helloReqSize {
		return fmt.Errorf("%w: HELLO_REQ is %d bytes, want %d (%w)",
			ErrHandshakeFailed, len(payload), helloReqSize, ErrHelloTooShort)
	}

	qdBytes := payload[:crypto.PointSize]
	sig := payload[crypto.PointSize:]

	valid, err := crypto.VerifyP1363(cfg.AssociationPublicKey, qdBytes, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if !valid {
		return fmt.Errorf("%w: HELLO_REQ signature does not verify", ErrHandshakeFailed)
	}

	qd, err := crypto.ParseUncompressedPoint(qdBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	ephemeral, err := crypto.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	sharedSecret, err := crypto.ECDH(ephemeral, qd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	assocPub := crypto.UncompressedPoint(cfg.AssociationPublicKey)
	key, err := crypto.DeriveSessionKey(sharedSecret, assocPub)
	crypto.ZeroBytes(sharedSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	keys, err := newSessionKeys(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	w.keys = keys
	w.sendSeq = 1
	w.recvSeq = 1

	helloRsp := crypto.UncompressedPoint(&ephemeral.PublicKey)
	if cfg.SessionProperties != nil {
		props, err := keys.Cipher().Encrypt(w.sendSeq, cfg.SessionProperties)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		helloRsp = append(helloRsp, props...)
		w.sendSeq++
	}

	if err := w.transport.Send(helloRsp); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	w.logger.Info("wallet endpoint established")
	return nil
}

// serveLoop decrypts inbound requests and answers them through the handler.
// Decrypt failures tear the endpoint down; malformed JSON is dropped.
func (w *WalletEndpoint) serveLoop() {
	defer w.close()

	for payload := range w.transport.Inbound() {
		plaintext, err := w.keys.Cipher().Decrypt(w.recvSeq, payload)
		if err != nil {
			w.logger.WithError(err).Error("inbound packet rejected, closing endpoint")
			return
		}
		w.recvSeq++

		var req Request
		if err := json.Unmarshal(plaintext, &req); err != nil {
			w.logger.WithError(err).Debug("dropping undecodable request")
			continue
		}

		result, rpcErr := w.handler(req.Method, req.Params)
		if err := w.respond(req.ID, result, rpcErr); err != nil {
			w.logger.WithError(err).Error("response send failed, closing endpoint")
			return
		}
	}
}

func (w *WalletEndpoint) respond(id int64, result any, rpcErr *RPCError) error {
	resp := Response{
		JSONRPC: jsonRPCVersion,
		ID:      &id,
		Error:   rpcErr,
	}
	if rpcErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return err
		}
		resp.Result = raw
	}

	plaintext, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	packet, err := w.keys.Cipher().Encrypt(w.sendSeq, plaintext)
	if err != nil {
		return err
	}
	if err := w.transport.Send(packet); err != nil {
		return err
	}
	w.sendSeq++
	return nil
}

// Done returns a channel closed when the endpoint shuts down.
func (w *WalletEndpoint) Done() <-chan struct{} {
	return w.done
}

// Close tears the endpoint down.
func (w *WalletEndpoint) Close() error {
	w.close()
	return nil
}

func (w *WalletEndpoint) close() {
	w.closeOnce.Do(func() {
		if w.keys != nil {
			w.keys.Destroy()
		}
		_ = w.transport.Close(websocket.CloseNormal, "endpoint closed")
		close(w.done)
	})
}
