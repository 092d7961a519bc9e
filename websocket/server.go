package websocket

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solmwa/mwanode/crypto"
)

// wsGUID is the fixed GUID from RFC 6455 §1.3, appended to the client's
// Sec-WebSocket-Key before hashing.
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var (
	// ErrAcceptTimeout is returned when no wallet connects within the
	// accept window.
	ErrAcceptTimeout = fmt.Errorf("websocket: accept timed out")

	// ErrServerClosed is returned by Accept after Close.
	ErrServerClosed = fmt.Errorf("websocket: server closed")

	// ErrBadUpgrade is returned when the inbound HTTP request is not a
	// valid WebSocket upgrade.
	ErrBadUpgrade = fmt.Errorf("websocket: invalid upgrade request")
)

// Server is a single-use WebSocket listener for the pairing channel.
//
// Bind once, accept exactly one connection, then the listener is done. The
// pairing protocol is one dApp to one wallet per session; this is a scope
// decision, not a missing feature.
type Server struct {
	listener *net.TCPListener
	logger   logrus.FieldLogger
	metrics  *Metrics
}

// Listen binds a TCP listener on the loopback interface.
//
// port 0 asks the OS for an ephemeral port; the assigned port is available
// through Port afterwards, typically to embed in the association URI the
// wallet scans.
func Listen(host string, port int, logger logrus.FieldLogger) (*Server, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	addr, err := net.ResolveTCPAddr("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("websocket: bad listen address: %w", err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("websocket: bind failed: %w", err)
	}

	logger.WithField("addr", listener.Addr().String()).Debug("websocket listener bound")

	return &Server{
		listener: listener,
		logger:   logger,
		metrics:  NewMetrics(),
	}, nil
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Metrics returns the transport metrics shared with accepted connections.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Accept blocks for at most timeout waiting for one inbound connection,
// performs the upgrade handshake, and returns the established transport.
//
// The listener is closed once a connection has been accepted: only one
// connection is ever accepted per bound socket.
func (s *Server) Accept(timeout time.Duration) (*Transport, error) {
	if timeout > 0 {
		if err := s.listener.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("websocket: set accept deadline: %w", err)
		}
	}

	conn, err := s.listener.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrAcceptTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrServerClosed, err)
	}

	// Single-use pairing channel: no further connections after this one.
	_ = s.listener.Close()

	br := bufio.NewReader(conn)
	if err := upgrade(conn, br); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s.logger.WithField("remote", conn.RemoteAddr().String()).Info("wallet connected")

	return newTransport(conn, br, true, s.logger, s.metrics), nil
}

// Close releases the listening socket. Idempotent.
func (s *Server) Close() error {
	return s.listener.Close()
}

// upgrade performs the server side of the HTTP/1.1 WebSocket handshake:
// validate the GET upgrade request, compute the Sec-WebSocket-Accept token,
// and respond 101 Switching Protocols.
//
// The bufio.Reader passed in must be the one the transport keeps reading
// from afterwards: bytes the client sent immediately after the handshake
// may already sit in its buffer.
func upgrade(conn net.Conn, br *bufio.Reader) error {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	req, err := http.ReadRequest(br)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadUpgrade, err)
	}

	if req.Method != http.MethodGet {
		return fmt.Errorf("%w: method %s", ErrBadUpgrade, req.Method)
	}
	if !headerContainsToken(req.Header, "Connection", "upgrade") ||
		!headerContainsToken(req.Header, "Upgrade", "websocket") {
		return fmt.Errorf("%w: missing upgrade headers", ErrBadUpgrade)
	}

	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return fmt.Errorf("%w: missing Sec-WebSocket-Key", ErrBadUpgrade)
	}

	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + acceptKey(key) + "\r\n" +
		"\r\n"

	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetWriteDeadline(time.Time{})

	if _, err := conn.Write([]byte(response)); err != nil {
		return fmt.Errorf("websocket: handshake response failed: %w", err)
	}
	return nil
}

// acceptKey computes base64(SHA1(key + GUID)) per RFC 6455 §4.2.2.
func acceptKey(key string) string {
	h := sha1.Sum([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(h[:])
}

// headerContainsToken reports whether a comma-separated header contains the
// given token, case-insensitively. "Connection: keep-alive, Upgrade" is the
// common shape from mobile HTTP stacks.
func headerContainsToken(h http.Header, name, token string) bool {
	for _, value := range h.Values(name) {
		for _, part := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// newClientKey generates the random Sec-WebSocket-Key a client sends.
func newClientKey() (string, error) {
	raw, err := crypto.GenerateRandomBytes(16)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
