package websocket

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Dial connects to a pairing endpoint and performs the client side of the
// upgrade handshake.
//
// This is the wallet's half of the channel; the simulated wallet binary and
// the end-to-end tests use it. Client frames are masked per RFC 6455.
func Dial(addr string, timeout time.Duration, logger logrus.FieldLogger) (*Transport, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %s: %w", addr, err)
	}

	key, err := newClientKey()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	request := "GET / HTTP/1.1\r\n" +
		"Host: " + addr + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"

	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte(request)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("websocket: handshake request failed: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrBadUpgrade, err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: status %d", ErrBadUpgrade, resp.StatusCode)
	}
	if resp.Header.Get("Sec-WebSocket-Accept") != acceptKey(key) {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: Sec-WebSocket-Accept mismatch", ErrBadUpgrade)
	}

	_ = conn.SetDeadline(time.Time{})

	logger.WithField("addr", addr).Debug("websocket client connected")

	return newTransport(conn, br, false, logger, NewMetrics()), nil
}
