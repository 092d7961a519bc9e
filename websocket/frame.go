// Package websocket implements the minimal RFC 6455 transport used by the
// wallet-adapter pairing channel.
//
// This is deliberately not a general-purpose WebSocket server:
//   - exactly one connection is accepted per bound socket (the pairing
//     protocol is one dApp to one wallet per session)
//   - message fragmentation is unsupported and fails loudly
//   - no extensions, no subprotocol negotiation, no TLS (loopback only)
//
// The transport handles:
//   - the HTTP/1.1 upgrade handshake
//   - binary/text frame decode with client masking and all three
//     payload-length encodings
//   - unmasked server-to-client binary frame encode
//   - an async inbound channel fed by a dedicated reader
package websocket

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/solmwa/mwanode/crypto"
)

const (
	opcodeContinuation = 0x0
	opcodeText         = 0x1
	opcodeBinary       = 0x2
	opcodeClose        = 0x8
	opcodePing         = 0x9
	opcodePong         = 0xA

	// MaxFramePayload caps a single frame payload. Wallet-adapter packets
	// are JSON-RPC messages with base64 transaction payloads; 10 MiB is far
	// beyond anything legitimate.
	MaxFramePayload = 10 << 20
)

var (
	// ErrFragmentedMessage is returned when a peer sends a fragmented
	// message (FIN=0 or a continuation frame). Fragmentation is an explicit
	// non-goal of this transport and must fail loudly, never silently
	// reassemble or truncate.
	ErrFragmentedMessage = fmt.Errorf("websocket: fragmented messages not supported")

	// ErrUnmaskedClientFrame is returned by the server side when a client
	// frame arrives without a mask, violating RFC 6455 §5.1.
	ErrUnmaskedClientFrame = fmt.Errorf("websocket: client frame not masked")

	// ErrFrameTooLarge is returned when a frame declares a payload beyond
	// MaxFramePayload.
	ErrFrameTooLarge = fmt.Errorf("websocket: frame payload too large")

	// ErrReservedBits is returned when a frame uses RSV bits; no extensions
	// are negotiated, so any RSV bit is a protocol violation.
	ErrReservedBits = fmt.Errorf("websocket: reserved bits set")
)

// frame is a single decoded WebSocket frame.
type frame struct {
	fin     bool
	opcode  byte
	masked  bool
	payload []byte
}

// readFrame decodes one frame from r.
//
// Handles the three RFC 6455 payload length encodings (7-bit literal,
// 126 -> 16-bit extended, 127 -> 64-bit extended) and unmasks the payload
// when the mask bit is set.
func readFrame(r io.Reader) (*frame, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	if header[0]&0x70 != 0 {
		return nil, ErrReservedBits
	}

	f := &frame{
		fin:    header[0]&0x80 != 0,
		opcode: header[0] & 0x0F,
		masked: header[1]&0x80 != 0,
	}

	length := uint64(header[1] & 0x7F)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, err
		}
		length = binary.BigEndian.Uint64(ext[:])
		if length&(1<<63) != 0 {
			return nil, fmt.Errorf("websocket: invalid 64-bit length")
		}
	}

	if length > MaxFramePayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	var maskKey [4]byte
	if f.masked {
		if _, err := io.ReadFull(r, maskKey[:]); err != nil {
			return nil, err
		}
	}

	f.payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.payload); err != nil {
		return nil, err
	}

	if f.masked {
		// The mask key is XORed cyclically over the payload.
		for i := range f.payload {
			f.payload[i] ^= maskKey[i%4]
		}
	}

	return f, nil
}

// writeFrame encodes one complete frame to w, selecting the minimal length
// encoding for the payload size.
//
// Server-to-client frames are unmasked; client-to-server frames (mask=true)
// get a fresh random 4-byte mask key per frame.
func writeFrame(w io.Writer, opcode byte, payload []byte, mask bool) error {
	header := make([]byte, 0, 14)
	header = append(header, 0x80|opcode) // FIN=1, no fragmentation

	maskBit := byte(0)
	if mask {
		maskBit = 0x80
	}

	switch {
	case len(payload) <= 125:
		header = append(header, maskBit|byte(len(payload)))
	case len(payload) <= 0xFFFF:
		header = append(header, maskBit|126)
		header = binary.BigEndian.AppendUint16(header, uint16(len(payload)))
	default:
		header = append(header, maskBit|127)
		header = binary.BigEndian.AppendUint64(header, uint64(len(payload)))
	}

	if mask {
		maskKey, err := crypto.GenerateRandomBytes(4)
		if err != nil {
			return fmt.Errorf("websocket: mask key generation failed: %w", err)
		}
		header = append(header, maskKey...)

		masked := make([]byte, len(payload))
		for i := range payload {
			masked[i] = payload[i] ^ maskKey[i%4]
		}
		payload = masked
	}

	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// closePayload builds the payload of a Close frame: a 2-byte big-endian
// status code followed by an optional UTF-8 reason.
func closePayload(code uint16, reason string) []byte {
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload[:2], code)
	copy(payload[2:], reason)
	return payload
}
