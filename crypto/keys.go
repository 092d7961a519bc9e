// Package crypto provides the cryptographic primitives for the Mobile
// Wallet Adapter session protocol:
//   - P-256 ephemeral key generation and uncompressed point encoding
//   - ECDH key agreement for session establishment
//   - HKDF key derivation for the session AES key
//   - AES-128-GCM packet encryption with sequence-number binding
//   - ECDSA signatures in fixed-width P1363 (r||s) form
//
// All key material handled here is session-scoped. Ephemeral private keys
// must never be persisted; session keys are destroyed when a session closes.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

const (
	// PointSize is the size of an uncompressed P-256 point:
	// 0x04 prefix followed by the 32-byte X and Y coordinates.
	PointSize = 65

	// CoordinateSize is the size of a single P-256 coordinate.
	CoordinateSize = 32

	// pointPrefix is the SEC1 uncompressed point marker.
	pointPrefix = 0x04
)

// ErrInvalidPoint is returned when an uncompressed point fails to decode,
// either because of its length/prefix or because it is not on the curve.
var ErrInvalidPoint = fmt.Errorf("crypto: invalid uncompressed P-256 point")

// GenerateKeypair generates a fresh P-256 key pair using a cryptographically
// secure random source.
//
// The session protocol uses two kinds of P-256 keys:
//   - Ephemeral keys: generated per session, used only for ECDH, never stored
//   - Association keys: longer-lived, used only to sign the ephemeral public
//     key during the handshake
//
// Both kinds are generated through this function.
func GenerateKeypair() (*ecdsa.PrivateKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: key generation failed: %w", err)
	}
	return priv, nil
}

// UncompressedPoint encodes a public key as a 65-byte uncompressed point:
//
//	0x04 || X (32 bytes) || Y (32 bytes)
//
// The coordinates are zero-padded to exactly 32 bytes big-endian. This
// padding matters: big.Int.Bytes() drops leading zero bytes, so a naive
// conversion yields 31-byte coordinates for roughly 1 in 256 keys.
func UncompressedPoint(pub *ecdsa.PublicKey) []byte {
	out := make([]byte, PointSize)
	out[0] = pointPrefix
	pub.X.FillBytes(out[1 : 1+CoordinateSize])
	pub.Y.FillBytes(out[1+CoordinateSize:])
	return out
}

// ParseUncompressedPoint decodes a 65-byte uncompressed point into a P-256
// public key.
//
// Returns ErrInvalidPoint if the input is not exactly 65 bytes starting with
// 0x04, or if the decoded coordinates are not a valid point on the curve.
// The on-curve check is mandatory: accepting an off-curve point from a peer
// would enable invalid-point attacks against the subsequent ECDH.
func ParseUncompressedPoint(data []byte) (*ecdsa.PublicKey, error) {
	if len(data) != PointSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPoint, len(data), PointSize)
	}
	if data[0] != pointPrefix {
		return nil, fmt.Errorf("%w: bad prefix 0x%02x", ErrInvalidPoint, data[0])
	}

	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(data[1 : 1+CoordinateSize]),
		Y:     new(big.Int).SetBytes(data[1+CoordinateSize:]),
	}

	// Converting to a crypto/ecdh key validates that the point is on the
	// curve and is not the point at infinity.
	if _, err := pub.ECDH(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}

	return pub, nil
}

// GenerateRandomBytes generates n random bytes using a cryptographically
// secure RNG.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ZeroBytes overwrites a byte slice with zeros.
//
// Used to scrub shared secrets and session keys once they are no longer
// needed. This is best-effort hygiene, not a guarantee against copies made
// by the runtime.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
