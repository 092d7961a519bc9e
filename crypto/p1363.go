package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// SignatureSize is the size of a P1363 ECDSA signature over P-256:
// r and s, each left-padded to 32 bytes.
const SignatureSize = 2 * CoordinateSize

// ErrMalformedSignature is returned when a signature cannot be decoded.
// It is distinct from a cryptographic verification failure: a malformed
// input never reached the verifier, while (false, nil) from VerifyP1363
// means the signature parsed but did not verify. Both mean "do not trust
// this signature", but tests and callers can tell them apart.
var ErrMalformedSignature = fmt.Errorf("crypto: malformed signature")

// SignP1363 computes an ECDSA-SHA256 signature over message and encodes it
// in fixed 64-byte P1363 (r||s) form.
//
// Go's ecdsa package emits ASN.1 DER signatures; the wire protocol uses
// P1363, so the DER form is re-encoded through derToP1363. The handshake
// signs the raw 65-byte ephemeral public point with the association key.
func SignP1363(priv *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	der, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: signing failed: %w", err)
	}
	sig, err := derToP1363(der)
	if err != nil {
		// A signature we just produced should always re-encode.
		return nil, fmt.Errorf("crypto: produced unencodable signature: %w", err)
	}
	return sig, nil
}

// VerifyP1363 verifies a 64-byte P1363 ECDSA-SHA256 signature.
//
// Returns (false, ErrMalformedSignature) when the signature bytes cannot be
// decoded, and (false, nil) when the signature parsed but verification
// cryptographically failed.
func VerifyP1363(pub *ecdsa.PublicKey, message, sig []byte) (bool, error) {
	der, err := p1363ToDER(sig)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(pub, digest[:], der), nil
}

// derToP1363 converts an ASN.1 DER ECDSA signature into fixed-width P1363.
//
// DER layout: SEQUENCE { INTEGER r, INTEGER s }. DER INTEGERs are signed
// two's complement with minimal length, so r and s may carry a leading zero
// byte (when the top bit of the magnitude is set) or be shorter than 32
// bytes. Each value is reduced to its magnitude and left-padded to exactly
// 32 bytes.
func derToP1363(der []byte) ([]byte, error) {
	body, err := derUnwrapSequence(der)
	if err != nil {
		return nil, err
	}

	r, rest, err := derReadInteger(body)
	if err != nil {
		return nil, err
	}
	s, rest, err := derReadInteger(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes after s", ErrMalformedSignature)
	}

	out := make([]byte, SignatureSize)
	if err := padCoordinate(out[:CoordinateSize], r); err != nil {
		return nil, err
	}
	if err := padCoordinate(out[CoordinateSize:], s); err != nil {
		return nil, err
	}
	return out, nil
}

// p1363ToDER converts a 64-byte P1363 signature into ASN.1 DER.
//
// The conversion must re-introduce a leading zero byte when the top bit of
// r or s is set (keeping the DER INTEGER non-negative) and strip redundant
// leading zero bytes otherwise.
func p1363ToDER(sig []byte) ([]byte, error) {
	if len(sig) != SignatureSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedSignature, len(sig), SignatureSize)
	}

	r := derEncodeInteger(sig[:CoordinateSize])
	s := derEncodeInteger(sig[CoordinateSize:])

	body := append(r, s...)
	// Max body length here is 2*(2+33) = 70 bytes, within short-form length.
	der := make([]byte, 0, 2+len(body))
	der = append(der, 0x30, byte(len(body)))
	der = append(der, body...)
	return der, nil
}

// derUnwrapSequence validates the outer SEQUENCE and returns its contents.
// Supports short-form and single-byte long-form (0x81) lengths, which
// covers every ECDSA signature size over P-256.
func derUnwrapSequence(der []byte) ([]byte, error) {
	if len(der) < 2 {
		return nil, fmt.Errorf("%w: truncated sequence header", ErrMalformedSignature)
	}
	if der[0] != 0x30 {
		return nil, fmt.Errorf("%w: expected SEQUENCE tag, got 0x%02x", ErrMalformedSignature, der[0])
	}

	var bodyLen int
	body := der[2:]
	switch {
	case der[1] < 0x80:
		bodyLen = int(der[1])
	case der[1] == 0x81:
		if len(der) < 3 {
			return nil, fmt.Errorf("%w: truncated long-form length", ErrMalformedSignature)
		}
		bodyLen = int(der[2])
		if bodyLen < 0x80 {
			return nil, fmt.Errorf("%w: non-minimal long-form length", ErrMalformedSignature)
		}
		body = der[3:]
	default:
		return nil, fmt.Errorf("%w: unsupported length form 0x%02x", ErrMalformedSignature, der[1])
	}

	if len(body) != bodyLen {
		return nil, fmt.Errorf("%w: sequence length %d does not match %d content bytes", ErrMalformedSignature, bodyLen, len(body))
	}
	return body, nil
}

// derReadInteger parses one DER INTEGER and returns its content bytes and
// the remaining input.
func derReadInteger(in []byte) (value, rest []byte, err error) {
	if len(in) < 2 {
		return nil, nil, fmt.Errorf("%w: truncated integer header", ErrMalformedSignature)
	}
	if in[0] != 0x02 {
		return nil, nil, fmt.Errorf("%w: expected INTEGER tag, got 0x%02x", ErrMalformedSignature, in[0])
	}
	n := int(in[1])
	if in[1] >= 0x80 {
		return nil, nil, fmt.Errorf("%w: unsupported integer length form", ErrMalformedSignature)
	}
	if n == 0 {
		return nil, nil, fmt.Errorf("%w: empty integer", ErrMalformedSignature)
	}
	if len(in) < 2+n {
		return nil, nil, fmt.Errorf("%w: integer length %d exceeds input", ErrMalformedSignature, n)
	}

	value = in[2 : 2+n]
	if value[0]&0x80 != 0 {
		return nil, nil, fmt.Errorf("%w: negative integer", ErrMalformedSignature)
	}
	if n > 1 && value[0] == 0x00 && value[1]&0x80 == 0 {
		return nil, nil, fmt.Errorf("%w: non-minimal integer encoding", ErrMalformedSignature)
	}
	return value, in[2+n:], nil
}

// padCoordinate left-pads a DER integer magnitude into a 32-byte slot.
func padCoordinate(dst, value []byte) error {
	// Strip the sign byte a 33-byte encoding carries.
	for len(value) > 1 && value[0] == 0x00 {
		value = value[1:]
	}
	if len(value) > CoordinateSize {
		return fmt.Errorf("%w: integer exceeds %d bytes", ErrMalformedSignature, CoordinateSize)
	}
	copy(dst[CoordinateSize-len(value):], value)
	return nil
}

// derEncodeInteger encodes a 32-byte big-endian magnitude as a DER INTEGER.
func derEncodeInteger(value []byte) []byte {
	// Strip redundant leading zeros, keeping at least one byte.
	for len(value) > 1 && value[0] == 0x00 {
		value = value[1:]
	}
	// Re-introduce a zero byte if the top bit is set, so the DER INTEGER
	// stays non-negative.
	if value[0]&0x80 != 0 {
		out := make([]byte, 0, 3+len(value))
		out = append(out, 0x02, byte(len(value)+1), 0x00)
		return append(out, value...)
	}
	out := make([]byte, 0, 2+len(value))
	out = append(out, 0x02, byte(len(value)))
	return append(out, value...)
}
