package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

const (
	// AESKeySize is the key size for AES-128 (16 bytes / 128 bits).
	AESKeySize = 16

	// GCMNonceSize is the nonce size for GCM mode (12 bytes / 96 bits).
	GCMNonceSize = 12

	// GCMTagSize is the authentication tag size for GCM mode (16 bytes).
	GCMTagSize = 16

	// SeqSize is the size of the big-endian sequence number prefix.
	SeqSize = 4

	// MinPacketSize is the smallest valid encrypted packet:
	// sequence number, nonce, and the GCM tag of an empty plaintext.
	MinPacketSize = SeqSize + GCMNonceSize + GCMTagSize
)

var (
	// ErrInvalidKeySize is returned when the session key is not 16 bytes.
	ErrInvalidKeySize = fmt.Errorf("crypto: invalid key size, expected %d bytes", AESKeySize)

	// ErrPacketTooShort is returned when a packet is shorter than the
	// fixed seq+nonce+tag overhead.
	ErrPacketTooShort = fmt.Errorf("crypto: encrypted packet too short")

	// ErrSequenceMismatch is returned when a packet's embedded sequence
	// number does not equal the expected next value. This is fatal to a
	// session: any desynchronization is treated as replay, reorder, or
	// truncation, never resynchronized from.
	ErrSequenceMismatch = fmt.Errorf("crypto: sequence number mismatch")

	// ErrAuthenticationFailed is returned when the GCM tag does not verify,
	// signaling a tampered ciphertext or a wrong session key. Distinct from
	// ErrSequenceMismatch so the session layer can tell the two apart.
	ErrAuthenticationFailed = fmt.Errorf("crypto: packet authentication failed")
)

// PacketCipher encrypts and decrypts session packets with AES-128-GCM.
//
// Wire format of an encrypted packet:
//
//	seq (4 bytes BE) || nonce (12 bytes) || ciphertext || tag (16 bytes)
//
// The sequence number is transmitted in the clear but also fed into the
// AEAD as associated data, binding each ciphertext to its position in the
// stream. The nonce is random per packet; uniqueness under one key is
// ensured by the caller never reusing a sequence number and by the 96-bit
// random nonce space.
//
// PacketCipher itself is stateless with respect to sequence numbers; the
// session owns the per-direction counters and passes them in.
type PacketCipher struct {
	aead cipher.AEAD
}

// NewPacketCipher creates a packet cipher from a 16-byte session key.
func NewPacketCipher(key []byte) (*PacketCipher, error) {
	if len(key) != AESKeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}

	return &PacketCipher{aead: aead}, nil
}

// Encrypt seals plaintext under the given sequence number.
//
// A fresh random nonce is generated for every call. The caller must never
// reuse a sequence number with the same key: the sequence number is the
// receiver's only ordering defense, and the AEAD binds it as associated
// data.
func (c *PacketCipher) Encrypt(seq uint32, plaintext []byte) ([]byte, error) {
	nonce, err := GenerateRandomBytes(GCMNonceSize)
	if err != nil {
		return nil, fmt.Errorf("crypto: nonce generation failed: %w", err)
	}

	packet := make([]byte, SeqSize+GCMNonceSize, SeqSize+GCMNonceSize+len(plaintext)+GCMTagSize)
	binary.BigEndian.PutUint32(packet[:SeqSize], seq)
	copy(packet[SeqSize:], nonce)

	return c.aead.Seal(packet, nonce, plaintext, packet[:SeqSize]), nil
}

// Decrypt opens a packet, enforcing the expected sequence number.
//
// Failure modes, in check order:
//   - ErrPacketTooShort: packet shorter than seq+nonce+tag
//   - ErrSequenceMismatch: embedded sequence != expectedSeq. Checked before
//     any decryption is attempted; replayed, reordered, or dropped packets
//     must never reach the AEAD.
//   - ErrAuthenticationFailed: GCM tag verification failed
func (c *PacketCipher) Decrypt(expectedSeq uint32, packet []byte) ([]byte, error) {
	if len(packet) < MinPacketSize {
		return nil, fmt.Errorf("%w: got %d bytes, need at least %d", ErrPacketTooShort, len(packet), MinPacketSize)
	}

	seq := binary.BigEndian.Uint32(packet[:SeqSize])
	if seq != expectedSeq {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSequenceMismatch, seq, expectedSeq)
	}

	nonce := packet[SeqSize : SeqSize+GCMNonceSize]
	ciphertext := packet[SeqSize+GCMNonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, packet[:SeqSize])
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
