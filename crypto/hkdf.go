package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SessionKeySize is the size of the derived AES session key (128 bits).
const SessionKeySize = 16

// DeriveKey performs HKDF-SHA256 key derivation (RFC 5869 extract-and-expand).
//
// Parameters:
//   - ikm: input key material (the ECDH shared secret)
//   - salt: optional salt value (the association public key bytes here)
//   - length: desired output length in bytes; need not be a multiple of the
//     hash output size
//
// DeriveKey is a pure function: identical inputs always yield identical
// output bytes, which is what lets both peers independently arrive at the
// same session key.
func DeriveKey(ikm, salt []byte, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("crypto: invalid key length: %d", length)
	}

	kdf := hkdf.New(sha256.New, ikm, salt, nil)

	key := make([]byte, length)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("crypto: HKDF expansion failed: %w", err)
	}
	return key, nil
}

// DeriveSessionKey derives the 16-byte AES-128 session key from an ECDH
// shared secret, salted with the uncompressed association public key.
//
// Salting with the association public key binds the session key to the
// association identity: a wallet that derived the same key necessarily
// agreed on which association keypair authenticated the handshake.
func DeriveSessionKey(sharedSecret, associationPublicKey []byte) ([]byte, error) {
	if len(sharedSecret) != CoordinateSize {
		return nil, fmt.Errorf("crypto: shared secret must be %d bytes, got %d", CoordinateSize, len(sharedSecret))
	}
	return DeriveKey(sharedSecret, associationPublicKey, SessionKeySize)
}
