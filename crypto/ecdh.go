package crypto

import (
	"crypto/ecdsa"
	"fmt"
)

// ECDH performs Elliptic Curve Diffie-Hellman key agreement on P-256.
//
// Given a private key and a peer's public key, it computes a shared secret
// that both parties can derive independently: the X coordinate of the point
// privKey * pubKey, encoded as 32 big-endian bytes.
//
// The session protocol uses ECDH between the two ephemeral keys exchanged
// in HELLO_REQ/HELLO_RSP. The shared secret exists only transiently; it is
// consumed immediately by HKDF and must be zeroed by the caller afterwards.
//
// Example:
//
//	// dApp side
//	secret1, err := ECDH(dappEphemeral, walletPub)
//
//	// wallet side
//	secret2, err := ECDH(walletEphemeral, dappPub)
//
//	// secret1 == secret2
func ECDH(privKey *ecdsa.PrivateKey, pubKey *ecdsa.PublicKey) ([]byte, error) {
	if privKey == nil {
		return nil, fmt.Errorf("crypto: nil private key")
	}
	if pubKey == nil {
		return nil, fmt.Errorf("crypto: nil public key")
	}

	ecdhPriv, err := privKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("crypto: private key not usable for ECDH: %w", err)
	}
	ecdhPub, err := pubKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}

	secret, err := ecdhPriv.ECDH(ecdhPub)
	if err != nil {
		return nil, fmt.Errorf("crypto: ECDH failed: %w", err)
	}
	return secret, nil
}
