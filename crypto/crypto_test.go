package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"errors"
	"math/big"
	"testing"
)

// TestKeyGeneration tests P-256 key pair generation
func TestKeyGeneration(t *testing.T) {
	priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	if priv.Curve != elliptic.P256() {
		t.Error("Generated key is not on P-256")
	}

	point := UncompressedPoint(&priv.PublicKey)
	if len(point) != PointSize {
		t.Errorf("Uncompressed point length = %d, want %d", len(point), PointSize)
	}
	if point[0] != 0x04 {
		t.Errorf("Uncompressed point prefix = 0x%02x, want 0x04", point[0])
	}
}

// TestPointRoundTrip tests uncompressed point encoding and decoding
func TestPointRoundTrip(t *testing.T) {
	for i := 0; i < 32; i++ {
		priv, err := GenerateKeypair()
		if err != nil {
			t.Fatalf("Failed to generate key: %v", err)
		}

		encoded := UncompressedPoint(&priv.PublicKey)
		decoded, err := ParseUncompressedPoint(encoded)
		if err != nil {
			t.Fatalf("Failed to parse point: %v", err)
		}

		if decoded.X.Cmp(priv.PublicKey.X) != 0 || decoded.Y.Cmp(priv.PublicKey.Y) != 0 {
			t.Fatal("Decoded point doesn't match original")
		}
	}
}

// TestPointPadding tests that short coordinates are zero-padded to 32 bytes.
// big.Int.Bytes() drops leading zeros, so a key whose X coordinate starts
// with a zero byte would otherwise encode to 64 bytes instead of 65.
func TestPointPadding(t *testing.T) {
	// Search for a key pair with a short X or Y coordinate.
	for i := 0; i < 4096; i++ {
		priv, err := GenerateKeypair()
		if err != nil {
			t.Fatalf("Failed to generate key: %v", err)
		}
		if len(priv.PublicKey.X.Bytes()) == CoordinateSize && len(priv.PublicKey.Y.Bytes()) == CoordinateSize {
			continue
		}

		encoded := UncompressedPoint(&priv.PublicKey)
		if len(encoded) != PointSize {
			t.Fatalf("Point with short coordinate encoded to %d bytes, want %d", len(encoded), PointSize)
		}
		decoded, err := ParseUncompressedPoint(encoded)
		if err != nil {
			t.Fatalf("Failed to parse padded point: %v", err)
		}
		if decoded.X.Cmp(priv.PublicKey.X) != 0 || decoded.Y.Cmp(priv.PublicKey.Y) != 0 {
			t.Fatal("Padded point round trip failed")
		}
		return
	}
	t.Skip("no short-coordinate key found (probability ~1e-7)")
}

// TestParsePointErrors tests rejection of malformed point encodings
func TestParsePointErrors(t *testing.T) {
	priv, _ := GenerateKeypair()
	valid := UncompressedPoint(&priv.PublicKey)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", valid[:64]},
		{"too long", append(append([]byte{}, valid...), 0x00)},
		{"bad prefix", append([]byte{0x05}, valid[1:]...)},
		{"off-curve", func() []byte {
			bad := append([]byte{}, valid...)
			bad[64] ^= 0x01 // perturb Y
			return bad
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseUncompressedPoint(tt.data); err == nil {
				t.Errorf("ParseUncompressedPoint(%s) succeeded, want error", tt.name)
			}
		})
	}
}

// TestECDH tests ECDH key agreement
func TestECDH(t *testing.T) {
	alicePriv, _ := GenerateKeypair()
	bobPriv, _ := GenerateKeypair()

	secret1, err := ECDH(alicePriv, &bobPriv.PublicKey)
	if err != nil {
		t.Fatalf("Alice ECDH failed: %v", err)
	}
	secret2, err := ECDH(bobPriv, &alicePriv.PublicKey)
	if err != nil {
		t.Fatalf("Bob ECDH failed: %v", err)
	}

	if !bytes.Equal(secret1, secret2) {
		t.Error("ECDH shared secrets don't match")
	}
	if len(secret1) != 32 {
		t.Errorf("Shared secret length = %d, want 32", len(secret1))
	}
}

// TestECDHRejectsInvalidPoint tests that ECDH fails for off-curve peers
func TestECDHRejectsInvalidPoint(t *testing.T) {
	priv, _ := GenerateKeypair()

	bad := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     big.NewInt(1),
		Y:     big.NewInt(1),
	}
	if _, err := ECDH(priv, bad); err == nil {
		t.Error("ECDH with off-curve point succeeded, want error")
	}
}

// TestHKDFDeterminism tests that key derivation is a pure function
func TestHKDFDeterminism(t *testing.T) {
	ikm, _ := GenerateRandomBytes(32)
	salt, _ := GenerateRandomBytes(65)

	key1, err := DeriveKey(ikm, salt, 16)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	key2, _ := DeriveKey(ikm, salt, 16)
	if !bytes.Equal(key1, key2) {
		t.Error("DeriveKey is not deterministic")
	}

	otherSalt, _ := GenerateRandomBytes(65)
	key3, _ := DeriveKey(ikm, otherSalt, 16)
	if bytes.Equal(key1, key3) {
		t.Error("Different salts produced identical keys")
	}
}

// TestHKDFOutputLengths tests output lengths that are not hash-size multiples
func TestHKDFOutputLengths(t *testing.T) {
	ikm, _ := GenerateRandomBytes(32)

	for _, length := range []int{1, 16, 31, 32, 33, 64, 100} {
		key, err := DeriveKey(ikm, nil, length)
		if err != nil {
			t.Fatalf("DeriveKey(length=%d) failed: %v", length, err)
		}
		if len(key) != length {
			t.Errorf("DeriveKey(length=%d) returned %d bytes", length, len(key))
		}
	}

	if _, err := DeriveKey(ikm, nil, 0); err == nil {
		t.Error("DeriveKey(length=0) succeeded, want error")
	}
}

// TestPacketCipherRoundTrip tests AEAD encryption and decryption
func TestPacketCipherRoundTrip(t *testing.T) {
	key, _ := GenerateRandomBytes(AESKeySize)
	c, err := NewPacketCipher(key)
	if err != nil {
		t.Fatalf("NewPacketCipher failed: %v", err)
	}

	plaintexts := [][]byte{
		nil,
		[]byte("x"),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`),
		bytes.Repeat([]byte{0xAB}, 4096),
	}

	for i, plaintext := range plaintexts {
		seq := uint32(i + 1)
		packet, err := c.Encrypt(seq, plaintext)
		if err != nil {
			t.Fatalf("Encrypt(seq=%d) failed: %v", seq, err)
		}
		if len(packet) != MinPacketSize+len(plaintext) {
			t.Errorf("Packet length = %d, want %d", len(packet), MinPacketSize+len(plaintext))
		}

		decrypted, err := c.Decrypt(seq, packet)
		if err != nil {
			t.Fatalf("Decrypt(seq=%d) failed: %v", seq, err)
		}
		if !bytes.Equal(decrypted, plaintext) {
			t.Errorf("Decrypted plaintext doesn't match original (seq=%d)", seq)
		}
	}
}

// TestPacketCipherSequenceRejection tests that mismatched sequence numbers fail
func TestPacketCipherSequenceRejection(t *testing.T) {
	key, _ := GenerateRandomBytes(AESKeySize)
	c, _ := NewPacketCipher(key)

	packet, err := c.Encrypt(2, []byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err := c.Decrypt(1, packet); !errors.Is(err, ErrSequenceMismatch) {
		t.Errorf("Decrypt with wrong seq = %v, want ErrSequenceMismatch", err)
	}
}

// TestPacketCipherTamperRejection tests that modified packets fail authentication
func TestPacketCipherTamperRejection(t *testing.T) {
	key, _ := GenerateRandomBytes(AESKeySize)
	c, _ := NewPacketCipher(key)

	packet, err := c.Encrypt(1, []byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Flip every byte past the sequence prefix in turn: nonce, ciphertext,
	// and tag corruption must all surface as authentication failures.
	for i := SeqSize; i < len(packet); i++ {
		tampered := append([]byte{}, packet...)
		tampered[i] ^= 0xFF

		if _, err := c.Decrypt(1, tampered); !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("Decrypt with byte %d tampered = %v, want ErrAuthenticationFailed", i, err)
		}
	}
}

// TestPacketCipherShortPacket tests the minimum length check
func TestPacketCipherShortPacket(t *testing.T) {
	key, _ := GenerateRandomBytes(AESKeySize)
	c, _ := NewPacketCipher(key)

	for _, n := range []int{0, 1, SeqSize, MinPacketSize - 1} {
		short := make([]byte, n)
		if _, err := c.Decrypt(1, short); !errors.Is(err, ErrPacketTooShort) {
			t.Errorf("Decrypt(%d bytes) = %v, want ErrPacketTooShort", n, err)
		}
	}
}

// TestPacketCipherWrongKey tests that a wrong session key fails authentication
func TestPacketCipherWrongKey(t *testing.T) {
	key1, _ := GenerateRandomBytes(AESKeySize)
	key2, _ := GenerateRandomBytes(AESKeySize)
	c1, _ := NewPacketCipher(key1)
	c2, _ := NewPacketCipher(key2)

	packet, _ := c1.Encrypt(1, []byte("payload"))
	if _, err := c2.Decrypt(1, packet); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Decrypt with wrong key = %v, want ErrAuthenticationFailed", err)
	}
}

// TestNewPacketCipherKeySize tests key size validation
func TestNewPacketCipherKeySize(t *testing.T) {
	for _, n := range []int{0, 15, 17, 32} {
		key := make([]byte, n)
		if _, err := NewPacketCipher(key); !errors.Is(err, ErrInvalidKeySize) {
			t.Errorf("NewPacketCipher(%d-byte key) = %v, want ErrInvalidKeySize", n, err)
		}
	}
}

// TestDeriveSessionKey tests the handshake key derivation
func TestDeriveSessionKey(t *testing.T) {
	secret, _ := GenerateRandomBytes(32)
	assocPub, _ := GenerateRandomBytes(65)

	key, err := DeriveSessionKey(secret, assocPub)
	if err != nil {
		t.Fatalf("DeriveSessionKey failed: %v", err)
	}
	if len(key) != SessionKeySize {
		t.Errorf("Session key length = %d, want %d", len(key), SessionKeySize)
	}

	if _, err := DeriveSessionKey(secret[:16], assocPub); err == nil {
		t.Error("DeriveSessionKey with short secret succeeded, want error")
	}
}
