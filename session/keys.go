package session

import (
	"github.com/solmwa/mwanode/crypto"
)

// SessionKeys holds the symmetric key material for one session.
//
// The key lives exactly as long as the session; Destroy scrubs it when the
// session closes. The packet cipher built from it stays usable until then.
type SessionKeys struct {
	key    []byte
	cipher *crypto.PacketCipher
}

// newSessionKeys wraps a derived 16-byte AES key into a packet cipher.
// Ownership of the key slice transfers to the SessionKeys.
func newSessionKeys(key []byte) (*SessionKeys, error) {
	cipher, err := crypto.NewPacketCipher(key)
	if err != nil {
		return nil, err
	}
	return &SessionKeys{key: key, cipher: cipher}, nil
}

// Cipher returns the packet cipher for this session.
func (k *SessionKeys) Cipher() *crypto.PacketCipher {
	return k.cipher
}

// Destroy scrubs the key bytes. Best-effort hygiene; the expanded AES key
// schedule inside the cipher is beyond reach.
func (k *SessionKeys) Destroy() {
	crypto.ZeroBytes(k.key)
}
