// Package association manages the long-lived association key pair and the
// pairing URI presented to wallets.
//
// The association key authenticates session handshakes: its private half
// signs the dApp's ephemeral key, its public half salts session key
// derivation and is carried in the association URI.
package association

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/solmwa/mwanode/crypto"
)

const (
	// URIScheme is the scheme of local association URIs.
	URIScheme = "solana-wallet"

	// uriPath selects local (loopback) association, protocol version 1.
	uriPath = "/v1/associate/local"

	pemBlockType = "EC PRIVATE KEY"
	keyFileMode  = 0600
)

// Keypair wraps the association key with its derived artifacts.
type Keypair struct {
	Private *ecdsa.PrivateKey

	// PublicBytes is the 65-byte uncompressed public point, the form used
	// in URIs and key derivation.
	PublicBytes []byte
}

func newKeypair(priv *ecdsa.PrivateKey) *Keypair {
	return &Keypair{
		Private:     priv,
		PublicBytes: crypto.UncompressedPoint(&priv.PublicKey),
	}
}

// Generate creates a fresh association key pair.
func Generate() (*Keypair, error) {
	priv, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	return newKeypair(priv), nil
}

// Load reads a PEM-encoded association key from path.
func Load(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("association: read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemBlockType {
		return nil, fmt.Errorf("association: %s does not contain an EC private key", path)
	}

	priv, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("association: parse key: %w", err)
	}
	return newKeypair(priv), nil
}

// Save writes the key pair to path in PEM form, creating parent directories
// as needed. The file is readable only by the owner.
func (kp *Keypair) Save(path string) error {
	der, err := x509.MarshalECPrivateKey(kp.Private)
	if err != nil {
		return fmt.Errorf("association: marshal key: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("association: create key directory: %w", err)
		}
	}

	encoded := pem.EncodeToMemory(&pem.Block{Type: pemBlockType, Bytes: der})
	if err := os.WriteFile(path, encoded, keyFileMode); err != nil {
		return fmt.Errorf("association: write key file: %w", err)
	}
	return nil
}

// LoadOrGenerate loads the key at path, generating and persisting a new one
// if the file does not exist yet.
func LoadOrGenerate(path string, logger logrus.FieldLogger) (*Keypair, error) {
	kp, err := Load(path)
	if err == nil {
		logger.WithField("path", path).Debug("loaded association key")
		return kp, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	kp, err = Generate()
	if err != nil {
		return nil, err
	}
	if err := kp.Save(path); err != nil {
		return nil, err
	}
	logger.WithField("path", path).Info("generated new association key")
	return kp, nil
}

// URI builds the local association URI a wallet scans or receives via an
// intent:
//
//	solana-wallet:/v1/associate/local?association=<base64url(Qa)>&port=<p>
//
// The association token is the base64url (unpadded) encoding of the
// uncompressed public point.
func (kp *Keypair) URI(port int) string {
	token := base64.RawURLEncoding.EncodeToString(kp.PublicBytes)
	query := url.Values{
		"association": {token},
		"port":        {strconv.Itoa(port)},
	}
	return URIScheme + ":" + uriPath + "?" + query.Encode()
}

// ParsedURI is the wallet-side view of an association URI.
type ParsedURI struct {
	PublicKey *ecdsa.PublicKey
	Port      int
}

// ParseURI decodes an association URI and validates the embedded public
// point.
func ParseURI(raw string) (*ParsedURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("association: parse uri: %w", err)
	}
	if u.Scheme != URIScheme {
		return nil, fmt.Errorf("association: unexpected scheme %q", u.Scheme)
	}
	if u.Opaque != "" || u.Path != uriPath {
		return nil, fmt.Errorf("association: unexpected path %q", u.Opaque+u.Path)
	}

	query := u.Query()

	token := query.Get("association")
	if token == "" {
		return nil, fmt.Errorf("association: missing association token")
	}
	pubBytes, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("association: decode token: %w", err)
	}
	pub, err := crypto.ParseUncompressedPoint(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("association: %w", err)
	}

	port, err := strconv.Atoi(query.Get("port"))
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("association: invalid port %q", query.Get("port"))
	}

	return &ParsedURI{PublicKey: pub, Port: port}, nil
}
