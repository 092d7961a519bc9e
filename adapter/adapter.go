// Package adapter provides typed wrappers for the wallet-adapter JSON-RPC
// methods carried over an established session.
//
// The session layer moves opaque method/params pairs; this package gives
// them their wire shapes, decodes account addresses, and maps wallet error
// codes to named errors.
package adapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/solmwa/mwanode/session"
)

// Caller issues one JSON-RPC request and returns the raw result. A
// *session.Session satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Wallet error codes defined by the wallet-adapter protocol.
const (
	CodeAuthorizationFailed = -1
	CodeInvalidPayloads     = -2
	CodeNotSigned           = -3
	CodeNotSubmitted        = -4
	CodeNotCloned           = -5
	CodeTooManyPayloads     = -6
	CodeClusterNotSupported = -7
)

var (
	ErrAuthorizationFailed = errors.New("adapter: authorization request declined")
	ErrInvalidPayloads     = errors.New("adapter: one or more payloads are invalid")
	ErrNotSigned           = errors.New("adapter: wallet declined to sign")
	ErrNotSubmitted        = errors.New("adapter: wallet did not submit transactions")
	ErrNotCloned           = errors.New("adapter: authorization not cloned")
	ErrTooManyPayloads     = errors.New("adapter: too many payloads in one request")
	ErrClusterNotSupported = errors.New("adapter: cluster not supported by wallet")
)

var codeErrors = map[int64]error{
	CodeAuthorizationFailed: ErrAuthorizationFailed,
	CodeInvalidPayloads:     ErrInvalidPayloads,
	CodeNotSigned:           ErrNotSigned,
	CodeNotSubmitted:        ErrNotSubmitted,
	CodeNotCloned:           ErrNotCloned,
	CodeTooManyPayloads:     ErrTooManyPayloads,
	CodeClusterNotSupported: ErrClusterNotSupported,
}

// mapError wraps known wallet error codes in their named sentinel so
// callers can use errors.Is; unknown codes pass through as *RPCError.
func mapError(err error) error {
	var rpcErr *session.RPCError
	if errors.As(err, &rpcErr) {
		if named, ok := codeErrors[rpcErr.Code]; ok {
			return fmt.Errorf("%w: %s", named, rpcErr.Message)
		}
	}
	return err
}

// Client issues wallet-adapter requests over an established session.
type Client struct {
	caller Caller
}

// NewClient wraps a caller, typically an established *session.Session.
func NewClient(caller Caller) *Client {
	return &Client{caller: caller}
}

// Identity describes the dApp to the wallet during authorization.
type Identity struct {
	URI  string `json:"uri,omitempty"`
	Icon string `json:"icon,omitempty"`
	Name string `json:"name,omitempty"`
}

// Account is one authorized account. Address carries the raw public key
// bytes; Base58 renders them the way Solana tooling displays addresses.
type Account struct {
	Address []byte
	Base58  string
	Label   string
}

type wireAccount struct {
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}

func (wa wireAccount) decode() (Account, error) {
	raw, err := base64.StdEncoding.DecodeString(wa.Address)
	if err != nil {
		return Account{}, fmt.Errorf("adapter: decode account address: %w", err)
	}
	return Account{
		Address: raw,
		Base58:  base58.Encode(raw),
		Label:   wa.Label,
	}, nil
}

// AuthorizeParams configures an authorize request.
type AuthorizeParams struct {
	Identity Identity `json:"identity"`
	Cluster  string   `json:"cluster,omitempty"`
}

// Authorization is the decoded result of authorize, reauthorize, or
// clone_authorization.
type Authorization struct {
	AuthToken     string
	Accounts      []Account
	WalletURIBase string
}

type wireAuthorization struct {
	AuthToken     string        `json:"auth_token"`
	Accounts      []wireAccount `json:"accounts"`
	WalletURIBase string        `json:"wallet_uri_base,omitempty"`
}

func (wa wireAuthorization) decode() (*Authorization, error) {
	auth := &Authorization{
		AuthToken:     wa.AuthToken,
		WalletURIBase: wa.WalletURIBase,
	}
	for _, acc := range wa.Accounts {
		decoded, err := acc.decode()
		if err != nil {
			return nil, err
		}
		auth.Accounts = append(auth.Accounts, decoded)
	}
	return auth, nil
}

// Authorize requests authorization for the described identity.
func (c *Client) Authorize(ctx context.Context, params AuthorizeParams) (*Authorization, error) {
	return c.callAuthorization(ctx, "authorize", params)
}

// Reauthorize revalidates a previously issued auth token.
func (c *Client) Reauthorize(ctx context.Context, identity Identity, authToken string) (*Authorization, error) {
	return c.callAuthorization(ctx, "reauthorize", struct {
		Identity  Identity `json:"identity"`
		AuthToken string   `json:"auth_token"`
	}{identity, authToken})
}

// CloneAuthorization asks the wallet for a token usable from another
// endpoint.
func (c *Client) CloneAuthorization(ctx context.Context) (*Authorization, error) {
	return c.callAuthorization(ctx, "clone_authorization", struct{}{})
}

func (c *Client) callAuthorization(ctx context.Context, method string, params any) (*Authorization, error) {
	raw, err := c.caller.Call(ctx, method, params)
	if err != nil {
		return nil, mapError(err)
	}
	var wire wireAuthorization
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("adapter: decode %s result: %w", method, err)
	}
	return wire.decode()
}

// Deauthorize revokes an auth token.
func (c *Client) Deauthorize(ctx context.Context, authToken string) error {
	_, err := c.caller.Call(ctx, "deauthorize", struct {
		AuthToken string `json:"auth_token"`
	}{authToken})
	return mapError(err)
}

// Capabilities describes what the connected wallet supports.
type Capabilities struct {
	SupportsCloneAuthorization bool     `json:"supports_clone_authorization"`
	SupportsSignAndSend        bool     `json:"supports_sign_and_send_transactions"`
	MaxTransactionsPerRequest  int      `json:"max_transactions_per_request,omitempty"`
	MaxMessagesPerRequest      int      `json:"max_messages_per_request,omitempty"`
	SupportedTransactionVers   []string `json:"supported_transaction_versions,omitempty"`
}

// GetCapabilities queries the wallet's feature set.
func (c *Client) GetCapabilities(ctx context.Context) (*Capabilities, error) {
	raw, err := c.caller.Call(ctx, "get_capabilities", struct{}{})
	if err != nil {
		return nil, mapError(err)
	}
	var caps Capabilities
	if err := json.Unmarshal(raw, &caps); err != nil {
		return nil, fmt.Errorf("adapter: decode get_capabilities result: %w", err)
	}
	return &caps, nil
}

// SignTransactions submits serialized transactions for signing and returns
// the signed bytes in the same order.
func (c *Client) SignTransactions(ctx context.Context, payloads [][]byte) ([][]byte, error) {
	raw, err := c.caller.Call(ctx, "sign_transactions", encodePayloads(payloads))
	if err != nil {
		return nil, mapError(err)
	}
	return decodeSignedPayloads(raw, "signed_payloads")
}

// SignMessages submits messages for off-chain signing.
func (c *Client) SignMessages(ctx context.Context, addresses [][]byte, payloads [][]byte) ([][]byte, error) {
	encoded := struct {
		Addresses []string `json:"addresses"`
		Payloads  []string `json:"payloads"`
	}{
		Addresses: encodeBase64Each(addresses),
		Payloads:  encodeBase64Each(payloads),
	}
	raw, err := c.caller.Call(ctx, "sign_messages", encoded)
	if err != nil {
		return nil, mapError(err)
	}
	return decodeSignedPayloads(raw, "signed_payloads")
}

// SendOptions tune sign_and_send_transactions submission.
type SendOptions struct {
	MinContextSlot uint64 `json:"min_context_slot,omitempty"`
	Commitment     string `json:"commitment,omitempty"`
}

// SignAndSendTransactions has the wallet sign and submit transactions,
// returning base58 transaction signatures.
func (c *Client) SignAndSendTransactions(ctx context.Context, payloads [][]byte, opts *SendOptions) ([]string, error) {
	params := struct {
		Payloads []string     `json:"payloads"`
		Options  *SendOptions `json:"options,omitempty"`
	}{
		Payloads: encodeBase64Each(payloads),
		Options:  opts,
	}
	raw, err := c.caller.Call(ctx, "sign_and_send_transactions", params)
	if err != nil {
		return nil, mapError(err)
	}

	var result struct {
		Signatures []string `json:"signatures"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("adapter: decode signatures: %w", err)
	}
	// Wallets return signatures base64 encoded on the wire; re-render them
	// base58 as the rest of the ecosystem expects.
	signatures := make([]string, len(result.Signatures))
	for i, sig := range result.Signatures {
		rawSig, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			return nil, fmt.Errorf("adapter: decode signature %d: %w", i, err)
		}
		signatures[i] = base58.Encode(rawSig)
	}
	return signatures, nil
}

func encodePayloads(payloads [][]byte) any {
	return struct {
		Payloads []string `json:"payloads"`
	}{encodeBase64Each(payloads)}
}

func encodeBase64Each(items [][]byte) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = base64.StdEncoding.EncodeToString(item)
	}
	return out
}

func decodeSignedPayloads(raw json.RawMessage, field string) ([][]byte, error) {
	var result map[string][]string
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("adapter: decode signed payloads: %w", err)
	}
	encoded := result[field]
	payloads := make([][]byte, len(encoded))
	for i, item := range encoded {
		decoded, err := base64.StdEncoding.DecodeString(item)
		if err != nil {
			return nil, fmt.Errorf("adapter: decode signed payload %d: %w", i, err)
		}
		payloads[i] = decoded
	}
	return payloads, nil
}
