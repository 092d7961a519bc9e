// walletsim is a simulated wallet for exercising mwanode: it consumes an
// association URI, connects to the dApp's pairing endpoint, completes the
// session handshake, and answers adapter requests with deterministic
// canned results.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/solmwa/mwanode/association"
	"github.com/solmwa/mwanode/session"
)

var (
	// Flags
	logLevel  string
	authToken string
	decline   bool

	rootCmd = &cobra.Command{
		Use:   "walletsim <association-uri>",
		Short: "Simulated mobile wallet",
		Long: `walletsim connects to an mwanode pairing endpoint given its association
URI and plays the wallet role: verify the handshake, authorize with a
random ed25519 account, sign whatever is submitted.

Not a real wallet. Signatures are real ed25519 signatures over the raw
payload bytes, but no transaction parsing or chain submission happens.`,
		Args: cobra.ExactArgs(1),
		RunE: runWallet,
	}
)

func init() {
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&authToken, "auth-token", "walletsim-token", "Auth token to issue on authorize")
	rootCmd.Flags().BoolVar(&decline, "decline", false, "Decline authorization requests")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// wallet holds the simulated signing identity.
type wallet struct {
	logger  logrus.FieldLogger
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

func runWallet(cmd *cobra.Command, args []string) error {
	logger := logrus.New()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	parsed, err := association.ParseURI(args[0])
	if err != nil {
		return err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate account key: %w", err)
	}
	w := &wallet{logger: logger, public: pub, private: priv}

	endpoint, err := session.ConnectWallet(
		fmt.Sprintf("127.0.0.1:%d", parsed.Port),
		session.WalletConfig{
			AssociationPublicKey: parsed.PublicKey,
			SessionProperties:    []byte(`{"protocol_version":"v1"}`),
			Handler:              w.handle,
			Logger:               logger,
		},
	)
	if err != nil {
		return err
	}

	logger.Info("connected, serving requests")
	<-endpoint.Done()
	logger.Info("session ended")
	return nil
}

// handle answers adapter requests with canned results.
func (w *wallet) handle(method string, params json.RawMessage) (any, *session.RPCError) {
	w.logger.WithField("method", method).Info("request")

	switch method {
	case "authorize", "reauthorize":
		if decline {
			return nil, &session.RPCError{Code: -1, Message: "authorization declined"}
		}
		return map[string]any{
			"auth_token": authToken,
			"accounts": []map[string]string{{
				"address": base64.StdEncoding.EncodeToString(w.public),
				"label":   "walletsim account",
			}},
		}, nil

	case "deauthorize":
		return map[string]any{}, nil

	case "get_capabilities":
		return map[string]any{
			"supports_clone_authorization":        false,
			"supports_sign_and_send_transactions": true,
			"max_transactions_per_request":        10,
			"max_messages_per_request":            10,
		}, nil

	case "sign_transactions", "sign_messages":
		payloads, rpcErr := decodePayloads(params)
		if rpcErr != nil {
			return nil, rpcErr
		}
		signed := make([]string, len(payloads))
		for i, payload := range payloads {
			sig := ed25519.Sign(w.private, payload)
			signed[i] = base64.StdEncoding.EncodeToString(append(payload, sig...))
		}
		return map[string]any{"signed_payloads": signed}, nil

	case "sign_and_send_transactions":
		payloads, rpcErr := decodePayloads(params)
		if rpcErr != nil {
			return nil, rpcErr
		}
		signatures := make([]string, len(payloads))
		for i, payload := range payloads {
			sig := ed25519.Sign(w.private, payload)
			signatures[i] = base64.StdEncoding.EncodeToString(sig)
		}
		return map[string]any{"signatures": signatures}, nil

	case "clone_authorization":
		return nil, &session.RPCError{Code: -5, Message: "clone not supported"}

	default:
		return nil, &session.RPCError{Code: -32601, Message: "method not found"}
	}
}

func decodePayloads(params json.RawMessage) ([][]byte, *session.RPCError) {
	var req struct {
		Payloads []string `json:"payloads"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, &session.RPCError{Code: -32602, Message: "invalid params"}
	}
	if len(req.Payloads) > 10 {
		return nil, &session.RPCError{Code: -6, Message: "too many payloads"}
	}

	payloads := make([][]byte, len(req.Payloads))
	for i, encoded := range req.Payloads {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, &session.RPCError{Code: -2, Message: fmt.Sprintf("payload %d is not valid base64", i)}
		}
		payloads[i] = decoded
	}
	return payloads, nil
}
