// Package node wires the pieces into a runnable dApp node: association key
// management, the pairing session, wallet RPC, and authorization
// persistence.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solmwa/mwanode/adapter"
	"github.com/solmwa/mwanode/association"
	"github.com/solmwa/mwanode/config"
	"github.com/solmwa/mwanode/db"
	"github.com/solmwa/mwanode/session"
	"github.com/solmwa/mwanode/websocket"
)

// Node is the long-running dApp-side service.
//
// It owns one pairing session at a time: bind a listener, publish the
// association URI, wait for a wallet, authorize, and keep the encrypted
// channel available for signing requests until either side closes it.
type Node struct {
	logger logrus.FieldLogger
	config *config.Config

	database *db.Database
	keypair  *association.Keypair

	// Current session; replaced on every pairing round.
	mu      sync.RWMutex
	session *session.Session
	client  *adapter.Client
	auth    *adapter.Authorization

	startTime time.Time
}

// New prepares a node: opens the database, applies migrations, and loads or
// generates the association key.
func New(cfg *config.Config, logger logrus.FieldLogger) (*Node, error) {
	database := db.NewDatabase(&db.SqliteDatabaseConfig{File: cfg.DBFile}, logger)
	if err := database.Init(); err != nil {
		return nil, fmt.Errorf("node: init database: %w", err)
	}
	if err := database.ApplyEmbeddedDbSchema(-2); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("node: apply database schema: %w", err)
	}

	keypair, err := association.LoadOrGenerate(cfg.KeyFile, logger)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	// Persisting the public point lets a restart detect a swapped key,
	// which invalidates every stored auth token.
	stored, err := database.LoadAssociationPublicKey()
	if err == nil && string(stored) != string(keypair.PublicBytes) {
		logger.Warn("association key changed since last run; stored authorizations are stale")
	}
	if err := database.StoreAssociationPublicKey(keypair.PublicBytes); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("node: store association key: %w", err)
	}

	return &Node{
		logger:    logger.WithField("module", "node"),
		config:    cfg,
		database:  database,
		keypair:   keypair,
		startTime: time.Now(),
	}, nil
}

// Close releases the database.
func (n *Node) Close() error {
	n.mu.Lock()
	sess := n.session
	n.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
	return n.database.Close()
}

// Database exposes the authorization store.
func (n *Node) Database() *db.Database {
	return n.database
}

// Keypair returns the association key pair.
func (n *Node) Keypair() *association.Keypair {
	return n.keypair
}

// Pair runs one full pairing round: bind, publish the URI, wait for a
// wallet, establish the encrypted channel, and authorize. The session stays
// open afterwards; use Client for signing requests.
func (n *Node) Pair(ctx context.Context) (*adapter.Authorization, error) {
	sess, err := session.New(session.Config{
		AssociationKey: n.keypair.Private,
		Host:           n.config.Session.Host,
		Port:           n.config.Session.Port,
		AcceptTimeout:  n.config.Session.AcceptTimeout.Std(),
		Logger:         n.logger,
	})
	if err != nil {
		return nil, err
	}

	uri := n.keypair.URI(sess.Port())
	n.logger.WithField("uri", uri).Info("waiting for wallet")
	fmt.Println(uri)

	n.mu.Lock()
	n.session = sess
	n.client = adapter.NewClient(sess)
	n.auth = nil
	n.mu.Unlock()

	if err := sess.Establish(ctx); err != nil {
		return nil, err
	}

	auth, err := n.authorize(ctx)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}

	n.mu.Lock()
	n.auth = auth
	n.mu.Unlock()
	return auth, nil
}

// authorize requests authorization and persists the grant.
func (n *Node) authorize(ctx context.Context) (*adapter.Authorization, error) {
	auth, err := n.client.Authorize(ctx, adapter.AuthorizeParams{
		Identity: adapter.Identity{
			Name: n.config.Identity.Name,
			URI:  n.config.Identity.URI,
			Icon: n.config.Identity.Icon,
		},
		Cluster: n.config.Cluster,
	})
	if err != nil {
		return nil, err
	}
	if len(auth.Accounts) == 0 {
		return nil, fmt.Errorf("node: wallet granted no accounts")
	}

	account := auth.Accounts[0]
	record := &db.Authorization{
		AuthToken:      auth.AuthToken,
		IdentityName:   n.config.Identity.Name,
		IdentityURI:    n.config.Identity.URI,
		Cluster:        n.config.Cluster,
		AccountAddress: account.Address,
		AccountBase58:  account.Base58,
		WalletURIBase:  auth.WalletURIBase,
		IssuedAt:       time.Now().Unix(),
	}
	if err := n.database.UpsertAuthorization(nil, record); err != nil {
		return nil, fmt.Errorf("node: persist authorization: %w", err)
	}

	n.logger.WithFields(logrus.Fields{
		"account": account.Base58,
		"cluster": n.config.Cluster,
	}).Info("wallet authorized")
	return auth, nil
}

// Deauthorize revokes the current grant with the wallet and marks it
// revoked locally.
func (n *Node) Deauthorize(ctx context.Context) error {
	n.mu.RLock()
	client, auth := n.client, n.auth
	n.mu.RUnlock()
	if client == nil || auth == nil {
		return fmt.Errorf("node: no active authorization")
	}

	if err := client.Deauthorize(ctx, auth.AuthToken); err != nil {
		return err
	}
	return n.database.RevokeAuthorization(nil, auth.AuthToken, time.Now().Unix())
}

// Client returns the typed wallet client of the current session, or nil
// when no session is live.
func (n *Node) Client() *adapter.Client {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.client
}

// Session returns the current session, or nil.
func (n *Node) Session() *session.Session {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.session
}

// TouchAuthorization records use of the current grant.
func (n *Node) TouchAuthorization() {
	n.mu.RLock()
	auth := n.auth
	n.mu.RUnlock()
	if auth == nil {
		return
	}
	if err := n.database.TouchAuthorization(nil, auth.AuthToken, time.Now().Unix()); err != nil {
		n.logger.WithError(err).Warn("authorization touch failed")
	}
}

// StartTime implements webui.StatusProvider.
func (n *Node) StartTime() time.Time {
	return n.startTime
}

// AssociationURI implements webui.StatusProvider.
func (n *Node) AssociationURI() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.session == nil || n.session.State() == session.StateClosed {
		return ""
	}
	return n.keypair.URI(n.session.Port())
}

// SessionState implements webui.StatusProvider.
func (n *Node) SessionState() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.session == nil {
		return ""
	}
	return n.session.State().String()
}

// SessionStats implements webui.StatusProvider.
func (n *Node) SessionStats() session.TrackerStats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.session == nil {
		return session.TrackerStats{}
	}
	return n.session.RequestStats()
}

// TransportStats implements webui.StatusProvider.
func (n *Node) TransportStats() websocket.Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.session == nil {
		return websocket.Stats{}
	}
	return n.session.TransportMetrics()
}

// Authorizations implements webui.StatusProvider.
func (n *Node) Authorizations() ([]*db.Authorization, error) {
	return n.database.GetAuthorizations()
}
