package db

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Authorization is a persisted wallet authorization grant.
type Authorization struct {
	AuthToken      string        `db:"auth_token"`      // Opaque token issued by the wallet
	IdentityName   string        `db:"identity_name"`   // dApp name presented at authorize time
	IdentityURI    string        `db:"identity_uri"`    // dApp uri presented at authorize time
	Cluster        string        `db:"cluster"`         // Solana cluster the grant is scoped to
	AccountAddress []byte        `db:"account_address"` // Raw account public key
	AccountBase58  string        `db:"account_base58"`  // Display form of the account
	WalletURIBase  string        `db:"wallet_uri_base"` // Optional wallet endpoint override
	IssuedAt       int64         `db:"issued_at"`       // Unix timestamp
	LastUsed       sql.NullInt64 `db:"last_used"`       // Unix timestamp (nullable)
	RevokedAt      sql.NullInt64 `db:"revoked_at"`      // Unix timestamp (nullable)
}

// GetAuthorization retrieves a single authorization by token.
func (d *Database) GetAuthorization(authToken string) (*Authorization, error) {
	d.trackQuery()
	auth := &Authorization{}
	err := d.ReaderDb.Get(auth, `
		SELECT auth_token, identity_name, identity_uri, cluster, account_address, account_base58,
		       wallet_uri_base, issued_at, last_used, revoked_at
		FROM authorizations WHERE auth_token = $1`, authToken)
	if err != nil {
		return nil, err
	}
	return auth, nil
}

// GetAuthorizations retrieves all authorizations, newest first.
func (d *Database) GetAuthorizations() ([]*Authorization, error) {
	d.trackQuery()
	auths := []*Authorization{}
	err := d.ReaderDb.Select(&auths, `
		SELECT auth_token, identity_name, identity_uri, cluster, account_address, account_base58,
		       wallet_uri_base, issued_at, last_used, revoked_at
		FROM authorizations ORDER BY issued_at DESC`)
	return auths, err
}

// GetActiveAuthorizations retrieves authorizations that have not been
// revoked.
func (d *Database) GetActiveAuthorizations() ([]*Authorization, error) {
	d.trackQuery()
	auths := []*Authorization{}
	err := d.ReaderDb.Select(&auths, `
		SELECT auth_token, identity_name, identity_uri, cluster, account_address, account_base58,
		       wallet_uri_base, issued_at, last_used, revoked_at
		FROM authorizations WHERE revoked_at IS NULL ORDER BY issued_at DESC`)
	return auths, err
}

// CountAuthorizations returns total and active counts.
func (d *Database) CountAuthorizations() (total int, active int, err error) {
	d.trackQuery()
	err = d.ReaderDb.Get(&total, "SELECT COUNT(*) FROM authorizations")
	if err != nil {
		return 0, 0, err
	}
	err = d.ReaderDb.Get(&active, "SELECT COUNT(*) FROM authorizations WHERE revoked_at IS NULL")
	return total, active, err
}

// UpsertAuthorization inserts or refreshes an authorization.
// If tx is nil, creates and manages its own transaction automatically.
func (d *Database) UpsertAuthorization(tx *sqlx.Tx, auth *Authorization) error {
	if tx == nil {
		return d.RunDBTransaction(func(tx *sqlx.Tx) error {
			return d.UpsertAuthorization(tx, auth)
		})
	}

	_, err := tx.Exec(`
		INSERT INTO authorizations (
			auth_token, identity_name, identity_uri, cluster, account_address, account_base58,
			wallet_uri_base, issued_at, last_used, revoked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT(auth_token) DO UPDATE SET
			identity_name = excluded.identity_name,
			identity_uri = excluded.identity_uri,
			cluster = excluded.cluster,
			account_address = excluded.account_address,
			account_base58 = excluded.account_base58,
			wallet_uri_base = excluded.wallet_uri_base,
			last_used = excluded.last_used,
			revoked_at = excluded.revoked_at`,
		auth.AuthToken, auth.IdentityName, auth.IdentityURI, auth.Cluster,
		auth.AccountAddress, auth.AccountBase58, auth.WalletURIBase,
		auth.IssuedAt, auth.LastUsed, auth.RevokedAt,
	)
	return err
}

// TouchAuthorization updates the last_used timestamp of a token.
func (d *Database) TouchAuthorization(tx *sqlx.Tx, authToken string, usedAt int64) error {
	if tx == nil {
		return d.RunDBTransaction(func(tx *sqlx.Tx) error {
			return d.TouchAuthorization(tx, authToken, usedAt)
		})
	}

	_, err := tx.Exec(`
		UPDATE authorizations SET last_used = $2 WHERE auth_token = $1`,
		authToken, usedAt,
	)
	return err
}

// RevokeAuthorization marks a token revoked. Revoked rows are kept for
// audit rather than deleted.
func (d *Database) RevokeAuthorization(tx *sqlx.Tx, authToken string, revokedAt int64) error {
	if tx == nil {
		return d.RunDBTransaction(func(tx *sqlx.Tx) error {
			return d.RevokeAuthorization(tx, authToken, revokedAt)
		})
	}

	_, err := tx.Exec(`
		UPDATE authorizations SET revoked_at = $2
		WHERE auth_token = $1 AND revoked_at IS NULL`,
		authToken, revokedAt,
	)
	return err
}

// DeleteAuthorization removes a row entirely.
func (d *Database) DeleteAuthorization(tx *sqlx.Tx, authToken string) error {
	if tx == nil {
		return d.RunDBTransaction(func(tx *sqlx.Tx) error {
			return d.DeleteAuthorization(tx, authToken)
		})
	}

	_, err := tx.Exec("DELETE FROM authorizations WHERE auth_token = $1", authToken)
	return err
}
