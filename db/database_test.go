package db

import (
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testDatabase(t *testing.T) *Database {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	d := NewDatabase(&SqliteDatabaseConfig{File: ":memory:"}, logger)
	if err := d.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := d.ApplyEmbeddedDbSchema(-2); err != nil {
		t.Fatalf("ApplyEmbeddedDbSchema: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestAuthorizationLifecycle(t *testing.T) {
	d := testDatabase(t)

	now := time.Now().Unix()
	auth := &Authorization{
		AuthToken:      "token-1",
		IdentityName:   "demo dapp",
		IdentityURI:    "https://dapp.example",
		Cluster:        "devnet",
		AccountAddress: []byte{1, 2, 3, 4},
		AccountBase58:  "2VfUX",
		IssuedAt:       now,
	}
	if err := d.UpsertAuthorization(nil, auth); err != nil {
		t.Fatalf("UpsertAuthorization: %v", err)
	}

	got, err := d.GetAuthorization("token-1")
	if err != nil {
		t.Fatalf("GetAuthorization: %v", err)
	}
	if got.IdentityName != "demo dapp" || got.Cluster != "devnet" {
		t.Errorf("got %+v", got)
	}
	if got.LastUsed.Valid || got.RevokedAt.Valid {
		t.Errorf("fresh grant has last_used=%v revoked_at=%v", got.LastUsed, got.RevokedAt)
	}

	if err := d.TouchAuthorization(nil, "token-1", now+10); err != nil {
		t.Fatalf("TouchAuthorization: %v", err)
	}
	got, err = d.GetAuthorization("token-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastUsed.Valid || got.LastUsed.Int64 != now+10 {
		t.Errorf("last_used = %+v, want %d", got.LastUsed, now+10)
	}

	if err := d.RevokeAuthorization(nil, "token-1", now+20); err != nil {
		t.Fatalf("RevokeAuthorization: %v", err)
	}
	total, active, err := d.CountAuthorizations()
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || active != 0 {
		t.Errorf("total=%d active=%d, want 1/0", total, active)
	}

	// Revocation is sticky: a second revoke must not move the timestamp.
	if err := d.RevokeAuthorization(nil, "token-1", now+99); err != nil {
		t.Fatal(err)
	}
	got, _ = d.GetAuthorization("token-1")
	if got.RevokedAt.Int64 != now+20 {
		t.Errorf("revoked_at = %d, want %d", got.RevokedAt.Int64, now+20)
	}
}

func TestAuthorizationUpsertRefreshes(t *testing.T) {
	d := testDatabase(t)

	base := &Authorization{
		AuthToken:      "token-1",
		IdentityName:   "old name",
		AccountAddress: []byte{1},
		AccountBase58:  "2",
		IssuedAt:       100,
	}
	if err := d.UpsertAuthorization(nil, base); err != nil {
		t.Fatal(err)
	}

	base.IdentityName = "new name"
	if err := d.UpsertAuthorization(nil, base); err != nil {
		t.Fatal(err)
	}

	got, err := d.GetAuthorization("token-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.IdentityName != "new name" {
		t.Errorf("identity = %q, want new name", got.IdentityName)
	}
	total, _, err := d.CountAuthorizations()
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestGetActiveAuthorizations(t *testing.T) {
	d := testDatabase(t)

	for i, token := range []string{"a", "b", "c"} {
		auth := &Authorization{
			AuthToken:      token,
			IdentityName:   "dapp",
			AccountAddress: []byte{byte(i)},
			AccountBase58:  token,
			IssuedAt:       int64(100 + i),
		}
		if err := d.UpsertAuthorization(nil, auth); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.RevokeAuthorization(nil, "b", 200); err != nil {
		t.Fatal(err)
	}

	active, err := d.GetActiveAuthorizations()
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	// Newest first.
	if active[0].AuthToken != "c" || active[1].AuthToken != "a" {
		t.Errorf("order = [%s %s], want [c a]", active[0].AuthToken, active[1].AuthToken)
	}
}

func TestDeleteAuthorization(t *testing.T) {
	d := testDatabase(t)

	auth := &Authorization{
		AuthToken:      "token-1",
		IdentityName:   "dapp",
		AccountAddress: []byte{1},
		AccountBase58:  "2",
		IssuedAt:       1,
	}
	if err := d.UpsertAuthorization(nil, auth); err != nil {
		t.Fatal(err)
	}
	if err := d.DeleteAuthorization(nil, "token-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.GetAuthorization("token-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	d := testDatabase(t)

	point := []byte{0x04, 0xAA, 0xBB}
	if err := d.StoreAssociationPublicKey(point); err != nil {
		t.Fatalf("StoreAssociationPublicKey: %v", err)
	}
	got, err := d.LoadAssociationPublicKey()
	if err != nil {
		t.Fatalf("LoadAssociationPublicKey: %v", err)
	}
	if string(got) != string(point) {
		t.Errorf("got %x, want %x", got, point)
	}

	// Overwrite wins.
	if err := d.SetState(nil, StateKeyAssociationPublicKey, []byte{0x04}); err != nil {
		t.Fatal(err)
	}
	got, _ = d.LoadAssociationPublicKey()
	if len(got) != 1 {
		t.Errorf("got %x after overwrite", got)
	}

	if err := d.DeleteState(nil, StateKeyAssociationPublicKey); err != nil {
		t.Fatal(err)
	}
	if _, err := d.GetState(StateKeyAssociationPublicKey); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestQueryCount(t *testing.T) {
	d := testDatabase(t)
	before := d.QueryCount()
	_, _, _ = d.CountAuthorizations()
	if d.QueryCount() <= before {
		t.Error("query count did not increase")
	}
}
