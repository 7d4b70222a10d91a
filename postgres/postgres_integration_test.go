//go:build integration
// +build integration

package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/pborman/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libopenstorage/credvault"
	"github.com/libopenstorage/credvault/test"
)

func setupIntegrationStore(t *testing.T) *Store {
	dsn := os.Getenv(DSNKey)
	if dsn == "" {
		t.Skipf("Skipping test because %s is not set", DSNKey)
	}
	s, err := New(map[string]interface{}{DSNKey: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.(*Store).Close() })
	return s.(*Store)
}

func TestStoreIntegration(t *testing.T) {
	test.RunForStore(setupIntegrationStore(t), t)
}

func TestManagerIntegration(t *testing.T) {
	test.RunForManager(setupIntegrationStore(t), t)
}

func TestRowSecurityIntegration(t *testing.T) {
	s := setupIntegrationStore(t)
	ctx := context.Background()

	var superuser bool
	err := s.db.QueryRowContext(ctx, `SELECT rolsuper FROM pg_roles WHERE rolname = current_user`).Scan(&superuser)
	require.NoError(t, err)
	if superuser {
		t.Skip("Skipping test because superusers bypass row level security")
	}

	owner := "owner_" + uuid.New()
	require.NoError(t, s.Upsert(ctx, credvault.Record{
		OwnerID:          owner,
		ServiceName:      "openai",
		EncryptedPayload: "payload",
		IntegrityHash:    "hash",
	}))
	defer s.Delete(ctx, owner, "openai")

	// Without an owner filter the policy still hides the row from others.
	var count int
	err = s.asOwner(ctx, "owner_"+uuid.New(), func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `SELECT count(*) FROM credentials WHERE service_name = 'openai'`).Scan(&count)
	})
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Writing a row for someone else is refused by the policy check.
	err = s.asOwner(ctx, "owner_"+uuid.New(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO credentials (owner_id, service_name, encrypted_payload, integrity_hash)
VALUES ($1, 'stripe', 'payload', 'hash')`, owner)
		return err
	})
	assert.Error(t, err)
}
