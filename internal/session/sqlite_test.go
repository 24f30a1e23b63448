package session

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillworks/possync/internal/models"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE credentials (
  tenant_id TEXT PRIMARY KEY,
  email TEXT NOT NULL DEFAULT '',
  password TEXT NOT NULL DEFAULT '',
  api_key TEXT NOT NULL DEFAULT '',
  access_token TEXT NOT NULL DEFAULT '',
  refresh_token TEXT NOT NULL DEFAULT '',
  expires_at INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL
);
`)
	require.NoError(t, err)

	return db
}

func TestSaveAndGet(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	c := &models.Credentials{
		TenantID:     "t1",
		Email:        "till@example.com",
		Password:     "pw",
		APIKey:       "key",
		AccessToken:  "tok",
		RefreshToken: "r1",
		ExpiresAt:    12345,
	}
	require.NoError(t, r.Save(ctx, c))

	got, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "till@example.com", got.Email)
	assert.Equal(t, "tok", got.AccessToken)
	assert.Equal(t, "r1", got.RefreshToken)
	assert.Equal(t, int64(12345), got.ExpiresAt)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestSave_ReplacesExisting(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, &models.Credentials{TenantID: "t1", AccessToken: "old"}))
	require.NoError(t, r.Save(ctx, &models.Credentials{TenantID: "t1", AccessToken: "new", ExpiresAt: 99}))

	got, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.Equal(t, int64(99), got.ExpiresAt)

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM credentials`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestGet_UnknownTenant(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	_, err := r.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
