package session

import (
	"context"
	"fmt"
	"time"

	"github.com/tillworks/possync/internal/dbx"
	"github.com/tillworks/possync/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, tenantID string) (*models.Credentials, error) {
	query := `select tenant_id, email, password, api_key, access_token, refresh_token, expires_at, updated_at
			from credentials where tenant_id=?`
	row := r.db.QueryRowContext(ctx, query, tenantID)

	c := &models.Credentials{}
	var updatedAt string
	if err := row.Scan(&c.TenantID, &c.Email, &c.Password, &c.APIKey,
		&c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		c.UpdatedAt = t
	}
	return c, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, creds *models.Credentials) error {
	query := `insert into credentials (tenant_id, email, password, api_key, access_token, refresh_token, expires_at, updated_at)
			values (?, ?, ?, ?, ?, ?, ?, ?)
			on conflict(tenant_id) do update set
				email = excluded.email,
				password = excluded.password,
				api_key = excluded.api_key,
				access_token = excluded.access_token,
				refresh_token = excluded.refresh_token,
				expires_at = excluded.expires_at,
				updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query,
		creds.TenantID, creds.Email, creds.Password, creds.APIKey,
		creds.AccessToken, creds.RefreshToken, creds.ExpiresAt,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}
