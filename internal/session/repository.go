package session

import (
	"context"

	"github.com/tillworks/possync/internal/models"
)

// Repository persists tenant credentials so a restarted engine can resume
// with the last known token pair.
type Repository interface {
	// Get returns the stored credentials for a tenant.
	// Returns sql.ErrNoRows via wrapping if the tenant is unknown.
	Get(ctx context.Context, tenantID string) (*models.Credentials, error)

	// Save inserts or replaces the credentials for a tenant.
	Save(ctx context.Context, creds *models.Credentials) error
}
