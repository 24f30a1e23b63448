// Package audit records what was pushed or pulled, when, and by whom.
// The log is append-only: entries are never mutated or deleted.
package audit

import (
	"context"

	"github.com/tillworks/possync/internal/models"
)

// Writer appends one entry per (resource, batch) sync attempt.
type Writer interface {
	Append(ctx context.Context, e *models.AuditEntry) error

	// List returns all entries for a tenant, newest first. Intended for
	// traceability views and tests.
	List(ctx context.Context, tenantID string) ([]models.AuditEntry, error)
}
