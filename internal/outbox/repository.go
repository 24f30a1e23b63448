package outbox

import (
	"context"

	"github.com/tillworks/possync/internal/models"
)

// Repository is the durable store of pending local changes.
// Entries are never deleted during normal operation; retention is an
// out-of-band concern.
type Repository interface {
	// Enqueue records a local change. Re-enqueueing the same natural key
	// resets the entry to Pending with the new operation, except that a
	// Synced entry is re-opened only by a genuinely new local write (same
	// call, the status guard lives in the implementation).
	Enqueue(ctx context.Context, e *models.OutboxEntry) error

	// ListUnsynced returns entries with status Pending or Failed for the
	// tenant, oldest first.
	ListUnsynced(ctx context.Context, tenantID string) ([]models.OutboxEntry, error)

	// MarkStatus transitions the given records of one resource to status.
	// Synced entries are never downgraded: updates carry a status guard.
	MarkStatus(ctx context.Context, tenantID, resource string, recordIDs []string, status models.SyncStatus) error
}
