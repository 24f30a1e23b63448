package outbox

import (
	"context"
	"fmt"
	"strings"
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

func (r *SQLiteRepository) Enqueue(ctx context.Context, e *models.OutboxEntry) error {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `insert into outbox (resource, record_id, tenant_id, operation, status, created_at, updated_at)
			values (?, ?, ?, ?, ?, ?, ?)
			on conflict(resource, record_id, tenant_id) do update set
				operation = excluded.operation,
				status = ?,
				updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query,
		strings.ToLower(e.Resource), e.RecordID, e.TenantID, string(e.Operation),
		string(models.StatusPending), now, now,
		string(models.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListUnsynced(ctx context.Context, tenantID string) ([]models.OutboxEntry, error) {
	query := `select resource, record_id, tenant_id, operation, status, created_at, updated_at
			from outbox
			where tenant_id=? and status in (?, ?)
			order by created_at`
	rows, err := r.db.QueryContext(ctx, query, tenantID,
		string(models.StatusPending), string(models.StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to select outbox entries: %w", err)
	}
	defer rows.Close()

	var result []models.OutboxEntry
	for rows.Next() {
		var e models.OutboxEntry
		var op, status, created, updated string
		if err := rows.Scan(&e.Resource, &e.RecordID, &e.TenantID, &op, &status, &created, &updated); err != nil {
			return nil, err
		}
		e.Operation = models.Operation(op)
		e.Status = models.SyncStatus(status)
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			e.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339, updated); err == nil {
			e.UpdatedAt = t
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkStatus transitions records in one resource group. The WHERE clause
// excludes Synced rows so a status never moves backwards.
func (r *SQLiteRepository) MarkStatus(ctx context.Context, tenantID, resource string, recordIDs []string, status models.SyncStatus) error {
	if len(recordIDs) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(recordIDs))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(`update outbox set status=?, updated_at=?
			where tenant_id=? and resource=? and record_id in (%s) and status != ?`, placeholders)

	args := make([]any, 0, len(recordIDs)+5)
	args = append(args, string(status), time.Now().UTC().Format(time.RFC3339), tenantID, strings.ToLower(resource))
	for _, id := range recordIDs {
		args = append(args, id)
	}
	args = append(args, string(models.StatusSynced))

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark outbox status: %w", err)
	}
	return nil
}
