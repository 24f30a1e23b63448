package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tillworks/possync/internal/dbx"
	"github.com/tillworks/possync/internal/models"
)

// SQLiteWriter implements Writer using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteWriter struct {
	db dbx.DBTX
}

// NewSQLiteWriter returns a new SQLiteWriter bound to the given DBTX.
func NewSQLiteWriter(db dbx.DBTX) *SQLiteWriter {
	return &SQLiteWriter{db: db}
}

func (w *SQLiteWriter) Append(ctx context.Context, e *models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.RecordCount == 0 {
		e.RecordCount = len(e.RecordIDs)
	}

	ids, err := json.Marshal(e.RecordIDs)
	if err != nil {
		return fmt.Errorf("failed to serialize record ids: %w", err)
	}

	query := `insert into audit_log (id, resource, tenant_id, operation, record_ids, record_count, status, direction, actor, created_at)
			values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = w.db.ExecContext(ctx, query,
		e.ID, e.Resource, e.TenantID, e.Operation, string(ids), e.RecordCount,
		string(e.Status), string(e.Direction), e.Actor,
		e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (w *SQLiteWriter) List(ctx context.Context, tenantID string) ([]models.AuditEntry, error) {
	query := `select id, resource, tenant_id, operation, record_ids, record_count, status, direction, actor, created_at
			from audit_log where tenant_id=? order by created_at desc, id`
	rows, err := w.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to select audit entries: %w", err)
	}
	defer rows.Close()

	var result []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var ids, status, direction, created string
		if err := rows.Scan(&e.ID, &e.Resource, &e.TenantID, &e.Operation, &ids,
			&e.RecordCount, &status, &direction, &e.Actor, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &e.RecordIDs); err != nil {
			return nil, fmt.Errorf("malformed record ids in audit entry %s: %w", e.ID, err)
		}
		e.Status = models.SyncStatus(status)
		e.Direction = models.Direction(direction)
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			e.CreatedAt = t
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
