// Package localstore gives the dispatcher generic, descriptor-driven access
// to the local tables mirroring remote resources, so no per-entity data
// access code exists.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tillworks/possync/internal/dbx"
)

// Store reads and writes local rows by table and key column.
type Store interface {
	// Fetch returns the rows whose key column matches one of ids.
	Fetch(ctx context.Context, table, keyColumn string, ids []string) ([]map[string]any, error)

	// Upsert inserts-or-replaces rows keyed by keyColumn. Column set is the
	// union of the rows' keys; missing values are written as NULL.
	Upsert(ctx context.Context, table, keyColumn string, rows []map[string]any) error

	// Delete removes the rows whose key column matches one of ids.
	Delete(ctx context.Context, table, keyColumn string, ids []string) error
}

// identifier guards table and column names interpolated into SQL. They come
// from registered descriptors, not user input, but a typo should fail loudly.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteStore implements Store on a *sql.DB. Bulk writes run inside one
// transaction so a failing batch leaves no rows behind.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore returns a new SQLiteStore bound to the given database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Fetch(ctx context.Context, table, keyColumn string, ids []string) ([]map[string]any, error) {
	if err := checkIdents(table, keyColumn); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`select * from %s where %s in (%s)`, table, keyColumn, placeholders(len(ids)))
	rows, err := s.db.QueryContext(ctx, query, toArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, table, keyColumn string, rowMaps []map[string]any) error {
	if err := checkIdents(table, keyColumn); err != nil {
		return err
	}
	if len(rowMaps) == 0 {
		return nil
	}

	colSet := make(map[string]struct{})
	for _, row := range rowMaps {
		for c := range row {
			colSet[c] = struct{}{}
		}
	}
	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		if !identifier.MatchString(c) {
			return fmt.Errorf("invalid column name %q", c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	updates := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == keyColumn {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	query := fmt.Sprintf(`insert into %s (%s) values (%s)
			on conflict(%s) do update set %s`,
		table, strings.Join(cols, ", "), placeholders(len(cols)),
		keyColumn, strings.Join(updates, ", "))

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, row := range rowMaps {
			args := make([]any, 0, len(cols))
			for _, c := range cols {
				args = append(args, row[c])
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to upsert into %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Delete(ctx context.Context, table, keyColumn string, ids []string) error {
	if err := checkIdents(table, keyColumn); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`delete from %s where %s in (%s)`, table, keyColumn, placeholders(len(ids)))
	if _, err := s.db.ExecContext(ctx, query, toArgs(ids)...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

func checkIdents(names ...string) error {
	for _, n := range names {
		if !identifier.MatchString(n) {
			return fmt.Errorf("invalid identifier %q", n)
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
