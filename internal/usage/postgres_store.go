package usage

import (
	"context"
	"fmt"

	"github.com/fluxbase-eu/pagepack/internal/database"
	"github.com/jackc/pgx/v5"
)

const (
	insertIgnoreSQL = `INSERT INTO js_bundle_usage (page_type, dependency_name, dependency_path)
VALUES ($1, $2, $3)
ON CONFLICT (page_type, dependency_path) DO NOTHING`

	insertStrictSQL = `INSERT INTO js_bundle_usage (page_type, dependency_name, dependency_path)
VALUES ($1, $2, $3)`

	listSQL = `SELECT page_type, dependency_name, dependency_path FROM js_bundle_usage ORDER BY id`

	statsSQL = `SELECT page_type, COUNT(*) FROM js_bundle_usage GROUP BY page_type ORDER BY page_type`

	resetSQL = `DELETE FROM js_bundle_usage`
)

// PostgresStore persists records in the js_bundle_usage table
type PostgresStore struct {
	db database.Executor
}

// NewPostgresStore creates a store on top of a database executor
func NewPostgresStore(db database.Executor) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert adds a record. ConflictIgnore relies on ON CONFLICT DO NOTHING so
// concurrent reports of the same pair never raise an error.
func (s *PostgresStore) Insert(ctx context.Context, rec Record, mode ConflictMode) (bool, error) {
	query := insertIgnoreSQL
	if mode == ConflictError {
		query = insertStrictSQL
	}

	tag, err := s.db.Exec(ctx, query, rec.PageType, rec.DependencyName, rec.DependencyPath)
	if err != nil {
		if database.IsUniqueViolation(err) {
			if mode == ConflictIgnore {
				return false, nil
			}
			return false, fmt.Errorf("%s %s: %w", rec.PageType, rec.DependencyPath, ErrDuplicateRecord)
		}
		return false, fmt.Errorf("failed to insert usage record: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// List returns all records in insertion order
func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.Query(ctx, listSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rec Record
		err := row.Scan(&rec.PageType, &rec.DependencyName, &rec.DependencyPath)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan usage records: %w", err)
	}
	return records, nil
}

// Stats counts records per page type
func (s *PostgresStore) Stats(ctx context.Context) ([]PageTypeStat, error) {
	rows, err := s.db.Query(ctx, statsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage stats: %w", err)
	}

	stats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PageTypeStat, error) {
		var st PageTypeStat
		err := row.Scan(&st.PageType, &st.Dependencies)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan usage stats: %w", err)
	}
	return stats, nil
}

// Reset deletes every record
func (s *PostgresStore) Reset(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, resetSQL)
	if err != nil {
		return 0, fmt.Errorf("failed to reset usage records: %w", err)
	}
	return tag.RowsAffected(), nil
}
