package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	t.Run("returns true for unique violation error", func(t *testing.T) {
		err := &pgconn.PgError{Code: ErrCodeUniqueViolation}
		assert.True(t, IsUniqueViolation(err))
	})

	t.Run("returns true for wrapped unique violation", func(t *testing.T) {
		err := fmt.Errorf("insert usage: %w", &pgconn.PgError{Code: ErrCodeUniqueViolation})
		assert.True(t, IsUniqueViolation(err))
	})

	t.Run("returns false for other pg errors", func(t *testing.T) {
		err := &pgconn.PgError{Code: ErrCodeUndefinedTable}
		assert.False(t, IsUniqueViolation(err))
	})

	t.Run("returns false for non-pg error", func(t *testing.T) {
		assert.False(t, IsUniqueViolation(errors.New("generic error")))
	})

	t.Run("returns false for nil error", func(t *testing.T) {
		assert.False(t, IsUniqueViolation(nil))
	})
}

func TestIsUndefinedTable(t *testing.T) {
	assert.True(t, IsUndefinedTable(&pgconn.PgError{Code: ErrCodeUndefinedTable}))
	assert.False(t, IsUndefinedTable(&pgconn.PgError{Code: ErrCodeUniqueViolation}))
	assert.False(t, IsUndefinedTable(nil))
}

func TestGetConstraintName(t *testing.T) {
	t.Run("returns constraint name", func(t *testing.T) {
		err := &pgconn.PgError{Code: ErrCodeUniqueViolation, ConstraintName: "js_bundle_usage_page_type_path_key"}
		assert.Equal(t, "js_bundle_usage_page_type_path_key", GetConstraintName(err))
	})

	t.Run("returns empty for non-pg error", func(t *testing.T) {
		assert.Empty(t, GetConstraintName(errors.New("boom")))
	})
}
