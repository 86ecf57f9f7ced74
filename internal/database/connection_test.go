package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// extractTableName Tests
// =============================================================================

func TestExtractTableName(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected string
	}{
		{name: "usage listing", sql: "SELECT page_type, dependency_name FROM js_bundle_usage ORDER BY id", expected: "js_bundle_usage"},
		{name: "lowercase select", sql: "select 1 from js_bundle_usage", expected: "js_bundle_usage"},
		{name: "quoted table", sql: `SELECT * FROM "js_bundle_usage"`, expected: "js_bundle_usage"},
		{name: "insert", sql: "INSERT INTO js_bundle_usage (page_type) VALUES ($1)", expected: "js_bundle_usage"},
		{name: "insert with leading whitespace", sql: "\n\t  INSERT INTO js_bundle_usage (page_type) VALUES ($1)", expected: "js_bundle_usage"},
		{name: "update", sql: "UPDATE js_bundle_usage SET dependency_name = $1", expected: "js_bundle_usage"},
		{name: "delete", sql: "DELETE FROM js_bundle_usage", expected: "js_bundle_usage"},
		{name: "select without table", sql: "SELECT 1", expected: "unknown"},
		{name: "ddl", sql: "CREATE TABLE foo (id int)", expected: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractTableName(tt.sql))
		})
	}
}

// =============================================================================
// extractOperation Tests
// =============================================================================

func TestExtractOperation(t *testing.T) {
	tests := []struct {
		sql      string
		expected string
	}{
		{"SELECT 1", "select"},
		{"  insert into t values (1)", "insert"},
		{"UPDATE t SET a = 1", "update"},
		{"DELETE FROM t", "delete"},
		{"TRUNCATE t", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.expected+"_"+tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractOperation(tt.sql))
		})
	}
}

func TestTruncateQuery(t *testing.T) {
	assert.Equal(t, "SELECT 1", truncateQuery("SELECT 1", 200))

	long := strings.Repeat("x", 250)
	truncated := truncateQuery(long, 200)
	assert.True(t, strings.HasPrefix(truncated, strings.Repeat("x", 200)))
	assert.True(t, strings.HasSuffix(truncated, "... (truncated)"))
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "001_create_usage_records.up.sql")
	assert.Contains(t, names, "001_create_usage_records.down.sql")

	up, err := migrationsFS.ReadFile("migrations/001_create_usage_records.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "UNIQUE (page_type, dependency_path)")
}
