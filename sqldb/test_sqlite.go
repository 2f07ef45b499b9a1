//go:build !test_db_postgres

package sqldb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// NewTestSqliteDB is a helper function that creates an SQLite database for
// testing.
func NewTestSqliteDB(t testing.TB) *SqliteStore {
	t.Helper()

	dbFileName := filepath.Join(t.TempDir(), "tmp.db")
	sqlDB, err := NewSqliteStore(&SqliteConfig{}, dbFileName)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, sqlDB.DB.Close())
	})

	return sqlDB
}

// NewTestDB is a helper function that creates an SQLite database for testing.
func NewTestDB(t testing.TB) *BaseDB {
	return NewTestSqliteDB(t).BaseDB
}
