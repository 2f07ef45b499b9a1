package sqldb

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMigrationsCreateTables applies all migrations to a fresh database and
// checks that every table can be queried.
func TestMigrationsCreateTables(t *testing.T) {
	t.Parallel()

	db := NewTestDB(t)
	ctx := context.Background()

	for _, table := range []string{
		"balances", "ledger_entries", "certificates",
		"current_certificates",
	} {
		var count int
		err := db.QueryRowContext(
			ctx, "SELECT COUNT(*) FROM "+table,
		).Scan(&count)
		require.NoError(t, err, table)
		require.Zero(t, count, table)
	}
}

// TestSchemaFSRewrites checks the postgres schema rewrite.
func TestSchemaFSRewrites(t *testing.T) {
	t.Parallel()

	fs := &schemaFS{files: sqlSchemas, rewrites: postgresSchemaRewrites}
	f, err := fs.Open(migrationsPath + "/000002_certificates.up.sql")
	require.NoError(t, err)
	defer f.Close()

	raw, err := io.ReadAll(f)
	require.NoError(t, err)
	content := string(raw)

	require.Contains(t, content, "signature BYTEA")
	require.Contains(t, content, "TIMESTAMP WITHOUT TIME ZONE")
	require.NotContains(t, content, "BLOB")
}

// TestSchemaFSPassthrough checks that files are served unchanged without
// rewrites.
func TestSchemaFSPassthrough(t *testing.T) {
	t.Parallel()

	name := migrationsPath + "/000002_certificates.up.sql"
	want, err := sqlSchemas.ReadFile(name)
	require.NoError(t, err)

	f, err := (&schemaFS{files: sqlSchemas}).Open(name)
	require.NoError(t, err)
	defer f.Close()

	got, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// TestMigrateTwice checks that reopening a migrated database is a no-op.
func TestMigrateTwice(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "exchange.db")

	store, err := NewSqliteStore(&SqliteConfig{}, dbPath)
	require.NoError(t, err)
	require.NoError(t, store.DB.Close())

	store, err = NewSqliteStore(&SqliteConfig{}, dbPath)
	require.NoError(t, err)
	require.NoError(t, store.DB.Close())
}
