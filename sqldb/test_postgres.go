//go:build test_db_postgres

package sqldb

import (
	"testing"
)

// NewTestDB is a helper function that creates a Postgres database for
// testing. Each call starts a fixture container that is torn down with the
// test.
func NewTestDB(t testing.TB) *BaseDB {
	pgFixture := NewTestPgFixture(t, DefaultPostgresFixtureLifetime)
	t.Cleanup(func() {
		pgFixture.TearDown(t)
	})

	return NewTestPostgresDB(t, pgFixture).BaseDB
}
