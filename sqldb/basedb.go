package sqldb

import (
	"context"
	"database/sql"

	"github.com/exchangelabs/exchanged/sqldb/sqlc"
)

// BackendType names the SQL engine behind a BaseDB.
type BackendType uint8

const (
	// BackendTypeUnknown is the zero value.
	BackendTypeUnknown BackendType = iota

	// BackendTypeSqlite is an embedded SQLite file.
	BackendTypeSqlite

	// BackendTypePostgres is a Postgres server.
	BackendTypePostgres
)

// String returns the name used for the backend in the config.
func (b BackendType) String() string {
	switch b {
	case BackendTypeSqlite:
		return "sqlite"
	case BackendTypePostgres:
		return "postgres"
	default:
		return "unknown"
	}
}

// BaseDB is the connection shared by the ledger and the certificate store. It
// carries the generated queries for use outside a transaction.
type BaseDB struct {
	*sql.DB

	*sqlc.Queries

	BackendType BackendType
}

// newBaseDB wraps an opened pool. A maxConns of zero selects
// defaultMaxConns.
func newBaseDB(db *sql.DB, backend BackendType, maxConns int) *BaseDB {
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	return &BaseDB{
		DB:          db,
		Queries:     sqlc.New(db),
		BackendType: backend,
	}
}

// BeginTx opens a transaction. Postgres transactions run serializable so
// concurrent debits conflict instead of both passing the balance guard.
// SQLite already takes the write lock when the transaction starts.
func (s *BaseDB) BeginTx(ctx context.Context, opts TxOptions) (*sql.Tx, error) {
	isolation := sql.LevelSerializable
	if s.BackendType == BackendTypeSqlite {
		isolation = sql.LevelDefault
	}

	return s.DB.BeginTx(ctx, &sql.TxOptions{
		Isolation: isolation,
		ReadOnly:  opts.ReadOnly,
	})
}

// Backend returns the engine behind the connection.
func (s *BaseDB) Backend() BackendType {
	return s.BackendType
}
