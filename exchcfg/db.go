package exchcfg

import (
	"fmt"

	"github.com/exchangelabs/exchanged/sqldb"
	"github.com/lightningnetwork/lnd/kvdb"
)

const (
	// BoltDBName is the file name of the bolt database.
	BoltDBName = "exchange.db"

	// SqliteDBName is the file name of the sqlite database.
	SqliteDBName = "exchange.sqlite"

	BoltBackend     = "bolt"
	PostgresBackend = "postgres"
	SqliteBackend   = "sqlite"
)

// DB holds the database configuration of the exchange. Balances and
// certificates always live in the same backend.
//
//nolint:ll
type DB struct {
	Backend string `long:"backend" description:"The selected database backend." choice:"bolt" choice:"postgres" choice:"sqlite"`

	Bolt *kvdb.BoltConfig `group:"bolt" namespace:"bolt" description:"Bolt settings."`

	Postgres *sqldb.PostgresConfig `group:"postgres" namespace:"postgres" description:"Postgres settings."`

	Sqlite *sqldb.SqliteConfig `group:"sqlite" namespace:"sqlite" description:"Sqlite settings."`
}

// DefaultDB creates and returns a new default DB config.
func DefaultDB() *DB {
	return &DB{
		Backend: BoltBackend,
		Bolt: &kvdb.BoltConfig{
			NoFreelistSync:    true,
			AutoCompactMinAge: kvdb.DefaultBoltAutoCompactMinAge,
			DBTimeout:         kvdb.DefaultDBTimeout,
		},
		Postgres: &sqldb.PostgresConfig{
			MaxConnections: 25,
		},
		Sqlite: &sqldb.SqliteConfig{
			MaxConnections: 2,
		},
	}
}

// Validate validates the DB config.
func (db *DB) Validate() error {
	switch db.Backend {
	case BoltBackend:
		if db.Bolt == nil {
			return fmt.Errorf("bolt settings missing")
		}

	case PostgresBackend:
		if db.Postgres == nil {
			return fmt.Errorf("postgres settings missing")
		}
		if err := db.Postgres.Validate(); err != nil {
			return fmt.Errorf("invalid postgres config: %w", err)
		}

	case SqliteBackend:
		if db.Sqlite == nil {
			return fmt.Errorf("sqlite settings missing")
		}
		if err := db.Sqlite.Validate(); err != nil {
			return fmt.Errorf("invalid sqlite config: %w", err)
		}

	default:
		return fmt.Errorf("unknown backend %q, must be one of \"%v\", "+
			"\"%v\" or \"%v\"", db.Backend, BoltBackend,
			PostgresBackend, SqliteBackend)
	}

	return nil
}

// IsSQL returns true if balances and certificates are kept in a SQL
// database.
func (db *DB) IsSQL() bool {
	return db.Backend == PostgresBackend || db.Backend == SqliteBackend
}

// GetBoltBackend opens the bolt database in dbPath.
func (db *DB) GetBoltBackend(dbPath string) (kvdb.Backend, error) {
	return kvdb.GetBoltBackend(&kvdb.BoltBackendConfig{
		DBPath:            dbPath,
		DBFileName:        BoltDBName,
		NoFreelistSync:    db.Bolt.NoFreelistSync,
		AutoCompact:       db.Bolt.AutoCompact,
		AutoCompactMinAge: db.Bolt.AutoCompactMinAge,
		DBTimeout:         db.Bolt.DBTimeout,
	})
}

// Compile-time constraint to ensure DB implements the Validator interface.
var _ Validator = (*DB)(nil)
