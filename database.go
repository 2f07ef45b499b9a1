package exchanged

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/exchangelabs/exchanged/certdb"
	"github.com/exchangelabs/exchanged/exchcfg"
	"github.com/exchangelabs/exchanged/ledger"
	"github.com/exchangelabs/exchanged/sqldb"
	"github.com/lightningnetwork/lnd/kvdb"
)

// DatabaseInstances is a struct that holds all instances to the actual
// databases that are used by the exchange.
type DatabaseInstances struct {
	// LedgerStore holds balances and their journal.
	LedgerStore ledger.Store

	// CertStore holds issued certificates.
	CertStore certdb.Store

	// Ping checks that the database answers.
	Ping func(ctx context.Context) error

	closeFuncs map[string]func() error
}

// Close closes every opened backend.
func (d *DatabaseInstances) Close() {
	for name, closeFunc := range d.closeFuncs {
		if err := closeFunc(); err != nil {
			exchLog.Errorf("Error closing %s database: %v", name,
				err)
		}
	}
}

// OpenDatabases opens the configured backend and creates the ledger and
// certificate stores on it. Both stores share one backend so a single
// backup covers the exchange's state.
func OpenDatabases(ctx context.Context, cfg *Config) (*DatabaseInstances,
	error) {

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create data dir: %w", err)
	}

	startOpenTime := time.Now()
	exchLog.Infof("Opening %v database...", cfg.DB.Backend)

	var (
		dbs *DatabaseInstances
		err error
	)
	switch cfg.DB.Backend {
	case exchcfg.BoltBackend:
		exchLog.Infof("Opening bbolt database, sync_freelist=%v, "+
			"auto_compact=%v", !cfg.DB.Bolt.NoFreelistSync,
			cfg.DB.Bolt.AutoCompact)

		dbs, err = openKVDatabase(cfg)

	case exchcfg.PostgresBackend:
		var store *sqldb.PostgresStore
		store, err = sqldb.NewPostgresStore(cfg.DB.Postgres)
		if err == nil {
			dbs = sqlDatabases(store.BaseDB)
		}

	case exchcfg.SqliteBackend:
		var store *sqldb.SqliteStore
		store, err = sqldb.NewSqliteStore(
			cfg.DB.Sqlite,
			filepath.Join(cfg.DataDir, exchcfg.SqliteDBName),
		)
		if err == nil {
			dbs = sqlDatabases(store.BaseDB)
		}

	default:
		err = fmt.Errorf("unknown database backend %q", cfg.DB.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	if err := dbs.Ping(ctx); err != nil {
		dbs.Close()
		return nil, fmt.Errorf("database not reachable: %w", err)
	}

	exchLog.Infof("Database(s) now open (time_to_open=%v)!",
		time.Since(startOpenTime))

	return dbs, nil
}

// openKVDatabase opens the bolt backend and builds the kv stores on it.
func openKVDatabase(cfg *Config) (*DatabaseInstances, error) {
	backend, err := cfg.DB.GetBoltBackend(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	return kvDatabases(backend)
}

// kvDatabases builds the stores on a kvdb backend.
func kvDatabases(backend kvdb.Backend) (*DatabaseInstances, error) {
	ledgerStore, err := ledger.NewKVStore(backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	certStore, err := certdb.NewKVStore(backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	return &DatabaseInstances{
		LedgerStore: ledgerStore,
		CertStore:   certStore,
		Ping: func(context.Context) error {
			return kvdb.View(backend, func(tx kvdb.RTx) error {
				return nil
			}, func() {})
		},
		closeFuncs: map[string]func() error{
			"bolt": backend.Close,
		},
	}, nil
}

// sqlDatabases builds the stores on a SQL database.
func sqlDatabases(db *sqldb.BaseDB) *DatabaseInstances {
	return &DatabaseInstances{
		LedgerStore: ledger.NewSQLStore(db),
		CertStore:   certdb.NewSQLStore(db),
		Ping:        db.PingContext,
		closeFuncs: map[string]func() error{
			db.Backend().String(): db.Close,
		},
	}
}
