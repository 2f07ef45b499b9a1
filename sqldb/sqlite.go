package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	sqlite_migrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite" // Register the sqlite driver.
)

// SqliteStore is a BaseDB on an SQLite file.
type SqliteStore struct {
	cfg *SqliteConfig

	dbPath string

	*BaseDB
}

// sqliteDSN builds the modernc.org/sqlite connection string for dbPath.
func sqliteDSN(dbPath string, busyTimeout time.Duration) string {
	pragmas := make(url.Values)
	for _, pragma := range []string{
		"foreign_keys=on",
		"journal_mode=WAL",
		fmt.Sprintf("busy_timeout=%d", busyTimeout.Milliseconds()),

		// Ledger commits must survive a power loss, so the WAL is
		// synced on every commit, with F_FULLFSYNC on darwin.
		"synchronous=full",
		"fullfsync=true",
	} {
		pragmas.Add("_pragma", pragma)
	}

	// BEGIN IMMEDIATE takes the write lock up front, two debits can then
	// never interleave between their balance read and write.
	return fmt.Sprintf("%s?%s&_txlock=immediate", dbPath, pragmas.Encode())
}

// NewSqliteStore opens or creates the SQLite database at dbPath and brings
// its schema up to date.
func NewSqliteStore(cfg *SqliteConfig, dbPath string) (*SqliteStore, error) {
	busyTimeout := defaultBusyTimeout
	if cfg.BusyTimeout > 0 {
		busyTimeout = cfg.BusyTimeout
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath, busyTimeout))
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{
		cfg:    cfg,
		dbPath: dbPath,
		BaseDB: newBaseDB(db, BackendTypeSqlite, cfg.MaxConnections),
	}

	if cfg.SkipMigrations {
		return s, nil
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to migrate %v: %w", dbPath, err)
	}

	return s, nil
}

// migrate applies pending migrations, taking a backup first unless the
// database is empty or backups are disabled.
func (s *SqliteStore) migrate() error {
	driver, err := sqlite_migrate.WithInstance(
		s.DB, &sqlite_migrate.Config{},
	)
	if err != nil {
		return err
	}

	mig, err := newMigrate(driver, "sqlite", nil)
	if err != nil {
		return err
	}

	version, err := schemaVersion(mig)
	if err != nil {
		return err
	}

	if version > 0 && version < LatestMigrationVersion &&
		!s.cfg.SkipMigrationDbBackup {

		if err := s.backup(); err != nil {
			return fmt.Errorf("backup before migration: %w", err)
		}
	}

	return migrateUp(mig)
}

// backup copies the database next to itself with VACUUM INTO.
func (s *SqliteStore) backup() error {
	target := fmt.Sprintf(
		"%s.%s.backup", s.dbPath,
		time.Now().UTC().Format("20060102T150405"),
	)

	log.Infof("Backing up %v to %v", s.dbPath, target)

	_, err := s.DB.ExecContext(context.Background(), "VACUUM INTO ?", target)

	return err
}
