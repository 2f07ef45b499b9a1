package sqldb

import (
	"fmt"
	"net/url"
	"time"
)

const (
	// defaultMaxConns bounds both open and idle connections when the
	// config leaves MaxConnections at zero.
	defaultMaxConns = 25

	// defaultConnMaxLifetime recycles pooled connections.
	defaultConnMaxLifetime = 10 * time.Minute

	// defaultBusyTimeout is how long SQLite waits on a locked database.
	defaultBusyTimeout = 5 * time.Second
)

// SqliteConfig holds all the config arguments needed to interact with our
// sqlite DB.
//
//nolint:lll
type SqliteConfig struct {
	Timeout               time.Duration `long:"timeout" description:"The time after which a database query should be timed out."`
	BusyTimeout           time.Duration `long:"busytimeout" description:"The maximum amount of time to wait for a database connection to become available for a query."`
	MaxConnections        int           `long:"maxconnections" description:"The maximum number of open connections to the database. Set to zero for unlimited."`
	SkipMigrations        bool          `long:"skipmigrations" description:"Skip applying migrations on startup."`
	SkipMigrationDbBackup bool          `long:"skipmigrationdbbackup" description:"Skip creating a backup of the database before applying migrations."`
}

// Validate checks that the SqliteConfig values are valid.
func (s *SqliteConfig) Validate() error {
	if s.MaxConnections < 0 {
		return fmt.Errorf("max connections must be non-negative")
	}
	if s.BusyTimeout < 0 || s.Timeout < 0 {
		return fmt.Errorf("timeouts must be non-negative")
	}

	return nil
}

// PostgresConfig holds the postgres database configuration.
//
//nolint:lll
type PostgresConfig struct {
	Dsn            string        `long:"dsn" description:"Database connection string."`
	Timeout        time.Duration `long:"timeout" description:"Database connection timeout. Set to zero to disable."`
	MaxConnections int           `long:"maxconnections" description:"The maximum number of open connections to the database. Set to zero for unlimited."`
	SkipMigrations bool          `long:"skipmigrations" description:"Skip applying migrations on startup."`
}

// Validate checks that the PostgresConfig values are valid.
func (p *PostgresConfig) Validate() error {
	if p.Dsn == "" {
		return fmt.Errorf("DSN is required")
	}

	if _, err := url.Parse(p.Dsn); err != nil {
		return fmt.Errorf("invalid DSN: %w", err)
	}

	if p.MaxConnections < 0 {
		return fmt.Errorf("max connections must be non-negative")
	}

	return nil
}
