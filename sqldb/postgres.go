package sqldb

import (
	"database/sql"
	"fmt"
	"net/url"
	"path"
	"strings"

	pgx_migrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // Register the pgx driver.
)

// postgresSchemaRewrites turns the SQLite flavoured migrations into Postgres
// DDL.
var postgresSchemaRewrites = strings.NewReplacer(
	"BLOB", "BYTEA",
	"INTEGER PRIMARY KEY", "BIGSERIAL PRIMARY KEY",
	"TIMESTAMP", "TIMESTAMP WITHOUT TIME ZONE",
)

// PostgresStore is a BaseDB on a Postgres server.
type PostgresStore struct {
	cfg *PostgresConfig

	*BaseDB
}

// NewPostgresStore connects to the database named by cfg.Dsn and brings its
// schema up to date.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	u, err := url.Parse(cfg.Dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	log.Infof("Using Postgres database %v", u.Redacted())

	db, err := sql.Open("pgx", cfg.Dsn)
	if err != nil {
		return nil, err
	}

	s := &PostgresStore{
		cfg:    cfg,
		BaseDB: newBaseDB(db, BackendTypePostgres, cfg.MaxConnections),
	}

	if cfg.SkipMigrations {
		return s, nil
	}

	driver, err := pgx_migrate.WithInstance(db, &pgx_migrate.Config{})
	if err != nil {
		db.Close()
		return nil, err
	}

	mig, err := newMigrate(
		driver, path.Base(u.Path), postgresSchemaRewrites,
	)
	if err == nil {
		err = migrateUp(mig)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to migrate postgres: %w", err)
	}

	return s, nil
}
