package sqldb

import "embed"

// sqlSchemas holds the up migrations for the ledger and certificate tables.
//
//go:embed sqlc/migrations/*.up.sql
var sqlSchemas embed.FS

// migrationsPath is the directory inside sqlSchemas holding the migrations.
const migrationsPath = "sqlc/migrations"

// LatestMigrationVersion is the version of the newest migration in
// sqlSchemas.
const LatestMigrationVersion uint = 2
