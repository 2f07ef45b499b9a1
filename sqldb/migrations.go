package sqldb

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
)

// schemaFS serves the embedded migrations with a backend's type rewrites
// applied to every file. A nil rewrites serves the files unchanged.
type schemaFS struct {
	files    fs.FS
	rewrites *strings.Replacer
}

var _ fs.FS = (*schemaFS)(nil)

// Open opens a migration file or directory.
//
// NOTE: This is part of the fs.FS interface.
func (s *schemaFS) Open(name string) (fs.File, error) {
	f, err := s.files.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.IsDir() || s.rewrites == nil {
		return f, nil
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	return &schemaFile{
		Reader: strings.NewReader(s.rewrites.Replace(string(raw))),
		info:   info,
	}, nil
}

// schemaFile is a rewritten migration held in memory.
type schemaFile struct {
	*strings.Reader

	info fs.FileInfo
}

func (f *schemaFile) Stat() (fs.FileInfo, error) {
	return f.info, nil
}

func (f *schemaFile) Close() error {
	return nil
}

// migrateLogger forwards the migrate library's progress to the SQLD logger.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Debugf(strings.TrimRight(format, "\n"), v...)
}

func (migrateLogger) Verbose() bool {
	return log.Level() <= btclog.LevelDebug
}

// newMigrate prepares a run of the embedded migrations against driver.
func newMigrate(driver database.Driver, dbName string,
	rewrites *strings.Replacer) (*migrate.Migrate, error) {

	schemas := &schemaFS{files: sqlSchemas, rewrites: rewrites}
	source, err := httpfs.New(http.FS(schemas), migrationsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read migrations: %w", err)
	}

	mig, err := migrate.NewWithInstance("schema", source, dbName, driver)
	if err != nil {
		return nil, err
	}
	mig.Log = migrateLogger{}

	return mig, nil
}

// schemaVersion returns the applied migration version, 0 for an empty
// database. A dirty version means an earlier run stopped halfway and needs
// manual repair.
func schemaVersion(mig *migrate.Migrate) (uint, error) {
	version, dirty, err := mig.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil

	case err != nil:
		return 0, err

	case dirty:
		return 0, fmt.Errorf("schema version %d is dirty", version)
	}

	return version, nil
}

// migrateUp applies every migration newer than the current version.
func migrateUp(mig *migrate.Migrate) error {
	from, err := schemaVersion(mig)
	if err != nil {
		return err
	}

	if from >= LatestMigrationVersion {
		log.Debugf("Schema at version %d, nothing to migrate", from)
		return nil
	}

	log.Infof("Migrating schema from version %d to %d", from,
		LatestMigrationVersion)

	err = mig.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}

	return err
}
