package sqldb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrRetriesExceeded is returned when a transaction kept conflicting with
// concurrent writers until its retry budget ran out.
var ErrRetriesExceeded = errors.New("db tx retries exceeded")

// ErrorKind is the backend independent class of a database error.
type ErrorKind uint8

const (
	// KindUnclassified is an error the stores have no special handling
	// for.
	KindUnclassified ErrorKind = iota

	// KindUniqueViolation is a duplicate primary key or unique column,
	// such as a second ledger entry carrying an already used reference.
	KindUniqueViolation

	// KindCheckViolation is a row failing a CHECK constraint, such as a
	// balance that would go negative.
	KindCheckViolation

	// KindSerialization is a conflict with a concurrent transaction. The
	// whole transaction may be run again.
	KindSerialization
)

// String returns a short name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindUniqueViolation:
		return "unique constraint violation"
	case KindCheckViolation:
		return "check constraint violation"
	case KindSerialization:
		return "serialization failure"
	default:
		return "unclassified"
	}
}

// Error is a driver error tagged with its kind.
type Error struct {
	Kind    ErrorKind
	DBError error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("sql %v: %v", e.Kind, e.DBError)
}

// Unwrap returns the driver error.
func (e *Error) Unwrap() error {
	return e.DBError
}

// conflictMessages are fragments of serialization failures that can reach us
// as plain strings, without a typed driver error in the chain.
var conflictMessages = []string{
	"could not serialize access",
	"current transaction is aborted",
	"deadlock detected",
	"commit unexpectedly resulted in rollback",
	"SQLITE_BUSY",
}

// MapSQLError tags err with its ErrorKind. Errors that carry no known kind are
// returned unchanged.
func MapSQLError(err error) error {
	if err == nil {
		return nil
	}

	kind := classify(err)
	if kind == KindUnclassified {
		return err
	}

	return &Error{Kind: kind, DBError: err}
}

// classify inspects the driver errors of both backends and falls back to
// message matching.
func classify(err error) ErrorKind {
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:

			return KindUniqueViolation

		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return KindCheckViolation

		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return KindSerialization
		}

		return KindUnclassified
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return KindUniqueViolation

		case pgerrcode.CheckViolation:
			return KindCheckViolation

		case pgerrcode.SerializationFailure,
			pgerrcode.InFailedSQLTransaction,
			pgerrcode.DeadlockDetected:

			return KindSerialization
		}

		return KindUnclassified
	}

	msg := err.Error()
	for _, fragment := range conflictMessages {
		if strings.Contains(msg, fragment) {
			return KindSerialization
		}
	}

	return KindUnclassified
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return dbErr.Kind
	}

	return KindUnclassified
}

// IsSerializationError reports whether the transaction that produced err can
// be retried.
func IsSerializationError(err error) bool {
	return KindOf(err) == KindSerialization
}

// IsUniqueConstraintViolation reports whether err is a duplicate key.
func IsUniqueConstraintViolation(err error) bool {
	return KindOf(err) == KindUniqueViolation
}

// IsCheckConstraintViolation reports whether err is a failed CHECK constraint.
func IsCheckConstraintViolation(err error) bool {
	return KindOf(err) == KindCheckViolation
}
