package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/exchangelabs/exchanged/sqldb"
	"github.com/exchangelabs/exchanged/sqldb/sqlc"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// SQLQueries is the subset of the sqlc queries the ledger needs.
type SQLQueries interface {
	CreditBalance(ctx context.Context,
		arg sqlc.CreditBalanceParams) (sqlc.Balance, error)

	DebitBaseUnits(ctx context.Context,
		arg sqlc.DebitBaseUnitsParams) (sqlc.Balance, error)

	DebitFiatUnits(ctx context.Context,
		arg sqlc.DebitFiatUnitsParams) (sqlc.Balance, error)

	GetBalance(ctx context.Context, identityKey string) (sqlc.Balance,
		error)

	GetLedgerEntryByReference(ctx context.Context,
		reference sql.NullString) (sqlc.LedgerEntry, error)

	InsertLedgerEntry(ctx context.Context,
		arg sqlc.InsertLedgerEntryParams) (int64, error)

	ListLedgerEntries(ctx context.Context,
		arg sqlc.ListLedgerEntriesParams) ([]sqlc.LedgerEntry, error)
}

// BatchedSQLQueries is a version of SQLQueries that is capable of batched
// database operations.
type BatchedSQLQueries interface {
	SQLQueries

	sqldb.BatchedTx[SQLQueries]
}

// SQLStore is a Store backed by Postgres or SQLite. Debits use a conditional
// UPDATE so the balance guard and the decrement are one statement.
type SQLStore struct {
	db BatchedSQLQueries
}

// NewSQLStore creates a ledger store on top of the given SQL database.
func NewSQLStore(db *sqldb.BaseDB) *SQLStore {
	executor := sqldb.NewTransactionExecutor(
		db, func(tx *sql.Tx) SQLQueries {
			return db.WithTx(tx)
		},
	)

	return &SQLStore{
		db: &sqlBatchedQueries{
			SQLQueries:          db,
			TransactionExecutor: executor,
		},
	}
}

// sqlBatchedQueries joins the plain queries with a transaction executor.
type sqlBatchedQueries struct {
	SQLQueries

	*sqldb.TransactionExecutor[SQLQueries]
}

// FetchBalance returns the balance for the identity or a zero balance.
//
// NOTE: This is part of the Store interface.
func (s *SQLStore) FetchBalance(ctx context.Context,
	identityKey string) (*Balance, error) {

	row, err := s.db.GetBalance(ctx, identityKey)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return &Balance{IdentityKey: identityKey}, nil

	case err != nil:
		return nil, fmt.Errorf("unable to fetch balance: %w", err)
	}

	return balanceFromRow(row), nil
}

// ApplyMutation applies the mutation in a single SQL transaction.
//
// NOTE: This is part of the Store interface.
func (s *SQLStore) ApplyMutation(ctx context.Context,
	m *Mutation) (*Balance, error) {

	if err := m.validate(); err != nil {
		return nil, err
	}

	var (
		balance   *Balance
		reference = sql.NullString{}
	)
	m.Reference.WhenSome(func(ref string) {
		reference = sqldb.SQLStr(ref)
	})

	err := s.db.ExecTx(ctx, sqldb.WriteTxOpt(), func(db SQLQueries) error {
		if reference.Valid {
			_, err := db.GetLedgerEntryByReference(ctx, reference)
			switch {
			case err == nil:
				return ErrDuplicateReference

			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}

		updatedAt := m.Timestamp.UTC()
		var row sqlc.Balance

		err := fn.MapOptionZ(m.Debit, func(l Leg) error {
			var err error
			row, err = debitRow(ctx, db, m.IdentityKey, l, updatedAt)

			return err
		})
		if err != nil {
			return err
		}

		err = fn.MapOptionZ(m.Credit, func(l Leg) error {
			params := sqlc.CreditBalanceParams{
				IdentityKey: m.IdentityKey,
				UpdatedAt:   updatedAt,
			}
			if l.Currency == CurrencyFiat {
				params.FiatUnits = int64(l.Amount)
			} else {
				params.BaseUnits = int64(l.Amount)
			}

			var err error
			row, err = db.CreditBalance(ctx, params)
			if err != nil {
				return mapCreditError(err)
			}

			return nil
		})
		if err != nil {
			return err
		}

		entry := sqlc.InsertLedgerEntryParams{
			IdentityKey: m.IdentityKey,
			Kind:        int16(m.Kind),
			Reference:   reference,
			BaseAfter:   row.BaseUnits,
			FiatAfter:   row.FiatUnits,
			CreatedAt:   updatedAt,
		}
		m.Debit.WhenSome(func(l Leg) {
			entry.DebitCurrency = sqldb.SQLInt16(l.Currency)
			entry.DebitUnits = sqldb.SQLInt64(l.Amount)
		})
		m.Credit.WhenSome(func(l Leg) {
			entry.CreditCurrency = sqldb.SQLInt16(l.Currency)
			entry.CreditUnits = sqldb.SQLInt64(l.Amount)
		})

		_, err = db.InsertLedgerEntry(ctx, entry)
		if err != nil {
			dbErr := sqldb.MapSQLError(err)
			if sqldb.IsUniqueConstraintViolation(dbErr) {
				return ErrDuplicateReference
			}

			return dbErr
		}

		balance = balanceFromRow(row)

		return nil
	}, func() {
		balance = nil
	})
	if err != nil {
		return nil, err
	}

	return balance, nil
}

// debitRow runs the conditional decrement for the leg's currency. No row
// coming back means the guard failed.
func debitRow(ctx context.Context, db SQLQueries, identityKey string, l Leg,
	updatedAt time.Time) (sqlc.Balance, error) {

	var (
		row sqlc.Balance
		err error
	)
	switch l.Currency {
	case CurrencyFiat:
		row, err = db.DebitFiatUnits(ctx, sqlc.DebitFiatUnitsParams{
			Amount:      int64(l.Amount),
			UpdatedAt:   updatedAt,
			IdentityKey: identityKey,
		})

	default:
		row, err = db.DebitBaseUnits(ctx, sqlc.DebitBaseUnitsParams{
			Amount:      int64(l.Amount),
			UpdatedAt:   updatedAt,
			IdentityKey: identityKey,
		})
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return row, ErrInsufficientFunds

	case err != nil:
		dbErr := sqldb.MapSQLError(err)
		if sqldb.IsCheckConstraintViolation(dbErr) {
			return row, ErrInsufficientFunds
		}

		return row, dbErr
	}

	return row, nil
}

// mapCreditError turns integer overflows into ErrInvalidAmount. The upsert
// returns no row when the sum would not fit a BIGINT, since SQLite would
// otherwise store it as a REAL.
func mapCreditError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}

	dbErr := sqldb.MapSQLError(err)
	if sqldb.IsCheckConstraintViolation(dbErr) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	return dbErr
}

// FetchEntryByReference returns the entry with the given reference.
//
// NOTE: This is part of the Store interface.
func (s *SQLStore) FetchEntryByReference(ctx context.Context,
	reference string) (*Entry, error) {

	row, err := s.db.GetLedgerEntryByReference(
		ctx, sqldb.SQLStr(reference),
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrEntryNotFound

	case err != nil:
		return nil, err
	}

	return entryFromRow(row), nil
}

// FetchEntries returns up to limit entries, newest first. A zero limit
// returns every entry.
//
// NOTE: This is part of the Store interface.
func (s *SQLStore) FetchEntries(ctx context.Context, identityKey string,
	limit uint32) ([]*Entry, error) {

	queryLimit := int32(math.MaxInt32)
	if limit > 0 && limit <= math.MaxInt32 {
		queryLimit = int32(limit)
	}

	rows, err := s.db.ListLedgerEntries(ctx, sqlc.ListLedgerEntriesParams{
		IdentityKey: identityKey,
		Limit:       queryLimit,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, entryFromRow(row))
	}

	return entries, nil
}

func balanceFromRow(row sqlc.Balance) *Balance {
	return &Balance{
		IdentityKey: row.IdentityKey,
		BaseUnits:   Units(row.BaseUnits),
		FiatUnits:   Units(row.FiatUnits),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
}

func entryFromRow(row sqlc.LedgerEntry) *Entry {
	entry := &Entry{
		ID:          uint64(row.ID),
		IdentityKey: row.IdentityKey,
		Kind:        EntryKind(row.Kind),
		BaseAfter:   Units(row.BaseAfter),
		FiatAfter:   Units(row.FiatAfter),
		CreatedAt:   row.CreatedAt.UTC(),
	}

	if row.DebitUnits.Valid {
		entry.Debit = fn.Some(Leg{
			Currency: Currency(row.DebitCurrency.Int16),
			Amount:   sqldb.ExtractSQLInt64[Units](row.DebitUnits),
		})
	}
	if row.CreditUnits.Valid {
		entry.Credit = fn.Some(Leg{
			Currency: Currency(row.CreditCurrency.Int16),
			Amount:   sqldb.ExtractSQLInt64[Units](row.CreditUnits),
		})
	}
	if row.Reference.Valid {
		entry.Reference = fn.Some(row.Reference.String)
	}

	return entry
}

// A compile-time assertion to ensure SQLStore implements the Store interface.
var _ Store = (*SQLStore)(nil)
