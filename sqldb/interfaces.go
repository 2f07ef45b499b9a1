package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TxOptions selects the kind of transaction ExecTx opens.
type TxOptions struct {
	// ReadOnly opens a transaction that may not modify the database.
	ReadOnly bool
}

// WriteTxOpt returns the options of a read-write transaction.
func WriteTxOpt() TxOptions {
	return TxOptions{}
}

// ReadTxOpt returns the options of a read-only transaction.
func ReadTxOpt() TxOptions {
	return TxOptions{ReadOnly: true}
}

// BatchedTx runs several queries of a store against one atomic transaction.
// Q is the query set of the store, usually a subset of sqlc.Querier.
type BatchedTx[Q any] interface {
	// ExecTx runs txBody inside a single transaction and commits it.
	// The body may run more than once if the transaction conflicts with
	// a concurrent one, reset is called before every run so the body can
	// drop state gathered by an earlier attempt.
	ExecTx(ctx context.Context, opts TxOptions, txBody func(Q) error,
		reset func()) error
}

// QueryCreator binds a store's query set to an open transaction.
type QueryCreator[Q any] func(*sql.Tx) Q

// BatchedQuerier opens database transactions.
type BatchedQuerier interface {
	BeginTx(ctx context.Context, opts TxOptions) (*sql.Tx, error)
}

// TransactionExecutor implements BatchedTx on top of a BatchedQuerier.
type TransactionExecutor[Q any] struct {
	db          BatchedQuerier
	createQuery QueryCreator[Q]
	numRetries  int
}

// TxExecutorOption modifies a TransactionExecutor.
type TxExecutorOption func(retries *int)

// WithTxRetries sets how often a conflicting transaction is run again before
// ErrRetriesExceeded is returned.
func WithTxRetries(numRetries int) TxExecutorOption {
	return func(retries *int) {
		*retries = numRetries
	}
}

// NewTransactionExecutor returns an executor that opens transactions on db
// and hands them to createQuery.
func NewTransactionExecutor[Q any](db BatchedQuerier,
	createQuery QueryCreator[Q],
	opts ...TxExecutorOption) *TransactionExecutor[Q] {

	numRetries := DefaultNumTxRetries
	for _, opt := range opts {
		opt(&numRetries)
	}

	return &TransactionExecutor[Q]{
		db:          db,
		createQuery: createQuery,
		numRetries:  numRetries,
	}
}

// ExecTx runs txBody in a transaction, retrying it on serialization
// failures.
//
// NOTE: This is part of the BatchedTx interface.
func (t *TransactionExecutor[Q]) ExecTx(ctx context.Context, opts TxOptions,
	txBody func(Q) error, reset func()) error {

	begin := func() (Tx, error) {
		return t.db.BeginTx(ctx, opts)
	}

	body := func(tx Tx) error {
		sqlTx, ok := tx.(*sql.Tx)
		if !ok {
			return fmt.Errorf("expected *sql.Tx, got %T", tx)
		}

		reset()

		return txBody(t.createQuery(sqlTx))
	}

	rollback := func(tx Tx) error {
		err := tx.Rollback()
		if errors.Is(err, sql.ErrTxDone) {
			return nil
		}

		return err
	}

	backoff := func(attempt int, delay time.Duration) {
		log.Debugf("Transaction conflicted, running it again in %v "+
			"(attempt %d of %d)", delay, attempt+1, t.numRetries)
	}

	return ExecuteSQLTransactionWithRetry(
		ctx, begin, rollback, body, backoff, t.numRetries,
	)
}
