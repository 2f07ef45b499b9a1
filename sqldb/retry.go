package sqldb

import (
	"context"
	prand "math/rand"
	"time"
)

const (
	// DefaultNumTxRetries is how often a conflicting transaction is run
	// before giving up.
	DefaultNumTxRetries = 20

	// DefaultRetryDelay is the base delay before the first retry.
	DefaultRetryDelay = 50 * time.Millisecond

	// DefaultMaxRetryDelay caps the delay between two attempts.
	DefaultMaxRetryDelay = time.Second

	// maxBackoffShift bounds the doubling of the base delay.
	maxBackoffShift = 32
)

// Tx is a transaction as far as the retry loop is concerned.
type Tx interface {
	Commit() error

	// Rollback must be safe to call on a committed transaction.
	Rollback() error
}

// MakeTx opens a transaction.
type MakeTx func() (Tx, error)

// TxBody runs the statements of a transaction.
type TxBody func(tx Tx) error

// RollbackTx aborts a transaction after a failed body or commit.
type RollbackTx func(tx Tx) error

// OnBackoff is told about every retry before the loop sleeps.
type OnBackoff func(attempt int, delay time.Duration)

// ExecuteSQLTransactionWithRetry runs a transaction up to numRetries times.
// Only serialization failures lead to another attempt. Any other error is
// returned at once, mapped by MapSQLError. If the context ends while waiting
// the last failure is returned.
func ExecuteSQLTransactionWithRetry(ctx context.Context, makeTx MakeTx,
	rollbackTx RollbackTx, txBody TxBody, onBackoff OnBackoff,
	numRetries int) error {

	for attempt := 0; attempt < numRetries; attempt++ {
		err := runTxOnce(makeTx, rollbackTx, txBody)
		if !IsSerializationError(err) {
			return err
		}

		// No point in sleeping once the budget is spent.
		if attempt == numRetries-1 {
			break
		}

		delay := randRetryDelay(
			DefaultRetryDelay, DefaultMaxRetryDelay, attempt,
		)
		onBackoff(attempt, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
	}

	return ErrRetriesExceeded
}

// runTxOnce makes a single attempt at the transaction.
func runTxOnce(makeTx MakeTx, rollbackTx RollbackTx, txBody TxBody) error {
	tx, err := makeTx()
	if err != nil {
		return MapSQLError(err)
	}

	if err := txBody(tx); err != nil {
		abort(tx, rollbackTx)
		return MapSQLError(err)
	}

	if err := tx.Commit(); err != nil {
		abort(tx, rollbackTx)
		return MapSQLError(err)
	}

	return nil
}

// abort rolls tx back. The error that caused the rollback is the one callers
// care about, so a failed rollback is only logged.
func abort(tx Tx, rollbackTx RollbackTx) {
	if err := rollbackTx(tx); err != nil {
		log.Debugf("Unable to roll back transaction: %v", err)
	}
}

// randRetryDelay picks a delay between 50% and 150% of base, doubles it for
// every earlier attempt and caps it at maxDelay.
func randRetryDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	jittered := base/2 + time.Duration(prand.Int63n(int64(base))) //nolint:gosec

	shift := min(attempt, maxBackoffShift)
	if jittered > maxDelay>>shift {
		return maxDelay
	}

	return jittered << shift
}
