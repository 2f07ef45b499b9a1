package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Ledger exposes the balance operations on top of a Store. It holds no
// balance state of its own; the store is the only synchronization point.
type Ledger struct {
	store Store
	clock clock.Clock
}

// New creates a ledger over the store.
func New(store Store, clock clock.Clock) *Ledger {
	return &Ledger{
		store: store,
		clock: clock,
	}
}

// mutationOptions holds the optional parts of a mutation.
type mutationOptions struct {
	kind      fn.Option[EntryKind]
	reference string
}

// MutationOption customizes a single ledger mutation.
type MutationOption func(*mutationOptions)

// WithKind sets the journal kind of the mutation.
func WithKind(kind EntryKind) MutationOption {
	return func(o *mutationOptions) {
		o.kind = fn.Some(kind)
	}
}

// WithReference makes the mutation unique by reference.
func WithReference(ref string) MutationOption {
	return func(o *mutationOptions) {
		o.reference = ref
	}
}

func (l *Ledger) newMutation(identityKey string, defaultKind EntryKind,
	opts []MutationOption) *Mutation {

	var o mutationOptions
	for _, opt := range opts {
		opt(&o)
	}

	return &Mutation{
		IdentityKey: identityKey,
		Kind:        o.kind.UnwrapOr(defaultKind),
		Reference:   referenceOption(o.reference),
		Timestamp:   l.clock.Now().UTC(),
	}
}

// GetBalance returns the identity's balance. A missing record yields zero in
// both currencies.
func (l *Ledger) GetBalance(ctx context.Context,
	identityKey string) (*Balance, error) {

	if identityKey == "" {
		return nil, ErrInvalidIdentity
	}

	return l.store.FetchBalance(ctx, identityKey)
}

// Credit adds amount of the currency to the identity's balance, creating the
// record if needed.
func (l *Ledger) Credit(ctx context.Context, identityKey string,
	currency Currency, amount Units, opts ...MutationOption) (*Balance,
	error) {

	m := l.newMutation(identityKey, KindAdjustment, opts)
	m.Credit = fn.Some(Leg{Currency: currency, Amount: amount})

	balance, err := l.store.ApplyMutation(ctx, m)
	if err != nil {
		return nil, err
	}

	log.Debugf("Credited %v %v units to %v (kind=%v)", amount, currency,
		identityKey, m.Kind)

	return balance, nil
}

// Debit removes amount of the currency from the identity's balance. It fails
// with ErrInsufficientFunds if the balance is too low at the moment the
// decrement is attempted.
func (l *Ledger) Debit(ctx context.Context, identityKey string,
	currency Currency, amount Units, opts ...MutationOption) (*Balance,
	error) {

	m := l.newMutation(identityKey, KindAdjustment, opts)
	m.Debit = fn.Some(Leg{Currency: currency, Amount: amount})

	balance, err := l.store.ApplyMutation(ctx, m)
	if err != nil {
		return nil, err
	}

	log.Debugf("Debited %v %v units from %v (kind=%v)", amount, currency,
		identityKey, m.Kind)

	return balance, nil
}

// Swap debits one currency and credits the other as one atomic unit. If the
// debit fails no credit happens.
func (l *Ledger) Swap(ctx context.Context, identityKey string,
	debit, credit Leg, opts ...MutationOption) (*Balance, error) {

	if debit.Currency == credit.Currency {
		return nil, fmt.Errorf("%w: swap legs use the same currency %v",
			ErrInvalidAmount, debit.Currency)
	}

	m := l.newMutation(identityKey, KindSwap, opts)
	m.Debit = fn.Some(debit)
	m.Credit = fn.Some(credit)

	balance, err := l.store.ApplyMutation(ctx, m)
	if err != nil {
		return nil, err
	}

	log.Debugf("Swapped %v %v for %v %v units for %v", debit.Amount,
		debit.Currency, credit.Amount, credit.Currency, identityKey)

	return balance, nil
}

// HasReference reports whether a mutation with the reference was applied.
func (l *Ledger) HasReference(ctx context.Context, ref string) (bool,
	error) {

	_, err := l.store.FetchEntryByReference(ctx, ref)
	switch {
	case err == nil:
		return true, nil

	case errors.Is(err, ErrEntryNotFound):
		return false, nil

	default:
		return false, err
	}
}

// Entries returns the newest journal entries of the identity.
func (l *Ledger) Entries(ctx context.Context, identityKey string,
	limit uint32) ([]*Entry, error) {

	if identityKey == "" {
		return nil, ErrInvalidIdentity
	}

	return l.store.FetchEntries(ctx, identityKey, limit)
}
