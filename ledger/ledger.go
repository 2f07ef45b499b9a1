package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds is returned when a debit would drive a balance
	// below zero. It is also returned when a concurrent debit won the race
	// for the same funds.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned for non-positive amounts and for
	// credits that would overflow the balance.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidIdentity is returned when an empty identity key is used.
	ErrInvalidIdentity = errors.New("invalid identity key")

	// ErrDuplicateReference is returned when a mutation carries a
	// reference that has already been applied.
	ErrDuplicateReference = errors.New("duplicate ledger reference")

	// ErrEntryNotFound is returned when no journal entry matches a lookup.
	ErrEntryNotFound = errors.New("ledger entry not found")
)

// Currency identifies one of the two units a balance is kept in.
type Currency uint8

const (
	// CurrencyBase is the base cryptocurrency, counted in its smallest
	// indivisible unit.
	CurrencyBase Currency = 0

	// CurrencyFiat is the fiat-equivalent currency, counted in fixed point
	// atoms of 10^-FiatScale.
	CurrencyFiat Currency = 1
)

// String returns the lower case name of the currency.
func (c Currency) String() string {
	switch c {
	case CurrencyBase:
		return "base"

	case CurrencyFiat:
		return "fiat"

	default:
		return fmt.Sprintf("Currency(%d)", uint8(c))
	}
}

// ParseCurrency parses the output of Currency.String.
func ParseCurrency(s string) (Currency, error) {
	switch strings.ToLower(s) {
	case "base":
		return CurrencyBase, nil

	case "fiat":
		return CurrencyFiat, nil

	default:
		return 0, fmt.Errorf("unknown currency %q", s)
	}
}

// FiatScale is the number of decimal places kept for fiat amounts.
const FiatScale = 8

// Units is an integer amount of a currency's smallest unit. For the base
// currency this is the indivisible on-chain unit, for fiat it is 10^-8 of the
// fiat unit.
type Units int64

// FiatUnits converts a decimal fiat amount into fixed point units. Amounts
// with more precision than FiatScale are rejected instead of rounded.
func FiatUnits(amount decimal.Decimal) (Units, error) {
	scaled := amount.Shift(FiatScale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: fiat amount %v exceeds %d decimal "+
			"places", ErrInvalidAmount, amount, FiatScale)
	}

	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) ||
		scaled.LessThan(decimal.NewFromInt(math.MinInt64)) {

		return 0, fmt.Errorf("%w: fiat amount %v out of range",
			ErrInvalidAmount, amount)
	}

	return Units(scaled.IntPart()), nil
}

// Fiat returns the units as a decimal fiat amount.
func (u Units) Fiat() decimal.Decimal {
	return decimal.New(int64(u), -FiatScale)
}

// Balance is the per identity balance record.
type Balance struct {
	// IdentityKey is the hex encoded compressed identity public key that
	// owns the balance.
	IdentityKey string

	// BaseUnits is the base currency balance.
	BaseUnits Units

	// FiatUnits is the fiat balance in fixed point units.
	FiatUnits Units

	// UpdatedAt is the time of the last mutation. It is zero for a balance
	// that has never been credited.
	UpdatedAt time.Time
}

// Base returns the base currency balance as an amount.
func (b *Balance) Base() btcutil.Amount {
	return btcutil.Amount(b.BaseUnits)
}

// Fiat returns the fiat balance as a decimal.
func (b *Balance) Fiat() decimal.Decimal {
	return b.FiatUnits.Fiat()
}

// Units returns the balance held in the given currency.
func (b *Balance) Units(c Currency) Units {
	if c == CurrencyFiat {
		return b.FiatUnits
	}

	return b.BaseUnits
}

// add adjusts the balance of the given currency by delta, failing if the
// result would be negative or overflow.
func (b *Balance) add(c Currency, delta Units) error {
	current := b.Units(c)

	switch {
	case delta < 0 && current < -delta:
		return ErrInsufficientFunds

	case delta > 0 && current > math.MaxInt64-delta:
		return fmt.Errorf("%w: %v balance overflow", ErrInvalidAmount,
			c)
	}

	if c == CurrencyFiat {
		b.FiatUnits += delta
	} else {
		b.BaseUnits += delta
	}

	return nil
}

// EntryKind classifies a journal entry.
type EntryKind uint8

const (
	// KindDeposit is a credit from an internalized incoming payment.
	KindDeposit EntryKind = 0

	// KindWithdrawal is a debit for an outgoing payment.
	KindWithdrawal EntryKind = 1

	// KindWithdrawalReversal credits back a withdrawal whose payment could
	// not be built.
	KindWithdrawalReversal EntryKind = 2

	// KindSwap is a paired debit and credit across currencies.
	KindSwap EntryKind = 3

	// KindAdjustment is a manual credit or debit.
	KindAdjustment EntryKind = 4
)

// String returns the name of the entry kind.
func (k EntryKind) String() string {
	switch k {
	case KindDeposit:
		return "deposit"

	case KindWithdrawal:
		return "withdrawal"

	case KindWithdrawalReversal:
		return "withdrawal-reversal"

	case KindSwap:
		return "swap"

	case KindAdjustment:
		return "adjustment"

	default:
		return fmt.Sprintf("EntryKind(%d)", uint8(k))
	}
}

// Leg is one side of a mutation.
type Leg struct {
	Currency Currency
	Amount   Units
}

// Mutation is a set of balance changes for a single identity that must be
// applied as one atomic unit.
type Mutation struct {
	IdentityKey string
	Kind        EntryKind

	// Debit is applied first. If the balance in its currency is below
	// the amount, the whole mutation fails with ErrInsufficientFunds.
	Debit fn.Option[Leg]

	// Credit is applied after the debit.
	Credit fn.Option[Leg]

	// Reference optionally makes the mutation unique. A second mutation
	// with the same reference fails with ErrDuplicateReference.
	Reference fn.Option[string]

	Timestamp time.Time
}

// validate checks the mutation is well formed.
func (m *Mutation) validate() error {
	if m.IdentityKey == "" {
		return ErrInvalidIdentity
	}

	if m.Debit.IsNone() && m.Credit.IsNone() {
		return fmt.Errorf("%w: mutation has no legs", ErrInvalidAmount)
	}

	checkLeg := func(l Leg) error {
		if l.Currency != CurrencyBase && l.Currency != CurrencyFiat {
			return fmt.Errorf("unknown currency %v", l.Currency)
		}
		if l.Amount <= 0 {
			return fmt.Errorf("%w: %v amount must be positive",
				ErrInvalidAmount, l.Currency)
		}

		return nil
	}

	if err := fn.MapOptionZ(m.Debit, checkLeg); err != nil {
		return err
	}

	return fn.MapOptionZ(m.Credit, checkLeg)
}

// apply applies the legs to the balance in place.
func (m *Mutation) apply(b *Balance) error {
	err := fn.MapOptionZ(m.Debit, func(l Leg) error {
		return b.add(l.Currency, -l.Amount)
	})
	if err != nil {
		return err
	}

	err = fn.MapOptionZ(m.Credit, func(l Leg) error {
		return b.add(l.Currency, l.Amount)
	})
	if err != nil {
		return err
	}

	b.UpdatedAt = m.Timestamp

	return nil
}

// Entry is a journal record written in the same atomic unit as the balance
// change it describes.
type Entry struct {
	ID          uint64
	IdentityKey string
	Kind        EntryKind
	Debit       fn.Option[Leg]
	Credit      fn.Option[Leg]
	Reference   fn.Option[string]

	// BaseAfter and FiatAfter are the balances after the entry was
	// applied.
	BaseAfter Units
	FiatAfter Units

	CreatedAt time.Time
}

// Store is the durable home of balances and their journal. Every
// ApplyMutation call must re-check the debit guard inside the same atomic
// unit that writes the new balance.
type Store interface {
	// FetchBalance returns the balance for the identity. A missing
	// record yields a zero balance and no error.
	FetchBalance(ctx context.Context, identityKey string) (*Balance,
		error)

	// ApplyMutation atomically applies the mutation and appends a journal
	// entry, returning the new balance.
	ApplyMutation(ctx context.Context, m *Mutation) (*Balance, error)

	// FetchEntryByReference returns the journal entry carrying the given
	// reference, or ErrEntryNotFound.
	FetchEntryByReference(ctx context.Context, reference string) (*Entry,
		error)

	// FetchEntries returns up to limit journal entries of the identity,
	// newest first.
	FetchEntries(ctx context.Context, identityKey string,
		limit uint32) ([]*Entry, error)
}
