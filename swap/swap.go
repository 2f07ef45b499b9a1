// Package swap converts balances between the base and fiat currencies at a
// configured rate.
package swap

import (
	"context"
	"errors"
	"fmt"

	"github.com/exchangelabs/exchanged/ledger"
	"github.com/shopspring/decimal"
)

// DefaultUnitsPerBase is the number of base units in one base coin.
const DefaultUnitsPerBase = 100_000_000

// ErrInvalidRate is returned for a non-positive rate or unit count.
var ErrInvalidRate = errors.New("invalid swap rate")

// Direction selects which currency is sold.
type Direction uint8

const (
	// BaseToFiat sells base units for fiat.
	BaseToFiat Direction = iota

	// FiatToBase sells fiat for base units.
	FiatToBase
)

// String returns the wire name of the direction.
func (d Direction) String() string {
	switch d {
	case BaseToFiat:
		return "base_to_fiat"
	case FiatToBase:
		return "fiat_to_base"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// ParseDirection parses a direction from its wire name.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "base_to_fiat", "baseToFiat":
		return BaseToFiat, nil
	case "fiat_to_base", "fiatToBase":
		return FiatToBase, nil
	default:
		return 0, fmt.Errorf("%w: unknown swap direction %q",
			ledger.ErrInvalidAmount, s)
	}
}

// Config holds the swap rate and the ledger to apply swaps to.
type Config struct {
	Ledger *ledger.Ledger

	// Rate is the fiat price of one base coin.
	Rate decimal.Decimal

	// UnitsPerBase is the number of base units in one base coin.
	UnitsPerBase int64
}

// Engine quotes and applies swaps.
type Engine struct {
	cfg          *Config
	unitsPerBase decimal.Decimal
}

// New creates an Engine after checking the rate.
func New(cfg *Config) (*Engine, error) {
	if cfg.UnitsPerBase == 0 {
		cfg.UnitsPerBase = DefaultUnitsPerBase
	}
	if cfg.UnitsPerBase < 0 || !cfg.Rate.IsPositive() {
		return nil, fmt.Errorf("%w: rate %v, units per base %d",
			ErrInvalidRate, cfg.Rate, cfg.UnitsPerBase)
	}

	return &Engine{
		cfg:          cfg,
		unitsPerBase: decimal.NewFromInt(cfg.UnitsPerBase),
	}, nil
}

// Quote returns the debit and credit legs of a swap of amount in the given
// direction. Base amounts are floored to whole base units, fiat results are
// truncated to the ledger's fiat precision and base results are floored.
func (e *Engine) Quote(direction Direction,
	amount decimal.Decimal) (ledger.Leg, ledger.Leg, error) {

	if !amount.IsPositive() {
		return ledger.Leg{}, ledger.Leg{}, fmt.Errorf("%w: %v",
			ledger.ErrInvalidAmount, amount)
	}

	var debit, credit ledger.Leg
	switch direction {
	case BaseToFiat:
		base := amount.Floor()
		fiat := base.Mul(e.cfg.Rate).Div(e.unitsPerBase).
			Truncate(ledger.FiatScale)

		fiatUnits, err := ledger.FiatUnits(fiat)
		if err != nil {
			return debit, credit, err
		}

		debit = ledger.Leg{
			Currency: ledger.CurrencyBase,
			Amount:   ledger.Units(base.IntPart()),
		}
		credit = ledger.Leg{
			Currency: ledger.CurrencyFiat,
			Amount:   fiatUnits,
		}

	case FiatToBase:
		fiatUnits, err := ledger.FiatUnits(amount)
		if err != nil {
			return debit, credit, err
		}
		base := amount.Mul(e.unitsPerBase).Div(e.cfg.Rate).Floor()

		debit = ledger.Leg{
			Currency: ledger.CurrencyFiat,
			Amount:   fiatUnits,
		}
		credit = ledger.Leg{
			Currency: ledger.CurrencyBase,
			Amount:   ledger.Units(base.IntPart()),
		}

	default:
		return debit, credit, fmt.Errorf("%w: unknown direction %v",
			ledger.ErrInvalidAmount, direction)
	}

	if debit.Amount <= 0 || credit.Amount <= 0 {
		return debit, credit, fmt.Errorf("%w: %v %v converts to nothing",
			ledger.ErrInvalidAmount, amount, direction)
	}

	return debit, credit, nil
}

// Swap converts amount in the given direction for the identity as one
// atomic ledger update.
func (e *Engine) Swap(ctx context.Context, identityKey string,
	direction Direction, amount decimal.Decimal) (*ledger.Balance, error) {

	debit, credit, err := e.Quote(direction, amount)
	if err != nil {
		return nil, err
	}

	balance, err := e.cfg.Ledger.Swap(ctx, identityKey, debit, credit)
	if err != nil {
		return nil, err
	}

	log.Infof("Swapped %v for %s: %v %v units for %v %v units",
		direction, identityKey, debit.Amount, debit.Currency,
		credit.Amount, credit.Currency)

	return balance, nil
}
