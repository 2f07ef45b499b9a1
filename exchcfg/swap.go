package exchcfg

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultUnitsPerBase is the number of base units in one base coin.
const DefaultUnitsPerBase = 100_000_000

// Swap holds the conversion policy between the base currency and fiat.
//
//nolint:ll
type Swap struct {
	Rate string `long:"rate" description:"Fiat amount paid for one whole base coin, as a decimal string."`

	UnitsPerBase int64 `long:"unitsperbase" description:"Number of base units in one whole base coin."`
}

// DefaultSwap returns a new Swap config with default values populated. The
// rate has no default.
func DefaultSwap() *Swap {
	return &Swap{
		UnitsPerBase: DefaultUnitsPerBase,
	}
}

// RateDecimal parses the configured rate.
func (s *Swap) RateDecimal() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(s.Rate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid swap.rate %q: %w",
			s.Rate, err)
	}

	return rate, nil
}

// Validate checks the swap policy.
func (s *Swap) Validate() error {
	rate, err := s.RateDecimal()
	if err != nil {
		return err
	}
	if !rate.IsPositive() {
		return fmt.Errorf("swap.rate must be positive, got %v", rate)
	}

	if s.UnitsPerBase <= 0 {
		return fmt.Errorf("swap.unitsperbase must be positive")
	}

	return nil
}

var _ Validator = (*Swap)(nil)
