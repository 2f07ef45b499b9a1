package exchcfg

import (
	"fmt"
	"net/url"
	"time"
)

const (
	// HTTPWalletBackend talks to an external wallet over HTTP.
	HTTPWalletBackend = "http"

	// MemWalletBackend runs an in-process wallet. It is meant for
	// development and keeps coins in memory only.
	MemWalletBackend = "memory"

	// DefaultWalletTimeout is the default timeout of a wallet request.
	DefaultWalletTimeout = 30 * time.Second

	// DefaultOriginator is the default originator sent to the wallet.
	DefaultOriginator = "exchanged"
)

// Wallet holds the configuration of the wallet capability.
//
//nolint:ll
type Wallet struct {
	Backend string `long:"backend" description:"The wallet backend." choice:"http" choice:"memory"`

	URL string `long:"url" description:"Base URL of the external wallet."`

	Timeout time.Duration `long:"timeout" description:"Timeout of a single wallet request."`

	Originator string `long:"originator" description:"Originator name presented to the wallet."`

	KeyFile string `long:"keyfile" description:"File holding the hex root key of the in-memory wallet. Generated on first start if missing."`
}

// DefaultWallet returns a new Wallet config with default values populated.
func DefaultWallet() *Wallet {
	return &Wallet{
		Backend:    HTTPWalletBackend,
		Timeout:    DefaultWalletTimeout,
		Originator: DefaultOriginator,
	}
}

// Validate checks the wallet config.
func (w *Wallet) Validate() error {
	switch w.Backend {
	case HTTPWalletBackend:
		if w.URL == "" {
			return fmt.Errorf("wallet.url must be set for the %v "+
				"backend", HTTPWalletBackend)
		}
		if _, err := url.ParseRequestURI(w.URL); err != nil {
			return fmt.Errorf("invalid wallet url: %w", err)
		}
		if w.Timeout <= 0 {
			return fmt.Errorf("wallet.timeout must be positive")
		}

	case MemWalletBackend:

	default:
		return fmt.Errorf("unknown wallet backend %q", w.Backend)
	}

	return nil
}

var _ Validator = (*Wallet)(nil)
