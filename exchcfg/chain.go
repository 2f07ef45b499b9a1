package exchcfg

import (
	"fmt"
	"net/url"
	"time"
)

const (
	// DefaultEsploraRequestTimeout is the default timeout for HTTP
	// requests to the Esplora API.
	DefaultEsploraRequestTimeout = 10 * time.Second

	// DefaultEsploraMaxRetries is the default number of times to retry
	// a failed request before giving up.
	DefaultEsploraMaxRetries = 2

	// DefaultLookupTimeout bounds a single revocation lookup including
	// its retries.
	DefaultLookupTimeout = 3 * time.Second
)

// Chain holds the configuration of the chain backend used to follow
// revocation anchors.
//
//nolint:ll
type Chain struct {
	// EsploraURL is the base URL of the Esplora API. Without it anchors
	// are never looked up and only explicit revocation revokes.
	EsploraURL string `long:"esploraurl" description:"The base URL of the Esplora API (e.g., https://mempool.space/api). Leave empty to disable anchor lookups."`

	RequestTimeout time.Duration `long:"requesttimeout" description:"Timeout for a single HTTP request to the Esplora API."`

	MaxRetries int `long:"maxretries" description:"Maximum number of times to retry a request that failed in transport."`

	LookupTimeout time.Duration `long:"lookuptimeout" description:"Upper bound on a revocation lookup. A lookup that does not finish in time counts as failed."`
}

// DefaultChain returns a new Chain config with default values populated.
func DefaultChain() *Chain {
	return &Chain{
		RequestTimeout: DefaultEsploraRequestTimeout,
		MaxRetries:     DefaultEsploraMaxRetries,
		LookupTimeout:  DefaultLookupTimeout,
	}
}

// Enabled returns true if an Esplora backend is configured.
func (c *Chain) Enabled() bool {
	return c.EsploraURL != ""
}

// Validate checks the chain config.
func (c *Chain) Validate() error {
	if c.Enabled() {
		if _, err := url.ParseRequestURI(c.EsploraURL); err != nil {
			return fmt.Errorf("invalid esplora url: %w", err)
		}
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("chain.requesttimeout must be positive")
	}
	if c.LookupTimeout <= 0 {
		return fmt.Errorf("chain.lookuptimeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("chain.maxretries must be non-negative")
	}

	return nil
}

var _ Validator = (*Chain)(nil)
