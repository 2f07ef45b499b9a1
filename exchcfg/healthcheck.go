package exchcfg

import (
	"fmt"
	"time"
)

var (
	// MinHealthCheckInterval is the minimum interval we allow between
	// health checks.
	MinHealthCheckInterval = time.Minute

	// MinHealthCheckTimeout is the minimum timeout we allow for health
	// check calls.
	MinHealthCheckTimeout = time.Second

	// MinHealthCheckBackoff is the minimum back off we allow between
	// health check retries.
	MinHealthCheckBackoff = time.Second
)

// HealthCheckConfig contains the configuration for the different health
// checks the exchange runs.
//
//nolint:ll
type HealthCheckConfig struct {
	DatabaseCheck *CheckConfig `group:"database" namespace:"database"`

	WalletCheck *CheckConfig `group:"wallet" namespace:"wallet"`

	ChainCheck *CheckConfig `group:"chainbackend" namespace:"chainbackend"`
}

// Validate checks the values configured for our health checks.
func (h *HealthCheckConfig) Validate() error {
	checks := map[string]*CheckConfig{
		"database":     h.DatabaseCheck,
		"wallet":       h.WalletCheck,
		"chainbackend": h.ChainCheck,
	}
	for name, check := range checks {
		if check == nil {
			return fmt.Errorf("%v health check config missing", name)
		}
		if err := check.validate(name); err != nil {
			return err
		}
	}

	return nil
}

// CheckConfig is the configuration of a single health check. A check with
// zero attempts is disabled.
//
//nolint:ll
type CheckConfig struct {
	Interval time.Duration `long:"interval" description:"How often to run a health check."`

	Attempts int `long:"attempts" description:"The number of calls we will make for the check before failing. Set this value to 0 to disable a check."`

	Timeout time.Duration `long:"timeout" description:"The amount of time we allow the health check to take before failing due to timeout."`

	Backoff time.Duration `long:"backoff" description:"The amount of time to back-off between failed health checks."`
}

// validate checks the values in a health check config entry if it is
// enabled.
func (c *CheckConfig) validate(name string) error {
	if c.Attempts == 0 {
		return nil
	}
	if c.Attempts < 0 {
		return fmt.Errorf("%v health check: attempts must be "+
			"non-negative", name)
	}

	if c.Backoff < MinHealthCheckBackoff {
		return fmt.Errorf("%v health check: backoff must be at "+
			"least %v", name, MinHealthCheckBackoff)
	}

	if c.Timeout < MinHealthCheckTimeout {
		return fmt.Errorf("%v health check: timeout must be at "+
			"least %v", name, MinHealthCheckTimeout)
	}

	if c.Interval < MinHealthCheckInterval {
		return fmt.Errorf("%v health check: interval must be at "+
			"least %v", name, MinHealthCheckInterval)
	}

	return nil
}

// Enabled returns true if the check runs at all.
func (c *CheckConfig) Enabled() bool {
	return c != nil && c.Attempts > 0
}

var _ Validator = (*HealthCheckConfig)(nil)
