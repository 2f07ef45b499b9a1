package exchcfg

import (
	"fmt"
	"time"
)

// DefaultMaxSkew is the default tolerated difference between a request's
// timestamp and the server clock.
const DefaultMaxSkew = 5 * time.Minute

const (
	// DefaultRateLimit is the default number of signed requests per second
	// one identity may sustain.
	DefaultRateLimit = 10

	// DefaultRateBurst is the default number of requests one identity may
	// make in a burst.
	DefaultRateBurst = 20
)

// Auth holds the request authentication policy.
//
//nolint:ll
type Auth struct {
	MaxSkew time.Duration `long:"maxskew" description:"Maximum difference between a signed request's timestamp and the server clock."`

	RateLimit float64 `long:"ratelimit" description:"Sustained signed requests per second allowed for one identity. Set to 0 to disable rate limiting."`

	RateBurst int `long:"rateburst" description:"Number of requests one identity may make in a burst above the sustained rate."`
}

// DefaultAuth returns a new Auth config with default values populated.
func DefaultAuth() *Auth {
	return &Auth{
		MaxSkew:   DefaultMaxSkew,
		RateLimit: DefaultRateLimit,
		RateBurst: DefaultRateBurst,
	}
}

// Validate checks the authentication policy.
func (a *Auth) Validate() error {
	if a.MaxSkew <= 0 {
		return fmt.Errorf("auth.maxskew must be positive")
	}

	if a.RateLimit < 0 {
		return fmt.Errorf("auth.ratelimit must be non-negative")
	}
	if a.RateLimit > 0 && a.RateBurst < 1 {
		return fmt.Errorf("auth.rateburst must be at least 1 when " +
			"rate limiting is enabled")
	}

	return nil
}

var _ Validator = (*Auth)(nil)
