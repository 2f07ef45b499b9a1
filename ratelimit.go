package exchanged

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedIdentities bounds the number of token buckets kept in memory.
// Once reached, all buckets are forgotten and start full again.
const maxTrackedIdentities = 10_000

// identityLimiter hands out one token bucket per requester identity.
type identityLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// newIdentityLimiter creates a limiter allowing perSecond sustained requests
// with bursts of up to burst requests for every identity.
func newIdentityLimiter(perSecond float64, burst int) *identityLimiter {
	return &identityLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// allow reports whether the identity may make a request now, consuming a
// token if so.
func (l *identityLimiter) allow(identity string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[identity]
	if !ok {
		if len(l.limiters) >= maxTrackedIdentities {
			rpcsLog.Debugf("Resetting %d rate limiters",
				len(l.limiters))

			l.limiters = make(map[string]*rate.Limiter)
		}

		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[identity] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}
