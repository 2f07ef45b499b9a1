package exchanged

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestIdentityLimiter checks that every identity gets its own bucket.
func TestIdentityLimiter(t *testing.T) {
	t.Parallel()

	// One token per hour leaves only the burst for the test.
	limiter := newIdentityLimiter(1.0/3600, 2)

	require.True(t, limiter.allow("alice"))
	require.True(t, limiter.allow("alice"))
	require.False(t, limiter.allow("alice"))

	require.True(t, limiter.allow("bob"))
}

// TestIdentityLimiterReset checks that the number of tracked identities is
// bounded.
func TestIdentityLimiterReset(t *testing.T) {
	t.Parallel()

	limiter := newIdentityLimiter(1.0/3600, 1)
	require.True(t, limiter.allow("alice"))
	require.False(t, limiter.allow("alice"))

	for i := 0; i < maxTrackedIdentities; i++ {
		limiter.allow(fmt.Sprintf("identity-%d", i))
	}

	limiter.mu.Lock()
	require.LessOrEqual(t, len(limiter.limiters), maxTrackedIdentities)
	limiter.mu.Unlock()

	// Alice's bucket was dropped in the reset and starts full again.
	require.True(t, limiter.allow("alice"))
}
