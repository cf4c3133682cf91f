//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 30*time.Millisecond)
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	time.Sleep(50 * time.Millisecond)
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiterEvictsExpiredKeys(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Hour)
	defer rl.Stop()

	rl.Allow("a")
	rl.evict(time.Now().Add(2 * time.Hour))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.requests)
}

func TestRateLimiterStopIsIdempotent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Minute)
	rl.Stop()
	rl.Stop()
}
