package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-io/gateway/internal/domain"
)

func TestLimiter_AllowsUpToCapacityThenRejects(t *testing.T) {
	l := New(10) // 10/min

	allowed := 0
	for i := 0; i < 12; i++ {
		if l.Allow("profile-1", "producer-a", domain.TierNormal) {
			allowed++
		}
	}

	// Scenario S3: 12 signals in 30s from the same profile/producer with
	// limit 10/min -> signals 1-10 pass, 11-12 are rate limited.
	assert.Equal(t, 10, allowed)
}

func TestLimiter_CriticalTierExempt(t *testing.T) {
	l := New(1)
	for i := 0; i < 50; i++ {
		assert.True(t, l.Allow("profile-1", "critical-feed", domain.TierCritical))
	}
}

func TestLimiter_IndependentPerProfileProducer(t *testing.T) {
	l := New(1)
	assert.True(t, l.Allow("profile-1", "producer-a", domain.TierNormal))
	assert.True(t, l.Allow("profile-1", "producer-b", domain.TierNormal))
	assert.True(t, l.Allow("profile-2", "producer-a", domain.TierNormal))
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestIdempotencyCache_RoundTrip(t *testing.T) {
	client := newTestRedis(t)
	cache := NewIdempotencyCache(client, 0, zerolog.Nop())
	ctx := context.Background()

	_, ok := cache.Lookup(ctx, "profile-1", "sig-1")
	assert.False(t, ok)

	cache.Remember(ctx, "profile-1", "sig-1", "chain-123")

	chainID, ok := cache.Lookup(ctx, "profile-1", "sig-1")
	assert.True(t, ok)
	assert.Equal(t, "chain-123", chainID)
}

func TestIdempotencyCache_NilClientDisabled(t *testing.T) {
	cache := NewIdempotencyCache(nil, 0, zerolog.Nop())
	ctx := context.Background()
	_, ok := cache.Lookup(ctx, "profile-1", "sig-1")
	assert.False(t, ok)
	cache.Remember(ctx, "profile-1", "sig-1", "chain-1") // must not panic
}
