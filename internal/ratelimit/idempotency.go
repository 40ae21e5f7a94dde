package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// IdempotencyCache is the Redis-fronted hot path for SignalGate check #1
// ("(profile, signal_id) unseen in the last 24h"). It is a cache in front of
// the audit.Log's Postgres-backed FindBySignal lookup, not a second system of
// record: a cache miss or Redis outage falls through to Postgres, and a
// Redis write failure never fails the request (grounded on the teacher
// corpus's market.RedisPriceCache: cache operations degrade gracefully and
// use a short, independent timeout so a slow cache never stalls the gate).
type IdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewIdempotencyCache wraps an existing Redis client. A nil client disables
// the cache; callers then always fall through to the Postgres lookup.
func NewIdempotencyCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *IdempotencyCache {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyCache{client: client, ttl: ttl, log: logger.With().Str("component", "idempotency_cache").Logger()}
}

func (c *IdempotencyCache) cacheKey(profileID, signalID string) string {
	return "gateway:idem:" + profileID + ":" + signalID
}

// Lookup returns the cached chain id for (profileID, signalID), or ok=false
// on a cache miss, a disabled cache, or a Redis error (treated as a miss so
// the caller falls through to Postgres).
func (c *IdempotencyCache) Lookup(ctx context.Context, profileID, signalID string) (chainID string, ok bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	cctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()

	val, err := c.client.Get(cctx, c.cacheKey(profileID, signalID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug().Err(err).Msg("idempotency cache read error, falling through to store")
		}
		return "", false
	}
	return val, true
}

// Remember records that (profileID, signalID) mapped to chainID, with the
// configured TTL (default 24h, matching "idempotency keys are retained for
// 24h, then evicted"). A write failure is logged and swallowed: the Postgres
// chain record remains the source of truth.
func (c *IdempotencyCache) Remember(ctx context.Context, profileID, signalID, chainID string) {
	if c == nil || c.client == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()

	if err := c.client.Set(cctx, c.cacheKey(profileID, signalID), chainID, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Msg("failed to write idempotency cache entry")
	}
}
