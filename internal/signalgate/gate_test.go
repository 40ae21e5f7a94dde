package signalgate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-io/gateway/internal/audit"
	"github.com/archon-io/gateway/internal/domain"
	"github.com/archon-io/gateway/internal/ratelimit"
	"github.com/archon-io/gateway/internal/store"
)

func newTestGate(t *testing.T, st store.Store, ratePerMinute int) *Gate {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	log := audit.NewLog(audit.NewMemStore(), nil, zerolog.Nop())
	idem := ratelimit.NewIdempotencyCache(redisClient, time.Hour, zerolog.Nop())
	limiter := ratelimit.New(ratePerMinute)

	rules := SchemaRules{MinConfidence: 0.5}
	alwaysNormal := func(ctx context.Context) (store.EmergencyLevel, error) { return store.EmergencyNormal, nil }

	return New(log, idem, limiter, st, rules, alwaysNormal, zerolog.Nop())
}

func validSignal(id string) domain.Signal {
	return domain.Signal{
		SignalID: id, ProfileID: "profile-1", Symbol: "EURUSD",
		Direction: domain.DirectionBuy, Confidence: 0.8,
		EntryPrice: decimal.NewFromFloat(1.1), StopLoss: decimal.NewFromFloat(1.09), TakeProfit: decimal.NewFromFloat(1.12),
		Producer: "producer-a", Tier: domain.TierNormal,
	}
}

func healthyProfileStore() store.Store {
	st := store.NewMemStore()
	_ = st.PutProfile(context.Background(), store.Profile{
		ID: "profile-1", TradingEnabled: true, ConnectionState: store.ConnHealthy,
	})
	return st
}

// Scenario S1 groundwork + property 1 (idempotency).
func TestSubmit_AcceptsWellFormedSignal(t *testing.T) {
	g := newTestGate(t, healthyProfileStore(), 10)
	d := g.Submit(context.Background(), validSignal("sig-1"))
	assert.True(t, d.Accepted)
	assert.NotEmpty(t, d.ChainID)
}

// Property 1 / Scenario S2: duplicate submission returns the first chain.
func TestSubmit_DuplicateReturnsFirstChain(t *testing.T) {
	g := newTestGate(t, healthyProfileStore(), 10)
	sig := validSignal("sig-1")

	d1 := g.Submit(context.Background(), sig)
	require.True(t, d1.Accepted)

	d2 := g.Submit(context.Background(), sig)
	assert.True(t, d2.Accepted)
	assert.Equal(t, d1.ChainID, d2.ChainID)
	assert.Equal(t, "duplicate", d2.Reason)
}

// Scenario S3: 12 signals in a 10/min window -> 10 pass, 2 rate limited.
func TestSubmit_RateLimitsAfterCapacity(t *testing.T) {
	g := newTestGate(t, healthyProfileStore(), 10)

	accepted := 0
	rateLimited := 0
	for i := 0; i < 12; i++ {
		sig := validSignal("sig-rl-" + string(rune('a'+i)))
		d := g.Submit(context.Background(), sig)
		if d.Accepted {
			accepted++
		} else if d.Reason == "rate_limited" {
			rateLimited++
		}
	}
	assert.Equal(t, 10, accepted)
	assert.Equal(t, 2, rateLimited)
}

// Scenario S4: signal while emergency != normal gets gate.blocked, no
// further processing.
func TestSubmit_BlocksDuringEmergency(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	log := audit.NewLog(audit.NewMemStore(), nil, zerolog.Nop())
	idem := ratelimit.NewIdempotencyCache(redisClient, time.Hour, zerolog.Nop())
	limiter := ratelimit.New(10)
	rules := SchemaRules{MinConfidence: 0.5}
	halted := func(ctx context.Context) (store.EmergencyLevel, error) { return store.EmergencyHalted, nil }

	g := New(log, idem, limiter, healthyProfileStore(), rules, halted, zerolog.Nop())
	d := g.Submit(context.Background(), validSignal("sig-halted"))
	assert.False(t, d.Accepted)
	assert.Equal(t, "halted", d.Reason)
}

func TestSubmit_RejectsLowConfidence(t *testing.T) {
	g := newTestGate(t, healthyProfileStore(), 10)
	sig := validSignal("sig-lowconf")
	sig.Confidence = 0.1

	d := g.Submit(context.Background(), sig)
	assert.False(t, d.Accepted)
}

func TestSubmit_RejectsWhenProfileMissing(t *testing.T) {
	g := newTestGate(t, store.NewMemStore(), 10)
	d := g.Submit(context.Background(), validSignal("sig-noprofile"))
	assert.False(t, d.Accepted)
	assert.Equal(t, "profile_not_found", d.Reason)
}
