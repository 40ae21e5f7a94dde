// Package ratelimit implements SignalGate check #2 (token bucket per
// (profile, producer)) and the Redis-fronted idempotency cache used by check
// #1, per SPEC_FULL.md §2.1/§4.1.
//
// The token bucket is grounded on golang.org/x/time/rate, the same package
// the example pack's adapters/alphavantage.go uses for outbound API rate
// limiting (rate.NewLimiter(rate.Limit(perMinute/60), burst)).
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/archon-io/gateway/internal/domain"
)

// Limiter holds one token bucket per (profile_id, producer) pair, created
// lazily on first use. Buckets for different pairs are independent; a
// bucket's capacity/refill rate is fixed at creation from the configured
// per-minute limit.
type Limiter struct {
	perMinute float64
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
}

// New builds a Limiter whose buckets admit ratePerMinute tokens/minute with
// a burst capacity equal to the per-minute rate (one minute's worth of
// admissions can be spent immediately, matching "token bucket ... capacity,
// tokens, last refill time" in spec §3).
func New(ratePerMinute int) *Limiter {
	return &Limiter{
		perMinute: float64(ratePerMinute),
		buckets:   make(map[string]*rate.Limiter),
	}
}

func key(profileID, producer string) string { return profileID + "|" + producer }

// Allow reports whether (profileID, producer) has a token available and, if
// so, consumes it. critical-tier producers are always allowed and never
// consume a bucket, per spec §4.1 ("critical-tier producers are exempt").
func (l *Limiter) Allow(profileID, producer string, tier domain.Tier) bool {
	if tier == domain.TierCritical {
		return true
	}

	l.mu.Lock()
	b, ok := l.buckets[key(profileID, producer)]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.perMinute/60.0), int(l.perMinute))
		l.buckets[key(profileID, producer)] = b
	}
	l.mu.Unlock()

	return b.Allow()
}

// Tokens reports the current estimated token count for (profileID,
// producer), for observability; it does not consume a token.
func (l *Limiter) Tokens(profileID, producer string) float64 {
	l.mu.Lock()
	b, ok := l.buckets[key(profileID, producer)]
	l.mu.Unlock()
	if !ok {
		return l.perMinute
	}
	return b.Tokens()
}
