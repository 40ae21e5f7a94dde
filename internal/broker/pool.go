package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/archon-io/gateway/internal/store"
)

// State is a session's position in the per-session state machine of
// spec §4.4 (Disconnected -> Connecting -> Healthy -> Degraded ->
// Disconnected).
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateHealthy      State = "healthy"
	StateDegraded     State = "degraded"
)

// HealthPolicy names the thresholds from spec §4.4's health policy table.
type HealthPolicy struct {
	HeartbeatInterval   time.Duration
	DegradeAfterMisses  int
	DisconnectAfterMiss int
	BackoffBase         time.Duration
	BackoffCap          time.Duration
	MaxReconnectAttempts int
}

func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{
		HeartbeatInterval:    15 * time.Second,
		DegradeAfterMisses:   3,
		DisconnectAfterMiss:  5,
		BackoffBase:          1 * time.Second,
		BackoffCap:           60 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// ReconcileFunc is invoked with the diff between the broker's reported open
// positions and the local StateStore view whenever a session transitions to
// Healthy, per spec §4.4 ("produces position.reconciled nodes; the local
// view is authoritative-updated to match the broker").
type ReconcileFunc func(ctx context.Context, profileID string, remote []RemotePosition, local []store.Position)

// managedSession tracks one profile's session plus its health bookkeeping.
// The state machine and mutex-protected per-session map are grounded on the
// teacher's BinanceExchange reconnect-with-backoff loop and session maps;
// the circuit breaker wrapping each session's RPCs is grounded on the
// teacher's risk.CircuitBreakerManager (sony/gobreaker), generalized from a
// single shared "exchange" breaker to one breaker per session so a failing
// profile's broker doesn't trip every other profile's calls.
type managedSession struct {
	mu             sync.Mutex
	session        Session
	state          State
	missedBeats    int
	reconnectTries int
	breaker        *gobreaker.CircuitBreaker
}

// Pool maintains one healthy session per active profile (spec §4.4).
type Pool struct {
	mu       sync.Mutex
	sessions map[string]*managedSession
	factory  func(profileID string) Session
	policy   HealthPolicy
	store    store.Store
	reconcile ReconcileFunc
	log      zerolog.Logger
	metrics  *poolMetrics
}

type poolMetrics struct {
	sessionState *prometheus.GaugeVec
}

func newPoolMetrics() *poolMetrics {
	return &poolMetrics{
		sessionState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_broker_session_state",
			Help: "Current BrokerPool session state per profile (0=disconnected,1=connecting,2=healthy,3=degraded).",
		}, []string{"profile_id"}),
	}
}

// NewPool builds a Pool. factory constructs a fresh Session for a profile on
// first acquire or after a reconnect; st is the StateStore used for
// reconciliation's local-view comparison.
func NewPool(factory func(profileID string) Session, st store.Store, reconcile ReconcileFunc, policy HealthPolicy, logger zerolog.Logger) *Pool {
	return &Pool{
		sessions:  make(map[string]*managedSession),
		factory:   factory,
		policy:    policy,
		store:     st,
		reconcile: reconcile,
		log:       logger.With().Str("component", "broker_pool").Logger(),
		metrics:   newPoolMetrics(),
	}
}

var ErrAcquireTimeout = fmt.Errorf("broker: acquire timed out")

// ErrPositionCapReached is returned by Acquire when profileID already has
// max_positions open positions, per spec §4.4 invariant 4 ("the pool refuses
// acquisition when the cap is reached"). This is enforced again here, at
// acquisition time, because RiskSizer's own max_positions veto reads an
// earlier ProfileSnapshot and two signals approved against that same
// snapshot before either's fill is recorded would otherwise both reach the
// broker.
var ErrPositionCapReached = fmt.Errorf("broker: profile at max_positions cap")

// Acquire returns a healthy session for profileID, or ErrAcquireTimeout if
// none becomes available within timeout. The per-profile mutex guards only
// the session's state bookkeeping: concurrent callers for one profile are not
// queued, and each of them receives the same Session value.
func (p *Pool) Acquire(ctx context.Context, profileID string, timeout time.Duration) (Session, error) {
	ms := p.managedFor(profileID)

	deadline := time.Now().Add(timeout)
	for {
		ms.mu.Lock()
		state := ms.state
		sess := ms.session
		ms.mu.Unlock()

		if state == StateHealthy {
			under, err := p.underPositionCap(ctx, profileID)
			if err != nil {
				return nil, err
			}
			if !under {
				return nil, ErrPositionCapReached
			}
			return sess, nil
		}
		if state == StateDisconnected {
			p.connect(ctx, profileID, ms)
		}
		if time.Now().After(deadline) {
			return nil, ErrAcquireTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// underPositionCap re-reads StateStore's own view of profileID's open
// positions against its configured max_positions, holding no lock across the
// read so two racing Acquire calls each see the count as of their own read.
// A profile StateStore doesn't know about (or a transient read error) fails
// open: cap enforcement at acquisition time is a backstop against the
// earlier-snapshot race, not a replacement for profile existence checks
// SignalGate already performs.
func (p *Pool) underPositionCap(ctx context.Context, profileID string) (bool, error) {
	if p.store == nil {
		return true, nil
	}
	profile, err := p.store.GetProfile(ctx, profileID)
	if err != nil {
		p.log.Warn().Err(err).Str("profile_id", profileID).Msg("acquire: load profile for max_positions check")
		return true, nil
	}
	if profile.MaxPositions <= 0 {
		return true, nil
	}
	open, err := p.store.OpenPositions(ctx, profileID)
	if err != nil {
		p.log.Warn().Err(err).Str("profile_id", profileID).Msg("acquire: load open positions for max_positions check")
		return true, nil
	}
	return len(open) < profile.MaxPositions, nil
}

func (p *Pool) managedFor(profileID string) *managedSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	ms, ok := p.sessions[profileID]
	if !ok {
		ms = &managedSession{
			state: StateDisconnected,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        "broker-" + profileID,
				MaxRequests: 3,
				Interval:    10 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
				},
			}),
		}
		p.sessions[profileID] = ms
	}
	return ms
}

func (p *Pool) setState(profileID string, ms *managedSession, s State) {
	ms.mu.Lock()
	ms.state = s
	ms.mu.Unlock()

	var gaugeVal float64
	switch s {
	case StateDisconnected:
		gaugeVal = 0
	case StateConnecting:
		gaugeVal = 1
	case StateHealthy:
		gaugeVal = 2
	case StateDegraded:
		gaugeVal = 3
	}
	p.metrics.sessionState.WithLabelValues(profileID).Set(gaugeVal)
}

func (p *Pool) connect(ctx context.Context, profileID string, ms *managedSession) {
	p.setState(profileID, ms, StateConnecting)

	ms.mu.Lock()
	if ms.session == nil {
		ms.session = p.factory(profileID)
	}
	sess := ms.session
	ms.mu.Unlock()

	if err := sess.Connect(ctx); err != nil {
		p.backoffAndRetry(profileID, ms)
		return
	}

	ms.mu.Lock()
	ms.missedBeats = 0
	ms.reconnectTries = 0
	ms.mu.Unlock()
	p.setState(profileID, ms, StateHealthy)
	p.reconcileProfile(ctx, profileID, sess)
}

// backoffAndRetry implements the exponential backoff schedule from spec
// §4.4: 1,2,4,8,16s capped at 60s, up to 5 reconnect attempts, after which
// broker.unreachable is logged and the session is left Disconnected. The pool
// has no admin hold: a later Acquire for the profile calls Connect again, and
// failures past the limit are logged without a backoff sleep.
func (p *Pool) backoffAndRetry(profileID string, ms *managedSession) {
	ms.mu.Lock()
	ms.reconnectTries++
	tries := ms.reconnectTries
	ms.mu.Unlock()

	p.setState(profileID, ms, StateDisconnected)

	if tries > p.policy.MaxReconnectAttempts {
		p.log.Error().Str("profile_id", profileID).Msg("broker.unreachable: reconnect attempts exhausted")
		return
	}

	backoff := p.policy.BackoffBase * time.Duration(1<<uint(tries-1))
	if backoff > p.policy.BackoffCap {
		backoff = p.policy.BackoffCap
	}
	time.Sleep(backoff)
}

// reconcileProfile fetches broker-reported open positions and diffs them
// against the local StateStore view, per spec §4.4's "on every transition
// to Healthy" rule.
func (p *Pool) reconcileProfile(ctx context.Context, profileID string, sess Session) {
	remote, err := sess.ListPositions(ctx)
	if err != nil {
		p.log.Warn().Err(err).Str("profile_id", profileID).Msg("reconciliation: list_positions failed")
		return
	}
	var local []store.Position
	if p.store != nil {
		local, _ = p.store.OpenPositions(ctx, profileID)
	}
	if p.reconcile != nil {
		p.reconcile(ctx, profileID, remote, local)
	}
}

// RecordHeartbeat applies one heartbeat result to the session's state
// machine, per spec §4.4's miss-count thresholds.
func (p *Pool) RecordHeartbeat(ctx context.Context, profileID string, ok bool) {
	ms := p.managedFor(profileID)
	ms.mu.Lock()
	if ok {
		ms.missedBeats = 0
	} else {
		ms.missedBeats++
	}
	misses := ms.missedBeats
	ms.mu.Unlock()

	switch {
	case misses >= p.policy.DisconnectAfterMiss:
		if sess := ms.session; sess != nil {
			_ = sess.Disconnect(ctx)
		}
		p.setState(profileID, ms, StateDisconnected)
	case misses >= p.policy.DegradeAfterMisses:
		p.setState(profileID, ms, StateDegraded)
	}
}

// Call runs fn through profileID's circuit breaker, tripping the session to
// Disconnected on repeated failure independent of the heartbeat loop, per
// SPEC_FULL.md §4.4.
func (p *Pool) Call(ctx context.Context, profileID string, fn func() error) error {
	ms := p.managedFor(profileID)
	_, err := ms.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState {
		p.setState(profileID, ms, StateDisconnected)
	}
	return err
}

// State returns profileID's current session state.
func (p *Pool) State(profileID string) State {
	ms := p.managedFor(profileID)
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.state
}
