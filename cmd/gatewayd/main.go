// Command gatewayd wires every SPEC_FULL.md component into a running
// process: StateStore and Decision Chain persistence on Postgres, the
// idempotency cache on Redis, broker credential resolution
// via Vault, emergency-state broadcast via NATS, an out-of-band Telegram
// alert, and the SignalGate -> RiskSizer -> Executor -> BrokerPool pipeline
// behind a Prometheus metrics/health endpoint.
//
// Grounded on the teacher's cmd/api/main.go top-level wiring shape (load
// config, build each subsystem, start servers, wait on signal, graceful
// shutdown), adapted to this domain's component set (no HTTP API, no gin).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/archon-io/gateway/internal/audit"
	"github.com/archon-io/gateway/internal/broker"
	"github.com/archon-io/gateway/internal/config"
	"github.com/archon-io/gateway/internal/domain"
	"github.com/archon-io/gateway/internal/emergency"
	"github.com/archon-io/gateway/internal/executor"
	"github.com/archon-io/gateway/internal/metrics"
	"github.com/archon-io/gateway/internal/notify"
	"github.com/archon-io/gateway/internal/pipeline"
	"github.com/archon-io/gateway/internal/ratelimit"
	"github.com/archon-io/gateway/internal/risk"
	"github.com/archon-io/gateway/internal/secrets"
	"github.com/archon-io/gateway/internal/signalgate"
	"github.com/archon-io/gateway/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (optional; env/defaults otherwise)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log := config.NewLogger("gatewayd")
	log.Info().Str("env", cfg.App.Environment).Msg("starting gatewayd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, err := build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build gateway")
	}
	defer g.Close()

	if err := g.metricsServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start metrics server")
	}

	log.Info().Msg("gatewayd ready")
	<-ctx.Done()

	log.Info().Msg("shutting down gatewayd")
	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g.pipeline.Shutdown()
	_ = g.metricsServer.Shutdown(shCtx)
}

// gateway holds every long-lived component main assembled, so shutdown can
// unwind them without main.go itself knowing construction order.
type gateway struct {
	pgPool        *pgxpool.Pool
	redisClient   *redis.Client
	bus           *emergency.NATSBroadcaster
	metricsServer *metrics.Server
	pipeline      *pipeline.Pipeline
	gate          *signalgate.Gate
	closeOnce     sync.Once
}

func (g *gateway) Close() {
	g.closeOnce.Do(func() {
		if g.bus != nil {
			g.bus.Conn().Close()
		}
		if g.redisClient != nil {
			g.redisClient.Close()
		}
		if g.pgPool != nil {
			g.pgPool.Close()
		}
	})
}

func build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*gateway, error) {
	pgPool, err := pgxpool.New(ctx, cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	st := store.NewPGStore(pgPool)
	auditStore := audit.NewPGStore(pgPool)
	auditLog := audit.NewLog(auditStore, nil, log)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.GetRedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	idem := ratelimit.NewIdempotencyCache(redisClient, 24*time.Hour, log)
	limiter := ratelimit.New(cfg.Gate.SignalRatePerMinute)

	vaultClient, err := secrets.NewClient(secrets.Config{
		Address: cfg.Vault.Address, Token: cfg.Vault.Token, MountPath: cfg.Vault.MountPath,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("connect vault: %w", err)
	}

	var notifier emergency.Notifier
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("connect telegram: %w", err)
		}
		notifier = tg
	}

	bus, err := emergency.NewNATSBroadcaster(cfg.NATS.URL, log)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	emergencyCtrl := emergency.New(st, auditLog, bus, notifier, staticOwners(), log)
	startMarketMonitors(ctx, cfg, emergencyCtrl, log)

	sizer := risk.NewSizer(risk.Config{
		KellyScale: cfg.Risk.KellyScale, KellyMinConfidence: cfg.Risk.KellyMinConfidence,
		MaxRiskPerTradeFraction: cfg.Risk.MaxRiskPerTradeFraction, MaxTotalRiskFraction: cfg.Risk.MaxTotalRiskFraction,
		MaxCVaRFraction: cfg.Risk.MaxCVaRFraction, MaxPositions: cfg.Risk.MaxPositions,
		DDReduceThreshold: cfg.Risk.DDReduceThreshold, DDHaltThreshold: cfg.Risk.DDHaltThreshold,
		MaxCorrelation: cfg.Risk.MaxCorrelation,
	})

	pool := broker.NewPool(
		brokerFactory(ctx, st, vaultClient, log),
		st,
		reconcilePositions(log),
		broker.HealthPolicy{
			HeartbeatInterval: cfg.Broker.Heartbeat(), DegradeAfterMisses: 3, DisconnectAfterMiss: 5,
			BackoffBase: time.Second, BackoffCap: time.Minute, MaxReconnectAttempts: cfg.Broker.ReconnectMaxAttempts,
		},
		log,
	)
	exec := executor.New(pool, nil)

	gate := signalgate.New(auditLog, idem, limiter, st, signalgate.SchemaRules{MinConfidence: cfg.Gate.MinConfidence},
		func(ctx context.Context) (store.EmergencyLevel, error) {
			s, err := st.GetEmergencyState(ctx)
			if err != nil {
				return "", err
			}
			return s.Level, nil
		}, log)

	eq := newEquityTracker()
	p := pipeline.New(pipeline.Config{
		HighWaterMark: 32, SignalTimeout: cfg.Gate.SignalTimeout(),
		AcquireTimeout: cfg.Broker.AcquireTimeout(),
	}, sizer, exec, st, eq.snapshot(st), log)

	metricsServer := metrics.NewServer(cfg.API.Port, log)

	return &gateway{
		pgPool: pgPool, redisClient: redisClient, bus: bus,
		metricsServer: metricsServer, pipeline: p, gate: gate,
	}, nil
}

// Submit is gatewayd's ingress operation (spec §6's "submit"): it is a Go
// method invocation, not an HTTP handler, per the stated Non-goal excluding
// a REST/WebSocket transport.
func (g *gateway) Submit(ctx context.Context, sig domain.Signal) signalgate.Decision {
	return pipeline.SubmitAndEnqueue(g.pipeline, g.gate, ctx, sig)
}

func staticOwners() emergency.CapabilityCheck {
	return func(actorID string) bool { return actorID == "ops" || actorID == "system" }
}

// brokerFactory resolves a profile's Vault-held credentials and returns a
// paper session tagged with the resolved account; a live vendor Session
// plugs in here behind the same broker.Session interface without BrokerPool
// or Executor changing, per SPEC_FULL.md §2.2's decision to keep the broker
// opaque. The factory signature carries only a profileID, so credential
// resolution looks the profile up itself rather than threading state
// through BrokerPool.
func brokerFactory(ctx context.Context, st store.Store, vaultClient *secrets.Client, log zerolog.Logger) func(profileID string) broker.Session {
	return func(profileID string) broker.Session {
		session := broker.NewPaperSession()

		profile, err := st.GetProfile(ctx, profileID)
		if err != nil {
			log.Error().Err(err).Str("profile_id", profileID).Msg("broker factory: load profile for credential resolution")
			return session
		}

		creds, err := vaultClient.Resolve(ctx, profile.BrokerCredentialRef)
		if err != nil {
			log.Error().Err(err).Str("profile_id", profileID).Str("credential_ref", profile.BrokerCredentialRef).
				Msg("broker factory: resolve vault credentials")
			return session
		}
		return session.WithAccountID(creds.AccountID)
	}
}

// startMarketMonitors feeds EmergencyController's automatic trigger
// evaluation from each configured symbol's websocket tick stream, per
// SPEC_FULL.md §2.1's flash_crash/volatility_spike/spread_explosion wiring.
func startMarketMonitors(ctx context.Context, cfg *config.Config, ctrl *emergency.Controller, log zerolog.Logger) {
	if cfg.Emergency.FeedURL == "" || len(cfg.Emergency.MonitoredSymbols) == 0 {
		log.Warn().Msg("no emergency feed_url/monitored_symbols configured; automatic triggers disabled")
		return
	}

	source := broker.NewWSTickSource(cfg.Emergency.FeedURL)
	ticks, err := source.Stream(ctx, cfg.Emergency.MonitoredSymbols)
	if err != nil {
		log.Error().Err(err).Msg("market monitor: connect tick feed")
		return
	}

	monitorCfg := emergency.MonitorConfig{
		FlashCrashPct:        cfg.Emergency.FlashCrashPct,
		FlashCrashWindow:     cfg.Emergency.FlashCrashWindow(),
		VolatilityMultiplier: cfg.Emergency.VolatilityMultiplier,
		SpreadMultiplier:     cfg.Emergency.SpreadMultiplier,
	}

	bySymbol := make(map[string]chan broker.Tick, len(cfg.Emergency.MonitoredSymbols))
	for _, sym := range cfg.Emergency.MonitoredSymbols {
		ch := make(chan broker.Tick, 16)
		bySymbol[sym] = ch
		go emergency.NewMarketMonitor(ctrl, sym, monitorCfg).Run(ctx, ch)
	}

	go func() {
		defer func() {
			for _, ch := range bySymbol {
				close(ch)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-ticks:
				if !ok {
					return
				}
				if ch, ok := bySymbol[t.Symbol]; ok {
					select {
					case ch <- t:
					default:
					}
				}
			}
		}
	}()
}

func reconcilePositions(log zerolog.Logger) broker.ReconcileFunc {
	return func(ctx context.Context, profileID string, remote []broker.RemotePosition, local []store.Position) {
		localByTicket := make(map[string]store.Position, len(local))
		for _, p := range local {
			localByTicket[p.Ticket] = p
		}
		for _, r := range remote {
			if _, ok := localByTicket[r.Ticket]; !ok {
				log.Warn().Str("profile_id", profileID).Str("ticket", r.Ticket).
					Msg("broker reports a position absent from local state")
			}
		}
	}
}

// equityTracker fills the ProfileSnapshot.PeakEquity/EquityCurve gap left
// by StateStore, which persists only current equity (spec §3): it keeps an
// in-process running peak and a bounded recent-equity window per profile,
// seeded from the persisted value on first observation.
type equityTracker struct {
	mu    sync.Mutex
	peak  map[string]float64
	curve map[string][]float64
}

func newEquityTracker() *equityTracker {
	return &equityTracker{peak: map[string]float64{}, curve: map[string][]float64{}}
}

const equityCurveWindow = 30

func (e *equityTracker) snapshot(st store.Store) pipeline.SnapshotFunc {
	return func(ctx context.Context, profileID string) (domain.ProfileSnapshot, error) {
		profile, err := st.GetProfile(ctx, profileID)
		if err != nil {
			return domain.ProfileSnapshot{}, err
		}
		positions, err := st.OpenPositions(ctx, profileID)
		if err != nil {
			return domain.ProfileSnapshot{}, err
		}

		equity, _ := profile.Equity.Float64()

		e.mu.Lock()
		peak := e.peak[profileID]
		if equity > peak {
			peak = equity
		}
		e.peak[profileID] = peak

		curve := append(e.curve[profileID], equity)
		if len(curve) > equityCurveWindow {
			curve = curve[len(curve)-equityCurveWindow:]
		}
		e.curve[profileID] = curve
		curveCopy := append([]float64(nil), curve...)
		e.mu.Unlock()

		return domain.ProfileSnapshot{
			Profile: *profile, OpenPositions: positions,
			PeakEquity: peak, CurrentEquity: equity, EquityCurve: curveCopy,
		}, nil
	}
}
