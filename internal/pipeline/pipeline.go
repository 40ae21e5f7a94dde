// Package pipeline implements Pipeline: thin glue that subscribes to
// admitted signals, feeds them through RiskSizer and Executor, and
// propagates cancellations, per SPEC_FULL.md §4.7.
//
// Grounded on the teacher's per-profile worker/goroutine idioms seen across
// orchestrator/*.go (bounded semaphores guarding concurrent work, a
// sync.WaitGroup tracking in-flight workers, mutex-protected per-key maps)
// rather than its NATS bus: the profile-ordered SignalGate -> RiskSizer ->
// Executor chain is in-process channels per spec §5, since cross-restart
// NATS delivery order is not a fit for the strict per-profile FIFO
// invariant (the bus is reused for EmergencyController broadcast only, per
// §4.5).
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/archon-io/gateway/internal/audit"
	"github.com/archon-io/gateway/internal/domain"
	"github.com/archon-io/gateway/internal/executor"
	"github.com/archon-io/gateway/internal/metrics"
	"github.com/archon-io/gateway/internal/risk"
	"github.com/archon-io/gateway/internal/signalgate"
	"github.com/archon-io/gateway/internal/store"
)

// SnapshotFunc builds the consistent ProfileSnapshot RiskSizer reads at
// entry (spec §4.2: "reads profile state through a snapshot taken at
// entry").
type SnapshotFunc func(ctx context.Context, profileID string) (domain.ProfileSnapshot, error)

// Admitted is one signal that passed SignalGate, queued for its profile's
// worker.
type Admitted struct {
	Signal domain.Signal
	Handle *audit.Handle
}

// Config bounds Pipeline's backpressure and timeout behavior (spec §4.7,
// §5).
type Config struct {
	// HighWaterMark is the per-profile queue capacity: once a profile's
	// queue holds this many signals, Enqueue refuses further ones. RiskSizer
	// does not pause; a refused signal is not queued.
	HighWaterMark int
	// SignalTimeout bounds one signal's total time in RiskSizer+Executor
	// before the chain is sealed pipeline.timeout (spec §5 default 30s,
	// configurable as signal_timeout_s).
	SignalTimeout time.Duration
	AcquireTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{HighWaterMark: 32, SignalTimeout: 30 * time.Second, AcquireTimeout: 5 * time.Second}
}

// worker is one profile's SignalGate -> RiskSizer -> Executor chain,
// processing its queue strictly in FIFO submission order.
type worker struct {
	profileID string
	queue     chan Admitted
}

// Pipeline wires per-profile workers: one logical worker per profile
// handles the chain in order for that profile; multiple profiles run in
// parallel (spec §5).
type Pipeline struct {
	mu       sync.Mutex
	workers  map[string]*worker
	wg       sync.WaitGroup

	cfg       Config
	sizer     *risk.Sizer
	exec      *executor.Executor
	store     store.Store
	snapshot  SnapshotFunc
	log       zerolog.Logger

	cancel context.CancelFunc
	ctx    context.Context
}

func New(cfg Config, sizer *risk.Sizer, exec *executor.Executor, st store.Store, snapshot SnapshotFunc, logger zerolog.Logger) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		workers:  make(map[string]*worker),
		cfg:      cfg,
		sizer:    sizer,
		exec:     exec,
		store:    st,
		snapshot: snapshot,
		log:      logger.With().Str("component", "pipeline").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Enqueue hands an admitted signal to its profile's worker, starting the
// worker on first use. It returns false (backpressure) if the profile's
// queue is already at HighWaterMark. SubmitAndEnqueue, its caller, then
// seals the signal's chain blocked and reports the signal as not accepted.
func (p *Pipeline) Enqueue(a Admitted) bool {
	w := p.workerFor(a.Signal.ProfileID)
	select {
	case w.queue <- a:
		metrics.PipelineQueueDepth.WithLabelValues(a.Signal.ProfileID).Set(float64(len(w.queue)))
		return true
	default:
		return false
	}
}

func (p *Pipeline) workerFor(profileID string) *worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[profileID]
	if !ok {
		w = &worker{profileID: profileID, queue: make(chan Admitted, p.cfg.HighWaterMark)}
		p.workers[profileID] = w
		p.wg.Add(1)
		go p.run(w)
	}
	return w
}

func (p *Pipeline) run(w *worker) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case a, ok := <-w.queue:
			if !ok {
				return
			}
			metrics.PipelineQueueDepth.WithLabelValues(w.profileID).Set(float64(len(w.queue)))
			p.process(a)
		}
	}
}

// process runs one signal through RiskSizer then Executor, bounded by
// SignalTimeout; exceeding it seals the chain pipeline.timeout (spec §5).
func (p *Pipeline) process(a Admitted) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.SignalTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.runStages(ctx, a)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if _, err := a.Handle.Append(context.Background(), audit.NodePipelineTimeout, "pipeline", nil, nil, "signal exceeded signal_timeout_s", nil); err != nil {
			p.log.Warn().Err(err).Msg("failed to append pipeline.timeout node")
		}
		_ = a.Handle.Seal(context.Background(), audit.OutcomeRejected)
		metrics.RiskDecisions.WithLabelValues("timeout").Inc()
	}
	metrics.ChainLatency.Observe(time.Since(start).Seconds())
}

func (p *Pipeline) runStages(ctx context.Context, a Admitted) {
	snap, err := p.snapshot(ctx, a.Signal.ProfileID)
	if err != nil {
		p.log.Warn().Err(err).Str("profile_id", a.Signal.ProfileID).Msg("failed to read profile snapshot")
		_ = a.Handle.Seal(ctx, audit.OutcomeRejected)
		return
	}

	result := p.sizer.Size(a.Signal, snap)
	if result.Veto != nil {
		if _, err := a.Handle.Append(ctx, audit.NodeRiskRejected, "risk_sizer", nil, map[string]interface{}{
			"predicate": string(result.Veto.Predicate),
		}, result.Veto.Rationale, nil); err != nil {
			p.log.Warn().Err(err).Msg("failed to append risk.rejected node")
		}
		_ = a.Handle.Seal(ctx, audit.OutcomeRejected)
		metrics.RiskDecisions.WithLabelValues("rejected").Inc()
		return
	}

	nodeType := audit.NodeRiskApproved
	riskOutcome := "approved"
	if result.Reduced {
		nodeType = audit.NodeRiskReduced
		riskOutcome = "reduced"
	}
	if _, err := a.Handle.Append(ctx, nodeType, "risk_sizer", nil, map[string]interface{}{
		"volume": result.Intent.Volume.String(), "requested_volume": result.Intent.RequestedVolume.String(),
	}, "sized by RiskSizer", nil); err != nil {
		p.log.Warn().Err(err).Msg("failed to append risk node")
	}
	metrics.RiskDecisions.WithLabelValues(riskOutcome).Inc()
	metrics.RiskPerTrade.Observe(result.Intent.RiskPerTrade.InexactFloat64())

	outcome := p.exec.Submit(ctx, *result.Intent, p.cfg.AcquireTimeout)
	output := map[string]interface{}{}
	if outcome.Position != nil {
		output["ticket"] = outcome.Position.Ticket
		output["filled_price"] = outcome.Position.FilledPrice.String()
	}
	rationale := ""
	if outcome.Err != nil {
		rationale = outcome.Err.Error()
	}
	if _, err := a.Handle.Append(ctx, audit.NodeType(outcome.NodeType), "executor", nil, output, rationale, nil); err != nil {
		p.log.Warn().Err(err).Msg("failed to append executor node")
	}
	metrics.ExecutionOutcomes.WithLabelValues(outcome.NodeType).Inc()
	metrics.ExecutionAttempts.Observe(float64(outcome.Attempts))

	finalOutcome := audit.OutcomeExecuted
	if outcome.Position == nil {
		finalOutcome = audit.OutcomeRejected
	}
	_ = a.Handle.Seal(ctx, finalOutcome)
}

// Shutdown cancels all workers and waits for in-flight signals to observe
// cancellation.
func (p *Pipeline) Shutdown() {
	p.cancel()
	p.wg.Wait()
}

// SubmitAndEnqueue is the convenience entry point combining SignalGate
// admission with Pipeline handoff: it submits to gate, and on acceptance
// (excluding replays) enqueues the resulting Handle for processing. If the
// profile's queue is full, the chain gets a gate.blocked node, is sealed
// blocked, and the returned Decision is not accepted (Reason "backpressure").
func SubmitAndEnqueue(p *Pipeline, gate *signalgate.Gate, ctx context.Context, sig domain.Signal) signalgate.Decision {
	d := gate.Submit(ctx, sig)
	if d.Accepted && d.Handle != nil {
		if !p.Enqueue(Admitted{Signal: sig, Handle: d.Handle}) {
			p.log.Warn().Str("profile_id", sig.ProfileID).Msg("pipeline backpressure: queue at high-water mark")
			if _, err := d.Handle.Append(ctx, audit.NodeGateBlocked, "pipeline", nil, nil, "pipeline queue at high-water mark", nil); err != nil {
				p.log.Warn().Err(err).Msg("failed to append backpressure node")
			}
			_ = d.Handle.Seal(ctx, audit.OutcomeBlocked)
			return signalgate.Decision{Accepted: false, ChainID: d.ChainID, Reason: "backpressure"}
		}
	}
	return d
}
