// Package worker owns the process lifecycle spec.md §4.O describes: it
// constructs every other component, connects to the venue, seeds state via
// a synchronous reconcile, then drives the REST refresh, the evaluator and
// the reconciler off three independently recursing timers until asked to
// shut down. Grounded on the
// teacher's main.go startup sequencing (context cancellation, signal.Notify,
// deferred Close()s), generalized to single-timer recursion for both ticks
// and a bounded waitForIdle shutdown instead of the teacher's
// channel-subscriber-per-concern wiring.
package worker

import (
	"context"
	"log"
	"time"

	"fundingarb/internal/accounting"
	"fundingarb/internal/audit"
	"fundingarb/internal/config"
	"fundingarb/internal/derive"
	"fundingarb/internal/evaluator"
	"fundingarb/internal/events"
	"fundingarb/internal/execution"
	"fundingarb/internal/health"
	"fundingarb/internal/model"
	"fundingarb/internal/queue"
	"fundingarb/internal/reconciliation"
	"fundingarb/internal/requestpolicy"
	"fundingarb/internal/statestore"
	"fundingarb/internal/telemetry"
	"fundingarb/internal/units"
	"fundingarb/internal/venue"
)

const (
	tickerWsStream     = "ticker_ws"
	tickerWsStaleAfter = 10 * time.Second
	shutdownTimeout    = 15 * time.Second

	// evaluateTickWarnAfter is 75% of the default 2s evaluator interval; it
	// is fixed and does not follow a configured EvaluatorInterval.
	evaluateTickWarnAfter = 1500 * time.Millisecond
)

// Worker wires every core component together and drives the process.
type Worker struct {
	cfg     config.Config
	gateway venue.Gateway
	journal audit.Journal

	store   *statestore.Store
	health  *health.Monitor
	policy  *requestpolicy.Policy
	queue   *queue.Queue
	metrics *telemetry.Metrics
	ledger  *accounting.Tracker
	engine  *execution.Engine
	clock   model.Clock
	bus     *events.Bus

	evalDeps *evaluator.Deps

	stopRefresh    chan struct{}
	stopEvaluator  chan struct{}
	stopReconciler chan struct{}
	loopsDone      chan struct{}
}

// New constructs a Worker from cfg. gateway is the venue to trade against
// (a paper.Gateway in tests/dry-run, a real adapter in production); journal
// is where accepted StateTransitions are recorded.
func New(cfg config.Config, gateway venue.Gateway, journal audit.Journal) *Worker {
	clock := model.SystemClock{}
	store := statestore.New(clock)
	healthMon := health.New(clock)
	healthMon.Register(tickerWsStream, tickerWsStaleAfter)

	policy := requestpolicy.New(cfg.RequestPolicy, clock)
	q := queue.New()
	metrics := telemetry.New()
	ledger := accounting.New()
	bus := events.NewBus()

	w := &Worker{
		cfg:     cfg,
		gateway: gateway,
		journal: journal,
		store:   store,
		health:  healthMon,
		policy:  policy,
		queue:   q,
		metrics: metrics,
		ledger:  ledger,
		clock:   clock,
		bus:     bus,
	}

	w.subscribeBus()

	w.engine = &execution.Engine{
		Gateway:  gateway,
		Store:    store,
		Policy:   requestpolicy.New(execution.BreakerConfig(), clock),
		RiskSnap: w.riskSnapshot,
		RiskCfg:  cfg.Risk,
		Config:   cfg.Execution,
		Emit:     w.emitTransition,
		Clock:    clock,
	}

	w.evalDeps = &evaluator.Deps{
		Queue:       q,
		Store:       store,
		Health:      healthMon,
		Execution:   w.engine,
		Freshness:   cfg.Freshness,
		RiskCfg:     cfg.Risk,
		StrategyCfg: cfg.Strategy,
		Asset:       cfg.Asset,
		RiskSnap:    w.riskSnapshotForEvaluator,
		Clock:       clock,
	}

	return w
}

func (w *Worker) emitTransition(t model.StateTransition) {
	w.bus.Publish(events.EventStateTransition, t)
}

// subscribeBus starts the audit and telemetry listeners for the worker's
// event bus. Both run for the worker's full lifetime; there is no unsub
// call since the bus itself is torn down with the process.
func (w *Worker) subscribeBus() {
	transitions, _ := w.bus.Subscribe(events.EventStateTransition, 256)
	go func() {
		for payload := range transitions {
			t, ok := payload.(model.StateTransition)
			if !ok {
				continue
			}
			if err := w.journal.Record(context.Background(), t); err != nil {
				log.Printf("worker: failed to record state transition: %v", err)
				w.metrics.IncrementErrors()
			}
		}
	}()

	diffs, _ := w.bus.Subscribe(events.EventReconcileDiff, 16)
	go func() {
		for payload := range diffs {
			report, ok := payload.(reconciliation.Report)
			if !ok {
				continue
			}
			w.metrics.IncrementReconcileMismatches(len(report.Diffs))
		}
	}()
}

// computeEquity derives equity/marginUsed from the store's latest balance
// and venue-reported position, then folds equity into the running
// peak/daily-window tracker.
func (w *Worker) computeEquity() (equityQuote, marginUsedQuote, dailyPnlQuote, peakEquityQuote units.Quote) {
	quoteBalance, ok := w.store.Balance(w.cfg.Asset.QuoteAsset)
	var qb *model.Balance
	if ok {
		qb = &quoteBalance
	}
	pos, posOk := w.store.Position(w.cfg.Asset.PerpSymbol)
	var vp *model.Position
	if posOk {
		vp = &pos
	}

	equityQuote = accounting.Equity(qb, vp)
	marginUsedQuote = accounting.MarginUsed(vp)
	dailyPnlQuote, peakEquityQuote = w.ledger.Update(equityQuote, w.clock.Now())
	return
}

// riskSnapshot computes the model.RiskSnapshot the execution engine's
// pre-flight check needs, including a freshly derived position.
func (w *Worker) riskSnapshot(ctx context.Context) (model.RiskSnapshot, error) {
	equity, marginUsed, dailyPnl, peakEquity := w.computeEquity()

	pos, posOk := w.store.Position(w.cfg.Asset.PerpSymbol)
	var exPos *model.Position
	if posOk {
		exPos = &pos
	}
	spot, spotOk := w.store.Balance(w.cfg.Asset.BaseAsset)
	var spotBal *model.Balance
	if spotOk {
		spotBal = &spot
	}
	ticker, _ := w.store.Ticker()
	var entryCtx *model.EntryContext
	if ec, ok := w.store.EntryContext(w.cfg.Asset.PerpSymbol); ok {
		entryCtx = &ec
	}

	derived := derive.Position(derive.Input{
		ExchangePosition: exPos,
		SpotBalance:      spotBal,
		MarkPriceQuote:   ticker.MarkPriceQuote,
		Asset:            w.cfg.Asset,
		EquityQuote:      equity,
		MarginUsedQuote:  marginUsed,
		Now:              w.clock.Now(),
		Source:           model.SourceDerived,
		EntryContext:     entryCtx,
	})

	return model.RiskSnapshot{
		EquityQuote:     equity,
		MarginUsedQuote: marginUsed,
		Position:        &derived,
		DailyPnlQuote:   dailyPnl,
		PeakEquityQuote: peakEquity,
	}, nil
}

// riskSnapshotForEvaluator adapts computeEquity to the evaluator's narrower
// RiskSnapshotProvider signature (no derived position; the evaluator
// derives its own from the same store).
func (w *Worker) riskSnapshotForEvaluator(ctx context.Context) (equityQuote, marginUsedQuote, dailyPnlQuote, peakEquityQuote units.Quote, err error) {
	equityQuote, marginUsedQuote, dailyPnlQuote, peakEquityQuote = w.computeEquity()
	return equityQuote, marginUsedQuote, dailyPnlQuote, peakEquityQuote, nil
}

// Run connects to the venue, seeds state with a synchronous reconcile,
// subscribes to the ticker stream, then drives the evaluator and reconciler
// off independently recursing timers until ctx is cancelled, at which point
// it performs a bounded graceful shutdown.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.gateway.Connect(ctx); err != nil {
		return err
	}
	log.Printf("worker: connected to venue")

	if _, err := reconciliation.Reconcile(ctx, w.gateway, w.store, w.cfg.Reconciler, w.clock.Now()); err != nil {
		log.Printf("worker: initial reconcile failed: %v", err)
	}

	if err := w.gateway.SubscribeTicker(w.cfg.Asset.PerpSymbol, w.onTickerUpdate); err != nil {
		return err
	}
	log.Printf("worker: subscribed to %s ticker stream", w.cfg.Asset.PerpSymbol)

	w.stopRefresh = make(chan struct{})
	w.stopEvaluator = make(chan struct{})
	w.stopReconciler = make(chan struct{})
	w.loopsDone = make(chan struct{}, 3)

	go w.refreshLoop(ctx)
	go w.evaluatorLoop(ctx)
	go w.reconcilerLoop(ctx)

	<-ctx.Done()
	log.Printf("worker: shutting down")
	return w.shutdown()
}

func (w *Worker) onTickerUpdate(u venue.TickerUpdate) {
	w.store.SetTicker(u.Ticker)
	w.health.Touch(tickerWsStream)
}

// refreshLoop periodically REST-polls balances, the venue position, and the
// funding rate snapshot: the data spec.md's freshness checker calls
// "restFresh", distinct from the ticker stream's WS freshness.
func (w *Worker) refreshLoop(ctx context.Context) {
	defer func() { w.loopsDone <- struct{}{} }()
	w.refreshOnce(ctx)
	w.scheduleRefresh(ctx)
}

func (w *Worker) scheduleRefresh(ctx context.Context) {
	timer := time.NewTimer(w.cfg.EvaluatorInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-w.stopRefresh:
		return
	case <-timer.C:
	}
	w.refreshOnce(ctx)
	w.scheduleRefresh(ctx)
}

func (w *Worker) refreshOnce(ctx context.Context) {
	balances, err := requestpolicy.Do(ctx, w.policy, requestpolicy.Options{Endpoint: "getBalances", Category: requestpolicy.CategoryPrivate},
		func(ctx context.Context) ([]model.Balance, error) { return w.gateway.GetBalances(ctx) })
	if err != nil {
		log.Printf("worker: refresh balances failed: %v", err)
		w.metrics.IncrementErrors()
	} else {
		w.store.SetBalances(balances)
	}

	pos, err := requestpolicy.Do(ctx, w.policy, requestpolicy.Options{Endpoint: "getPosition", Category: requestpolicy.CategoryPrivate},
		func(ctx context.Context) (*model.Position, error) { return w.gateway.GetPosition(ctx, w.cfg.Asset.PerpSymbol) })
	if err != nil {
		log.Printf("worker: refresh position failed: %v", err)
		w.metrics.IncrementErrors()
	} else if pos != nil {
		w.store.SetPosition(*pos)
	} else {
		w.store.ClearPosition(w.cfg.Asset.PerpSymbol)
	}

	funding, err := requestpolicy.Do(ctx, w.policy, requestpolicy.Options{Endpoint: "getFundingRate", Category: requestpolicy.CategoryPublic},
		func(ctx context.Context) (model.FundingRateSnapshot, error) {
			return w.gateway.GetFundingRate(ctx, w.cfg.Asset.PerpSymbol)
		})
	if err != nil {
		log.Printf("worker: refresh funding rate failed: %v", err)
		w.metrics.IncrementErrors()
	} else {
		w.store.SetFunding(funding)
	}
}

// evaluatorLoop runs evaluator.Evaluate on a self-recursing timer (spec.md
// §4.N), rather than a ticker channel, so a slow tick never queues a second
// one behind it.
func (w *Worker) evaluatorLoop(ctx context.Context) {
	defer func() { w.loopsDone <- struct{}{} }()
	w.scheduleEvaluate(ctx)
}

func (w *Worker) scheduleEvaluate(ctx context.Context) {
	timer := time.NewTimer(w.cfg.EvaluatorInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-w.stopEvaluator:
		return
	case <-timer.C:
	}

	start := time.Now()
	evaluator.Evaluate(ctx, w.evalDeps)
	elapsed := time.Since(start)
	w.metrics.EvaluatorLatency.RecordDuration(elapsed)
	w.metrics.IncrementTicks()
	w.metrics.SetTickContext(model.ActionAllow, w.queue.GetPendingCount())
	if elapsed > evaluateTickWarnAfter {
		log.Printf("worker: evaluator tick took %s, exceeding warn threshold", elapsed)
	}

	w.scheduleEvaluate(ctx)
}

// reconcilerLoop runs reconciliation.Reconcile on its own self-recursing
// timer, independent of the evaluator's cadence.
func (w *Worker) reconcilerLoop(ctx context.Context) {
	defer func() { w.loopsDone <- struct{}{} }()
	w.scheduleReconcile(ctx)
}

func (w *Worker) scheduleReconcile(ctx context.Context) {
	interval := w.cfg.Reconciler.Interval
	if interval <= 0 {
		interval = reconciliation.DefaultConfig().Interval
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-w.stopReconciler:
		return
	case <-timer.C:
	}

	start := time.Now()
	report, err := reconciliation.Reconcile(ctx, w.gateway, w.store, w.cfg.Reconciler, w.clock.Now())
	w.metrics.ReconcilerLatency.RecordDuration(time.Since(start))
	if err != nil {
		log.Printf("worker: reconcile failed: %v", err)
		w.metrics.IncrementErrors()
	} else if len(report.Diffs) > 0 {
		w.bus.Publish(events.EventReconcileDiff, report)
	}

	w.scheduleReconcile(ctx)
}

// shutdown stops new work from being scheduled, cancels whatever the queue
// is running, waits (bounded) for it to actually stop, then tears down the
// stream subscription and the venue connection.
func (w *Worker) shutdown() error {
	close(w.stopRefresh)
	close(w.stopEvaluator)
	close(w.stopReconciler)

	w.queue.CancelAll()

	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := w.queue.WaitForIdle(waitCtx); err != nil {
		log.Printf("worker: shutdown wait for idle timed out: %v", err)
	}
	w.queue.Close()

	if err := w.gateway.UnsubscribeTicker(w.cfg.Asset.PerpSymbol); err != nil {
		log.Printf("worker: unsubscribe failed: %v", err)
	}

	disconnectCtx, cancel2 := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel2()
	if err := w.gateway.Disconnect(disconnectCtx); err != nil {
		return err
	}
	log.Printf("worker: disconnected from venue")
	return w.journal.Close()
}

// Metrics exposes the worker's telemetry sink for an external process to
// read (e.g. before serving it over HTTP).
func (w *Worker) Metrics() *telemetry.Metrics { return w.metrics }
