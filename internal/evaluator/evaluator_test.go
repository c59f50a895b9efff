package evaluator

import (
	"context"
	"testing"
	"time"

	"fundingarb/internal/freshness"
	"fundingarb/internal/health"
	"fundingarb/internal/model"
	"fundingarb/internal/queue"
	"fundingarb/internal/risk"
	"fundingarb/internal/statestore"
	"fundingarb/internal/strategy"
	"fundingarb/internal/units"
)

func TestResolveHealthActionAllFeedsDownOpenIsEmergencyExit(t *testing.T) {
	snap := HealthSnapshot{RestFresh: false, WsFresh: false, Position: &model.DerivedPosition{Open: true}}
	action, reason := ResolveHealthAction(snap, time.Unix(0, 0))
	if action != HealthEmergencyExit || reason != "all_feeds_down" {
		t.Fatalf("ResolveHealthAction(all down, open) = (%v, %q), want EMERGENCY_EXIT/all_feeds_down", action, reason)
	}
}

func TestResolveHealthActionAllFeedsDownFlatIsFullPause(t *testing.T) {
	snap := HealthSnapshot{RestFresh: false, WsFresh: false, Position: &model.DerivedPosition{Open: false}}
	action, _ := ResolveHealthAction(snap, time.Unix(0, 0))
	if action != HealthFullPause {
		t.Fatalf("ResolveHealthAction(all down, flat) = %v, want FULL_PAUSE", action)
	}
}

func TestResolveHealthActionWsStaleLongWithPositionIsForceExit(t *testing.T) {
	now := time.Unix(1000, 0)
	entryTime := now.Add(-31 * time.Second)
	snap := HealthSnapshot{
		RestFresh: true,
		WsFresh:   false,
		Position:  &model.DerivedPosition{Open: true, EntryTime: &entryTime},
	}
	action, reason := ResolveHealthAction(snap, now)
	if action != HealthForceExit || reason != "ws_stale_with_position" {
		t.Fatalf("ResolveHealthAction(ws stale >30s, open) = (%v, %q), want FORCE_EXIT/ws_stale_with_position", action, reason)
	}
}

func TestResolveHealthActionWsStaleBrieflyWithPositionIsPauseEntries(t *testing.T) {
	now := time.Unix(1000, 0)
	entryTime := now.Add(-5 * time.Second)
	snap := HealthSnapshot{
		RestFresh: true,
		WsFresh:   false,
		Position:  &model.DerivedPosition{Open: true, EntryTime: &entryTime},
	}
	action, _ := ResolveHealthAction(snap, now)
	if action != HealthPauseEntries {
		t.Fatalf("ResolveHealthAction(ws stale briefly, open) = %v, want PAUSE_ENTRIES", action)
	}
}

func TestResolveHealthActionRestStaleLowMarginIsForceExit(t *testing.T) {
	snap := HealthSnapshot{
		RestFresh: false,
		WsFresh:   true,
		Position:  &model.DerivedPosition{Open: true, MarginBufferBps: units.NewBps(200)},
	}
	action, reason := ResolveHealthAction(snap, time.Unix(0, 0))
	if action != HealthForceExit || reason != "rest_failing_low_margin" {
		t.Fatalf("ResolveHealthAction(rest stale, low margin) = (%v, %q), want FORCE_EXIT/rest_failing_low_margin", action, reason)
	}
}

func TestResolveHealthActionRestStaleHealthyMarginIsReduceRisk(t *testing.T) {
	snap := HealthSnapshot{
		RestFresh: false,
		WsFresh:   true,
		Position:  &model.DerivedPosition{Open: true, MarginBufferBps: units.NewBps(9000)},
	}
	action, _ := ResolveHealthAction(snap, time.Unix(0, 0))
	if action != HealthReduceRisk {
		t.Fatalf("ResolveHealthAction(rest stale, healthy margin) = %v, want REDUCE_RISK", action)
	}
}

func TestResolveHealthActionAllFreshIsContinue(t *testing.T) {
	snap := HealthSnapshot{RestFresh: true, WsFresh: true, Position: &model.DerivedPosition{Open: false}}
	action, _ := ResolveHealthAction(snap, time.Unix(0, 0))
	if action != HealthContinue {
		t.Fatalf("ResolveHealthAction(all fresh) = %v, want CONTINUE", action)
	}
}

func TestEvaluateSkipsTickWhenQueueHasPendingJob(t *testing.T) {
	q := queue.New()
	defer q.Close()

	block := make(chan struct{})
	queue.Enqueue(q, func(ctx context.Context) (int, error) {
		<-block
		return 0, nil
	}, "")

	riskSnapCalled := false
	d := &Deps{
		Queue: q,
		RiskSnap: func(ctx context.Context) (units.Quote, units.Quote, units.Quote, units.Quote, error) {
			riskSnapCalled = true
			return units.ZeroQuote(), units.ZeroQuote(), units.ZeroQuote(), units.ZeroQuote(), nil
		},
	}
	Evaluate(context.Background(), d)
	close(block)

	if riskSnapCalled {
		t.Fatal("Evaluate() called RiskSnap while a job was pending, want early skip")
	}
}

func TestEvaluateReturnsEarlyOnFullPauseWithoutTouchingExecution(t *testing.T) {
	q := queue.New()
	defer q.Close()
	store := statestore.New(nil)
	// No ticker/funding/account ever set -> RestFresh is false; health monitor
	// never touched -> WsFresh is false. Flat position -> FULL_PAUSE, which
	// returns before Evaluate ever dereferences d.Execution.
	d := &Deps{
		Queue:     q,
		Store:     store,
		Health:    health.New(nil),
		Freshness: freshness.Config{MaxTickerAgeMs: 1, MaxFundingAgeMs: 1, MaxAccountAgeMs: 1},
		RiskCfg:   risk.DefaultConfig(),
		StrategyCfg: strategy.DefaultConfig(),
		Asset:     model.AssetConfig{PerpSymbol: "BTCUSDT", BaseAsset: "BTC", BaseDecimals: 8},
		RiskSnap: func(ctx context.Context) (units.Quote, units.Quote, units.Quote, units.Quote, error) {
			return units.NewQuote(1000), units.ZeroQuote(), units.ZeroQuote(), units.NewQuote(1000), nil
		},
	}
	Evaluate(context.Background(), d) // must not panic despite Execution being nil
}
