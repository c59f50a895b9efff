package hedgefsm

import (
	"testing"
	"time"

	"fundingarb/internal/model"
	"fundingarb/internal/units"
)

func TestNewIsIdle(t *testing.T) {
	s := New()
	if s.Phase != model.HedgeIdle {
		t.Fatalf("New().Phase = %v, want IDLE", s.Phase)
	}
}

func TestApplyFullEntryToExitLifecycle(t *testing.T) {
	now := time.Unix(0, 0)
	s := New()

	s, tr, err := Apply(s, Event{Kind: EventStartEntry, IntentID: "intent-1", Symbol: "BTCUSDT"}, now)
	if err != nil || s.Phase != model.HedgeEnteringPerp {
		t.Fatalf("Apply(START_ENTRY) = (%+v, err=%v), want ENTERING_PERP", s, err)
	}
	if tr.EntityType != model.EntityHedge || tr.CorrelationID != "intent-1" {
		t.Fatalf("transition = %+v, want hedge entity correlated to intent-1", tr)
	}

	s, _, err = Apply(s, Event{Kind: EventPerpFilled, QtyBase: units.NewBase(100_000_000)}, now)
	if err != nil || s.Phase != model.HedgeEnteringSpot {
		t.Fatalf("Apply(PERP_FILLED) = (%+v, err=%v), want ENTERING_SPOT", s, err)
	}
	if s.PerpQuantityBase.Int64() != 100_000_000 {
		t.Fatalf("PerpQuantityBase = %d, want 100000000", s.PerpQuantityBase.Int64())
	}

	s, _, err = Apply(s, Event{Kind: EventSpotFilled, QtyBase: units.NewBase(100_000_000)}, now)
	if err != nil || s.Phase != model.HedgeActive {
		t.Fatalf("Apply(SPOT_FILLED) = (%+v, err=%v), want ACTIVE", s, err)
	}

	s, _, err = Apply(s, Event{Kind: EventStartExit}, now)
	if err != nil || s.Phase != model.HedgeExitingSpot {
		t.Fatalf("Apply(START_EXIT) = (%+v, err=%v), want EXITING_SPOT", s, err)
	}

	s, _, err = Apply(s, Event{Kind: EventSpotSold}, now)
	if err != nil || s.Phase != model.HedgeExitingPerp {
		t.Fatalf("Apply(SPOT_SOLD) = (%+v, err=%v), want EXITING_PERP", s, err)
	}

	s, _, err = Apply(s, Event{Kind: EventPerpClosed, PnlQuote: units.NewQuote(500)}, now)
	if err != nil || s.Phase != model.HedgeClosed {
		t.Fatalf("Apply(PERP_CLOSED) = (%+v, err=%v), want CLOSED", s, err)
	}
	if s.RealizedPnlQuote == nil || s.RealizedPnlQuote.Int64() != 500 {
		t.Fatalf("RealizedPnlQuote = %v, want 500", s.RealizedPnlQuote)
	}
}

func TestApplyAbortDuringEntryReturnsToIdle(t *testing.T) {
	now := time.Unix(0, 0)
	s := New()
	s, _, _ = Apply(s, Event{Kind: EventStartEntry, IntentID: "intent-2"}, now)
	s, _, err := Apply(s, Event{Kind: EventAbort, Reason: "perp leg rejected"}, now)
	if err != nil || s.Phase != model.HedgeIdle {
		t.Fatalf("Apply(ABORT) = (%+v, err=%v), want IDLE", s, err)
	}
}

func TestApplyRejectsInvalidTransition(t *testing.T) {
	s := New() // IDLE
	_, _, err := Apply(s, Event{Kind: EventSpotFilled}, time.Unix(0, 0))
	if err != ErrInvalidTransition {
		t.Fatalf("Apply(SPOT_FILLED on IDLE) error = %v, want ErrInvalidTransition", err)
	}
}

func TestApplyAbortNotAllowedFromActive(t *testing.T) {
	now := time.Unix(0, 0)
	s := New()
	s, _, _ = Apply(s, Event{Kind: EventStartEntry}, now)
	s, _, _ = Apply(s, Event{Kind: EventPerpFilled}, now)
	s, _, _ = Apply(s, Event{Kind: EventSpotFilled}, now) // now ACTIVE
	_, _, err := Apply(s, Event{Kind: EventAbort}, now)
	if err != ErrInvalidTransition {
		t.Fatalf("Apply(ABORT on ACTIVE) error = %v, want ErrInvalidTransition (must exit via START_EXIT)", err)
	}
}
