package orderfsm

import (
	"strings"
	"testing"
	"time"

	"fundingarb/internal/model"
	"fundingarb/internal/units"
)

func newOrder() *model.ManagedOrder {
	return &model.ManagedOrder{
		ID:           "order-1",
		Symbol:       "BTCUSDT",
		Side:         model.SideBuy,
		QuantityBase: units.NewBase(100_000_000),
		Status:       model.OrderCreated,
		CreatedAt:    time.Unix(0, 0),
	}
}

func TestApplySubmitTransitionsCreatedToSubmitted(t *testing.T) {
	o := newOrder()
	now := time.Unix(10, 0)
	tr, err := Apply(o, Event{Kind: EventSubmit}, now)
	if err != nil {
		t.Fatalf("Apply(SUBMIT) error = %v", err)
	}
	if o.Status != model.OrderSubmitted {
		t.Fatalf("Status = %v, want SUBMITTED", o.Status)
	}
	if o.SubmittedAt == nil || !o.SubmittedAt.Equal(now) {
		t.Fatalf("SubmittedAt = %v, want %v", o.SubmittedAt, now)
	}
	if tr.FromState != string(model.OrderCreated) || tr.ToState != string(model.OrderSubmitted) {
		t.Fatalf("transition = %+v, want CREATED->SUBMITTED", tr)
	}
	if tr.EntityType != model.EntityOrder || tr.EntityID != o.ID {
		t.Fatalf("transition entity = %+v, want order/%s", tr, o.ID)
	}
}

func TestApplyRejectsInvalidTransition(t *testing.T) {
	o := newOrder() // still CREATED
	_, err := Apply(o, Event{Kind: EventFill}, time.Unix(0, 0))
	if err != ErrInvalidTransition {
		t.Fatalf("Apply(FILL on CREATED) error = %v, want ErrInvalidTransition", err)
	}
	if o.Status != model.OrderCreated {
		t.Fatalf("Status mutated on invalid transition, got %v", o.Status)
	}
}

func TestApplyRefusesEventsOnTerminalOrder(t *testing.T) {
	o := newOrder()
	o.Status = model.OrderFilled
	_, err := Apply(o, Event{Kind: EventCancel}, time.Unix(0, 0))
	if err != ErrTerminalState {
		t.Fatalf("Apply(CANCEL on FILLED) error = %v, want ErrTerminalState", err)
	}
	if !strings.Contains(err.Error(), "terminal state") {
		t.Fatalf("Apply(CANCEL on FILLED) error = %q, want it to contain %q", err.Error(), "terminal state")
	}
}

func TestApplyFillSetsTerminalStatusAndPrice(t *testing.T) {
	o := newOrder()
	now := time.Unix(0, 0)
	if _, err := Apply(o, Event{Kind: EventSubmit}, now); err != nil {
		t.Fatalf("Apply(SUBMIT) error = %v", err)
	}
	if _, err := Apply(o, Event{Kind: EventAck, ExchangeOrderID: "ex-1"}, now); err != nil {
		t.Fatalf("Apply(ACK) error = %v", err)
	}
	tr, err := Apply(o, Event{
		Kind:          EventFill,
		QuantityBase:  units.NewBase(100_000_000),
		AvgPriceQuote: units.NewQuote(60_000_000_000),
	}, now)
	if err != nil {
		t.Fatalf("Apply(FILL) error = %v", err)
	}
	if o.Status != model.OrderFilled {
		t.Fatalf("Status = %v, want FILLED", o.Status)
	}
	if o.FilledQuantityBase.Int64() != 100_000_000 {
		t.Fatalf("FilledQuantityBase = %d, want 100000000", o.FilledQuantityBase.Int64())
	}
	if o.AvgFillPriceQuote == nil || o.AvgFillPriceQuote.Int64() != 60_000_000_000 {
		t.Fatalf("AvgFillPriceQuote = %v, want 60000000000", o.AvgFillPriceQuote)
	}
	if tr.ToState != string(model.OrderFilled) {
		t.Fatalf("transition.ToState = %v, want FILLED", tr.ToState)
	}
	if !o.IsTerminal() {
		t.Fatalf("IsTerminal() = false after FILL, want true")
	}
}

func TestApplyPartialFillBlendsWeightedAveragePrice(t *testing.T) {
	o := newOrder()
	now := time.Unix(0, 0)
	Apply(o, Event{Kind: EventSubmit}, now)
	Apply(o, Event{Kind: EventAck, ExchangeOrderID: "ex-1"}, now)

	// First partial: 0.5 BTC @ 50,000
	if _, err := Apply(o, Event{
		Kind:          EventPartialFill,
		QuantityBase:  units.NewBase(50_000_000),
		AvgPriceQuote: units.NewQuote(50_000_000_000),
	}, now); err != nil {
		t.Fatalf("Apply(PARTIAL_FILL #1) error = %v", err)
	}
	if o.Status != model.OrderPartial {
		t.Fatalf("Status = %v, want PARTIAL", o.Status)
	}

	// Second partial: 0.5 BTC @ 70,000 -> blended avg should be 60,000
	if _, err := Apply(o, Event{
		Kind:          EventPartialFill,
		QuantityBase:  units.NewBase(50_000_000),
		AvgPriceQuote: units.NewQuote(70_000_000_000),
	}, now); err != nil {
		t.Fatalf("Apply(PARTIAL_FILL #2) error = %v", err)
	}
	if o.AvgFillPriceQuote == nil || o.AvgFillPriceQuote.Int64() != 60_000_000_000 {
		t.Fatalf("blended AvgFillPriceQuote = %v, want 60000000000", o.AvgFillPriceQuote)
	}
}

func TestApplyRejectRecordsError(t *testing.T) {
	o := newOrder()
	now := time.Unix(0, 0)
	Apply(o, Event{Kind: EventSubmit}, now)
	_, err := Apply(o, Event{Kind: EventReject, Error: "insufficient margin"}, now)
	if err != nil {
		t.Fatalf("Apply(REJECT) error = %v", err)
	}
	if o.Status != model.OrderRejected {
		t.Fatalf("Status = %v, want REJECTED", o.Status)
	}
	if o.RejectError == nil || *o.RejectError != "insufficient margin" {
		t.Fatalf("RejectError = %v, want 'insufficient margin'", o.RejectError)
	}
}
