// Package orderfsm implements the explicit order state machine of spec.md
// §4.G, replacing the teacher's implicit status-string + UpdateFill helper
// (internal/order/types.go) with a validated transition table that refuses
// events arriving in a terminal state and emits a model.StateTransition for
// every accepted move.
package orderfsm

import (
	"errors"
	"math/big"
	"time"

	"fundingarb/internal/model"
	"fundingarb/internal/units"
)

// ErrInvalidTransition is returned when an event does not apply to the
// order's current status.
var ErrInvalidTransition = errors.New("orderfsm: invalid transition")

// ErrTerminalState is returned when an event arrives for an order that has
// already reached a terminal status.
var ErrTerminalState = errors.New("orderfsm: order is in a terminal state")

// Default ack/fill timeouts per spec.md §4.G.
const (
	DefaultAckTimeout  = 5 * time.Second
	DefaultFillTimeout = 30 * time.Second
)

// Event is the tagged union of inputs the machine accepts.
type Event struct {
	Kind            EventKind
	ExchangeOrderID string      // SUBMIT/ACK
	Error           string      // REJECT
	Reason          string      // TIMEOUT/CANCEL
	QuantityBase    units.Base  // PARTIAL_FILL/FILL
	AvgPriceQuote   units.Quote // PARTIAL_FILL/FILL
}

type EventKind string

const (
	EventSubmit      EventKind = "SUBMIT"
	EventAck         EventKind = "ACK"
	EventReject      EventKind = "REJECT"
	EventTimeout     EventKind = "TIMEOUT"
	EventPartialFill EventKind = "PARTIAL_FILL"
	EventFill        EventKind = "FILL"
	EventCancel      EventKind = "CANCEL"
)

// Apply validates ev against order's current status, mutates order in place
// on success, and returns the StateTransition record to append to the audit
// log. On an invalid transition, order is left unchanged and the returned
// transition is zero-valued.
func Apply(order *model.ManagedOrder, ev Event, now time.Time) (model.StateTransition, error) {
	from := order.Status
	if order.IsTerminal() {
		return model.StateTransition{}, ErrTerminalState
	}

	to, ok := nextStatus(from, ev)
	if !ok {
		return model.StateTransition{}, ErrInvalidTransition
	}

	switch ev.Kind {
	case EventSubmit:
		order.SubmittedAt = timePtr(now)
	case EventAck:
		order.AckedAt = timePtr(now)
		id := ev.ExchangeOrderID
		order.ExchangeOrderID = &id
	case EventReject:
		err := ev.Error
		order.RejectError = &err
	case EventTimeout, EventCancel:
		reason := ev.Reason
		order.CancelReason = &reason
	case EventPartialFill, EventFill:
		order.FilledQuantityBase = order.FilledQuantityBase.Add(ev.QuantityBase)
		order.AvgFillPriceQuote = blendAvgPrice(order.AvgFillPriceQuote, order.FilledQuantityBase, ev.QuantityBase, ev.AvgPriceQuote)
	}

	order.Status = to
	order.UpdatedAt = now

	return model.StateTransition{
		Timestamp:  now,
		EntityType: model.EntityOrder,
		EntityID:   order.ID,
		FromState:  string(from),
		ToState:    string(to),
		Event:      string(ev.Kind),
	}, nil
}

// nextStatus is the transition table of spec.md §4.G.
func nextStatus(from model.OrderStatus, ev Event) (model.OrderStatus, bool) {
	switch from {
	case model.OrderCreated:
		if ev.Kind == EventSubmit {
			return model.OrderSubmitted, true
		}
	case model.OrderSubmitted:
		switch ev.Kind {
		case EventAck:
			return model.OrderAcked, true
		case EventReject:
			return model.OrderRejected, true
		case EventTimeout:
			return model.OrderCanceled, true
		}
	case model.OrderAcked:
		switch ev.Kind {
		case EventPartialFill:
			return model.OrderPartial, true
		case EventFill:
			return model.OrderFilled, true
		case EventCancel, EventTimeout:
			return model.OrderCanceled, true
		}
	case model.OrderPartial:
		switch ev.Kind {
		case EventPartialFill:
			return model.OrderPartial, true
		case EventFill:
			return model.OrderFilled, true
		case EventCancel, EventTimeout:
			return model.OrderCanceled, true
		}
	}
	return "", false
}

// blendAvgPrice recomputes the order's weighted-average fill price after a
// new fill of qty at price is applied, mirroring the weighted-average idiom
// in internal/state/manager.go's RecordFill, retyped onto integers.
func blendAvgPrice(prevAvg *units.Quote, totalFilled, newQty units.Base, newPrice units.Quote) *units.Quote {
	prevFilled := totalFilled.Sub(newQty)
	if prevFilled.IsZero() || prevAvg == nil {
		p := newPrice
		return &p
	}
	prevTerm := new(big.Int).Mul(prevFilled.Int(), prevAvg.Int())
	newTerm := new(big.Int).Mul(newQty.Int(), newPrice.Int())
	num := new(big.Int).Add(prevTerm, newTerm)
	num.Quo(num, totalFilled.Int())
	avg := units.QuoteFromBig(num)
	return &avg
}

func timePtr(t time.Time) *time.Time { return &t }
