// Package hedgefsm implements the two-leg hedge phase machine of spec.md
// §4.H. No teacher analogue exists (the teacher trades a single leg per
// order); modeled on internal/orderfsm's validated-transition-table idiom
// for consistency within this module.
package hedgefsm

import (
	"errors"
	"time"

	"fundingarb/internal/model"
	"fundingarb/internal/units"
)

// ErrInvalidTransition is returned when an event does not apply to the
// hedge's current phase.
var ErrInvalidTransition = errors.New("hedgefsm: invalid transition")

// EventKind is the tagged union of inputs the machine accepts.
type EventKind string

const (
	EventStartEntry EventKind = "START_ENTRY"
	EventPerpFilled EventKind = "PERP_FILLED"
	EventSpotFilled EventKind = "SPOT_FILLED"
	EventStartExit  EventKind = "START_EXIT"
	EventSpotSold   EventKind = "SPOT_SOLD"
	EventPerpClosed EventKind = "PERP_CLOSED"
	EventAbort      EventKind = "ABORT"
)

// Event carries whichever payload its Kind requires; unused fields are zero.
type Event struct {
	Kind     EventKind
	IntentID string
	Symbol   string
	QtyBase  units.Base
	Reason   string
	PnlQuote units.Quote
}

// New returns a fresh IDLE hedge state.
func New() model.HedgeState {
	return model.HedgeState{Phase: model.HedgeIdle}
}

// Apply validates ev against state's current phase and returns the next
// state plus the StateTransition to append to the audit log. On an invalid
// transition, state is returned unchanged and err is non-nil.
func Apply(state model.HedgeState, ev Event, now time.Time) (model.HedgeState, model.StateTransition, error) {
	from := state.Phase
	to, ok := nextPhase(from, ev.Kind)
	if !ok {
		return state, model.StateTransition{}, ErrInvalidTransition
	}

	next := state
	switch ev.Kind {
	case EventStartEntry:
		next.IntentID = ev.IntentID
		next.Symbol = ev.Symbol
	case EventPerpFilled:
		next.PerpQuantityBase = ev.QtyBase
	case EventSpotFilled:
		next.SpotQuantityBase = ev.QtyBase
	case EventPerpClosed:
		pnl := ev.PnlQuote
		next.RealizedPnlQuote = &pnl
	}
	next.Phase = to

	transition := model.StateTransition{
		Timestamp:  now,
		EntityType: model.EntityHedge,
		EntityID:   next.IntentID,
		FromState:  string(from),
		ToState:    string(to),
		Event:      string(ev.Kind),
		CorrelationID: next.IntentID,
	}
	return next, transition, nil
}

// nextPhase is the transition table of spec.md §4.H: IDLE -> ENTERING_PERP
// -> ENTERING_SPOT -> ACTIVE -> EXITING_SPOT -> EXITING_PERP -> CLOSED, with
// abort edges ENTERING_PERP -> IDLE and ENTERING_SPOT -> IDLE.
func nextPhase(from model.HedgePhase, kind EventKind) (model.HedgePhase, bool) {
	switch from {
	case model.HedgeIdle:
		if kind == EventStartEntry {
			return model.HedgeEnteringPerp, true
		}
	case model.HedgeEnteringPerp:
		switch kind {
		case EventPerpFilled:
			return model.HedgeEnteringSpot, true
		case EventAbort:
			return model.HedgeIdle, true
		}
	case model.HedgeEnteringSpot:
		switch kind {
		case EventSpotFilled:
			return model.HedgeActive, true
		case EventAbort:
			return model.HedgeIdle, true
		}
	case model.HedgeActive:
		if kind == EventStartExit {
			return model.HedgeExitingSpot, true
		}
	case model.HedgeExitingSpot:
		if kind == EventSpotSold {
			return model.HedgeExitingPerp, true
		}
	case model.HedgeExitingPerp:
		if kind == EventPerpClosed {
			return model.HedgeClosed, true
		}
	}
	return "", false
}
