package events

// Event enumerates the topics the worker fans state out on. Re-keyed from
// the teacher's order-lifecycle enum onto the funding-arb core's own
// concerns: every accepted state change is one StateTransition payload,
// rather than a topic per order/strategy/risk concern.
type Event string

const (
	// EventStateTransition carries a model.StateTransition payload whenever
	// an order or hedge moves between states. Audit and telemetry both
	// subscribe to this single topic instead of one each per entity kind.
	EventStateTransition Event = "state_transition"

	// EventReconcileDiff carries a reconciliation.Report payload whenever a
	// reconcile pass finds one or more mismatches.
	EventReconcileDiff Event = "reconcile_diff"
)
