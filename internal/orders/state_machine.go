package orders

// OrderEvent is an input to the lifecycle state machine.
type OrderEvent string

const (
	EventSubmitSent      OrderEvent = "SUBMIT_SENT"
	EventSubmitAccepted  OrderEvent = "SUBMIT_ACCEPTED"
	EventSubmitRejected  OrderEvent = "SUBMIT_REJECTED"
	EventPartialFill     OrderEvent = "PARTIAL_FILL"
	EventFullFill        OrderEvent = "FULL_FILL"
	EventCancelRequested OrderEvent = "CANCEL_REQUESTED"
	EventCancelConfirmed OrderEvent = "CANCEL_CONFIRMED"
	EventExpired         OrderEvent = "EXPIRED"
)

// transitions is the full transition table. Absence of an (state, event)
// entry means the transition is rejected. Terminal states have no entries:
// once reached, every further event is refused and duplicate notifications
// are detected separately by the Manager.
var transitions = map[OrderState]map[OrderEvent]OrderState{
	StatePendingNew: {
		EventSubmitSent:      StatePendingSubmit,
		EventSubmitRejected:  StateRejected,
		EventCancelRequested: StateCanceled,
	},
	StatePendingSubmit: {
		EventSubmitAccepted: StateOpen,
		EventSubmitRejected: StateRejected,
		// Fills can beat the submission acknowledgment on the wire.
		EventPartialFill:     StatePartiallyFilled,
		EventFullFill:        StateFilled,
		EventCancelRequested: StatePendingSubmit,
		EventCancelConfirmed: StateCanceled,
		EventExpired:         StateExpired,
	},
	StateOpen: {
		EventPartialFill:     StatePartiallyFilled,
		EventFullFill:        StateFilled,
		EventCancelRequested: StateOpen,
		EventCancelConfirmed: StateCanceled,
		EventExpired:         StateExpired,
	},
	StatePartiallyFilled: {
		EventPartialFill:     StatePartiallyFilled,
		EventFullFill:        StateFilled,
		EventCancelRequested: StatePartiallyFilled,
		EventCancelConfirmed: StateCanceled,
		EventExpired:         StateExpired,
	},
}

// NextState resolves (current, event) against the transition table. The
// second return is false when the event is not permitted from the state.
func NextState(current OrderState, event OrderEvent) (OrderState, bool) {
	next, ok := transitions[current][event]
	return next, ok
}

// EventFor returns the event that would move an order from one state to
// another, if any single event does. The synchronizer uses it to translate
// exchange status fields into internal events.
func EventFor(from, to OrderState) (OrderEvent, bool) {
	for event, next := range transitions[from] {
		if next == to && next != from {
			return event, true
		}
	}
	return "", false
}

// ValidStates lists every state the machine knows, in lifecycle order.
func ValidStates() []OrderState {
	return []OrderState{
		StatePendingNew,
		StatePendingSubmit,
		StateOpen,
		StatePartiallyFilled,
		StateFilled,
		StateCanceled,
		StateRejected,
		StateExpired,
	}
}
