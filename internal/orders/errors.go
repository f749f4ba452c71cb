package orders

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound is returned by lookups for order IDs the registry has
// never seen.
var ErrOrderNotFound = errors.New("order not found")

// ErrFillNotFound is returned by fill lookups for unknown trade IDs.
var ErrFillNotFound = errors.New("fill not found")

// ValidationError reports a malformed order request. It is always returned
// before any registry mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid order: %s", e.Reason)
	}
	return fmt.Sprintf("invalid order: %s: %s", e.Field, e.Reason)
}

func newValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransitionError reports an event that is not permitted from the order's
// current state. The order is left unchanged.
type TransitionError struct {
	OrderID string
	State   OrderState
	Event   OrderEvent
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: event %s not permitted from state %s", e.OrderID, e.Event, e.State)
}

// IntegrityError reports a fill or status update referencing an order the
// registry does not know about. It signals that the local and exchange views
// have diverged and is surfaced to the caller rather than silently dropped.
type IntegrityError struct {
	OrderID string
	TradeID string
	Reason  string
}

func (e *IntegrityError) Error() string {
	if e.TradeID != "" {
		return fmt.Sprintf("integrity: trade %s references unknown order %s: %s", e.TradeID, e.OrderID, e.Reason)
	}
	return fmt.Sprintf("integrity: unknown order %s: %s", e.OrderID, e.Reason)
}
