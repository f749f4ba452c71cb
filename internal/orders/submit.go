package orders

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Submitter is the external order placement API. It accepts a serialized
// order request and returns the exchange-assigned transaction ID or a
// rejection. Transport, authentication and retries live behind this
// interface.
type Submitter interface {
	AddOrder(ctx context.Context, req OrderRequest) (txid string, err error)
	CancelOrder(ctx context.Context, txid string) error
}

// SubmitOrder drives an order through creation and exchange submission:
// PENDING_NEW on creation, PENDING_SUBMIT while the placement call is in
// flight, then OPEN with the exchange transaction ID bound, or REJECTED
// with the rejection reason.
func (m *Manager) SubmitOrder(ctx context.Context, submitter Submitter, req OrderRequest) (*Order, error) {
	order, err := m.CreateOrder(req)
	if err != nil {
		return nil, err
	}

	if _, err := m.Transition(order.ID, EventSubmitSent, "submission in flight"); err != nil {
		return nil, err
	}

	txid, err := submitter.AddOrder(ctx, req)
	if err != nil {
		if _, terr := m.Transition(order.ID, EventSubmitRejected, err.Error()); terr != nil {
			m.logger.Error("failed to mark order rejected",
				zap.String("order_id", order.ID),
				zap.Error(terr),
			)
		}
		return nil, fmt.Errorf("submit order %s: %w", order.ID, err)
	}

	if err := m.BindExchangeID(order.ID, txid); err != nil {
		return nil, err
	}
	// The feed may already have flipped the order OPEN (or even filled it)
	// before the placement response lands. A repeat acknowledgment is a
	// duplicate no-op; an order that moved past OPEN rejects the stale
	// event, in which case the current snapshot is the answer.
	acked, err := m.Transition(order.ID, EventSubmitAccepted, "exchange acknowledged "+txid)
	if err != nil {
		var terr *TransitionError
		if errors.As(err, &terr) {
			return m.GetOrder(order.ID)
		}
		return nil, err
	}
	return acked, nil
}

// RequestCancel asks the exchange to cancel an order and marks the intent
// locally. The terminal CANCELED state is only entered when the exchange
// confirms via the open-orders feed; a fill racing the cancel wins because
// the completing fill reaches the state machine first and the late
// confirmation becomes a no-op or rejected transition.
func (m *Manager) RequestCancel(ctx context.Context, submitter Submitter, id string) (*Order, error) {
	order, err := m.GetOrder(id)
	if err != nil {
		return nil, err
	}

	if order.State == StatePendingNew {
		// Never reached the exchange; cancel locally.
		return m.Transition(order.ID, EventCancelRequested, "canceled before submission")
	}

	txid := order.ExchangeTxID
	if txid == "" {
		txid = order.ID
	}
	if err := submitter.CancelOrder(ctx, txid); err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", order.ID, err)
	}
	return m.Transition(order.ID, EventCancelRequested, "cancel requested")
}
