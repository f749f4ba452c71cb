// Package ordersync reconciles the local order registry against Kraken's
// private push feeds. It translates openOrders status deltas into state
// machine events and routes ownTrades executions into the fill processor,
// tolerating duplicate, out-of-order and partially populated messages.
package ordersync

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradekit/krakensync/internal/kraken"
	"github.com/tradekit/krakensync/internal/orders"
	"github.com/tradekit/krakensync/pkg/metrics"
)

// Synchronizer drives the Manager and FillProcessor from feed messages. It
// is safe for use from a single feed-reading goroutine concurrently with
// any number of registry readers and order-submitting callers; the state
// machine's rejection of illegal transitions is the correctness gate for
// races, not locking here.
type Synchronizer struct {
	manager *orders.Manager
	fills   *orders.FillProcessor
	logger  *zap.Logger

	anomalies   atomic.Int64
	synthesized atomic.Int64
}

// New creates a synchronizer bound to the given registry and fill processor.
func New(manager *orders.Manager, fills *orders.FillProcessor, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		manager: manager,
		fills:   fills,
		logger:  logger,
	}
}

// Handle dispatches one decoded feed message.
func (s *Synchronizer) Handle(msg *kraken.FeedMessage) {
	switch msg.Channel {
	case kraken.ChannelOpenOrders:
		s.HandleOpenOrders(msg.OpenOrders, msg.Sequence)
	case kraken.ChannelOwnTrades:
		s.HandleOwnTrades(msg.OwnTrades, msg.Sequence)
	default:
		s.logger.Warn("message for unhandled channel", zap.String("channel", msg.Channel))
	}
}

// HandleOpenOrders applies an openOrders snapshot or delta. Entries are
// processed independently: one bad entry is logged and counted, the rest of
// the batch still applies.
func (s *Synchronizer) HandleOpenOrders(batch []map[string]kraken.OpenOrderUpdate, seq int64) {
	for _, entries := range batch {
		for txid, update := range entries {
			if err := s.applyOrderUpdate(txid, update); err != nil {
				s.anomalies.Add(1)
				metrics.SyncAnomalies.WithLabelValues(kraken.ChannelOpenOrders).Inc()
				s.logger.Warn("open-orders entry not applied",
					zap.String("txid", txid),
					zap.String("status", update.Status),
					zap.Int64("sequence", seq),
					zap.Error(err),
				)
			}
		}
	}
}

// HandleOwnTrades routes trade executions into the fill processor, which is
// idempotent on trade ID. Orphan fills are recorded there and only counted
// here; the loop never aborts on a single bad entry.
func (s *Synchronizer) HandleOwnTrades(batch []map[string]kraken.OwnTrade, seq int64) {
	for _, entries := range batch {
		for tradeID, trade := range entries {
			fill := &orders.Fill{
				TradeID:    tradeID,
				OrderID:    trade.OrderTxID,
				Pair:       trade.Pair,
				Side:       trade.Side,
				Volume:     trade.Vol,
				Price:      trade.Price,
				Cost:       trade.Cost,
				Fee:        trade.Fee,
				ExecutedAt: trade.Time.Time,
			}
			if _, err := s.fills.ProcessFill(fill); err != nil {
				s.anomalies.Add(1)
				metrics.SyncAnomalies.WithLabelValues(kraken.ChannelOwnTrades).Inc()
				s.logger.Warn("own-trades entry not applied",
					zap.String("trade_id", tradeID),
					zap.String("ordertxid", trade.OrderTxID),
					zap.String("vol", trade.Vol.String()),
					zap.String("price", trade.Price.String()),
					zap.Int64("sequence", seq),
					zap.Error(err),
				)
			}
		}
	}
}

// Anomalies returns the number of feed entries that could not be applied.
func (s *Synchronizer) Anomalies() int64 {
	return s.anomalies.Load()
}

// Synthesized returns the number of orders reconstructed from feed data
// because they were unknown locally.
func (s *Synchronizer) Synthesized() int64 {
	return s.synthesized.Load()
}

func (s *Synchronizer) applyOrderUpdate(txid string, update kraken.OpenOrderUpdate) error {
	order, err := s.lookupOrAdopt(txid, update)
	if err != nil {
		return err
	}

	if update.Status == "" {
		// Delta carrying only execution figures; fills arrive via ownTrades.
		return nil
	}

	target, err := s.targetState(update, order)
	if err != nil {
		return err
	}
	if order.State == target {
		s.logger.Debug("duplicate status delta ignored",
			zap.String("txid", txid),
			zap.String("status", update.Status),
			zap.String("state", string(order.State)),
		)
		return nil
	}

	reason := update.CancelReason
	if reason == "" {
		reason = "feed status " + update.Status
	}
	return s.stepToward(order, target, reason)
}

// lookupOrAdopt resolves the exchange transaction ID to a tracked order,
// synthesizing a best-effort record from the update's fields when the order
// is unknown locally (e.g. placed before a process restart).
func (s *Synchronizer) lookupOrAdopt(txid string, update kraken.OpenOrderUpdate) (*orders.Order, error) {
	if order, err := s.manager.GetByExchangeID(txid); err == nil {
		return order, nil
	}
	if order, err := s.manager.GetOrder(txid); err == nil {
		return order, nil
	}

	if update.Descr == nil {
		return nil, fmt.Errorf("unknown order %s and delta carries no descr to adopt from", txid)
	}

	req := orders.OrderRequest{
		ID:        txid,
		Pair:      update.Descr.Pair,
		Side:      update.Descr.Side,
		Type:      update.Descr.OrderType,
		Volume:    update.Vol,
		Userref:   update.Userref,
		Price:     update.Descr.Price,
		StopPrice: decimal.Zero,
	}
	// Stop-style orders report the trigger in descr.price and the limit in
	// descr.price2.
	switch update.Descr.OrderType {
	case orders.OrderTypeStopLoss, orders.OrderTypeTakeProfit:
		req.StopPrice = update.Descr.Price
		req.Price = decimal.Zero
	case orders.OrderTypeStopLossLimit, orders.OrderTypeTakeProfitLimit:
		req.StopPrice = update.Descr.Price
		req.Price = update.Descr.Price2
	}

	order, err := s.manager.CreateOrder(req)
	if err != nil {
		return nil, fmt.Errorf("adopt order %s: %w", txid, err)
	}
	if err := s.manager.BindExchangeID(order.ID, txid); err != nil {
		return nil, err
	}

	s.synthesized.Add(1)
	s.logger.Info("adopted order from feed",
		zap.String("txid", txid),
		zap.String("pair", req.Pair),
		zap.String("side", req.Side),
		zap.String("type", req.Type),
		zap.String("volume", req.Volume.String()),
	)
	return order, nil
}

// targetState maps an exchange status string to the internal state. A
// "closed" order finished either filled or canceled; the executed volume
// decides which.
func (s *Synchronizer) targetState(update kraken.OpenOrderUpdate, order *orders.Order) (orders.OrderState, error) {
	switch update.Status {
	case kraken.StatusPending:
		return orders.StatePendingSubmit, nil
	case kraken.StatusOpen:
		if update.VolExec.GreaterThan(decimal.Zero) && update.VolExec.LessThan(order.Volume) {
			return orders.StatePartiallyFilled, nil
		}
		return orders.StateOpen, nil
	case kraken.StatusClosed:
		if update.VolExec.GreaterThanOrEqual(order.Volume) && order.Volume.GreaterThan(decimal.Zero) {
			return orders.StateFilled, nil
		}
		return orders.StateCanceled, nil
	case kraken.StatusCanceled:
		return orders.StateCanceled, nil
	case kraken.StatusExpired:
		return orders.StateExpired, nil
	}
	return "", fmt.Errorf("unmapped exchange status %q", update.Status)
}

// stepToward walks the order to the target state, translating each hop into
// the event the state machine reports for it. Orders adopted or lagging
// behind the exchange may need the intermediate submission hops.
func (s *Synchronizer) stepToward(order *orders.Order, target orders.OrderState, reason string) error {
	current := order.State
	for current != target {
		event, ok := orders.EventFor(current, target)
		if !ok {
			// No direct edge; advance along the happy path and retry.
			step, stepOK := nextHop(current)
			if !stepOK {
				return &orders.TransitionError{OrderID: order.ID, State: current, Event: event}
			}
			event = step
		}
		updated, err := s.manager.Transition(order.ID, event, reason)
		if err != nil {
			return err
		}
		if updated.State == current {
			// Duplicate no-op; nothing further to apply.
			return nil
		}
		current = updated.State
	}
	return nil
}

// nextHop returns the event that advances an order one step along the
// creation-to-open path.
func nextHop(state orders.OrderState) (orders.OrderEvent, bool) {
	switch state {
	case orders.StatePendingNew:
		return orders.EventSubmitSent, true
	case orders.StatePendingSubmit:
		return orders.EventSubmitAccepted, true
	}
	return "", false
}

// IsIntegrityError reports whether the error chain contains a registry
// integrity anomaly.
func IsIntegrityError(err error) bool {
	var ie *orders.IntegrityError
	return errors.As(err, &ie)
}
