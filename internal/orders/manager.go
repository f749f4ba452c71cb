package orders

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradekit/krakensync/pkg/metrics"
)

// duplicateEvents maps a state to the events that would have produced it.
// When such an event arrives for an order already in that state, it is a
// duplicate exchange notification: logged and ignored, never an error.
var duplicateEvents = map[OrderState][]OrderEvent{
	StateOpen:     {EventSubmitAccepted},
	StateFilled:   {EventFullFill},
	StateCanceled: {EventCancelConfirmed, EventCancelRequested},
	StateRejected: {EventSubmitRejected},
	StateExpired:  {EventExpired},
}

// entry pairs an order with its own mutex so mutations to the same order are
// serialized while different orders proceed concurrently.
type entry struct {
	mu    sync.Mutex
	order *Order
}

// Statistics holds monotonic counters maintained across all registry
// mutations.
type Statistics struct {
	OrdersCreated   int64 `json:"orders_created"`
	OrdersOpened    int64 `json:"orders_opened"`
	OrdersFilled    int64 `json:"orders_filled"`
	OrdersCanceled  int64 `json:"orders_canceled"`
	OrdersRejected  int64 `json:"orders_rejected"`
	OrdersExpired   int64 `json:"orders_expired"`
	FillsRecorded   int64 `json:"fills_recorded"`
	DuplicateEvents int64 `json:"duplicate_events"`
}

// Manager owns the in-memory order registry. Every mutation passes through
// the state machine, so concurrent callers cannot leave an order in an
// inconsistent intermediate state; an illegal transition is rejected with
// the order untouched.
type Manager struct {
	logger *zap.Logger

	mu         sync.RWMutex
	registry   map[string]*entry
	byExchange map[string]string // exchange txid -> local order ID
	sequence   []string          // insertion order

	statsMu sync.Mutex
	stats   Statistics
}

// NewManager creates an empty registry.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:     logger,
		registry:   make(map[string]*entry),
		byExchange: make(map[string]string),
	}
}

// CreateOrder validates the request, assigns a local ID if absent, registers
// the order in PENDING_NEW and returns a snapshot of it.
func (m *Manager) CreateOrder(req OrderRequest) (*Order, error) {
	order, err := NewOrder(req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.registry[order.ID]; exists {
		m.mu.Unlock()
		return nil, newValidationError("id", "order %s already registered", order.ID)
	}
	m.registry[order.ID] = &entry{order: order}
	m.sequence = append(m.sequence, order.ID)
	m.mu.Unlock()

	m.statsMu.Lock()
	m.stats.OrdersCreated++
	m.statsMu.Unlock()
	metrics.OrdersCreated.WithLabelValues(order.Side).Inc()

	m.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("pair", order.Pair),
		zap.String("side", order.Side),
		zap.String("type", order.Type),
		zap.String("volume", order.Volume.String()),
	)
	return order.Clone(), nil
}

// GetOrder returns a snapshot of the order, or ErrOrderNotFound.
func (m *Manager) GetOrder(id string) (*Order, error) {
	e, ok := m.lookup(id)
	if !ok {
		return nil, ErrOrderNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Clone(), nil
}

// GetByExchangeID resolves an exchange transaction ID to the local order.
func (m *Manager) GetByExchangeID(txid string) (*Order, error) {
	m.mu.RLock()
	id, ok := m.byExchange[txid]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrOrderNotFound
	}
	return m.GetOrder(id)
}

// HasOrder reports whether the registry knows the ID, either as a local
// order ID or an exchange transaction ID.
func (m *Manager) HasOrder(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.registry[id]; ok {
		return true
	}
	_, ok := m.byExchange[id]
	return ok
}

// GetAllOrders returns snapshots of every tracked order in insertion order.
func (m *Manager) GetAllOrders() []*Order {
	m.mu.RLock()
	ids := make([]string, len(m.sequence))
	copy(ids, m.sequence)
	m.mu.RUnlock()

	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		if o, err := m.GetOrder(id); err == nil {
			out = append(out, o)
		}
	}
	return out
}

// OrdersByState returns snapshots of all orders currently in the given
// state, in insertion order.
func (m *Manager) OrdersByState(state OrderState) []*Order {
	var out []*Order
	for _, o := range m.GetAllOrders() {
		if o.State == state {
			out = append(out, o)
		}
	}
	return out
}

// BindExchangeID correlates a local order with the transaction ID the
// exchange assigned to it, enabling feed lookups by either key.
func (m *Manager) BindExchangeID(id, txid string) error {
	e, ok := m.lookup(id)
	if !ok {
		return ErrOrderNotFound
	}

	e.mu.Lock()
	e.order.ExchangeTxID = txid
	e.order.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()

	m.mu.Lock()
	m.byExchange[txid] = id
	m.mu.Unlock()
	return nil
}

// Transition applies an event to an order through the state machine. On
// success the stored order's state and timestamp are updated and a snapshot
// returned. A duplicate notification (an event that would have produced the
// state the order is already in) is a logged no-op. Anything else the table
// does not permit fails with *TransitionError and leaves the order
// untouched.
func (m *Manager) Transition(id string, event OrderEvent, reason string) (*Order, error) {
	e, ok := m.lookup(id)
	if !ok {
		return nil, ErrOrderNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.order.State
	next, permitted := NextState(current, event)
	if !permitted {
		if isDuplicateEvent(current, event) {
			m.statsMu.Lock()
			m.stats.DuplicateEvents++
			m.statsMu.Unlock()
			m.logger.Debug("duplicate order event ignored",
				zap.String("order_id", e.order.ID),
				zap.String("state", string(current)),
				zap.String("event", string(event)),
			)
			return e.order.Clone(), nil
		}
		metrics.RejectedTransitions.Inc()
		return nil, &TransitionError{OrderID: e.order.ID, State: current, Event: event}
	}

	e.order.State = next
	e.order.UpdatedAt = time.Now().UTC()
	if reason != "" {
		e.order.Reason = reason
	}

	if current != next {
		m.recordTransition(next)
		metrics.StateTransitions.WithLabelValues(string(next)).Inc()
		m.logger.Info("order state changed",
			zap.String("order_id", e.order.ID),
			zap.String("from", string(current)),
			zap.String("to", string(next)),
			zap.String("event", string(event)),
			zap.String("reason", reason),
		)
	}
	return e.order.Clone(), nil
}

// RecordFill appends a fill to its order, recomputes executed volume and
// drives the PARTIALLY_FILLED / FILLED transition. Fills for unknown orders
// fail with *IntegrityError. The fill's OrderID may be either the local ID
// or the exchange transaction ID.
func (m *Manager) RecordFill(fill *Fill) (*Order, error) {
	e, ok := m.lookup(m.resolveID(fill.OrderID))
	if !ok {
		return nil, &IntegrityError{OrderID: fill.OrderID, TradeID: fill.TradeID, Reason: "order not tracked"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	o := e.order
	for _, f := range o.Fills {
		if f.TradeID == fill.TradeID {
			// Duplicate delivery of a fill already applied.
			m.statsMu.Lock()
			m.stats.DuplicateEvents++
			m.statsMu.Unlock()
			m.logger.Debug("duplicate fill ignored",
				zap.String("order_id", o.ID),
				zap.String("trade_id", fill.TradeID),
			)
			return o.Clone(), nil
		}
	}
	if o.State.IsTerminal() {
		return nil, &IntegrityError{
			OrderID: o.ID,
			TradeID: fill.TradeID,
			Reason:  "new fill for order in terminal state " + string(o.State),
		}
	}

	executed := o.VolumeExecuted.Add(fill.Volume)
	if executed.GreaterThan(o.Volume) {
		return nil, &IntegrityError{
			OrderID: o.ID,
			TradeID: fill.TradeID,
			Reason:  "fill volume " + fill.Volume.String() + " exceeds remaining " + o.VolumeRemaining().String(),
		}
	}

	if fill.Cost.IsZero() {
		fill.Cost = fill.Volume.Mul(fill.Price)
	}
	if fill.ExecutedAt.IsZero() {
		fill.ExecutedAt = time.Now().UTC()
	}

	event := EventPartialFill
	if executed.Equal(o.Volume) {
		event = EventFullFill
	}
	next, permitted := NextState(o.State, event)
	if !permitted {
		return nil, &TransitionError{OrderID: o.ID, State: o.State, Event: event}
	}

	o.Fills = append(o.Fills, fill)
	o.VolumeExecuted = executed
	o.State = next
	o.UpdatedAt = time.Now().UTC()

	m.statsMu.Lock()
	m.stats.FillsRecorded++
	m.statsMu.Unlock()
	m.recordTransition(next)
	metrics.FillsProcessed.Inc()
	metrics.StateTransitions.WithLabelValues(string(next)).Inc()

	m.logger.Info("fill recorded",
		zap.String("order_id", o.ID),
		zap.String("trade_id", fill.TradeID),
		zap.String("volume", fill.Volume.String()),
		zap.String("price", fill.Price.String()),
		zap.String("remaining", o.VolumeRemaining().String()),
		zap.String("state", string(next)),
	)
	return o.Clone(), nil
}

// GetStatistics returns a copy of the aggregate counters.
func (m *Manager) GetStatistics() Statistics {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// Summary is the combined view for dashboards and health checks: order
// counts by state plus aggregate fill figures.
type Summary struct {
	Orders       int64                `json:"orders"`
	ByState      map[OrderState]int64 `json:"by_state"`
	Fills        int64                `json:"fills"`
	VolumeTraded decimal.Decimal      `json:"volume_traded"`
	Stats        Statistics           `json:"stats"`
}

// GetSummary builds a point-in-time summary over the whole registry.
func (m *Manager) GetSummary() Summary {
	s := Summary{
		ByState:      make(map[OrderState]int64),
		VolumeTraded: decimal.Zero,
	}
	for _, o := range m.GetAllOrders() {
		s.Orders++
		s.ByState[o.State]++
		s.Fills += int64(len(o.Fills))
		s.VolumeTraded = s.VolumeTraded.Add(o.VolumeExecuted)
	}
	s.Stats = m.GetStatistics()
	return s
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.registry[id]
	return e, ok
}

// resolveID maps an exchange transaction ID to the local order ID when the
// binding exists; otherwise the input is returned unchanged.
func (m *Manager) resolveID(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if local, ok := m.byExchange[id]; ok {
		return local
	}
	return id
}

func (m *Manager) recordTransition(to OrderState) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	switch to {
	case StateOpen:
		m.stats.OrdersOpened++
	case StateFilled:
		m.stats.OrdersFilled++
	case StateCanceled:
		m.stats.OrdersCanceled++
	case StateRejected:
		m.stats.OrdersRejected++
	case StateExpired:
		m.stats.OrdersExpired++
	}
}

func isDuplicateEvent(state OrderState, event OrderEvent) bool {
	for _, dup := range duplicateEvents[state] {
		if dup == event {
			return true
		}
	}
	return false
}
