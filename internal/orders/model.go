package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Constants for order sides, types and lifecycle states.
const (
	// Order sides
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"

	// Order types, matching Kraken's ordertype field
	OrderTypeMarket          = "market"
	OrderTypeLimit           = "limit"
	OrderTypeStopLoss        = "stop-loss"
	OrderTypeTakeProfit      = "take-profit"
	OrderTypeStopLossLimit   = "stop-loss-limit"
	OrderTypeTakeProfitLimit = "take-profit-limit"
)

// OrderState is the lifecycle state of an order in the registry.
type OrderState string

const (
	StatePendingNew      OrderState = "PENDING_NEW"
	StatePendingSubmit   OrderState = "PENDING_SUBMIT"
	StateOpen            OrderState = "OPEN"
	StatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	StateFilled          OrderState = "FILLED"
	StateCanceled        OrderState = "CANCELED"
	StateRejected        OrderState = "REJECTED"
	StateExpired         OrderState = "EXPIRED"
)

// IsTerminal reports whether the state admits no further transitions.
func (s OrderState) IsTerminal() bool {
	switch s {
	case StateFilled, StateCanceled, StateRejected, StateExpired:
		return true
	}
	return false
}

// OrderRequest carries the caller-supplied parameters for a new order.
// Price is the limit price for limit-style orders; StopPrice is the trigger
// price for stop/take-profit-style orders. Userref is an optional
// client-supplied correlation number echoed back by the exchange.
type OrderRequest struct {
	ID        string          `json:"id,omitempty"`
	Pair      string          `json:"pair"`
	Side      string          `json:"side"`
	Type      string          `json:"type"`
	Volume    decimal.Decimal `json:"volume"`
	Price     decimal.Decimal `json:"price,omitempty"`
	StopPrice decimal.Decimal `json:"stop_price,omitempty"`
	Userref   int32           `json:"userref,omitempty"`
}

// Order represents one order's full lifecycle snapshot. Identity fields are
// immutable after construction; lifecycle fields are mutated only by the
// Manager under its per-order serialization.
type Order struct {
	ID             string          `json:"id"`
	ExchangeTxID   string          `json:"exchange_txid,omitempty"`
	Pair           string          `json:"pair"`
	Side           string          `json:"side"`
	Type           string          `json:"type"`
	Volume         decimal.Decimal `json:"volume"`
	Price          decimal.Decimal `json:"price,omitempty"`
	StopPrice      decimal.Decimal `json:"stop_price,omitempty"`
	Userref        int32           `json:"userref,omitempty"`
	State          OrderState      `json:"state"`
	VolumeExecuted decimal.Decimal `json:"volume_executed"`
	Fills          []*Fill         `json:"fills,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Fill represents a single exchange-reported execution against an order.
// Fills are immutable once recorded.
type Fill struct {
	TradeID     string          `json:"trade_id"`
	OrderID     string          `json:"order_id"`
	Pair        string          `json:"pair"`
	Side        string          `json:"side"`
	Volume      decimal.Decimal `json:"volume"`
	Price       decimal.Decimal `json:"price"`
	Cost        decimal.Decimal `json:"cost"`
	Fee         decimal.Decimal `json:"fee"`
	FeeCurrency string          `json:"fee_currency,omitempty"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// NewOrder validates the request and builds a PENDING_NEW order. A local ID
// is assigned when the request carries none. Validation failures are
// returned as *ValidationError before the order exists anywhere.
func NewOrder(req OrderRequest) (*Order, error) {
	if req.Pair == "" {
		return nil, newValidationError("pair", "must not be empty")
	}
	if req.Side != OrderSideBuy && req.Side != OrderSideSell {
		return nil, newValidationError("side", "must be %q or %q, got %q", OrderSideBuy, OrderSideSell, req.Side)
	}
	if req.Volume.LessThanOrEqual(decimal.Zero) {
		return nil, newValidationError("volume", "must be positive, got %s", req.Volume)
	}

	switch req.Type {
	case OrderTypeMarket:
		// no price fields required
	case OrderTypeLimit:
		if req.Price.LessThanOrEqual(decimal.Zero) {
			return nil, newValidationError("price", "limit order requires a positive limit price")
		}
	case OrderTypeStopLoss, OrderTypeTakeProfit:
		if req.StopPrice.LessThanOrEqual(decimal.Zero) {
			return nil, newValidationError("stop_price", "%s order requires a positive trigger price", req.Type)
		}
	case OrderTypeStopLossLimit, OrderTypeTakeProfitLimit:
		if req.StopPrice.LessThanOrEqual(decimal.Zero) {
			return nil, newValidationError("stop_price", "%s order requires a positive trigger price", req.Type)
		}
		if req.Price.LessThanOrEqual(decimal.Zero) {
			return nil, newValidationError("price", "%s order requires a positive limit price", req.Type)
		}
		if err := validateStopLimitOrdering(req); err != nil {
			return nil, err
		}
	default:
		return nil, newValidationError("type", "unsupported order type %q", req.Type)
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now().UTC()
	return &Order{
		ID:             id,
		Pair:           req.Pair,
		Side:           req.Side,
		Type:           req.Type,
		Volume:         req.Volume,
		Price:          req.Price,
		StopPrice:      req.StopPrice,
		Userref:        req.Userref,
		State:          StatePendingNew,
		VolumeExecuted: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// validateStopLimitOrdering enforces the side-dependent trigger/limit price
// ordering: a sell stop-loss-limit triggers on the way down, so its trigger
// must sit at or above the limit; a buy stop-loss-limit triggers on the way
// up, so its trigger must sit at or below the limit. Take-profit-limit
// orders trigger from the opposite direction and carry the inverse rule.
func validateStopLimitOrdering(req OrderRequest) error {
	sell := req.Side == OrderSideSell
	if req.Type == OrderTypeTakeProfitLimit {
		sell = !sell
	}
	if sell {
		if req.StopPrice.LessThan(req.Price) {
			return newValidationError("stop_price",
				"sell %s requires trigger price >= limit price (got trigger %s, limit %s)",
				req.Type, req.StopPrice, req.Price)
		}
		return nil
	}
	if req.StopPrice.GreaterThan(req.Price) {
		return newValidationError("stop_price",
			"buy %s requires trigger price <= limit price (got trigger %s, limit %s)",
			req.Type, req.StopPrice, req.Price)
	}
	return nil
}

// VolumeRemaining returns requested minus executed volume. It never goes
// negative: fills are capped against the requested volume on entry.
func (o *Order) VolumeRemaining() decimal.Decimal {
	return o.Volume.Sub(o.VolumeExecuted)
}

// FillCount returns the number of fills recorded against the order.
func (o *Order) FillCount() int {
	return len(o.Fills)
}

// AvgFillPrice returns the volume-weighted average price over all fills, or
// zero when no volume has executed.
func (o *Order) AvgFillPrice() decimal.Decimal {
	if o.VolumeExecuted.IsZero() {
		return decimal.Zero
	}
	cost := decimal.Zero
	for _, f := range o.Fills {
		cost = cost.Add(f.Cost)
	}
	return cost.Div(o.VolumeExecuted)
}

// IsTerminal reports whether the order has reached a terminal state.
func (o *Order) IsTerminal() bool {
	return o.State.IsTerminal()
}

// Clone returns a deep copy safe to hand to readers while the registry keeps
// mutating the original.
func (o *Order) Clone() *Order {
	cp := *o
	if len(o.Fills) > 0 {
		cp.Fills = make([]*Fill, len(o.Fills))
		for i, f := range o.Fills {
			fc := *f
			cp.Fills[i] = &fc
		}
	}
	return &cp
}
