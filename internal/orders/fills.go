package orders

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradekit/krakensync/pkg/metrics"
)

// FillQuality classifies how a fill's price relates to the order's limit.
// Informational only; it never gates correctness.
type FillQuality string

const (
	FillQualityAtLimit     FillQuality = "AT_LIMIT"
	FillQualityImproved    FillQuality = "BETTER_THAN_LIMIT"
	FillQualityWorse       FillQuality = "WORSE_THAN_LIMIT"
	FillQualityMarket      FillQuality = "MARKET"
	FillQualityUnknownSide FillQuality = "UNKNOWN"
)

// OrderFillStats carries per-order fill analytics derived on demand.
type OrderFillStats struct {
	OrderID        string          `json:"order_id"`
	FillCount      int             `json:"fill_count"`
	VolumeExecuted decimal.Decimal `json:"volume_executed"`
	AvgPrice       decimal.Decimal `json:"avg_price"`
	TotalFees      decimal.Decimal `json:"total_fees"`
	TimeToFirst    time.Duration   `json:"time_to_first_fill"`
	TimeToFull     time.Duration   `json:"time_to_full_fill"`
}

// FillProcessor converts raw trade executions into Fill records and routes
// them into the Manager. Processing is idempotent on trade ID: duplicate
// deliveries return the original record and never double-count volume.
type FillProcessor struct {
	manager *Manager
	logger  *zap.Logger

	mu         sync.RWMutex
	fills      map[string]*Fill   // trade ID -> fill
	byOrder    map[string][]*Fill // local order ID -> fills in execution order
	orphans    []*Fill
	orphanSeen map[string]struct{}
}

// NewFillProcessor creates a processor bound to the given registry.
func NewFillProcessor(manager *Manager, logger *zap.Logger) *FillProcessor {
	return &FillProcessor{
		manager:    manager,
		logger:     logger,
		fills:      make(map[string]*Fill),
		byOrder:    make(map[string][]*Fill),
		orphanSeen: make(map[string]struct{}),
	}
}

// ProcessFill records one trade execution. A trade ID already processed
// returns the existing record. A fill referencing an order the registry does
// not track is kept as an orphan and the *IntegrityError surfaced to the
// caller; it is an anomaly worth alerting on, not a reason to halt the feed.
func (p *FillProcessor) ProcessFill(fill *Fill) (*Fill, error) {
	if fill.TradeID == "" {
		return nil, newValidationError("trade_id", "must not be empty")
	}
	if fill.Volume.LessThanOrEqual(decimal.Zero) {
		return nil, newValidationError("volume", "fill volume must be positive, got %s", fill.Volume)
	}

	if fill.ExecutedAt.IsZero() {
		fill.ExecutedAt = time.Now().UTC()
	}
	if fill.Cost.IsZero() {
		fill.Cost = fill.Volume.Mul(fill.Price)
	}

	// Reserve the trade ID before touching the registry so a concurrent
	// duplicate delivery cannot double-count.
	p.mu.Lock()
	if existing, seen := p.fills[fill.TradeID]; seen {
		p.mu.Unlock()
		metrics.DuplicateFills.Inc()
		p.logger.Debug("duplicate fill ignored",
			zap.String("trade_id", fill.TradeID),
			zap.String("order_id", fill.OrderID),
		)
		cp := *existing
		return &cp, nil
	}
	p.fills[fill.TradeID] = fill
	p.mu.Unlock()

	order, err := p.manager.RecordFill(fill)
	if err != nil {
		p.mu.Lock()
		delete(p.fills, fill.TradeID)
		p.mu.Unlock()

		var integrity *IntegrityError
		if errors.As(err, &integrity) {
			p.recordOrphan(fill)
		}
		return nil, err
	}

	p.mu.Lock()
	p.byOrder[order.ID] = append(p.byOrder[order.ID], fill)
	p.mu.Unlock()

	cp := *fill
	return &cp, nil
}

// GetFill returns the fill recorded for a trade ID, or ErrFillNotFound.
func (p *FillProcessor) GetFill(tradeID string) (*Fill, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.fills[tradeID]
	if !ok {
		return nil, ErrFillNotFound
	}
	cp := *f
	return &cp, nil
}

// GetOrderFills returns all fills recorded against an order, in execution
// order. The ID may be local or exchange-assigned.
func (p *FillProcessor) GetOrderFills(orderID string) []*Fill {
	id := p.manager.resolveID(orderID)
	p.mu.RLock()
	defer p.mu.RUnlock()
	fills := p.byOrder[id]
	out := make([]*Fill, len(fills))
	for i, f := range fills {
		cp := *f
		out[i] = &cp
	}
	return out
}

// OrphanFills returns fills that referenced unknown order IDs, in arrival
// order.
func (p *FillProcessor) OrphanFills() []*Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Fill, len(p.orphans))
	for i, f := range p.orphans {
		cp := *f
		out[i] = &cp
	}
	return out
}

// GetOrderFillStats derives the per-order fill analytics: volume-weighted
// average price, total fees, time from creation to first fill and, for
// filled orders, to the completing fill.
func (p *FillProcessor) GetOrderFillStats(orderID string) (OrderFillStats, error) {
	order, err := p.manager.GetOrder(p.manager.resolveID(orderID))
	if err != nil {
		return OrderFillStats{}, err
	}

	stats := OrderFillStats{
		OrderID:        order.ID,
		FillCount:      len(order.Fills),
		VolumeExecuted: order.VolumeExecuted,
		AvgPrice:       order.AvgFillPrice(),
		TotalFees:      decimal.Zero,
	}
	for i, f := range order.Fills {
		stats.TotalFees = stats.TotalFees.Add(f.Fee)
		if i == 0 {
			stats.TimeToFirst = f.ExecutedAt.Sub(order.CreatedAt)
		}
		if order.State == StateFilled && i == len(order.Fills)-1 {
			stats.TimeToFull = f.ExecutedAt.Sub(order.CreatedAt)
		}
	}
	return stats, nil
}

// ClassifyFill grades a fill's execution price against the order's limit
// price. Market orders and orders without a limit grade as MARKET.
func (p *FillProcessor) ClassifyFill(fill *Fill, order *Order) FillQuality {
	if order.Type == OrderTypeMarket || order.Price.IsZero() {
		return FillQualityMarket
	}
	switch order.Side {
	case OrderSideBuy:
		if fill.Price.LessThan(order.Price) {
			return FillQualityImproved
		}
		if fill.Price.Equal(order.Price) {
			return FillQualityAtLimit
		}
		return FillQualityWorse
	case OrderSideSell:
		if fill.Price.GreaterThan(order.Price) {
			return FillQualityImproved
		}
		if fill.Price.Equal(order.Price) {
			return FillQualityAtLimit
		}
		return FillQualityWorse
	}
	return FillQualityUnknownSide
}

func (p *FillProcessor) recordOrphan(fill *Fill) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, seen := p.orphanSeen[fill.TradeID]; seen {
		return
	}
	p.orphanSeen[fill.TradeID] = struct{}{}
	p.orphans = append(p.orphans, fill)
	metrics.OrphanFills.Inc()
	p.logger.Warn("orphan fill recorded",
		zap.String("trade_id", fill.TradeID),
		zap.String("order_id", fill.OrderID),
		zap.String("volume", fill.Volume.String()),
		zap.String("price", fill.Price.String()),
	)
}
