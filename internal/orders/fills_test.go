package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newProcessor(t *testing.T) (*Manager, *FillProcessor) {
	logger := zaptest.NewLogger(t)
	manager := NewManager(logger)
	return manager, NewFillProcessor(manager, logger)
}

func openLimitBuy(t *testing.T, m *Manager, volume, price string) *Order {
	t.Helper()
	order, err := m.CreateOrder(OrderRequest{
		Pair: "XBT/USD", Side: OrderSideBuy, Type: OrderTypeLimit,
		Volume: d(volume), Price: d(price),
	})
	require.NoError(t, err)
	_, err = m.Transition(order.ID, EventSubmitSent, "")
	require.NoError(t, err)
	_, err = m.Transition(order.ID, EventSubmitAccepted, "")
	require.NoError(t, err)
	return order
}

func TestProcessFillComputesCost(t *testing.T) {
	manager, processor := newProcessor(t)
	order := openLimitBuy(t, manager, "1.0", "50000")

	fill, err := processor.ProcessFill(&Fill{
		TradeID: "TAAAAA-BBBBB-000001",
		OrderID: order.ID,
		Volume:  d("0.4"),
		Price:   d("49950"),
		Fee:     d("31.97"),
	})
	require.NoError(t, err)
	assert.True(t, fill.Cost.Equal(d("19980")), "cost %s", fill.Cost)
	assert.False(t, fill.ExecutedAt.IsZero())

	got, err := processor.GetFill("TAAAAA-BBBBB-000001")
	require.NoError(t, err)
	assert.True(t, got.Volume.Equal(d("0.4")))

	_, err = processor.GetFill("missing")
	assert.ErrorIs(t, err, ErrFillNotFound)
}

func TestProcessFillIdempotent(t *testing.T) {
	manager, processor := newProcessor(t)
	order := openLimitBuy(t, manager, "1.0", "50000")

	fill := &Fill{TradeID: "T1", OrderID: order.ID, Volume: d("0.4"), Price: d("49950")}
	_, err := processor.ProcessFill(fill)
	require.NoError(t, err)

	// Same trade ID delivered again: same order state as processing once.
	again := &Fill{TradeID: "T1", OrderID: order.ID, Volume: d("0.4"), Price: d("49950")}
	got, err := processor.ProcessFill(again)
	require.NoError(t, err)
	assert.True(t, got.Volume.Equal(d("0.4")))

	updated, err := manager.GetOrder(order.ID)
	require.NoError(t, err)
	assert.True(t, updated.VolumeExecuted.Equal(d("0.4")))
	assert.Len(t, updated.Fills, 1)
	assert.Equal(t, StatePartiallyFilled, updated.State)
	assert.Len(t, processor.GetOrderFills(order.ID), 1)
}

func TestProcessFillValidation(t *testing.T) {
	_, processor := newProcessor(t)

	_, err := processor.ProcessFill(&Fill{OrderID: "O1", Volume: d("1"), Price: d("1")})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = processor.ProcessFill(&Fill{TradeID: "T1", OrderID: "O1", Volume: d("0"), Price: d("1")})
	require.ErrorAs(t, err, &verr)
}

func TestOrphanFillRecorded(t *testing.T) {
	_, processor := newProcessor(t)

	_, err := processor.ProcessFill(&Fill{
		TradeID: "T1", OrderID: "never-created", Volume: d("0.5"), Price: d("100"),
	})
	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)

	orphans := processor.OrphanFills()
	require.Len(t, orphans, 1)
	assert.Equal(t, "T1", orphans[0].TradeID)
	assert.Equal(t, "never-created", orphans[0].OrderID)

	// An orphan is not a recorded fill.
	_, err = processor.GetFill("T1")
	assert.ErrorIs(t, err, ErrFillNotFound)

	// Redelivery does not duplicate the orphan record.
	_, err = processor.ProcessFill(&Fill{
		TradeID: "T1", OrderID: "never-created", Volume: d("0.5"), Price: d("100"),
	})
	require.Error(t, err)
	assert.Len(t, processor.OrphanFills(), 1)
}

func TestGetOrderFillsExecutionOrder(t *testing.T) {
	manager, processor := newProcessor(t)
	order := openLimitBuy(t, manager, "1.0", "50000")

	for i, volume := range []string{"0.2", "0.3", "0.5"} {
		_, err := processor.ProcessFill(&Fill{
			TradeID: string(rune('A' + i)),
			OrderID: order.ID,
			Volume:  d(volume),
			Price:   d("50000"),
		})
		require.NoError(t, err)
	}

	fills := processor.GetOrderFills(order.ID)
	require.Len(t, fills, 3)
	assert.True(t, fills[0].Volume.Equal(d("0.2")))
	assert.True(t, fills[1].Volume.Equal(d("0.3")))
	assert.True(t, fills[2].Volume.Equal(d("0.5")))
}

func TestOrderFillStats(t *testing.T) {
	manager, processor := newProcessor(t)
	order := openLimitBuy(t, manager, "1.0", "50000")

	created, err := manager.GetOrder(order.ID)
	require.NoError(t, err)

	first := created.CreatedAt.Add(2 * time.Second)
	second := created.CreatedAt.Add(5 * time.Second)

	_, err = processor.ProcessFill(&Fill{
		TradeID: "T1", OrderID: order.ID, Volume: d("0.4"), Price: d("49950"),
		Fee: d("31.97"), ExecutedAt: first,
	})
	require.NoError(t, err)
	_, err = processor.ProcessFill(&Fill{
		TradeID: "T2", OrderID: order.ID, Volume: d("0.6"), Price: d("50000"),
		Fee: d("48.00"), ExecutedAt: second,
	})
	require.NoError(t, err)

	stats, err := processor.GetOrderFillStats(order.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FillCount)
	assert.True(t, stats.VolumeExecuted.Equal(d("1")))
	assert.True(t, stats.AvgPrice.Equal(d("49980")), "avg %s", stats.AvgPrice)
	assert.True(t, stats.TotalFees.Equal(d("79.97")), "fees %s", stats.TotalFees)
	assert.Equal(t, 2*time.Second, stats.TimeToFirst)
	assert.Equal(t, 5*time.Second, stats.TimeToFull)
}

func TestClassifyFill(t *testing.T) {
	_, processor := newProcessor(t)

	limitBuy := &Order{Side: OrderSideBuy, Type: OrderTypeLimit, Price: d("50000")}
	limitSell := &Order{Side: OrderSideSell, Type: OrderTypeLimit, Price: d("50000")}
	market := &Order{Side: OrderSideBuy, Type: OrderTypeMarket}

	assert.Equal(t, FillQualityAtLimit, processor.ClassifyFill(&Fill{Price: d("50000")}, limitBuy))
	assert.Equal(t, FillQualityImproved, processor.ClassifyFill(&Fill{Price: d("49900")}, limitBuy))
	assert.Equal(t, FillQualityWorse, processor.ClassifyFill(&Fill{Price: d("50100")}, limitBuy))
	assert.Equal(t, FillQualityImproved, processor.ClassifyFill(&Fill{Price: d("50100")}, limitSell))
	assert.Equal(t, FillQualityMarket, processor.ClassifyFill(&Fill{Price: d("50000")}, market))
}
