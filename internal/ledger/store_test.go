package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/errors"
	"main/internal/position"
	"main/internal/rollup"
	"main/internal/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Option{
		Driver:     DriverSQLite,
		ConnString: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testOrder(id string) schema.Order {
	return schema.Order{
		OrderID:     id,
		StrategyID:  "alpha",
		Symbol:      "XYZ",
		Ts:          1_000,
		Side:        schema.SideBuy,
		Type:        schema.OrderTypeLimit,
		Status:      schema.OrderStatusFilled,
		TimeInForce: schema.TimeInForceGTC,
		Qty:         10,
		Price:       100,
		HasPrice:    true,
	}
}

func testTrade(id, orderID string, ts int64) schema.Trade {
	return schema.Trade{
		TradeID:    id,
		OrderID:    orderID,
		StrategyID: "alpha",
		Symbol:     "XYZ",
		Ts:         ts,
		Side:       schema.SideBuy,
		Qty:        10,
		Price:      100,
		Fee:        0.5,
		Liquidity:  schema.LiquidityTaker,
	}
}

func TestAppendTradeRequiresOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.AppendTrade(ctx, testTrade("t-1", "o-missing", 2_000))
	assert.True(t, errors.IsConsistency(err))

	require.NoError(t, store.AppendOrder(ctx, testOrder("o-1")))
	require.NoError(t, store.AppendTrade(ctx, testTrade("t-1", "o-1", 2_000)))
}

func TestAppendTradeRejectsDuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendOrder(ctx, testOrder("o-1")))
	require.NoError(t, store.AppendTrade(ctx, testTrade("t-1", "o-1", 2_000)))

	dup := testTrade("t-1", "o-1", 3_000)
	dup.Price = 999
	err := store.AppendTrade(ctx, dup)
	assert.True(t, errors.IsConsistency(err))

	// The original row is untouched.
	trades, err := store.TradesAfter(ctx, 0, "", 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 100.0, trades[0].Price)
}

func TestAppendBarReplacesOnReingest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bar := schema.Bar{Symbol: "XYZ", Ts: 60, Open: 10, High: 12, Low: 9, Close: 11, Volume: 100}
	require.NoError(t, store.AppendBar(ctx, bar))

	bar.Close = 11.5
	bar.High = 12.5
	require.NoError(t, store.AppendBar(ctx, bar))

	bars, err := store.BarsRange(ctx, "XYZ", 0, 120)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 11.5, bars[0].Close)
}

func TestBarsRangeHalfOpenAscending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, ts := range []int64{180, 60, 120, 240} {
		bar := schema.Bar{Symbol: "XYZ", Ts: ts, Open: 10, High: 12, Low: 9, Close: 11, Volume: 1}
		require.NoError(t, store.AppendBar(ctx, bar))
	}
	require.NoError(t, store.AppendBar(ctx, schema.Bar{Symbol: "ABC", Ts: 120, Open: 1, High: 2, Low: 1, Close: 2, Volume: 1}))

	bars, err := store.BarsRange(ctx, "XYZ", 60, 240)
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, int64(60), bars[0].Ts)
	assert.Equal(t, int64(120), bars[1].Ts)
	assert.Equal(t, int64(180), bars[2].Ts)
}

func TestTradesAfterOrderingAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendOrder(ctx, testOrder("o-1")))
	for i, ts := range []int64{5_000, 2_000, 3_000, 4_000} {
		require.NoError(t, store.AppendTrade(ctx, testTrade(fmt.Sprintf("t-%d", i), "o-1", ts)))
	}

	trades, err := store.TradesAfter(ctx, 2_000, "t-1", 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, int64(3_000), trades[0].Ts)
	assert.Equal(t, int64(4_000), trades[1].Ts)

	// An empty trade id cursor includes fills at the cursor timestamp.
	trades, err = store.TradesAfter(ctx, 2_000, "", 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "t-1", trades[0].TradeID)
	assert.Equal(t, int64(3_000), trades[1].Ts)
}

func TestTradesAfterPagesThroughEqualTimestamps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendOrder(ctx, testOrder("o-1")))
	for _, id := range []string{"t-1", "t-2", "t-3"} {
		require.NoError(t, store.AppendTrade(ctx, testTrade(id, "o-1", 2_000)))
	}

	// Walk the history one row at a time; the (ts, trade_id) cursor must
	// not lose rows that share a timestamp.
	var seen []string
	ts, id := int64(0), ""
	for {
		trades, err := store.TradesAfter(ctx, ts, id, 1)
		require.NoError(t, err)
		if len(trades) == 0 {
			break
		}
		seen = append(seen, trades[0].TradeID)
		ts, id = trades[0].Ts, trades[0].TradeID
	}
	assert.Equal(t, []string{"t-1", "t-2", "t-3"}, seen)
}

func TestTradesRangeFiltersByKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendOrder(ctx, testOrder("o-1")))
	require.NoError(t, store.AppendTrade(ctx, testTrade("t-1", "o-1", 2_000)))

	other := testTrade("t-2", "o-1", 2_500)
	other.StrategyID = "beta"
	require.NoError(t, store.AppendTrade(ctx, other))

	trades, err := store.TradesRange(ctx, schema.Key{StrategyID: "alpha", Symbol: "XYZ"}, 0, 10_000)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "t-1", trades[0].TradeID)
}

func TestUpsertPositionOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pos := position.Position{
		StrategyID: "alpha", Symbol: "XYZ",
		Qty: 10, AvgPrice: 100, AvgPriceValid: true, UpdatedAt: 1,
	}
	require.NoError(t, store.UpsertPosition(ctx, pos))

	pos.Qty = 5
	pos.RealizedPnL = 225
	pos.UpdatedAt = 2
	require.NoError(t, store.UpsertPosition(ctx, pos))

	positions, err := store.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 5.0, positions[0].Qty)
	assert.Equal(t, 225.0, positions[0].RealizedPnL)
}

func TestLastKnownPositionReturnsLatestAuditRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := schema.Key{StrategyID: "alpha", Symbol: "XYZ"}
	steps := []position.Position{
		{StrategyID: "alpha", Symbol: "XYZ", Qty: 10, AvgPrice: 100, AvgPriceValid: true, UpdatedAt: 1},
		{StrategyID: "alpha", Symbol: "XYZ", Qty: 20, AvgPrice: 105, AvgPriceValid: true, UpdatedAt: 2},
		{StrategyID: "alpha", Symbol: "XYZ", Qty: 5, AvgPrice: 105, AvgPriceValid: true, RealizedPnL: 75, UpdatedAt: 3},
	}
	for i, step := range steps {
		require.NoError(t, store.AppendPositionEvent(ctx, fmt.Sprintf("t%d", i+1), step))
	}
	// A different key must not shadow the answer.
	other := position.Position{StrategyID: "beta", Symbol: "ABC", Qty: 1, AvgPrice: 50, AvgPriceValid: true, UpdatedAt: 9}
	require.NoError(t, store.AppendPositionEvent(ctx, "o1", other))

	last, err := store.LastKnownPosition(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 5.0, last.Qty)
	assert.Equal(t, 75.0, last.RealizedPnL)
	assert.Equal(t, int64(3), last.UpdatedAt)

	all, err := store.LastKnownPositions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = store.LastKnownPosition(ctx, schema.Key{StrategyID: "gamma", Symbol: "XYZ"})
	require.True(t, errors.IsConsistency(err))
}

func TestDailyPnLRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bucket := rollup.Bucket{
		StrategyID: "alpha", Symbol: "XYZ",
		Date:        schema.Date{Year: 2024, Month: 3, Day: 5},
		RealizedPnL: 42, Fees: 1.5, Volume: 1000,
	}
	require.NoError(t, store.UpsertDailyPnL(ctx, bucket, false))

	bucket.RealizedPnL = 50
	require.NoError(t, store.UpsertDailyPnL(ctx, bucket, true))

	buckets, err := store.DailyPnLRange(ctx,
		"alpha",
		schema.Date{Year: 2024, Month: 3, Day: 1},
		schema.Date{Year: 2024, Month: 3, Day: 31},
	)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 50.0, buckets[0].RealizedPnL)
	assert.Equal(t, bucket.Date, buckets[0].Date)
}

func TestDeleteOrderCascade(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendOrder(ctx, testOrder("o-1")))
	require.NoError(t, store.AppendOrder(ctx, testOrder("o-2")))
	require.NoError(t, store.AppendTrade(ctx, testTrade("t-1", "o-1", 2_000)))
	require.NoError(t, store.AppendTrade(ctx, testTrade("t-2", "o-1", 3_000)))
	require.NoError(t, store.AppendTrade(ctx, testTrade("t-3", "o-2", 4_000)))

	pos := position.Position{StrategyID: "alpha", Symbol: "XYZ", Qty: 10, UpdatedAt: 2_000}
	require.NoError(t, store.AppendPositionEvent(ctx, "t-1", pos))

	removed, err := store.DeleteOrderCascade(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.Equal(t, "t-1", removed[0].TradeID)
	assert.Equal(t, "t-2", removed[1].TradeID)

	trades, err := store.TradesAfter(ctx, 0, "", 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "t-3", trades[0].TradeID)

	_, err = store.DeleteOrderCascade(ctx, "o-1")
	assert.True(t, errors.IsConsistency(err))
}

func TestAppendOrderRequiresParent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	child := testOrder("o-child")
	child.ParentOrderID = "o-missing"
	err := store.AppendOrder(ctx, child)
	assert.True(t, errors.IsConsistency(err))

	require.NoError(t, store.AppendOrder(ctx, testOrder("o-parent")))
	child.ParentOrderID = "o-parent"
	require.NoError(t, store.AppendOrder(ctx, child))
}

func TestDeleteOrderCascadeDetachesChildren(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendOrder(ctx, testOrder("o-parent")))
	child := testOrder("o-child")
	child.ParentOrderID = "o-parent"
	require.NoError(t, store.AppendOrder(ctx, child))

	_, err := store.DeleteOrderCascade(ctx, "o-parent")
	require.NoError(t, err)

	var row OrderRow
	require.NoError(t, store.db.Where("order_id = ?", "o-child").First(&row).Error)
	assert.Nil(t, row.ParentOrderID)
}

func TestPruneBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendOrder(ctx, testOrder("o-1")))
	require.NoError(t, store.AppendTrade(ctx, testTrade("t-old", "o-1", 1_000)))
	require.NoError(t, store.AppendTrade(ctx, testTrade("t-new", "o-1", 9_000)))
	require.NoError(t, store.AppendBar(ctx, schema.Bar{Symbol: "XYZ", Ts: 500, Open: 1, High: 2, Low: 1, Close: 2, Volume: 1}))

	oldBucket := rollup.Bucket{StrategyID: "alpha", Symbol: "XYZ", Date: schema.Date{Year: 2024, Month: 1, Day: 2}}
	require.NoError(t, store.UpsertDailyPnL(ctx, oldBucket, true))

	pruned, err := store.PruneBefore(ctx, 5_000, schema.Date{Year: 2024, Month: 2, Day: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), pruned)

	trades, err := store.TradesAfter(ctx, 0, "", 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "t-new", trades[0].TradeID)
}
