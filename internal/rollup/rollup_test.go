package rollup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/errors"
	"main/internal/schema"
)

func day(dayOfMonth int) schema.Date {
	return schema.Date{Year: 2025, Month: time.June, Day: dayOfMonth}
}

func delta(strategy string, d schema.Date, realized, fee, volume float64) schema.PositionDelta {
	return schema.PositionDelta{
		StrategyID:    strategy,
		Symbol:        "XYZ",
		Date:          d,
		RealizedDelta: realized,
		Fee:           fee,
		Volume:        volume,
	}
}

func TestBucketsAccumulate(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.OnDelta(delta("alpha", day(2), 100, 1, 1000), 1))
	require.NoError(t, e.OnDelta(delta("alpha", day(2), -30, 2, 500), 2))

	b, ok := e.Bucket(schema.Key{StrategyID: "alpha", Symbol: "XYZ"}, day(2))
	require.True(t, ok)
	assert.InDelta(t, 70.0, b.RealizedPnL, 1e-9)
	assert.InDelta(t, 3.0, b.Fees, 1e-9)
	assert.InDelta(t, 1500.0, b.Volume, 1e-9)
}

func TestSameDayDeliveryIsCommutative(t *testing.T) {
	a := NewEngine()
	b := NewEngine()
	first := delta("alpha", day(2), 100, 1, 1000)
	second := delta("alpha", day(2), -40, 2, 400)

	require.NoError(t, a.OnDelta(first, 1))
	require.NoError(t, a.OnDelta(second, 2))
	require.NoError(t, b.OnDelta(second, 1))
	require.NoError(t, b.OnDelta(first, 2))

	ba, _ := a.Bucket(first.Key(), day(2))
	bb, _ := b.Bucket(first.Key(), day(2))
	ba.UpdatedAt, bb.UpdatedAt = 0, 0
	assert.Equal(t, ba, bb)
}

func TestPastDayDeliveryReopensBucket(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.OnDelta(delta("alpha", day(2), 100, 0, 0), 1))
	_, err := e.FinalizeDay("alpha", day(2))
	require.NoError(t, err)

	// Late delivery for the finalized day still lands in its bucket.
	require.NoError(t, e.OnDelta(delta("alpha", day(2), 25, 0, 0), 2))
	b, ok := e.Bucket(schema.Key{StrategyID: "alpha", Symbol: "XYZ"}, day(2))
	require.True(t, ok)
	assert.InDelta(t, 125.0, b.RealizedPnL, 1e-9)
}

func TestSeriesDrawdownInvariants(t *testing.T) {
	e := NewEngine()
	pnls := []float64{50, -20, -60, 10, 100, -5}
	for i, v := range pnls {
		require.NoError(t, e.OnDelta(delta("alpha", day(i+1), v, 0, 0), int64(i)))
	}

	series := e.Series("alpha")
	require.Len(t, series, len(pnls))

	var cumulative float64
	prevMax := 0.0
	for i, point := range series {
		cumulative += pnls[i]
		assert.InDelta(t, cumulative, point.CumulativePnL, 1e-9)
		assert.GreaterOrEqual(t, point.Drawdown, 0.0)
		assert.GreaterOrEqual(t, point.MaxDrawdown, prevMax)
		assert.InDelta(t, point.RunningPeak-point.CumulativePnL, point.Drawdown, 1e-9)
		prevMax = point.MaxDrawdown
	}
	// Peak 50 after day 1, trough -30 after day 3.
	assert.InDelta(t, 80.0, series[len(series)-1].MaxDrawdown, 1e-9)
}

func TestFinalizeDayExactlyOnceInOrder(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.OnDelta(delta("alpha", day(2), 100, 0, 0), 1))
	require.NoError(t, e.OnDelta(delta("alpha", day(3), -10, 0, 0), 2))

	close2, err := e.FinalizeDay("alpha", day(2))
	require.NoError(t, err)
	assert.InDelta(t, 100.0, close2.NetPnL, 1e-9)

	_, err = e.FinalizeDay("alpha", day(2))
	assert.True(t, errors.IsConsistency(err))

	_, err = e.FinalizeDay("alpha", day(1))
	assert.True(t, errors.IsConsistency(err))

	close3, err := e.FinalizeDay("alpha", day(3))
	require.NoError(t, err)
	assert.InDelta(t, -10.0, close3.NetPnL, 1e-9)
}

func TestFinalizeDaySumsSymbols(t *testing.T) {
	e := NewEngine()
	d1 := delta("alpha", day(2), 100, 0, 0)
	d2 := delta("alpha", day(2), 50, 0, 0)
	d2.Symbol = "ABC"
	require.NoError(t, e.OnDelta(d1, 1))
	require.NoError(t, e.OnDelta(d2, 2))

	dayClose, err := e.FinalizeDay("alpha", day(2))
	require.NoError(t, err)
	assert.InDelta(t, 150.0, dayClose.NetPnL, 1e-9)
}

func TestEvictBefore(t *testing.T) {
	e := NewEngine()
	for i := 1; i <= 5; i++ {
		require.NoError(t, e.OnDelta(delta("alpha", day(i), 1, 0, 0), int64(i)))
	}
	evicted := e.EvictBefore(day(4))
	assert.Equal(t, 3, evicted)
	assert.Len(t, e.Buckets(), 2)

	// Evicted buckets fall out of the derived series too.
	assert.Len(t, e.Series("alpha"), 2)
}

func TestRestoreRoundTrip(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.OnDelta(delta("alpha", day(2), 100, 1, 1000), 1))
	saved := e.Buckets()

	fresh := NewEngine()
	fresh.Restore(saved)
	assert.Equal(t, saved, fresh.Buckets())
}
