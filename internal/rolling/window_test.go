package rolling

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/errors"
	"main/internal/schema"
)

func closeOn(dayIndex int, pnl float64) schema.DailyClose {
	base := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	return schema.DailyClose{
		StrategyID: "alpha",
		Date:       schema.DateOf(base.AddDate(0, 0, dayIndex)),
		NetPnL:     pnl,
	}
}

func TestSharpeGatedUntilWindowFull(t *testing.T) {
	e := NewEngine(Config{})
	var stat Stat
	var err error
	for i := 0; i < 29; i++ {
		stat, err = e.OnDailyClose(closeOn(i, float64(i%5)+1))
		require.NoError(t, err)
		assert.False(t, stat.SharpeValid, "day %d", i)
	}

	stat, err = e.OnDailyClose(closeOn(29, 3))
	require.NoError(t, err)
	assert.Equal(t, 30, stat.SampleCount)
	assert.True(t, stat.SharpeValid)
}

func TestZeroVarianceSharpeUndefined(t *testing.T) {
	e := NewEngine(Config{})
	var stat Stat
	var err error
	for i := 0; i < 30; i++ {
		stat, err = e.OnDailyClose(closeOn(i, 5.0))
		require.NoError(t, err)
	}
	assert.Equal(t, 30, stat.SampleCount)
	assert.InDelta(t, 5.0, stat.Mean, 1e-9)
	assert.Equal(t, 0.0, stat.Std)
	assert.False(t, stat.SharpeValid)
}

func TestEvictionMatchesDirectComputation(t *testing.T) {
	e := NewEngine(Config{Window: 5, Annualization: 252})
	values := []float64{3, -1, 4, 1, -5, 9, 2, -6, 5, 3.5}
	var stat Stat
	var err error
	for i, v := range values {
		stat, err = e.OnDailyClose(closeOn(i, v))
		require.NoError(t, err)
	}

	// Direct computation over the last 5 values.
	tail := values[len(values)-5:]
	var sum float64
	for _, v := range tail {
		sum += v
	}
	mean := sum / 5
	var sq float64
	for _, v := range tail {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / 4)

	assert.InDelta(t, mean, stat.Mean, 1e-9)
	assert.InDelta(t, std, stat.Std, 1e-9)
	require.True(t, stat.SharpeValid)
	assert.InDelta(t, mean/std*math.Sqrt(252), stat.Sharpe, 1e-9)
	assert.Equal(t, 5, stat.SampleCount)
}

func TestOutOfOrderAndDuplicateRejected(t *testing.T) {
	e := NewEngine(Config{})
	_, err := e.OnDailyClose(closeOn(5, 1))
	require.NoError(t, err)

	_, err = e.OnDailyClose(closeOn(5, 2))
	assert.True(t, errors.IsConsistency(err))

	_, err = e.OnDailyClose(closeOn(3, 2))
	assert.True(t, errors.IsConsistency(err))

	// Rejected submissions leave the moments untouched.
	stat, err := e.OnDailyClose(closeOn(6, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, stat.SampleCount)
	assert.InDelta(t, 1.0, stat.Mean, 1e-9)
}

func TestStrategiesAreIndependent(t *testing.T) {
	e := NewEngine(Config{Window: 3})
	_, err := e.OnDailyClose(closeOn(1, 10))
	require.NoError(t, err)

	other := closeOn(1, -10)
	other.StrategyID = "beta"
	_, err = e.OnDailyClose(other)
	require.NoError(t, err)

	alpha, ok := e.Latest("alpha")
	require.True(t, ok)
	beta, ok := e.Latest("beta")
	require.True(t, ok)
	assert.InDelta(t, 10.0, alpha.Mean, 1e-9)
	assert.InDelta(t, -10.0, beta.Mean, 1e-9)
}

func TestStateRestoreRoundTrip(t *testing.T) {
	source := NewEngine(Config{Window: 5})
	for i := 0; i < 8; i++ {
		_, err := source.OnDailyClose(closeOn(i, float64(i)*1.5-3))
		require.NoError(t, err)
	}

	restored := NewEngine(Config{Window: 5})
	restored.Restore(source.State())

	// Restored engine continues exactly where the source left off.
	for i := 8; i < 12; i++ {
		want, err := source.OnDailyClose(closeOn(i, float64(i%3)))
		require.NoError(t, err)
		got, err := restored.OnDailyClose(closeOn(i, float64(i%3)))
		require.NoError(t, err)
		assert.InDelta(t, want.Mean, got.Mean, 1e-9)
		assert.InDelta(t, want.Std, got.Std, 1e-9)
		assert.Equal(t, want.SampleCount, got.SampleCount)
	}

	// Out-of-order days stay rejected after a restore.
	_, err := restored.OnDailyClose(closeOn(4, 1))
	assert.True(t, errors.IsConsistency(err))
}
