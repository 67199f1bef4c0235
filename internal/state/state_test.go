package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/ledger"
	"main/internal/position"
	"main/internal/rolling"
	"main/internal/rollup"
	"main/internal/schema"
)

// fakeLedger serves a fixed ascending fill history for replay.
type fakeLedger struct {
	ledger.Ledger
	trades []schema.Trade
}

func (f *fakeLedger) TradesAfter(_ context.Context, ts int64, tradeID string, limit int) ([]schema.Trade, error) {
	var out []schema.Trade
	for _, trade := range f.trades {
		if trade.Ts > ts || (trade.Ts == ts && trade.TradeID > tradeID) {
			out = append(out, trade)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func fill(id string, ts int64, side schema.Side, qty, price float64) schema.Trade {
	return schema.Trade{
		TradeID:    id,
		OrderID:    "o-1",
		StrategyID: "alpha",
		Symbol:     "XYZ",
		Ts:         ts,
		Side:       side,
		Qty:        qty,
		Price:      price,
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	positions := position.NewAggregator(position.Config{})
	rollups := rollup.NewEngine()
	windows := rolling.NewEngine(rolling.Config{Window: 5})

	_, delta, err := positions.Apply(fill("t-1", 1_000, schema.SideBuy, 10, 100))
	require.NoError(t, err)
	require.NoError(t, rollups.OnDelta(delta, 1_000))

	checkpoint := Capture(positions, rollups, windows, 7, 1_000)
	assert.NotEmpty(t, checkpoint.RunID)
	assert.Equal(t, uint64(7), checkpoint.LastSeq)

	path := filepath.Join(t.TempDir(), "checkpoints", "analytic.json")
	require.NoError(t, WriteCheckpoint(path, checkpoint))

	loaded, err := ReadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.RunID, loaded.RunID)
	require.Len(t, loaded.Positions, 1)
	assert.Equal(t, 10.0, loaded.Positions[0].Qty)
	require.Len(t, loaded.Buckets, 1)
}

func TestRecoverColdStartReplaysEverything(t *testing.T) {
	day1 := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC).UnixNano()
	day2 := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC).UnixNano()
	lgr := &fakeLedger{trades: []schema.Trade{
		fill("t-1", day1, schema.SideBuy, 10, 100),
		fill("t-2", day1+1, schema.SideBuy, 10, 110),
		fill("t-3", day2, schema.SideSell, 15, 120),
	}}

	result, err := Recover(context.Background(), RecoverConfig{
		CheckpointPath: filepath.Join(t.TempDir(), "missing.json"),
		Ledger:         lgr,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Replayed)
	assert.Equal(t, day2, result.LastTradeTs)

	pos, ok := result.Positions.Get(schema.Key{StrategyID: "alpha", Symbol: "XYZ"})
	require.True(t, ok)
	assert.Equal(t, 5.0, pos.Qty)
	assert.InDelta(t, 225.0, pos.RealizedPnL, 1e-9)

	// Day one was finalized when the replay crossed into day two.
	finalized := result.Rollup.Finalized()
	assert.Equal(t, schema.Date{Year: 2024, Month: 3, Day: 5}, finalized["alpha"])
}

func TestRecoverResumesFromCheckpoint(t *testing.T) {
	day1 := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC).UnixNano()
	trades := []schema.Trade{
		fill("t-1", day1, schema.SideBuy, 10, 100),
		fill("t-2", day1+1, schema.SideBuy, 10, 110),
	}
	lgr := &fakeLedger{trades: trades}

	// Checkpoint holds the state after t-1 only.
	positions := position.NewAggregator(position.Config{})
	rollups := rollup.NewEngine()
	windows := rolling.NewEngine(rolling.Config{})
	_, delta, err := positions.Apply(trades[0])
	require.NoError(t, err)
	require.NoError(t, rollups.OnDelta(delta, trades[0].Ts))

	path := filepath.Join(t.TempDir(), "analytic.json")
	require.NoError(t, WriteCheckpoint(path, Capture(positions, rollups, windows, 1, trades[0].Ts)))

	result, err := Recover(context.Background(), RecoverConfig{
		CheckpointPath: path,
		Ledger:         lgr,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Replayed)

	pos, ok := result.Positions.Get(schema.Key{StrategyID: "alpha", Symbol: "XYZ"})
	require.True(t, ok)
	assert.Equal(t, 20.0, pos.Qty)
	assert.InDelta(t, 105.0, pos.AvgPrice, 1e-9)
}

func TestRecoverReplaysEqualTimestampFills(t *testing.T) {
	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC).UnixNano()
	lgr := &fakeLedger{trades: []schema.Trade{
		fill("t-1", ts, schema.SideBuy, 10, 100),
		fill("t-2", ts, schema.SideBuy, 10, 110),
	}}

	// Batch of one forces a cursor advance between the two fills; both
	// must survive the page boundary even though they share a timestamp.
	result, err := Recover(context.Background(), RecoverConfig{
		CheckpointPath: filepath.Join(t.TempDir(), "missing.json"),
		Ledger:         lgr,
		ReplayBatch:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Replayed)
	assert.Equal(t, ts, result.LastTradeTs)

	pos, ok := result.Positions.Get(schema.Key{StrategyID: "alpha", Symbol: "XYZ"})
	require.True(t, ok)
	assert.Equal(t, 20.0, pos.Qty)
	assert.InDelta(t, 105.0, pos.AvgPrice, 1e-9)
}

func TestRecoverAppliesFillAtCheckpointTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC).UnixNano()
	trades := []schema.Trade{
		fill("t-1", ts, schema.SideBuy, 10, 100),
		fill("t-2", ts, schema.SideBuy, 10, 110),
	}
	lgr := &fakeLedger{trades: trades}

	// Checkpoint folds t-1 only; t-2 shares its timestamp and landed in
	// the ledger after the checkpoint was taken.
	positions := position.NewAggregator(position.Config{})
	rollups := rollup.NewEngine()
	windows := rolling.NewEngine(rolling.Config{})
	_, delta, err := positions.Apply(trades[0])
	require.NoError(t, err)
	require.NoError(t, rollups.OnDelta(delta, trades[0].Ts))

	path := filepath.Join(t.TempDir(), "analytic.json")
	require.NoError(t, WriteCheckpoint(path, Capture(positions, rollups, windows, 1, trades[0].Ts)))

	result, err := Recover(context.Background(), RecoverConfig{
		CheckpointPath: path,
		Ledger:         lgr,
	})
	require.NoError(t, err)

	// t-1 is fetched again and no-ops through the dedup tail; only t-2
	// counts as replayed, and exactly once.
	assert.Equal(t, 1, result.Replayed)
	pos, ok := result.Positions.Get(schema.Key{StrategyID: "alpha", Symbol: "XYZ"})
	require.True(t, ok)
	assert.Equal(t, 20.0, pos.Qty)
	assert.InDelta(t, 105.0, pos.AvgPrice, 1e-9)
}

func TestCompareCheckpointsDetectsDrift(t *testing.T) {
	base := Checkpoint{Positions: []position.Position{
		{StrategyID: "alpha", Symbol: "XYZ", Qty: 5, AvgPrice: 105, AvgPriceValid: true, RealizedPnL: 225},
	}}
	same := base
	require.NoError(t, CompareCheckpoints(base, same))

	drifted := Checkpoint{Positions: []position.Position{
		{StrategyID: "alpha", Symbol: "XYZ", Qty: 5, AvgPrice: 105, AvgPriceValid: true, RealizedPnL: 200},
	}}
	assert.Error(t, CompareCheckpoints(base, drifted))
}
