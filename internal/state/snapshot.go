package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"main/internal/errors"
	"main/internal/position"
	"main/internal/rolling"
	"main/internal/rollup"
	"main/internal/schema"
)

// Checkpoint captures the full in-memory aggregate state at a point in time.
// All of it is as-of LastTradeTs: recovery loads the checkpoint and replays
// ledger fills from that timestamp on. RecentTrades is the dedup tail, so
// fills at the boundary timestamp that are already folded in no-op on replay.
type Checkpoint struct {
	RunID        string                 `json:"runId"`
	Timestamp    int64                  `json:"timestamp"`
	LastSeq      uint64                 `json:"lastSeq"`
	LastTradeTs  int64                  `json:"lastTradeTs"`
	Positions    []position.Position    `json:"positions"`
	RecentTrades []string               `json:"recentTrades,omitempty"`
	Buckets      []rollup.Bucket        `json:"buckets"`
	Finalized    map[string]schema.Date `json:"finalized"`
	Windows      []rolling.WindowState  `json:"windows"`
}

// Capture drains every reducer into a checkpoint. RunID is a fresh ULID so
// checkpoint files from different runs never collide.
func Capture(positions *position.Aggregator, rollups *rollup.Engine, windows *rolling.Engine, lastSeq uint64, lastTradeTs int64) Checkpoint {
	return Checkpoint{
		RunID:        ulid.Make().String(),
		Timestamp:    time.Now().UTC().UnixNano(),
		LastSeq:      lastSeq,
		LastTradeTs:  lastTradeTs,
		Positions:    positions.All(),
		RecentTrades: positions.RecentTrades(),
		Buckets:      rollups.Buckets(),
		Finalized:    rollups.Finalized(),
		Windows:      windows.State(),
	}
}

// WriteCheckpoint writes a checkpoint to disk as JSON.
func WriteCheckpoint(path string, checkpoint Checkpoint) error {
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal checkpoint")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create checkpoint dir")
		}
	}
	// Write-then-rename so a crash mid-write never truncates the live file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write checkpoint")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "publish checkpoint")
	}
	return nil
}

// ReadCheckpoint loads a checkpoint from disk.
func ReadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, err
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return Checkpoint{}, errors.Wrap(err, "unmarshal checkpoint")
	}
	return checkpoint, nil
}

// CompareCheckpoints checks that two checkpoints agree on position state.
// The replay tool uses it to verify a rebuild against the recorded run.
func CompareCheckpoints(expected, actual Checkpoint) error {
	if len(expected.Positions) != len(actual.Positions) {
		return errors.Errorf("position count mismatch: expected=%d actual=%d",
			len(expected.Positions), len(actual.Positions))
	}
	expectedByKey := make(map[schema.Key]position.Position, len(expected.Positions))
	for _, p := range expected.Positions {
		expectedByKey[p.Key()] = p
	}
	for _, p := range actual.Positions {
		want, ok := expectedByKey[p.Key()]
		if !ok {
			return errors.Errorf("unexpected position for %s", p.Key())
		}
		if want.Qty != p.Qty || want.RealizedPnL != p.RealizedPnL {
			return errors.Errorf("position mismatch for %s: expected qty=%v realized=%v, actual qty=%v realized=%v",
				p.Key(), want.Qty, want.RealizedPnL, p.Qty, p.RealizedPnL)
		}
		if want.AvgPriceValid != p.AvgPriceValid || (want.AvgPriceValid && want.AvgPrice != p.AvgPrice) {
			return errors.Errorf("position avg price mismatch for %s", p.Key())
		}
	}
	return nil
}
