// Package rollup maintains per-day PnL buckets and derives cumulative series.
//
// Buckets are keyed by the trade's execution date. Cumulative PnL and
// drawdown are never stored; they are derived in one ordered pass over days,
// so trade-level volume never re-enters the computation.
package rollup

import (
	"sort"
	"sync"

	"main/internal/errors"
	"main/internal/schema"
)

// Bucket is the accumulated PnL state for one (strategy, symbol, date).
type Bucket struct {
	StrategyID    string
	Symbol        string
	Date          schema.Date
	RealizedPnL   float64
	UnrealizedPnL float64
	Fees          float64
	Volume        float64
	UpdatedAt     int64
}

type bucketKey struct {
	key  schema.Key
	date schema.Date
}

// SeriesPoint is one derived row of the cumulative PnL / drawdown series.
type SeriesPoint struct {
	Date          schema.Date
	RealizedPnL   float64
	CumulativePnL float64
	RunningPeak   float64
	Drawdown      float64
	MaxDrawdown   float64
}

// Engine is the exclusive owner of DailyPnL state. A single writer folds
// deltas in; readers take copies.
type Engine struct {
	mu      sync.RWMutex
	buckets map[bucketKey]*Bucket
	// finalized tracks the last day handed to the rolling window per
	// strategy, so day closes are submitted exactly once, in order.
	finalized map[string]schema.Date
}

// NewEngine creates an empty rollup engine.
func NewEngine() *Engine {
	return &Engine{
		buckets:   make(map[bucketKey]*Bucket),
		finalized: make(map[string]schema.Date),
	}
}

// OnDelta folds a position delta into its day bucket. Deliveries within one
// day are commutative; a delivery for an already finalized day reopens that
// bucket rather than being dropped.
func (e *Engine) OnDelta(delta schema.PositionDelta, ts int64) error {
	if delta.StrategyID == "" || delta.Symbol == "" {
		return errors.Validationf("delta strategy/symbol is empty")
	}
	if delta.Date.IsZero() {
		return errors.Validationf("delta date is unset")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	bk := bucketKey{key: delta.Key(), date: delta.Date}
	b, ok := e.buckets[bk]
	if !ok {
		b = &Bucket{StrategyID: delta.StrategyID, Symbol: delta.Symbol, Date: delta.Date}
		e.buckets[bk] = b
	}
	b.RealizedPnL += delta.RealizedDelta
	b.UnrealizedPnL += delta.UnrealizedDelta
	b.Fees += delta.Fee
	b.Volume += delta.Volume
	b.UpdatedAt = ts
	return nil
}

// Bucket returns a copy of one day bucket.
func (e *Engine) Bucket(key schema.Key, date schema.Date) (Bucket, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.buckets[bucketKey{key: key, date: date}]
	if !ok {
		return Bucket{}, false
	}
	return *b, true
}

// Buckets returns copies of all buckets, ordered by strategy, symbol, date.
func (e *Engine) Buckets() []Bucket {
	e.mu.RLock()
	out := make([]Bucket, 0, len(e.buckets))
	for _, b := range e.buckets {
		out = append(out, *b)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StrategyID != out[j].StrategyID {
			return out[i].StrategyID < out[j].StrategyID
		}
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// Series derives the cumulative PnL and drawdown series for one strategy in
// a single ordered pass. O(days), independent of trade count.
func (e *Engine) Series(strategyID string) []SeriesPoint {
	e.mu.RLock()
	perDay := make(map[schema.Date]float64)
	for _, b := range e.buckets {
		if b.StrategyID != strategyID {
			continue
		}
		perDay[b.Date] += b.RealizedPnL
	}
	e.mu.RUnlock()

	days := make([]schema.Date, 0, len(perDay))
	for d := range perDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	out := make([]SeriesPoint, 0, len(days))
	var cumulative, peak, maxDrawdown float64
	for _, d := range days {
		cumulative += perDay[d]
		if cumulative > peak {
			peak = cumulative
		}
		drawdown := peak - cumulative
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
		out = append(out, SeriesPoint{
			Date:          d,
			RealizedPnL:   perDay[d],
			CumulativePnL: cumulative,
			RunningPeak:   peak,
			Drawdown:      drawdown,
			MaxDrawdown:   maxDrawdown,
		})
	}
	return out
}

// FinalizeDay closes a strategy day and returns the DailyClose for the
// rolling window. Days must be finalized once each, in date order; revisions
// after finalization reopen the bucket but never re-enter the window.
func (e *Engine) FinalizeDay(strategyID string, date schema.Date) (schema.DailyClose, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.finalized[strategyID]; ok && !last.Before(date) {
		return schema.DailyClose{}, errors.Consistencyf(
			"strategy %s: day %s already finalized through %s", strategyID, date, last)
	}

	var net float64
	for _, b := range e.buckets {
		if b.StrategyID == strategyID && b.Date == date {
			net += b.RealizedPnL + b.UnrealizedPnL
		}
	}
	e.finalized[strategyID] = date
	return schema.DailyClose{StrategyID: strategyID, Date: date, NetPnL: net}, nil
}

// EvictBefore drops buckets strictly older than the cutoff from memory.
// The ledger keeps the durable rows; this mirrors partition pruning.
func (e *Engine) EvictBefore(cutoff schema.Date) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	evicted := 0
	for bk := range e.buckets {
		if bk.date.Before(cutoff) {
			delete(e.buckets, bk)
			evicted++
		}
	}
	return evicted
}

// Restore replaces all buckets, used when rebuilding from the ledger.
func (e *Engine) Restore(buckets []Bucket) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buckets = make(map[bucketKey]*Bucket, len(buckets))
	for _, b := range buckets {
		cp := b
		e.buckets[bucketKey{key: schema.Key{StrategyID: b.StrategyID, Symbol: b.Symbol}, date: b.Date}] = &cp
	}
}

// Finalized returns a copy of the last finalized day per strategy.
func (e *Engine) Finalized() map[string]schema.Date {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]schema.Date, len(e.finalized))
	for strategyID, date := range e.finalized {
		out[strategyID] = date
	}
	return out
}

// RestoreFinalized replaces the finalized-day watermarks.
func (e *Engine) RestoreFinalized(finalized map[string]schema.Date) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finalized = make(map[string]schema.Date, len(finalized))
	for strategyID, date := range finalized {
		e.finalized[strategyID] = date
	}
}
