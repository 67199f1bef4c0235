// Package position maintains net positions from trade fills.
//
// The aggregator is the exclusive owner of Position state. Each (strategy,
// symbol) key is mutated by a single writer; readers observe immutable
// Position values swapped in whole, so the read path never blocks on the
// write path.
package position

import (
	"sync"
	"time"

	"main/internal/errors"
	"main/internal/schema"
)

const defaultDedupCapacity = 4096

// Position is an immutable view of one (strategy, symbol) net position.
// Qty is signed: positive net long, negative net short. AvgPrice is
// undefined while the position is flat.
type Position struct {
	StrategyID    string
	Symbol        string
	Qty           float64
	AvgPrice      float64
	AvgPriceValid bool
	RealizedPnL   float64
	UnrealizedPnL float64
	UpdatedAt     int64
}

// Key returns the aggregate key of the position.
func (p Position) Key() schema.Key {
	return schema.Key{StrategyID: p.StrategyID, Symbol: p.Symbol}
}

// Config tunes the aggregator.
type Config struct {
	// DedupCapacity bounds the recent trade-id set used for idempotency.
	DedupCapacity int
}

// Aggregator folds fills into positions and emits immutable deltas for the
// daily rollup. Writes must come from one goroutine per key; reads may come
// from anywhere.
type Aggregator struct {
	positions sync.Map // schema.Key -> *Position
	dedup     *recentSet
	keys      []schema.Key
	keySeen   map[schema.Key]struct{}
	mu        sync.Mutex // guards keys/keySeen only
}

// NewAggregator creates an empty aggregator.
func NewAggregator(cfg Config) *Aggregator {
	capacity := cfg.DedupCapacity
	if capacity <= 0 {
		capacity = defaultDedupCapacity
	}
	return &Aggregator{
		dedup:   newRecentSet(capacity),
		keySeen: make(map[schema.Key]struct{}),
	}
}

// Apply folds one fill into the position for its key. Duplicate trade ids
// leave all state untouched and come back as a consistency error so the
// producer can be told; malformed fills are rejected before any mutation.
func (a *Aggregator) Apply(trade schema.Trade) (Position, schema.PositionDelta, error) {
	if err := trade.Validate(); err != nil {
		return a.get(trade.Key()), schema.PositionDelta{}, err
	}
	if a.dedup.Seen(trade.TradeID) {
		return a.get(trade.Key()), schema.PositionDelta{},
			errors.Consistencyf("duplicate trade id %q", trade.TradeID)
	}

	next, delta := applyFill(a.get(trade.Key()), trade)
	a.dedup.Add(trade.TradeID)
	a.store(next)
	return next, delta, nil
}

// Reverse backs out a previously applied fill after its order was deleted
// through the ledger cascade. It applies the inverse-side fill at the
// original price and credits the fee back.
func (a *Aggregator) Reverse(trade schema.Trade) (Position, schema.PositionDelta, error) {
	inverse := trade
	inverse.TradeID = trade.TradeID + "#rev"
	inverse.Fee = -trade.Fee
	switch trade.Side {
	case schema.SideBuy:
		inverse.Side = schema.SideSell
	case schema.SideSell:
		inverse.Side = schema.SideBuy
	default:
		return a.get(trade.Key()), schema.PositionDelta{},
			errors.Validationf("trade %s: unknown side", trade.TradeID)
	}
	if a.dedup.Seen(inverse.TradeID) {
		return a.get(trade.Key()), schema.PositionDelta{},
			errors.Consistencyf("trade %q already reversed", trade.TradeID)
	}

	next, delta := applyFill(a.get(trade.Key()), inverse)
	a.dedup.Add(inverse.TradeID)
	a.store(next)
	return next, delta, nil
}

// Mark recomputes unrealized PnL against a mark price and emits an
// unrealized-only delta for the current day.
func (a *Aggregator) Mark(key schema.Key, price float64, ts int64) (Position, schema.PositionDelta, error) {
	if price <= 0 {
		return a.get(key), schema.PositionDelta{}, errors.Validationf("mark price must be > 0, got %v", price)
	}
	current := a.get(key)
	var unrealized float64
	if current.AvgPriceValid {
		unrealized = current.Qty * (price - current.AvgPrice)
	}
	next := current
	next.UnrealizedPnL = unrealized
	next.UpdatedAt = ts
	a.store(next)

	return next, schema.PositionDelta{
		StrategyID:      key.StrategyID,
		Symbol:          key.Symbol,
		Date:            schema.DateOfUnixNano(ts),
		UnrealizedDelta: unrealized - current.UnrealizedPnL,
		NewQty:          next.Qty,
	}, nil
}

// Get returns the current position for a key.
func (a *Aggregator) Get(key schema.Key) (Position, bool) {
	v, ok := a.positions.Load(key)
	if !ok {
		return Position{StrategyID: key.StrategyID, Symbol: key.Symbol}, false
	}
	return *v.(*Position), true
}

// All returns every tracked position in first-seen key order.
func (a *Aggregator) All() []Position {
	a.mu.Lock()
	keys := make([]schema.Key, len(a.keys))
	copy(keys, a.keys)
	a.mu.Unlock()

	out := make([]Position, 0, len(keys))
	for _, key := range keys {
		if p, ok := a.Get(key); ok {
			out = append(out, p)
		}
	}
	return out
}

// RecentTrades returns the dedup tail, oldest first. Checkpoints carry it so
// a replay that re-reads fills at the checkpoint boundary no-ops on the ones
// already folded in.
func (a *Aggregator) RecentTrades() []string {
	return a.dedup.State()
}

// RestoreRecentTrades reseeds the dedup tail from a checkpoint.
func (a *Aggregator) RestoreRecentTrades(ids []string) {
	a.dedup.Restore(ids)
}

// Restore replaces all positions, used when recovering from a checkpoint.
func (a *Aggregator) Restore(positions []Position) {
	a.mu.Lock()
	a.keys = a.keys[:0]
	a.keySeen = make(map[schema.Key]struct{}, len(positions))
	a.mu.Unlock()
	a.positions.Range(func(k, _ any) bool {
		a.positions.Delete(k)
		return true
	})
	for _, p := range positions {
		cp := p
		a.store(cp)
	}
}

func (a *Aggregator) get(key schema.Key) Position {
	p, _ := a.Get(key)
	return p
}

func (a *Aggregator) store(p Position) {
	key := p.Key()
	a.mu.Lock()
	if _, ok := a.keySeen[key]; !ok {
		a.keySeen[key] = struct{}{}
		a.keys = append(a.keys, key)
	}
	a.mu.Unlock()
	a.positions.Store(key, &p)
}

// applyFill implements the averaging contract: same-direction fills reprice
// the weighted average, opposite-direction fills realize PnL against the
// held average first and any remainder flips the position at the fill price.
func applyFill(current Position, trade schema.Trade) (Position, schema.PositionDelta) {
	next := current
	next.StrategyID = trade.StrategyID
	next.Symbol = trade.Symbol

	qty := current.Qty
	avg := current.AvgPrice
	if !current.AvgPriceValid {
		avg = 0
	}

	fillQty := trade.Qty
	fillPrice := trade.Price
	realized := 0.0

	switch trade.Side {
	case schema.SideBuy:
		if qty >= 0 {
			next.AvgPrice = weightedAvg(qty, avg, fillQty, fillPrice)
			next.Qty = qty + fillQty
		} else {
			cover := min(fillQty, -qty)
			realized += cover * (avg - fillPrice)
			next.Qty = qty + fillQty
			if next.Qty > 0 {
				next.AvgPrice = fillPrice
			}
		}
	case schema.SideSell:
		if qty <= 0 {
			next.AvgPrice = weightedAvg(-qty, avg, fillQty, fillPrice)
			next.Qty = qty - fillQty
		} else {
			cover := min(fillQty, qty)
			realized += cover * (fillPrice - avg)
			next.Qty = qty - fillQty
			if next.Qty < 0 {
				next.AvgPrice = fillPrice
			}
		}
	}

	next.AvgPriceValid = next.Qty != 0
	if !next.AvgPriceValid {
		next.AvgPrice = 0
	}

	realized -= trade.Fee
	next.RealizedPnL = current.RealizedPnL + realized
	next.UpdatedAt = trade.Ts
	if next.UpdatedAt == 0 {
		next.UpdatedAt = time.Now().UTC().UnixNano()
	}

	delta := schema.PositionDelta{
		StrategyID:    trade.StrategyID,
		Symbol:        trade.Symbol,
		Date:          trade.Date(),
		RealizedDelta: realized,
		Fee:           trade.Fee,
		Volume:        fillQty * fillPrice,
		NewQty:        next.Qty,
	}
	return next, delta
}

func weightedAvg(qty, avg, fillQty, fillPrice float64) float64 {
	total := qty + fillQty
	if total == 0 {
		return 0
	}
	return (qty*avg + fillQty*fillPrice) / total
}
