package schema

import (
	"main/internal/errors"
)

// Bar is one aggregated price bar for a symbol.
type Bar struct {
	Symbol string
	Ts     int64 // bar start, epoch nanoseconds UTC
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	VWAP   float64
	HasVWAP bool
}

// Validate checks the OHLC envelope. Bars are unique per (symbol, ts).
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return errors.Validationf("bar symbol is empty")
	}
	if b.Ts <= 0 {
		return errors.Validationf("bar ts must be > 0, got %d", b.Ts)
	}
	if b.High < b.Open || b.High < b.Close || b.High < b.Low {
		return errors.Validationf("bar high %v below open/close/low", b.High)
	}
	if b.Low > b.Open || b.Low > b.Close {
		return errors.Validationf("bar low %v above open/close", b.Low)
	}
	if b.Volume < 0 {
		return errors.Validationf("bar volume must be >= 0, got %v", b.Volume)
	}
	return nil
}

// Order is a decided order record. The engine never matches orders; it only
// tracks them so fills can reference a parent.
type Order struct {
	OrderID       string
	StrategyID    string
	Symbol        string
	Ts            int64 // decision time, epoch nanoseconds UTC
	Side          Side
	Type          OrderType
	Status        OrderStatus
	Qty           float64
	Price         float64
	HasPrice      bool
	TimeInForce   TimeInForce
	ParentOrderID string
}

// Validate rejects malformed orders before they reach the ledger.
func (o Order) Validate() error {
	if o.OrderID == "" {
		return errors.Validationf("order id is empty")
	}
	if o.StrategyID == "" || o.Symbol == "" {
		return errors.Validationf("order %s: strategy/symbol is empty", o.OrderID)
	}
	if o.Ts <= 0 {
		return errors.Validationf("order %s: ts must be > 0", o.OrderID)
	}
	if !o.Side.IsValid() {
		return errors.Validationf("order %s: unknown side", o.OrderID)
	}
	if !o.Type.IsValid() {
		return errors.Validationf("order %s: unknown type", o.OrderID)
	}
	if !o.Status.IsValid() {
		return errors.Validationf("order %s: unknown status", o.OrderID)
	}
	if o.Qty <= 0 {
		return errors.Validationf("order %s: qty must be > 0, got %v", o.OrderID, o.Qty)
	}
	// Price is required unless the order is a pure market order.
	if o.Type != OrderTypeMarket && (!o.HasPrice || o.Price <= 0) {
		return errors.Validationf("order %s: price required for %s", o.OrderID, o.Type)
	}
	return nil
}

// Trade is one fill, already decided upstream. TradeID is the idempotency
// key: applying the same id twice must leave aggregates unchanged.
type Trade struct {
	TradeID    string
	OrderID    string
	StrategyID string
	Symbol     string
	Ts         int64 // execution time, epoch nanoseconds UTC
	Side       Side
	Qty        float64
	Price      float64
	Fee        float64
	Liquidity  Liquidity
	Venue      string
}

// Key returns the aggregate chain the trade belongs to.
func (t Trade) Key() Key {
	return Key{StrategyID: t.StrategyID, Symbol: t.Symbol}
}

// Date returns the UTC execution date the trade rolls up into.
func (t Trade) Date() Date {
	return DateOfUnixNano(t.Ts)
}

// Validate rejects malformed fills before they touch aggregate state.
func (t Trade) Validate() error {
	if t.TradeID == "" {
		return errors.Validationf("trade id is empty")
	}
	if t.OrderID == "" {
		return errors.Validationf("trade %s: order id is empty", t.TradeID)
	}
	if t.StrategyID == "" || t.Symbol == "" {
		return errors.Validationf("trade %s: strategy/symbol is empty", t.TradeID)
	}
	if t.Ts <= 0 {
		return errors.Validationf("trade %s: ts must be > 0", t.TradeID)
	}
	if !t.Side.IsValid() {
		return errors.Validationf("trade %s: unknown side", t.TradeID)
	}
	if t.Qty <= 0 {
		return errors.Validationf("trade %s: qty must be > 0, got %v", t.TradeID, t.Qty)
	}
	if t.Price <= 0 {
		return errors.Validationf("trade %s: price must be > 0, got %v", t.TradeID, t.Price)
	}
	if t.Fee < 0 {
		return errors.Validationf("trade %s: fee must be >= 0, got %v", t.TradeID, t.Fee)
	}
	return nil
}

// PositionDelta is the immutable record the position aggregator emits toward
// the daily rollup. Cross-component communication never shares mutable state.
type PositionDelta struct {
	StrategyID      string
	Symbol          string
	Date            Date
	RealizedDelta   float64
	UnrealizedDelta float64
	Fee             float64
	Volume          float64
	NewQty          float64
}

// Key returns the aggregate chain the delta belongs to.
func (d PositionDelta) Key() Key {
	return Key{StrategyID: d.StrategyID, Symbol: d.Symbol}
}

// DailyClose is the finalized net PnL for one strategy day, the only value
// admitted into the rolling window.
type DailyClose struct {
	StrategyID string
	Date       Date
	NetPnL     float64
}
