package ledger

import (
	"time"

	"main/internal/schema"
)

// BarRow is a persisted one-minute price bar.
type BarRow struct {
	ID     uint64  `gorm:"column:id;primaryKey;autoIncrement"`
	Symbol string  `gorm:"column:symbol;size:32;not null;uniqueIndex:ux_bars_symbol_ts,priority:1"`
	Ts     int64   `gorm:"column:ts;not null;uniqueIndex:ux_bars_symbol_ts,priority:2"`
	Open   float64 `gorm:"column:open;not null"`
	High   float64 `gorm:"column:high;not null"`
	Low    float64 `gorm:"column:low;not null"`
	Close  float64 `gorm:"column:close;not null"`
	Volume float64 `gorm:"column:volume;not null"`
	VWAP   float64 `gorm:"column:vwap"`
	HasVWAP bool   `gorm:"column:has_vwap;not null"`
}

func (BarRow) TableName() string { return "bars_1m" }

// OrderRow is a persisted order. ParentOrderID links amended orders to
// their original.
type OrderRow struct {
	OrderID       string  `gorm:"column:order_id;size:64;primaryKey"`
	ParentOrderID *string `gorm:"column:parent_order_id;size:64;index"`
	StrategyID    string  `gorm:"column:strategy_id;size:32;not null;index"`
	Symbol        string  `gorm:"column:symbol;size:32;not null;index"`
	Side          string  `gorm:"column:side;size:8;not null"`
	Type          string  `gorm:"column:type;size:16;not null"`
	Status        string  `gorm:"column:status;size:16;not null"`
	TimeInForce   string  `gorm:"column:time_in_force;size:8;not null"`
	Price         float64 `gorm:"column:price"`
	HasPrice      bool    `gorm:"column:has_price;not null"`
	Qty           float64 `gorm:"column:qty;not null"`
	Ts            int64   `gorm:"column:ts;not null;index"`
}

func (OrderRow) TableName() string { return "orders" }

// TradeRow is a persisted fill. TradeID is the idempotency key.
type TradeRow struct {
	TradeID    string  `gorm:"column:trade_id;size:64;primaryKey"`
	OrderID    string  `gorm:"column:order_id;size:64;not null;index"`
	StrategyID string  `gorm:"column:strategy_id;size:32;not null;index"`
	Symbol     string  `gorm:"column:symbol;size:32;not null;index"`
	Side       string  `gorm:"column:side;size:8;not null"`
	Price      float64 `gorm:"column:price;not null"`
	Qty        float64 `gorm:"column:qty;not null"`
	Fee        float64 `gorm:"column:fee;not null"`
	Liquidity  string  `gorm:"column:liquidity;size:8;not null"`
	Venue      string  `gorm:"column:venue;size:32"`
	Ts         int64   `gorm:"column:ts;not null;index"`
}

func (TradeRow) TableName() string { return "trades" }

// PositionRow is the mutable current position per (strategy, symbol).
type PositionRow struct {
	ID            uint64  `gorm:"column:id;primaryKey;autoIncrement"`
	StrategyID    string  `gorm:"column:strategy_id;size:32;not null;uniqueIndex:ux_positions_key,priority:1"`
	Symbol        string  `gorm:"column:symbol;size:32;not null;uniqueIndex:ux_positions_key,priority:2"`
	Qty           float64 `gorm:"column:qty;not null"`
	AvgPrice      float64 `gorm:"column:avg_price"`
	AvgPriceValid bool    `gorm:"column:avg_price_valid;not null"`
	RealizedPnL   float64 `gorm:"column:realized_pnl;not null"`
	UnrealizedPnL float64 `gorm:"column:unrealized_pnl;not null"`
	UpdatedAt     int64   `gorm:"column:updated_at;not null"`
}

func (PositionRow) TableName() string { return "positions" }

// PositionEventRow is the append-only audit trail behind positions.
// EventID is a ULID so rows sort by creation time.
type PositionEventRow struct {
	EventID    string  `gorm:"column:event_id;size:26;primaryKey"`
	TradeID    string  `gorm:"column:trade_id;size:64;not null;index"`
	StrategyID string  `gorm:"column:strategy_id;size:32;not null;index"`
	Symbol     string  `gorm:"column:symbol;size:32;not null"`
	Qty        float64 `gorm:"column:qty;not null"`
	AvgPrice   float64 `gorm:"column:avg_price"`
	AvgValid   bool    `gorm:"column:avg_valid;not null"`
	Realized   float64 `gorm:"column:realized;not null"`
	Ts         int64   `gorm:"column:ts;not null;index"`
}

func (PositionEventRow) TableName() string { return "position_events" }

// PnlDailyRow is one finalized or accumulating daily bucket.
type PnlDailyRow struct {
	StrategyID string  `gorm:"column:strategy_id;size:32;primaryKey"`
	Symbol     string  `gorm:"column:symbol;size:32;primaryKey"`
	TradeDate  string  `gorm:"column:trade_date;size:10;primaryKey"`
	Realized   float64 `gorm:"column:realized;not null"`
	Unrealized float64 `gorm:"column:unrealized;not null"`
	Fees       float64 `gorm:"column:fees;not null"`
	Volume     float64 `gorm:"column:volume;not null"`
	Finalized  bool    `gorm:"column:finalized;not null"`
	UpdatedAt  int64   `gorm:"column:updated_at;not null"`
}

func (PnlDailyRow) TableName() string { return "pnl_daily" }

func barRowOf(bar schema.Bar) BarRow {
	return BarRow{
		Symbol:  bar.Symbol,
		Ts:      bar.Ts,
		Open:    bar.Open,
		High:    bar.High,
		Low:     bar.Low,
		Close:   bar.Close,
		Volume:  bar.Volume,
		VWAP:    bar.VWAP,
		HasVWAP: bar.HasVWAP,
	}
}

func (r BarRow) Bar() schema.Bar {
	return schema.Bar{
		Symbol:  r.Symbol,
		Ts:      r.Ts,
		Open:    r.Open,
		High:    r.High,
		Low:     r.Low,
		Close:   r.Close,
		Volume:  r.Volume,
		VWAP:    r.VWAP,
		HasVWAP: r.HasVWAP,
	}
}

func orderRowOf(order schema.Order) OrderRow {
	row := OrderRow{
		OrderID:     order.OrderID,
		StrategyID:  order.StrategyID,
		Symbol:      order.Symbol,
		Side:        order.Side.String(),
		Type:        order.Type.String(),
		Status:      order.Status.String(),
		TimeInForce: order.TimeInForce.String(),
		Price:       order.Price,
		HasPrice:    order.HasPrice,
		Qty:         order.Qty,
		Ts:          order.Ts,
	}
	if order.ParentOrderID != "" {
		parent := order.ParentOrderID
		row.ParentOrderID = &parent
	}
	return row
}

func (r OrderRow) Order() schema.Order {
	order := schema.Order{
		OrderID:     r.OrderID,
		StrategyID:  r.StrategyID,
		Symbol:      r.Symbol,
		Side:        schema.ParseSide(r.Side),
		Type:        schema.ParseOrderType(r.Type),
		Status:      schema.ParseOrderStatus(r.Status),
		TimeInForce: schema.ParseTimeInForce(r.TimeInForce),
		Price:       r.Price,
		HasPrice:    r.HasPrice,
		Qty:         r.Qty,
		Ts:          r.Ts,
	}
	if r.ParentOrderID != nil {
		order.ParentOrderID = *r.ParentOrderID
	}
	return order
}

func tradeRowOf(trade schema.Trade) TradeRow {
	return TradeRow{
		TradeID:    trade.TradeID,
		OrderID:    trade.OrderID,
		StrategyID: trade.StrategyID,
		Symbol:     trade.Symbol,
		Side:       trade.Side.String(),
		Price:      trade.Price,
		Qty:        trade.Qty,
		Fee:        trade.Fee,
		Liquidity:  trade.Liquidity.String(),
		Venue:      trade.Venue,
		Ts:         trade.Ts,
	}
}

func (r TradeRow) Trade() schema.Trade {
	return schema.Trade{
		TradeID:    r.TradeID,
		OrderID:    r.OrderID,
		StrategyID: r.StrategyID,
		Symbol:     r.Symbol,
		Side:       schema.ParseSide(r.Side),
		Price:      r.Price,
		Qty:        r.Qty,
		Fee:        r.Fee,
		Liquidity:  schema.ParseLiquidity(r.Liquidity),
		Venue:      r.Venue,
		Ts:         r.Ts,
	}
}

func dateKey(d schema.Date) string {
	return d.String()
}

func dateOfKey(s string) (schema.Date, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return schema.Date{}, err
	}
	return schema.DateOf(t), nil
}
