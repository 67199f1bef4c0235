package ledger

import (
	"context"

	"main/internal/position"
	"main/internal/rollup"
	"main/internal/schema"
)

// Ledger is the durable record behind the in-memory aggregates. Appends are
// write-through from the engine; range reads serve replay and recovery.
//
// Storage failures surface as unavailable errors so callers can distinguish
// them from malformed input. Referential breaks (a fill for an unknown order,
// a reused trade id) surface as consistency errors.
type Ledger interface {
	// AppendBar persists a bar. Re-ingesting the same (symbol, ts) replaces
	// the stored row.
	AppendBar(ctx context.Context, bar schema.Bar) error

	// AppendOrder persists an order, replacing any prior row with the same
	// order id so status transitions overwrite in place.
	AppendOrder(ctx context.Context, order schema.Order) error

	// AppendTrade persists a fill. The parent order must already exist and
	// the trade id must be unused.
	AppendTrade(ctx context.Context, trade schema.Trade) error

	// BarsRange returns bars for symbol with ts in [from, to), ascending.
	BarsRange(ctx context.Context, symbol string, from, to int64) ([]schema.Bar, error)

	// TradesRange returns fills for one aggregate key with ts in [from, to),
	// ascending.
	TradesRange(ctx context.Context, key schema.Key, from, to int64) ([]schema.Trade, error)

	// TradesAfter returns up to limit fills strictly after the (ts, tradeID)
	// cursor in (ts, trade_id) order. The trade id breaks ties between fills
	// sharing one execution timestamp, so paging never skips a row; an empty
	// trade id starts at the first fill with the given timestamp. It drives
	// checkpoint replay.
	TradesAfter(ctx context.Context, ts int64, tradeID string, limit int) ([]schema.Trade, error)

	// UpsertPosition overwrites the current position row for the key.
	UpsertPosition(ctx context.Context, pos position.Position) error

	// AppendPositionEvent records one position transition in the audit
	// trail. Event ids are generated ULIDs.
	AppendPositionEvent(ctx context.Context, tradeID string, pos position.Position) error

	// Positions returns the current position for every known key.
	Positions(ctx context.Context) ([]position.Position, error)

	// LastKnownPosition returns the most recent audit row for the key. A
	// key with no audit history is a Consistency error.
	LastKnownPosition(ctx context.Context, key schema.Key) (position.Position, error)

	// LastKnownPositions returns the most recent audit row per key.
	LastKnownPositions(ctx context.Context) ([]position.Position, error)

	// UpsertDailyPnL overwrites one daily bucket row.
	UpsertDailyPnL(ctx context.Context, bucket rollup.Bucket, finalized bool) error

	// DailyPnLRange returns buckets for a strategy with trade date in
	// [from, to], ascending by date then symbol.
	DailyPnLRange(ctx context.Context, strategyID string, from, to schema.Date) ([]rollup.Bucket, error)

	// DeleteOrderCascade removes an order, every fill referencing it, and
	// their audit events, all in one transaction. It returns the removed
	// fills so the caller can reverse their aggregate effects.
	DeleteOrderCascade(ctx context.Context, orderID string) ([]schema.Trade, error)

	// PruneBefore deletes bars and fills older than cutoffTs and daily
	// buckets dated before cutoffDate. It returns the number of rows
	// removed.
	PruneBefore(ctx context.Context, cutoffTs int64, cutoffDate schema.Date) (int64, error)

	// Close releases the underlying connection pool.
	Close() error
}
