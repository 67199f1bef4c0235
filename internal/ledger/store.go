package ledger

import (
	"context"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/errors"
	"main/internal/position"
	"main/internal/rollup"
	"main/internal/schema"
)

// Store is the gorm-backed Ledger.
type Store struct {
	db *gorm.DB
}

var _ Ledger = (*Store)(nil)

// NewStore opens the database and migrates the ledger tables.
func NewStore(option Option) (*Store, error) {
	db, err := open(option)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&BarRow{},
		&OrderRow{},
		&TradeRow{},
		&PositionRow{},
		&PositionEventRow{},
		&PnlDailyRow{},
	); err != nil {
		return nil, errors.Unavailable(err, "migrate ledger tables")
	}

	return &Store{db: db}, nil
}

func (s *Store) AppendBar(ctx context.Context, bar schema.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	row := barRowOf(bar)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "ts"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "vwap", "has_vwap"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Unavailable(err, "append bar")
	}
	return nil
}

func (s *Store) AppendOrder(ctx context.Context, order schema.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	row := orderRowOf(order)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if order.ParentOrderID != "" {
			var parentCount int64
			if err := tx.Model(&OrderRow{}).Where("order_id = ?", order.ParentOrderID).Count(&parentCount).Error; err != nil {
				return errors.Unavailable(err, "look up parent order")
			}
			if parentCount == 0 {
				return errors.Consistencyf("order %s references unknown parent %s", order.OrderID, order.ParentOrderID)
			}
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			UpdateAll: true,
		}).Create(&row).Error; err != nil {
			return errors.Unavailable(err, "append order")
		}
		return nil
	})
}

func (s *Store) AppendTrade(ctx context.Context, trade schema.Trade) error {
	if err := trade.Validate(); err != nil {
		return err
	}
	row := tradeRowOf(trade)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var orderCount int64
		if err := tx.Model(&OrderRow{}).Where("order_id = ?", trade.OrderID).Count(&orderCount).Error; err != nil {
			return errors.Unavailable(err, "look up parent order")
		}
		if orderCount == 0 {
			return errors.Consistencyf("trade %s references unknown order %s", trade.TradeID, trade.OrderID)
		}

		var tradeCount int64
		if err := tx.Model(&TradeRow{}).Where("trade_id = ?", trade.TradeID).Count(&tradeCount).Error; err != nil {
			return errors.Unavailable(err, "look up trade id")
		}
		if tradeCount != 0 {
			return errors.Consistencyf("trade id %s already recorded", trade.TradeID)
		}

		if err := tx.Create(&row).Error; err != nil {
			return errors.Unavailable(err, "append trade")
		}
		return nil
	})
	return err
}

func (s *Store) BarsRange(ctx context.Context, symbol string, from, to int64) ([]schema.Bar, error) {
	var rows []BarRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND ts >= ? AND ts < ?", symbol, from, to).
		Order("ts ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Unavailable(err, "range bars")
	}

	bars := make([]schema.Bar, 0, len(rows))
	for _, row := range rows {
		bars = append(bars, row.Bar())
	}
	return bars, nil
}

func (s *Store) TradesRange(ctx context.Context, key schema.Key, from, to int64) ([]schema.Trade, error) {
	var rows []TradeRow
	err := s.db.WithContext(ctx).
		Where("strategy_id = ? AND symbol = ? AND ts >= ? AND ts < ?", key.StrategyID, key.Symbol, from, to).
		Order("ts ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Unavailable(err, "range trades")
	}
	return tradesOf(rows), nil
}

func (s *Store) TradesAfter(ctx context.Context, ts int64, tradeID string, limit int) ([]schema.Trade, error) {
	query := s.db.WithContext(ctx).
		Where("ts > ? OR (ts = ? AND trade_id > ?)", ts, ts, tradeID).
		Order("ts ASC, trade_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []TradeRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, errors.Unavailable(err, "read trades after checkpoint")
	}
	return tradesOf(rows), nil
}

func (s *Store) UpsertPosition(ctx context.Context, pos position.Position) error {
	row := PositionRow{
		StrategyID:    pos.StrategyID,
		Symbol:        pos.Symbol,
		Qty:           pos.Qty,
		AvgPrice:      pos.AvgPrice,
		AvgPriceValid: pos.AvgPriceValid,
		RealizedPnL:   pos.RealizedPnL,
		UnrealizedPnL: pos.UnrealizedPnL,
		UpdatedAt:     pos.UpdatedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "strategy_id"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"qty", "avg_price", "avg_price_valid", "realized_pnl", "unrealized_pnl", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Unavailable(err, "upsert position")
	}
	return nil
}

func (s *Store) AppendPositionEvent(ctx context.Context, tradeID string, pos position.Position) error {
	row := PositionEventRow{
		EventID:    ulid.Make().String(),
		TradeID:    tradeID,
		StrategyID: pos.StrategyID,
		Symbol:     pos.Symbol,
		Qty:        pos.Qty,
		AvgPrice:   pos.AvgPrice,
		AvgValid:   pos.AvgPriceValid,
		Realized:   pos.RealizedPnL,
		Ts:         pos.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Unavailable(err, "append position event")
	}
	return nil
}

func (s *Store) Positions(ctx context.Context) ([]position.Position, error) {
	var rows []PositionRow
	err := s.db.WithContext(ctx).
		Order("strategy_id ASC, symbol ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Unavailable(err, "read positions")
	}

	positions := make([]position.Position, 0, len(rows))
	for _, row := range rows {
		positions = append(positions, position.Position{
			StrategyID:    row.StrategyID,
			Symbol:        row.Symbol,
			Qty:           row.Qty,
			AvgPrice:      row.AvgPrice,
			AvgPriceValid: row.AvgPriceValid,
			RealizedPnL:   row.RealizedPnL,
			UnrealizedPnL: row.UnrealizedPnL,
			UpdatedAt:     row.UpdatedAt,
		})
	}
	return positions, nil
}

func (s *Store) LastKnownPosition(ctx context.Context, key schema.Key) (position.Position, error) {
	var row PositionEventRow
	err := s.db.WithContext(ctx).
		Where("strategy_id = ? AND symbol = ?", key.StrategyID, key.Symbol).
		Order("event_id DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return position.Position{}, errors.Consistencyf("no position events for %s", key)
		}
		return position.Position{}, errors.Unavailable(err, "read last position event")
	}
	return positionOfEvent(row), nil
}

func (s *Store) LastKnownPositions(ctx context.Context) ([]position.Position, error) {
	var rows []PositionEventRow
	err := s.db.WithContext(ctx).
		Order("event_id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Unavailable(err, "read position events")
	}

	// Rows arrive newest first, so the first row seen per key wins.
	seen := make(map[schema.Key]struct{}, len(rows))
	positions := make([]position.Position, 0, len(rows))
	for _, row := range rows {
		key := schema.Key{StrategyID: row.StrategyID, Symbol: row.Symbol}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		positions = append(positions, positionOfEvent(row))
	}
	return positions, nil
}

func positionOfEvent(row PositionEventRow) position.Position {
	return position.Position{
		StrategyID:    row.StrategyID,
		Symbol:        row.Symbol,
		Qty:           row.Qty,
		AvgPrice:      row.AvgPrice,
		AvgPriceValid: row.AvgValid,
		RealizedPnL:   row.Realized,
		UpdatedAt:     row.Ts,
	}
}

func (s *Store) UpsertDailyPnL(ctx context.Context, bucket rollup.Bucket, finalized bool) error {
	row := PnlDailyRow{
		StrategyID: bucket.StrategyID,
		Symbol:     bucket.Symbol,
		TradeDate:  dateKey(bucket.Date),
		Realized:   bucket.RealizedPnL,
		Unrealized: bucket.UnrealizedPnL,
		Fees:       bucket.Fees,
		Volume:     bucket.Volume,
		Finalized:  finalized,
		UpdatedAt:  bucket.UpdatedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "strategy_id"}, {Name: "symbol"}, {Name: "trade_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"realized", "unrealized", "fees", "volume", "finalized", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Unavailable(err, "upsert daily pnl")
	}
	return nil
}

func (s *Store) DailyPnLRange(ctx context.Context, strategyID string, from, to schema.Date) ([]rollup.Bucket, error) {
	var rows []PnlDailyRow
	err := s.db.WithContext(ctx).
		Where("strategy_id = ? AND trade_date >= ? AND trade_date <= ?", strategyID, dateKey(from), dateKey(to)).
		Order("trade_date ASC, symbol ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Unavailable(err, "range daily pnl")
	}

	buckets := make([]rollup.Bucket, 0, len(rows))
	for _, row := range rows {
		date, err := dateOfKey(row.TradeDate)
		if err != nil {
			return nil, errors.Consistencyf("malformed trade date %q in pnl_daily", row.TradeDate)
		}
		buckets = append(buckets, rollup.Bucket{
			StrategyID:    row.StrategyID,
			Symbol:        row.Symbol,
			Date:          date,
			RealizedPnL:   row.Realized,
			UnrealizedPnL: row.Unrealized,
			Fees:          row.Fees,
			Volume:        row.Volume,
			UpdatedAt:     row.UpdatedAt,
		})
	}
	return buckets, nil
}

func (s *Store) DeleteOrderCascade(ctx context.Context, orderID string) ([]schema.Trade, error) {
	var removed []schema.Trade
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order OrderRow
		if err := tx.Where("order_id = ?", orderID).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Consistencyf("order %s not found", orderID)
			}
			return errors.Unavailable(err, "look up order")
		}

		var rows []TradeRow
		if err := tx.Where("order_id = ?", orderID).Order("ts ASC").Find(&rows).Error; err != nil {
			return errors.Unavailable(err, "read order trades")
		}
		removed = tradesOf(rows)

		tradeIDs := make([]string, 0, len(rows))
		for _, row := range rows {
			tradeIDs = append(tradeIDs, row.TradeID)
		}

		if len(tradeIDs) != 0 {
			if err := tx.Where("trade_id IN ?", tradeIDs).Delete(&PositionEventRow{}).Error; err != nil {
				return errors.Unavailable(err, "delete position events")
			}
			if err := tx.Where("trade_id IN ?", tradeIDs).Delete(&TradeRow{}).Error; err != nil {
				return errors.Unavailable(err, "delete trades")
			}
		}

		// Orphan child orders rather than leaving a dangling parent id.
		if err := tx.Model(&OrderRow{}).Where("parent_order_id = ?", orderID).
			Update("parent_order_id", nil).Error; err != nil {
			return errors.Unavailable(err, "detach child orders")
		}
		if err := tx.Where("order_id = ?", orderID).Delete(&OrderRow{}).Error; err != nil {
			return errors.Unavailable(err, "delete order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *Store) PruneBefore(ctx context.Context, cutoffTs int64, cutoffDate schema.Date) (int64, error) {
	var pruned int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("ts < ?", cutoffTs).Delete(&BarRow{})
		if res.Error != nil {
			return errors.Unavailable(res.Error, "prune bars")
		}
		pruned += res.RowsAffected

		res = tx.Where("ts < ?", cutoffTs).Delete(&TradeRow{})
		if res.Error != nil {
			return errors.Unavailable(res.Error, "prune trades")
		}
		pruned += res.RowsAffected

		res = tx.Where("ts < ?", cutoffTs).Delete(&PositionEventRow{})
		if res.Error != nil {
			return errors.Unavailable(res.Error, "prune position events")
		}
		pruned += res.RowsAffected

		res = tx.Where("trade_date < ?", dateKey(cutoffDate)).Delete(&PnlDailyRow{})
		if res.Error != nil {
			return errors.Unavailable(res.Error, "prune daily pnl")
		}
		pruned += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pruned, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Unavailable(err, "resolve ledger connection")
	}
	return sqlDB.Close()
}

func tradesOf(rows []TradeRow) []schema.Trade {
	trades := make([]schema.Trade, 0, len(rows))
	for _, row := range rows {
		trades = append(trades, row.Trade())
	}
	return trades
}
