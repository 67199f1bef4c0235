// Package engine wires the ingest pipeline: bounded per-symbol queues feed
// single-writer workers that fold bars and fills into the aggregates, write
// through to the ledger, and publish signal snapshots to subscribers.
package engine

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/errors"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/position"
	"main/internal/rolling"
	"main/internal/rollup"
	"main/internal/schema"
	"main/internal/signal"
	"main/internal/state"
)

const (
	defaultWorkers          = 4
	defaultQueueCapacity    = 4096
	defaultSubscriberBuffer = 64

	sourceIngest uint16 = 1
)

// Config tunes the pipeline.
type Config struct {
	Workers          int
	QueueCapacity    int
	ReorderWindow    time.Duration
	SubscriberBuffer int
	MarkToMarket     bool
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = defaultSubscriberBuffer
	}
	return c
}

// Deps are the collaborators the engine drives. All are required except
// Metrics.
type Deps struct {
	Registry  *schema.Registry
	Positions *position.Aggregator
	Rollups   *rollup.Engine
	Windows   *rolling.Engine
	Signals   *signal.Service
	Hub       *bus.Hub
	Ledger    ledger.Ledger
	Metrics   *obs.Metrics
}

// Engine owns the worker pool. Events for one symbol always land on the same
// worker, so every aggregate key has exactly one writer.
type Engine struct {
	cfg  Config
	deps Deps

	queues []*bus.Queue
	wg     sync.WaitGroup

	seq         atomic.Uint64
	lastTradeTs atomic.Int64
	traces      *obs.TraceGenerator

	mu      sync.Mutex
	openDay map[string]schema.Date
}

// New creates an engine; Start must be called before submitting events.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Registry == nil || deps.Positions == nil || deps.Rollups == nil ||
		deps.Windows == nil || deps.Signals == nil || deps.Hub == nil || deps.Ledger == nil {
		return nil, errors.Validationf("engine is missing a dependency")
	}
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		queues:  make([]*bus.Queue, cfg.Workers),
		traces:  obs.NewTraceGenerator(0),
		openDay: make(map[string]schema.Date),
	}
	for i := range e.queues {
		e.queues[i] = bus.NewQueue(cfg.QueueCapacity)
	}
	deps.Hub.OnGap(deps.Metrics.IncGapDelivery)
	return e, nil
}

// Start launches one consumer goroutine per queue.
func (e *Engine) Start(ctx context.Context) {
	for _, q := range e.queues {
		e.wg.Add(1)
		go func(q *bus.Queue) {
			defer e.wg.Done()
			reorder := newReorderBuffer(e.cfg.ReorderWindow)
			q.Run(ctx, func(ev bus.Event) {
				ready, err := reorder.add(ev)
				if err != nil {
					e.deps.Metrics.IncReorderReject()
					logs.Errorf("drop late event, err: %+v", err)
					return
				}
				for _, r := range ready {
					e.handle(ctx, r)
				}
			})
			for _, r := range reorder.flush() {
				e.handle(ctx, r)
			}
		}(q)
	}
}

// Close stops intake and waits for the workers to drain.
func (e *Engine) Close() {
	for _, q := range e.queues {
		q.Close()
	}
	e.wg.Wait()
}

// SubmitBar queues one bar for ingestion. It never blocks: a full queue
// surfaces as an unavailable error and the bar is dropped.
func (e *Engine) SubmitBar(bar schema.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	if !e.deps.Registry.HasSymbol(bar.Symbol) {
		return errors.Validationf("symbol %s is not registered", bar.Symbol)
	}
	header := e.header(schema.EventBar, bar.Ts)
	return e.publish(bar.Symbol, bus.Event{Header: header, Bar: &bar})
}

// SubmitTrade queues one fill for ingestion.
func (e *Engine) SubmitTrade(trade schema.Trade) error {
	if err := trade.Validate(); err != nil {
		return err
	}
	if !e.deps.Registry.HasSymbol(trade.Symbol) {
		return errors.Validationf("symbol %s is not registered", trade.Symbol)
	}
	if !e.deps.Registry.HasStrategy(trade.StrategyID) {
		return errors.Validationf("strategy %s is not registered", trade.StrategyID)
	}
	header := e.header(schema.EventTrade, trade.Ts)
	return e.publish(trade.Symbol, bus.Event{Header: header, Trade: &trade})
}

// SubmitOrder records an order in the ledger. Orders never touch aggregate
// state; they exist so fills can reference a parent.
func (e *Engine) SubmitOrder(ctx context.Context, order schema.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	if !e.deps.Registry.HasSymbol(order.Symbol) {
		return errors.Validationf("symbol %s is not registered", order.Symbol)
	}
	if !e.deps.Registry.HasStrategy(order.StrategyID) {
		return errors.Validationf("strategy %s is not registered", order.StrategyID)
	}
	if err := e.deps.Ledger.AppendOrder(ctx, order); err != nil {
		e.deps.Metrics.IncLedgerFailure()
		return err
	}
	return nil
}

// CancelOrder removes an order with all of its fills and reverses their
// aggregate effects, as if each fill had been met by an inverse fill at the
// original price.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	removed, err := e.deps.Ledger.DeleteOrderCascade(ctx, orderID)
	if err != nil {
		if errors.IsUnavailable(err) {
			e.deps.Metrics.IncLedgerFailure()
		}
		return err
	}
	for _, trade := range removed {
		pos, delta, err := e.deps.Positions.Reverse(trade)
		if err != nil {
			logs.Errorf("reverse fill %s, err: %+v", trade.TradeID, err)
			continue
		}
		if err := e.deps.Rollups.OnDelta(delta, trade.Ts); err != nil {
			logs.Errorf("reverse delta %s, err: %+v", trade.TradeID, err)
			continue
		}
		e.writeThroughPosition(ctx, trade.TradeID+"#rev", pos, delta)
	}
	return nil
}

// Signal returns the cached snapshot for a symbol. It never computes.
func (e *Engine) Signal(symbol string) (signal.CachedSignal, error) {
	cached, ok := e.deps.Signals.Current(symbol)
	if !ok {
		return signal.CachedSignal{}, errors.Validationf("symbol %s is not tracked", symbol)
	}
	if cached.Stale {
		e.deps.Metrics.IncStaleServe()
	}
	return cached, nil
}

// Subscribe registers a signal subscriber for one symbol; the current
// snapshot is delivered immediately.
func (e *Engine) Subscribe(symbol string) (*bus.Subscription, error) {
	if !e.deps.Registry.HasSymbol(symbol) {
		return nil, errors.Validationf("symbol %s is not registered", symbol)
	}
	return e.deps.Hub.Subscribe(symbol, e.cfg.SubscriberBuffer), nil
}

// Checkpoint writes the current aggregate state to path.
func (e *Engine) Checkpoint(path string) error {
	checkpoint := state.Capture(
		e.deps.Positions, e.deps.Rollups, e.deps.Windows,
		e.seq.Load(), e.lastTradeTs.Load(),
	)
	return state.WriteCheckpoint(path, checkpoint)
}

// RunCheckpoints writes checkpoints on a fixed cadence until ctx is done.
func (e *Engine) RunCheckpoints(ctx context.Context, path string, interval time.Duration) {
	if path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Checkpoint(path); err != nil {
				logs.Errorf("write checkpoint, err: %+v", err)
			}
		}
	}
}

// RestoreClock seeds the sequence and trade-ts watermarks after recovery.
func (e *Engine) RestoreClock(lastSeq uint64, lastTradeTs int64) {
	e.seq.Store(lastSeq)
	e.lastTradeTs.Store(lastTradeTs)
}

func (e *Engine) header(eventType schema.EventType, tsEvent int64) schema.EventHeader {
	header := schema.NewHeader(eventType, sourceIngest, e.seq.Add(1), tsEvent, time.Now().UTC().UnixNano())
	header.TraceID = e.traces.Next()
	return header
}

func (e *Engine) publish(symbol string, ev bus.Event) error {
	q := e.queues[e.shard(symbol)]
	if err := q.TryPublish(ev); err != nil {
		if errors.Is(err, bus.ErrQueueFull) {
			e.deps.Metrics.IncQueueDrop()
			return errors.Unavailable(err, "ingest queue full")
		}
		e.deps.Metrics.IncQueueClosed()
		return errors.Unavailable(err, "ingest queue closed")
	}
	e.deps.Metrics.ObserveEvent(ev.Header)
	return nil
}

// shard pins every event for a symbol to one worker, keeping a single writer
// per aggregate key.
func (e *Engine) shard(symbol string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(len(e.queues)))
}

func (e *Engine) handle(ctx context.Context, ev bus.Event) {
	switch ev.Header.Type {
	case schema.EventBar:
		if ev.Bar != nil {
			e.onBar(ctx, *ev.Bar, ev.Header)
		}
	case schema.EventTrade:
		if ev.Trade != nil {
			e.onTrade(ctx, *ev.Trade, ev.Header)
		}
	default:
		logs.Errorf("unhandled event type %d", ev.Header.Type)
	}
}

func (e *Engine) onBar(ctx context.Context, bar schema.Bar, header schema.EventHeader) {
	if err := e.deps.Ledger.AppendBar(ctx, bar); err != nil {
		e.deps.Metrics.IncLedgerFailure()
		logs.Errorf("persist bar %s@%d, err: %+v", bar.Symbol, bar.Ts, err)
	}

	snap, changed, err := e.deps.Signals.OnBar(bar)
	if err != nil {
		logs.Errorf("fold bar %s@%d, err: %+v", bar.Symbol, bar.Ts, err)
		return
	}
	e.deps.Hub.Publish(snap, changed)
	e.deps.Metrics.ObservePublish(time.Since(time.Unix(0, header.TsRecv)))

	if e.cfg.MarkToMarket {
		e.markToMarket(ctx, bar)
	}
}

// markToMarket refreshes unrealized PnL for every open position on the bar's
// symbol at the bar close. Safe here: the bar worker is the symbol's only
// writer.
func (e *Engine) markToMarket(ctx context.Context, bar schema.Bar) {
	for _, pos := range e.deps.Positions.All() {
		if pos.Symbol != bar.Symbol || pos.Qty == 0 {
			continue
		}
		marked, delta, err := e.deps.Positions.Mark(pos.Key(), bar.Close, bar.Ts)
		if err != nil {
			logs.Errorf("mark %s, err: %+v", pos.Key(), err)
			continue
		}
		if delta.UnrealizedDelta == 0 {
			continue
		}
		if err := e.deps.Rollups.OnDelta(delta, bar.Ts); err != nil {
			logs.Errorf("mark delta %s, err: %+v", pos.Key(), err)
			continue
		}
		if err := e.deps.Ledger.UpsertPosition(ctx, marked); err != nil {
			e.deps.Metrics.IncLedgerFailure()
			logs.Errorf("persist marked position %s, err: %+v", pos.Key(), err)
		}
		e.writeThroughBucket(ctx, delta)
	}
}

func (e *Engine) onTrade(ctx context.Context, trade schema.Trade, header schema.EventHeader) {
	received := time.Unix(0, header.TsRecv)
	e.rolloverDay(ctx, trade.StrategyID, trade.Date())

	pos, delta, err := e.deps.Positions.Apply(trade)
	if err != nil {
		if errors.IsConsistency(err) {
			e.deps.Metrics.IncDuplicateTrade()
			logs.Infof("duplicate fill %s dropped", trade.TradeID)
		} else {
			logs.Errorf("apply fill %s, err: %+v", trade.TradeID, err)
		}
		return
	}

	if err := e.deps.Ledger.AppendTrade(ctx, trade); err != nil {
		switch {
		case errors.IsConsistency(err):
			logs.Infof("fill %s already persisted", trade.TradeID)
		default:
			e.deps.Metrics.IncLedgerFailure()
			logs.Errorf("persist fill %s, err: %+v", trade.TradeID, err)
		}
	}

	if err := e.deps.Rollups.OnDelta(delta, trade.Ts); err != nil {
		logs.Errorf("fold delta %s, err: %+v", trade.TradeID, err)
		return
	}
	e.writeThroughPosition(ctx, trade.TradeID, pos, delta)

	e.advanceTradeTs(trade.Ts)
	e.deps.Metrics.ObserveApply(time.Since(received))
}

// rolloverDay finalizes the previous open day for a strategy once a fill
// lands on a later execution date. The net close feeds the rolling window
// exactly once; the day's buckets are republished as finalized.
func (e *Engine) rolloverDay(ctx context.Context, strategyID string, date schema.Date) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, ok := e.openDay[strategyID]
	e.openDay[strategyID] = date
	if !ok || !prev.Before(date) {
		return
	}

	dayClose, err := e.deps.Rollups.FinalizeDay(strategyID, prev)
	if err != nil {
		// Already finalized, e.g. restored from a checkpoint.
		if !errors.IsConsistency(err) {
			logs.Errorf("finalize %s %s, err: %+v", strategyID, prev, err)
		}
		return
	}
	if _, err := e.deps.Windows.OnDailyClose(dayClose); err != nil && !errors.IsConsistency(err) {
		logs.Errorf("admit close %s %s, err: %+v", strategyID, prev, err)
	}

	for _, symbol := range e.deps.Registry.Symbols() {
		bucket, ok := e.deps.Rollups.Bucket(schema.Key{StrategyID: strategyID, Symbol: symbol}, prev)
		if !ok {
			continue
		}
		if err := e.deps.Ledger.UpsertDailyPnL(ctx, bucket, true); err != nil {
			e.deps.Metrics.IncLedgerFailure()
			logs.Errorf("persist finalized bucket %s/%s %s, err: %+v", strategyID, symbol, prev, err)
		}
	}
}

func (e *Engine) writeThroughPosition(ctx context.Context, eventID string, pos position.Position, delta schema.PositionDelta) {
	if err := e.deps.Ledger.UpsertPosition(ctx, pos); err != nil {
		e.deps.Metrics.IncLedgerFailure()
		logs.Errorf("persist position %s, err: %+v", pos.Key(), err)
	}
	if err := e.deps.Ledger.AppendPositionEvent(ctx, eventID, pos); err != nil {
		e.deps.Metrics.IncLedgerFailure()
		logs.Errorf("persist position event %s, err: %+v", eventID, err)
	}
	e.writeThroughBucket(ctx, delta)
}

func (e *Engine) writeThroughBucket(ctx context.Context, delta schema.PositionDelta) {
	bucket, ok := e.deps.Rollups.Bucket(delta.Key(), delta.Date)
	if !ok {
		return
	}
	if err := e.deps.Ledger.UpsertDailyPnL(ctx, bucket, false); err != nil {
		e.deps.Metrics.IncLedgerFailure()
		logs.Errorf("persist bucket %s %s, err: %+v", delta.Key(), delta.Date, err)
	}
}

func (e *Engine) advanceTradeTs(ts int64) {
	for {
		cur := e.lastTradeTs.Load()
		if ts <= cur || e.lastTradeTs.CompareAndSwap(cur, ts) {
			return
		}
	}
}
