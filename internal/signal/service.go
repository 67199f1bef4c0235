// Package signal maintains the cached trend/decision snapshot per symbol.
//
// A single background writer folds bars into indicator state and publishes
// immutable versioned snapshots; reads always come from the last published
// snapshot and never trigger computation.
package signal

import (
	"sync"
	"sync/atomic"
	"time"

	"main/internal/errors"
	"main/internal/schema"
)

const (
	defaultShortPeriod = 20
	defaultLongPeriod  = 50
	defaultRSIPeriod   = 14

	neutralRSI = 50.0

	// Decision thresholds. Comparisons are strict: RSI exactly 70 holds
	// in an uptrend, exactly 30 holds in a downtrend.
	overboughtRSI = 70.0
	oversoldRSI   = 30.0
)

// State is the lifecycle of one symbol tracker. Ready is only ever
// superseded by a fresh Ready snapshot.
type State uint16

const (
	StateWarmingUp State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "READY"
	}
	return "WARMING_UP"
}

// Snapshot is the published decision state for one symbol. Immutable once
// published; replaced wholesale with a strictly increasing version.
type Snapshot struct {
	Symbol      string
	State       State
	Trend       schema.Trend
	Decision    schema.Decision
	RSI         float64
	AsOf        int64 // ts of the bar the snapshot derives from
	Version     uint64
	PublishedAt time.Time
}

// CachedSignal is a snapshot read, tagged stale once the snapshot age
// exceeds the configured bound.
type CachedSignal struct {
	Snapshot
	Stale bool
}

// Config tunes the signal service.
type Config struct {
	ShortPeriod    int
	LongPeriod     int
	RSIPeriod      int
	StalenessBound time.Duration
}

func (c Config) withDefaults() Config {
	if c.ShortPeriod <= 0 {
		c.ShortPeriod = defaultShortPeriod
	}
	if c.LongPeriod <= 0 {
		c.LongPeriod = defaultLongPeriod
	}
	if c.RSIPeriod <= 0 {
		c.RSIPeriod = defaultRSIPeriod
	}
	return c
}

type tracker struct {
	sma     *smaPair
	rsi     *wilderRSI
	bars    int
	current atomic.Pointer[Snapshot]
}

// Service owns SignalSnapshot state for all tracked symbols.
type Service struct {
	cfg      Config
	trackers map[string]*tracker
	mu       sync.RWMutex
	version  atomic.Uint64
	now      func() time.Time
}

// NewService creates trackers for the given symbols, each starting in the
// warming-up state with a neutral snapshot.
func NewService(cfg Config, symbols []string) *Service {
	s := &Service{
		cfg:      cfg.withDefaults(),
		trackers: make(map[string]*tracker, len(symbols)),
		now:      time.Now,
	}
	for _, symbol := range symbols {
		s.Track(symbol)
	}
	return s
}

// Track registers a symbol, publishing its neutral warm-up snapshot.
func (s *Service) Track(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trackers[symbol]; ok {
		return
	}
	tr := &tracker{
		sma: newSMAPair(s.cfg.ShortPeriod, s.cfg.LongPeriod),
		rsi: newWilderRSI(s.cfg.RSIPeriod),
	}
	tr.current.Store(&Snapshot{
		Symbol:      symbol,
		State:       StateWarmingUp,
		Trend:       schema.TrendFlat,
		Decision:    schema.DecisionHold,
		RSI:         neutralRSI,
		Version:     s.version.Add(1),
		PublishedAt: s.now(),
	})
	s.trackers[symbol] = tr
}

// OnBar folds one bar into the symbol's indicator state and publishes the
// refreshed snapshot. The second return reports whether the observable
// signal (trend, decision, RSI) changed. Must be called from the single
// bar-stream writer.
func (s *Service) OnBar(bar schema.Bar) (Snapshot, bool, error) {
	if err := bar.Validate(); err != nil {
		return Snapshot{}, false, err
	}
	tr := s.tracker(bar.Symbol)
	if tr == nil {
		return Snapshot{}, false, errors.Validationf("symbol %s not tracked", bar.Symbol)
	}

	tr.sma.push(bar.Close)
	tr.rsi.push(bar.Close)
	tr.bars++

	prev := tr.current.Load()
	next := Snapshot{
		Symbol:      bar.Symbol,
		State:       StateWarmingUp,
		Trend:       schema.TrendFlat,
		Decision:    schema.DecisionHold,
		RSI:         neutralRSI,
		AsOf:        bar.Ts,
		Version:     s.version.Add(1),
		PublishedAt: s.now(),
	}
	if tr.bars >= s.cfg.LongPeriod {
		next.State = StateReady
		next.RSI = tr.rsi.value()
		next.Trend, next.Decision = decide(tr.sma, next.RSI)
	}
	tr.current.Store(&next)

	changed := prev == nil ||
		prev.Trend != next.Trend ||
		prev.Decision != next.Decision ||
		prev.RSI != next.RSI
	return next, changed, nil
}

// Current returns the last published snapshot for a symbol; it never
// computes. The result is tagged stale once its age exceeds the bound.
func (s *Service) Current(symbol string) (CachedSignal, bool) {
	tr := s.tracker(symbol)
	if tr == nil {
		return CachedSignal{}, false
	}
	snap := tr.current.Load()
	stale := s.cfg.StalenessBound > 0 && s.now().Sub(snap.PublishedAt) > s.cfg.StalenessBound
	return CachedSignal{Snapshot: *snap, Stale: stale}, true
}

// Symbols returns the tracked symbols.
func (s *Service) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.trackers))
	for symbol := range s.trackers {
		out = append(out, symbol)
	}
	return out
}

func (s *Service) tracker(symbol string) *tracker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trackers[symbol]
}

// decide applies the pinned MA(20/50)+RSI(14) policy: buy an uptrend that
// is not overbought, sell a downtrend that is not oversold.
func decide(sma *smaPair, rsi float64) (schema.Trend, schema.Decision) {
	if !sma.ready() {
		return schema.TrendFlat, schema.DecisionHold
	}
	short, long := sma.values()
	switch {
	case short > long:
		if rsi < overboughtRSI {
			return schema.TrendUp, schema.DecisionBuy
		}
		return schema.TrendUp, schema.DecisionHold
	case short < long:
		if rsi > oversoldRSI {
			return schema.TrendDown, schema.DecisionSell
		}
		return schema.TrendDown, schema.DecisionHold
	default:
		return schema.TrendFlat, schema.DecisionHold
	}
}
