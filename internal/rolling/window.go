// Package rolling maintains trailing-window moment state per strategy.
//
// The window holds maintained moments (count, sum, sum of squares) plus a
// value ring for O(1) eviction, so the Sharpe ratio never recomputes from
// source rows. Only finalized day closes are admitted, exactly once, in
// date order.
package rolling

import (
	"math"
	"sort"
	"sync"

	"main/internal/errors"
	"main/internal/schema"
)

const (
	// DefaultWindow is the trailing sample count for the rolling stats.
	DefaultWindow = 30
	// DefaultAnnualization is the trading-day count used to annualize.
	DefaultAnnualization = 252
)

// Config tunes the window engine.
type Config struct {
	Window        int
	Annualization int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Annualization <= 0 {
		c.Annualization = DefaultAnnualization
	}
	return c
}

// Stat is the rolling statistic row for one strategy day. Sharpe is
// undefined until the window is full and the variance is nonzero.
type Stat struct {
	StrategyID  string
	Date        schema.Date
	Mean        float64
	Std         float64
	SampleCount int
	Sharpe      float64
	SharpeValid bool
}

type window struct {
	values   []float64
	next     int
	count    int
	sum      float64
	sumsq    float64
	lastDate schema.Date
	hasLast  bool
}

// Engine owns RollingStat state. One writer submits day closes; reads copy.
type Engine struct {
	cfg     Config
	mu      sync.RWMutex
	windows map[string]*window
	latest  map[string]Stat
}

// NewEngine creates an engine with the given window configuration.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg.withDefaults(),
		windows: make(map[string]*window),
		latest:  make(map[string]Stat),
	}
}

// OnDailyClose admits one finalized day into the strategy's window and
// returns the refreshed stat. Duplicate or out-of-order days are rejected
// before any moment is touched; a day evicted from the window is never
// re-admitted.
func (e *Engine) OnDailyClose(dayClose schema.DailyClose) (Stat, error) {
	if dayClose.StrategyID == "" {
		return Stat{}, errors.Validationf("daily close strategy is empty")
	}
	if dayClose.Date.IsZero() {
		return Stat{}, errors.Validationf("daily close date is unset")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.windows[dayClose.StrategyID]
	if !ok {
		w = &window{values: make([]float64, e.cfg.Window)}
		e.windows[dayClose.StrategyID] = w
	}
	if w.hasLast && !w.lastDate.Before(dayClose.Date) {
		return e.latest[dayClose.StrategyID], errors.Consistencyf(
			"strategy %s: day %s submitted after %s", dayClose.StrategyID, dayClose.Date, w.lastDate)
	}

	value := dayClose.NetPnL
	if w.count == len(w.values) {
		// Window full: evict the oldest contribution before inserting.
		oldest := w.values[w.next]
		w.sum -= oldest
		w.sumsq -= oldest * oldest
		w.count--
	}
	w.values[w.next] = value
	w.next = (w.next + 1) % len(w.values)
	w.count++
	w.sum += value
	w.sumsq += value * value
	w.lastDate = dayClose.Date
	w.hasLast = true

	stat := e.stat(dayClose.StrategyID, dayClose.Date, w)
	e.latest[dayClose.StrategyID] = stat
	return stat, nil
}

// WindowState is the portable window content for one strategy, oldest value
// first. It carries enough to rebuild the moments exactly.
type WindowState struct {
	StrategyID string      `json:"strategyId"`
	Values     []float64   `json:"values"`
	LastDate   schema.Date `json:"lastDate"`
}

// State exports every strategy window, ordered by strategy id.
func (e *Engine) State() []WindowState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]WindowState, 0, len(e.windows))
	for strategyID, w := range e.windows {
		values := make([]float64, 0, w.count)
		// Oldest first: when the ring is full the next slot holds the oldest.
		start := 0
		if w.count == len(w.values) {
			start = w.next
		}
		for i := 0; i < w.count; i++ {
			values = append(values, w.values[(start+i)%len(w.values)])
		}
		out = append(out, WindowState{StrategyID: strategyID, Values: values, LastDate: w.lastDate})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out
}

// Restore replaces all windows, recomputing the moments from the values.
func (e *Engine) Restore(states []WindowState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.windows = make(map[string]*window, len(states))
	e.latest = make(map[string]Stat, len(states))
	for _, st := range states {
		values := st.Values
		if len(values) > e.cfg.Window {
			values = values[len(values)-e.cfg.Window:]
		}
		w := &window{values: make([]float64, e.cfg.Window)}
		for _, v := range values {
			w.values[w.next] = v
			w.next = (w.next + 1) % len(w.values)
			w.count++
			w.sum += v
			w.sumsq += v * v
		}
		w.lastDate = st.LastDate
		w.hasLast = !st.LastDate.IsZero()
		e.windows[st.StrategyID] = w
		if w.count > 0 {
			e.latest[st.StrategyID] = e.stat(st.StrategyID, st.LastDate, w)
		}
	}
}

// Latest returns the most recent stat for a strategy.
func (e *Engine) Latest(strategyID string) (Stat, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stat, ok := e.latest[strategyID]
	return stat, ok
}

func (e *Engine) stat(strategyID string, date schema.Date, w *window) Stat {
	n := float64(w.count)
	stat := Stat{
		StrategyID:  strategyID,
		Date:        date,
		SampleCount: w.count,
	}
	if w.count == 0 {
		return stat
	}
	stat.Mean = w.sum / n
	if w.count > 1 {
		// Sample variance; clamp negative rounding residue to zero.
		variance := (w.sumsq - w.sum*w.sum/n) / (n - 1)
		if variance < 0 {
			variance = 0
		}
		stat.Std = math.Sqrt(variance)
	}
	if w.count >= len(w.values) && stat.Std > 0 {
		stat.Sharpe = stat.Mean / stat.Std * math.Sqrt(float64(e.cfg.Annualization))
		stat.SharpeValid = true
	}
	return stat
}
