package signal

// smaPair maintains two trailing simple moving averages over one close
// series with running sums, O(1) per bar.
type smaPair struct {
	closes    []float64 // ring, capacity = long period
	next      int
	count     int
	shortSum  float64
	longSum   float64
	shortSpan int
	longSpan  int
}

func newSMAPair(shortSpan, longSpan int) *smaPair {
	return &smaPair{
		closes:    make([]float64, longSpan),
		shortSpan: shortSpan,
		longSpan:  longSpan,
	}
}

func (s *smaPair) push(close float64) {
	if s.count >= s.longSpan {
		s.longSum -= s.closes[s.next]
	}
	// The short window tail sits shortSpan slots behind the write cursor.
	if s.count >= s.shortSpan {
		tail := (s.next - s.shortSpan + s.longSpan) % s.longSpan
		s.shortSum -= s.closes[tail]
	}
	s.closes[s.next] = close
	s.next = (s.next + 1) % s.longSpan
	if s.count < s.longSpan {
		s.count++
	}
	s.shortSum += close
	s.longSum += close
}

func (s *smaPair) ready() bool {
	return s.count >= s.longSpan
}

func (s *smaPair) values() (short, long float64) {
	return s.shortSum / float64(s.shortSpan), s.longSum / float64(s.longSpan)
}

// wilderRSI maintains Wilder-smoothed average gain/loss. The first period
// deltas seed the averages with a simple mean; every delta after that runs
// the smoothing recurrence. O(1) per bar.
type wilderRSI struct {
	period    int
	prevClose float64
	hasPrev   bool
	seedGains float64
	seedLosses float64
	deltas    int
	avgGain   float64
	avgLoss   float64
}

func newWilderRSI(period int) *wilderRSI {
	return &wilderRSI{period: period}
}

func (w *wilderRSI) push(close float64) {
	if !w.hasPrev {
		w.prevClose = close
		w.hasPrev = true
		return
	}
	delta := close - w.prevClose
	w.prevClose = close
	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	w.deltas++
	switch {
	case w.deltas < w.period:
		w.seedGains += gain
		w.seedLosses += loss
	case w.deltas == w.period:
		w.seedGains += gain
		w.seedLosses += loss
		w.avgGain = w.seedGains / float64(w.period)
		w.avgLoss = w.seedLosses / float64(w.period)
	default:
		p := float64(w.period)
		w.avgGain = (w.avgGain*(p-1) + gain) / p
		w.avgLoss = (w.avgLoss*(p-1) + loss) / p
	}
}

func (w *wilderRSI) ready() bool {
	return w.deltas >= w.period
}

// value returns the current RSI. Neutral 50 covers both "no data yet" and a
// perfectly flat market; a gain-only market pins to 100, loss-only to 0.
func (w *wilderRSI) value() float64 {
	if !w.ready() {
		return neutralRSI
	}
	switch {
	case w.avgLoss == 0 && w.avgGain == 0:
		return neutralRSI
	case w.avgLoss == 0:
		return 100
	case w.avgGain == 0:
		return 0
	}
	rsi := 100 - 100/(1+w.avgGain/w.avgLoss)
	if rsi < 0 {
		return 0
	}
	if rsi > 100 {
		return 100
	}
	return rsi
}
