package obs

import (
	"sync/atomic"
	"time"

	"main/internal/schema"
)

const maxEventType = int(schema.EventSignalSnapshot)

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	eventCounts [maxEventType + 1]uint64

	queueDrops      uint64
	queueClosed     uint64
	gapDeliveries   uint64
	staleServes     uint64
	duplicateTrades uint64
	reorderRejects  uint64
	ledgerFailures  uint64

	eventLatency   LatencyStats
	applyLatency   LatencyStats
	publishLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts     map[schema.EventType]uint64
	QueueDrops      uint64
	QueueClosed     uint64
	GapDeliveries   uint64
	StaleServes     uint64
	DuplicateTrades uint64
	ReorderRejects  uint64
	LedgerFailures  uint64
	EventLatency    LatencySnapshot
	ApplyLatency    LatencySnapshot
	PublishLatency  LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent increments counters and tracks ingest latency when both
// timestamps are present.
func (m *Metrics) ObserveEvent(header schema.EventHeader) {
	if m == nil {
		return
	}
	idx := int(header.Type)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
	if header.TsEvent > 0 && header.TsRecv > 0 {
		delta := header.TsRecv - header.TsEvent
		if delta >= 0 {
			m.eventLatency.Observe(time.Duration(delta))
		}
	}
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records a closed-queue publish attempt.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// IncGapDelivery records a subscriber delivery flagged with a gap.
func (m *Metrics) IncGapDelivery() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.gapDeliveries, 1)
}

// IncStaleServe records a cached signal served past its staleness bound.
func (m *Metrics) IncStaleServe() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.staleServes, 1)
}

// IncDuplicateTrade records a fill rejected by the idempotency check.
func (m *Metrics) IncDuplicateTrade() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.duplicateTrades, 1)
}

// IncReorderReject records an event outside the reorder window.
func (m *Metrics) IncReorderReject() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reorderRejects, 1)
}

// IncLedgerFailure records a failed durable write.
func (m *Metrics) IncLedgerFailure() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ledgerFailures, 1)
}

// ObserveApply measures fill ingestion latency through the aggregates.
func (m *Metrics) ObserveApply(d time.Duration) {
	if m == nil {
		return
	}
	m.applyLatency.Observe(d)
}

// ObservePublish measures bar-to-published-snapshot latency.
func (m *Metrics) ObservePublish(d time.Duration) {
	if m == nil {
		return
	}
	m.publishLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[schema.EventType]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[schema.EventType(i)] = v
		}
	}
	return Snapshot{
		EventCounts:     eventCounts,
		QueueDrops:      atomic.LoadUint64(&m.queueDrops),
		QueueClosed:     atomic.LoadUint64(&m.queueClosed),
		GapDeliveries:   atomic.LoadUint64(&m.gapDeliveries),
		StaleServes:     atomic.LoadUint64(&m.staleServes),
		DuplicateTrades: atomic.LoadUint64(&m.duplicateTrades),
		ReorderRejects:  atomic.LoadUint64(&m.reorderRejects),
		LedgerFailures:  atomic.LoadUint64(&m.ledgerFailures),
		EventLatency:    m.eventLatency.Snapshot(),
		ApplyLatency:    m.applyLatency.Snapshot(),
		PublishLatency:  m.publishLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
