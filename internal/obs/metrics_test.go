package obs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"main/internal/schema"
)

func TestCountersAccumulate(t *testing.T) {
	m := NewMetrics()
	m.ObserveEvent(schema.EventHeader{Type: schema.EventTrade})
	m.ObserveEvent(schema.EventHeader{Type: schema.EventTrade})
	m.ObserveEvent(schema.EventHeader{Type: schema.EventBar})
	m.IncQueueDrop()
	m.IncGapDelivery()
	m.IncDuplicateTrade()
	m.IncStaleServe()

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.EventCounts[schema.EventTrade])
	assert.Equal(t, uint64(1), snap.EventCounts[schema.EventBar])
	assert.Equal(t, uint64(1), snap.QueueDrops)
	assert.Equal(t, uint64(1), snap.GapDeliveries)
	assert.Equal(t, uint64(1), snap.DuplicateTrades)
	assert.Equal(t, uint64(1), snap.StaleServes)
}

func TestLatencyMinMaxAvg(t *testing.T) {
	m := NewMetrics()
	m.ObserveApply(10 * time.Microsecond)
	m.ObserveApply(30 * time.Microsecond)
	m.ObserveApply(20 * time.Microsecond)

	snap := m.Snapshot().ApplyLatency
	assert.Equal(t, uint64(3), snap.Count)
	assert.Equal(t, 10*time.Microsecond, snap.Min)
	assert.Equal(t, 30*time.Microsecond, snap.Max)
	assert.Equal(t, 20*time.Microsecond, snap.Avg)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveEvent(schema.EventHeader{Type: schema.EventBar})
	m.IncQueueDrop()
	m.ObservePublish(time.Millisecond)
	assert.Equal(t, Snapshot{}, m.Snapshot())
}
