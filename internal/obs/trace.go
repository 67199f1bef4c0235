package obs

import (
	"sync/atomic"
	"time"
)

// TraceGenerator mints the trace IDs stamped on event headers so one fill or
// bar can be followed across queue, apply, write-through and publication.
type TraceGenerator struct {
	next atomic.Uint64
}

// NewTraceGenerator returns a generator. A zero seed is replaced with the
// current wall clock so restarts never reuse recent IDs.
func NewTraceGenerator(seed uint64) *TraceGenerator {
	if seed == 0 {
		seed = uint64(time.Now().UTC().UnixNano())
	}
	g := &TraceGenerator{}
	g.next.Store(seed)
	return g
}

// Next returns the next trace ID.
func (g *TraceGenerator) Next() uint64 {
	if g == nil {
		return 0
	}
	return g.next.Add(1)
}
