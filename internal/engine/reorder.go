package engine

import (
	"sort"
	"time"

	"main/internal/bus"
	"main/internal/errors"
)

// reorderBuffer holds events back for one window so slightly out-of-order
// arrivals are emitted in TsEvent order. Events later than the window behind
// the watermark are rejected rather than applied out of order.
type reorderBuffer struct {
	window    int64
	events    []bus.Event
	watermark int64
}

func newReorderBuffer(window time.Duration) *reorderBuffer {
	return &reorderBuffer{window: int64(window)}
}

// add inserts an event and returns every buffered event whose hold time has
// elapsed, oldest first.
func (b *reorderBuffer) add(e bus.Event) ([]bus.Event, error) {
	if b.window <= 0 {
		return []bus.Event{e}, nil
	}

	ts := e.Header.TsEvent
	if b.watermark > 0 && ts <= b.watermark-b.window {
		return nil, errors.Consistencyf(
			"event ts %d is beyond the reorder window (watermark %d)", ts, b.watermark)
	}

	idx := sort.Search(len(b.events), func(i int) bool {
		return b.events[i].Header.TsEvent > ts
	})
	b.events = append(b.events, bus.Event{})
	copy(b.events[idx+1:], b.events[idx:])
	b.events[idx] = e

	if ts > b.watermark {
		b.watermark = ts
	}
	return b.release(b.watermark - b.window), nil
}

// flush drains everything still held, oldest first.
func (b *reorderBuffer) flush() []bus.Event {
	out := b.events
	b.events = nil
	return out
}

func (b *reorderBuffer) release(boundary int64) []bus.Event {
	n := 0
	for n < len(b.events) && b.events[n].Header.TsEvent <= boundary {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]bus.Event, n)
	copy(out, b.events[:n])
	b.events = b.events[:copy(b.events, b.events[n:])]
	return out
}
