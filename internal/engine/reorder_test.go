package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/errors"
	"main/internal/schema"
)

func eventAt(ts int64) bus.Event {
	return bus.Event{Header: schema.EventHeader{Type: schema.EventBar, TsEvent: ts}}
}

func TestReorderEmitsInTsOrder(t *testing.T) {
	b := newReorderBuffer(10 * time.Nanosecond)

	var emitted []int64
	for _, ts := range []int64{100, 103, 101, 120} {
		ready, err := b.add(eventAt(ts))
		require.NoError(t, err)
		for _, e := range ready {
			emitted = append(emitted, e.Header.TsEvent)
		}
	}
	for _, e := range b.flush() {
		emitted = append(emitted, e.Header.TsEvent)
	}

	assert.Equal(t, []int64{100, 101, 103, 120}, emitted)
}

func TestReorderRejectsBeyondWindow(t *testing.T) {
	b := newReorderBuffer(10 * time.Nanosecond)

	_, err := b.add(eventAt(100))
	require.NoError(t, err)

	// 89 <= 100-10: too late to reorder safely.
	_, err = b.add(eventAt(89))
	assert.True(t, errors.IsConsistency(err))

	// 91 is still inside the window.
	_, err = b.add(eventAt(91))
	require.NoError(t, err)
}

func TestReorderZeroWindowPassesThrough(t *testing.T) {
	b := newReorderBuffer(0)
	ready, err := b.add(eventAt(50))
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Empty(t, b.flush())
}
