package hbone

import (
	"sync/atomic"

	"github.com/armon/go-metrics"
)

// ActiveStreams counts the logical streams multiplexed onto one physical
// connection whose both halves are still open. The pool reads it to decide
// whether a connection can accept more streams or be released when idle.
type ActiveStreams struct {
	count atomic.Int32
}

// Inc records a newly admitted stream and returns the new count.
func (a *ActiveStreams) Inc() int32 {
	n := a.count.Add(1)
	metrics.SetGauge([]string{"hbone", "active_streams"}, float32(n))
	return n
}

// Load returns the number of streams with at least one half still open.
func (a *ActiveStreams) Load() int32 {
	return a.count.Load()
}

func (a *ActiveStreams) dec() int32 {
	n := a.count.Add(-1)
	metrics.SetGauge([]string{"hbone", "active_streams"}, float32(n))
	return n
}

// dropCounter is one half of a per-stream token pair. The read and write
// halves of a stream close independently and in either order; the connection
// count must drop exactly once per stream, on whichever half closes second.
//
// The pair shares one sentinel. Releasing a token swaps the sentinel to
// true: the first release observes false and leaves the count alone, the
// second observes true and decrements. This is safe when both halves are
// released concurrently from different goroutines: exactly one of the two
// swaps returns true.
type dropCounter struct {
	halfDropped *atomic.Bool
	active      *ActiveStreams
	released    atomic.Bool
}

// newDropCounterPair mints the token pair for one stream. The active count
// is not incremented here; admission does that when the stream is created.
func newDropCounterPair(active *ActiveStreams) (*dropCounter, *dropCounter) {
	halfDropped := &atomic.Bool{}
	d1 := &dropCounter{halfDropped: halfDropped, active: active}
	d2 := &dropCounter{halfDropped: halfDropped, active: active}
	return d1, d2
}

// release marks this half as closed. Releasing the same token twice is a
// no-op, so redundant Close calls cannot double count. Returns the count
// remaining after a decrement, or -1 if this release did not decrement.
func (d *dropCounter) release() int32 {
	if d == nil || d.released.Swap(true) {
		return -1
	}
	if d.halfDropped.Swap(true) {
		// Other half already closed; this stream is fully done.
		return d.active.dec()
	}
	return -1
}
