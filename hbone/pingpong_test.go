package hbone

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

// advance gives the watchdog goroutine a moment to park on its timer before
// moving the mock clock.
func advance(c *clock.Mock, d time.Duration) {
	time.Sleep(20 * time.Millisecond)
	c.Add(d)
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func requireNotClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("%s should not have fired", what)
	default:
	}
}

// stuckPinger never answers; the pong only arrives when ctx gives up.
type stuckPinger struct {
	calls   atomic.Int32
	started chan struct{}
}

func (p *stuckPinger) Ping(ctx context.Context) error {
	p.calls.Add(1)
	select {
	case p.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

// okPinger answers immediately.
type okPinger struct {
	calls atomic.Int32
	pings chan struct{}
}

func (p *okPinger) Ping(ctx context.Context) error {
	p.calls.Add(1)
	p.pings <- struct{}{}
	return nil
}

func newTestPingPong(pinger Pinger, dropped *atomic.Bool) (*PingPong, *clock.Mock) {
	mock := clock.NewMock()
	pp := NewPingPong(pinger, dropped, nil)
	pp.clock = mock
	return pp, mock
}

func TestPingPong_TimeoutSignalsOnce(t *testing.T) {
	pinger := &stuckPinger{started: make(chan struct{}, 1)}
	pp, mock := newTestPingPong(pinger, &atomic.Bool{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pp.Start(ctx)

	// Initial grace period; no ping yet.
	requireNotClosed(t, pp.Failed(), "failure signal")
	advance(mock, pingInterval)
	waitSignal(t, pinger.started, "first ping")

	// No pong within the timeout fails the connection.
	advance(mock, pingTimeout)
	waitSignal(t, pp.Failed(), "failure signal")
	waitSignal(t, pp.Done(), "watchdog exit")

	require.Equal(t, int32(1), pinger.calls.Load(), "a failed watchdog must not probe again")
}

func TestPingPong_PongKeepsProbing(t *testing.T) {
	pinger := &okPinger{pings: make(chan struct{})}
	pp, mock := newTestPingPong(pinger, &atomic.Bool{})

	ctx, cancel := context.WithCancel(context.Background())
	pp.Start(ctx)

	advance(mock, pingInterval)
	waitSignal(t, pinger.pings, "first ping")
	advance(mock, pingInterval)
	waitSignal(t, pinger.pings, "second ping")

	requireNotClosed(t, pp.Failed(), "failure signal")

	cancel()
	waitSignal(t, pp.Done(), "watchdog exit")
	requireNotClosed(t, pp.Failed(), "failure signal")
}

func TestPingPong_SilentAfterTeardown(t *testing.T) {
	pinger := &stuckPinger{started: make(chan struct{}, 1)}
	dropped := &atomic.Bool{}
	dropped.Store(true)
	pp, mock := newTestPingPong(pinger, dropped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pp.Start(ctx)

	advance(mock, pingInterval)
	waitSignal(t, pp.Done(), "watchdog exit")

	requireNotClosed(t, pp.Failed(), "failure signal")
	require.Zero(t, pinger.calls.Load(), "no probe once the connection is torn down")
}

func TestPingPong_PingErrorSignals(t *testing.T) {
	pinger := &failPinger{err: errors.New("ping mechanism broke")}
	pp, mock := newTestPingPong(pinger, &atomic.Bool{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pp.Start(ctx)

	advance(mock, pingInterval)
	waitSignal(t, pp.Failed(), "failure signal")
	waitSignal(t, pp.Done(), "watchdog exit")
}

func TestPingPong_PingErrorAfterTeardownIsSilent(t *testing.T) {
	dropped := &atomic.Bool{}
	// The driver tears the connection down while the ping is in flight; the
	// error the ping surfaces afterwards is already being handled.
	pinger := &failPinger{err: errors.New("connection closed"), before: func() { dropped.Store(true) }}
	pp, mock := newTestPingPong(pinger, dropped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pp.Start(ctx)

	advance(mock, pingInterval)
	waitSignal(t, pp.Done(), "watchdog exit")
	requireNotClosed(t, pp.Failed(), "failure signal")
}

// failPinger errors on every probe, optionally flipping state first.
type failPinger struct {
	err    error
	before func()
}

func (p *failPinger) Ping(ctx context.Context) error {
	if p.before != nil {
		p.before()
	}
	return p.err
}
