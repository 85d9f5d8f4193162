package hbone

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-hclog"
)

const (
	// pingInterval is both the delay before the first probe and the gap
	// between successful probes. The initial delay keeps a fresh connection
	// carrying its first request from racing a liveness round trip.
	pingInterval = 10 * time.Second

	// pingTimeout is how long a pong may take before the connection is
	// reported dead.
	pingTimeout = 20 * time.Second
)

// Pinger issues an opaque application-level ping on a multiplexed
// connection and blocks until the matching pong arrives or ctx expires.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingPong probes one physical connection for liveness in the background.
// It never closes the connection itself: when a pong fails to arrive in time
// it reports once through Failed and exits, and the connection driver
// decides what to do. The driver sets dropped when it tears the connection
// down through another path, which silences the watchdog instead of having
// it report an error the driver already knows about.
type PingPong struct {
	pinger  Pinger
	dropped *atomic.Bool
	clock   clock.Clock
	logger  hclog.Logger

	failOnce  sync.Once
	failCh    chan struct{}
	stoppedCh chan struct{} // closed when the watchdog goroutine exits
}

// NewPingPong returns a watchdog for one connection. dropped is the shared
// teardown flag owned by the connection driver. Nothing runs until Start.
func NewPingPong(pinger Pinger, dropped *atomic.Bool, logger hclog.Logger) *PingPong {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &PingPong{
		pinger:    pinger,
		dropped:   dropped,
		clock:     clock.New(),
		logger:    logger,
		failCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Failed is closed at most once, when a ping times out or errors. If the
// driver is no longer listening the signal is a harmless no-op.
func (p *PingPong) Failed() <-chan struct{} {
	return p.failCh
}

// Done is closed when the watchdog goroutine has exited.
func (p *PingPong) Done() <-chan struct{} {
	return p.stoppedCh
}

// Start launches the watchdog goroutine. Cancelling ctx stops it without a
// failure signal.
func (p *PingPong) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *PingPong) run(ctx context.Context) {
	defer close(p.stoppedCh)

	if !p.sleep(ctx, pingInterval) {
		return
	}
	for {
		if p.dropped.Load() {
			return
		}

		pingCtx, cancel := p.clock.WithTimeout(ctx, pingTimeout)
		p.logger.Trace("ping sent")
		err := p.pinger.Ping(pingCtx)
		cancel()

		switch {
		case err == nil:
			p.logger.Trace("pong received")
			if !p.sleep(ctx, pingInterval) {
				return
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			// The driver logs the connection failure, keep this quiet.
			p.logger.Trace("ping timeout")
			p.fail()
			return
		default:
			if ctx.Err() != nil || p.dropped.Load() {
				// The driver exited first, no need to report again.
				return
			}
			p.logger.Error("ping error", "error", err)
			p.fail()
			return
		}
	}
}

func (p *PingPong) fail() {
	p.failOnce.Do(func() {
		close(p.failCh)
	})
}

// sleep waits for d, returning false if ctx was cancelled first.
func (p *PingPong) sleep(ctx context.Context, d time.Duration) bool {
	t := p.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
