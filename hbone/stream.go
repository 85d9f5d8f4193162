package hbone

import (
	"errors"
	"io"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/net/http2"
)

// RecvStream is the receive direction of a logical stream carved out of a
// multiplexed connection. Implementations are provided by the client and
// server connection drivers.
type RecvStream interface {
	// ReadData blocks for the next DATA chunk. It returns io.EOF once the
	// peer has cleanly ended the stream. An empty chunk with more data
	// pending is a valid return and is retried by the caller.
	ReadData() ([]byte, error)

	// EndStream reports whether the peer has half-closed the stream.
	EndStream() bool

	// ReleaseCapacity returns n bytes of flow control credit to the peer.
	ReleaseCapacity(n int) error
}

// SendStream is the send direction of a logical stream.
type SendStream interface {
	// ReserveCapacity registers the intent to send n bytes.
	ReserveCapacity(n int)

	// Capacity blocks until the flow control layer grants send capacity.
	// The grant may be smaller than what was reserved.
	Capacity() (int, error)

	// SendData writes p as a single DATA frame. endStream half-closes the
	// send direction.
	SendData(p []byte, endStream bool) error

	// WaitReset blocks until the stream is reset and returns the received
	// reason code. After a failed write this is the authoritative error.
	WaitReset() (http2.ErrCode, error)
}

// Stream is an active logical stream on a multiplexed connection. Consumers
// can only read, write and close it; it looks like any other byte transport.
//
// Both directions close independently. Each half carries one token of a
// dropCounter pair so that the connection's active count drops exactly once
// per stream no matter which order the halves are torn down in, including
// when a caller abandons the stream early.
type Stream struct {
	read   readHalf
	write  writeHalf
	logger hclog.Logger
}

type readHalf struct {
	recv    RecvStream
	dropped *dropCounter
}

type writeHalf struct {
	send    SendStream
	dropped *dropCounter
}

// NewStream wraps a newly opened or accepted stream pair and admits it
// against the connection's active count.
func NewStream(recv RecvStream, send SendStream, active *ActiveStreams, logger hclog.Logger) *Stream {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	d1, d2 := newDropCounterPair(active)
	active.Inc()
	metrics.IncrCounter([]string{"hbone", "streams"}, 1)
	return &Stream{
		read:   readHalf{recv: recv, dropped: d1},
		write:  writeHalf{send: send, dropped: d2},
		logger: logger,
	}
}

// ReadChunk blocks for the next chunk of data from the peer. It returns
// io.EOF when the stream has cleanly ended, including when the peer reset it
// with NO_ERROR or CANCEL. Flow control credit for the chunk is released
// back to the peer before the chunk is returned, so the peer is never
// starved while the caller processes data.
func (s *Stream) ReadChunk() ([]byte, error) {
	return s.read.readChunk()
}

func (r *readHalf) readChunk() ([]byte, error) {
	for {
		buf, err := r.recv.ReadData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, classifyRecvError(err)
		}
		if len(buf) == 0 {
			if r.recv.EndStream() {
				return nil, io.EOF
			}
			// Spurious empty frame; keep pulling.
			continue
		}
		_ = r.recv.ReleaseCapacity(len(buf))
		return buf, nil
	}
}

// WriteChunk sends a prefix of p and reports how many bytes were written.
// Partial writes are expected when flow control grants less than len(p);
// the caller retries with the remainder. An empty p succeeds immediately.
func (s *Stream) WriteChunk(p []byte) (int, error) {
	return s.write.writeChunk(p)
}

func (w *writeHalf) writeChunk(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.send.ReserveCapacity(len(p))

	// Errors from Capacity and SendData are not authoritative; the reset
	// reason reported by WaitReset carries the real failure.
	cnt, err := w.send.Capacity()
	if err == nil {
		if cnt > len(p) {
			cnt = len(p)
		}
		if cnt == 0 {
			return 0, nil
		}
		if serr := w.send.SendData(p[:cnt], false); serr == nil {
			return cnt, nil
		}
	}

	code, rerr := w.send.WaitReset()
	if rerr != nil {
		return 0, toIOError(rerr)
	}
	return 0, resetToError(code)
}

// CloseWrite half-closes the send direction by sending an empty END_STREAM
// frame, then releases the write half. A concurrent or prior reset with
// NO_ERROR still counts as a successful shutdown.
func (s *Stream) CloseWrite() error {
	defer s.releaseWrite()
	return s.write.closeSend()
}

func (w *writeHalf) closeSend() error {
	if err := w.send.SendData(nil, true); err == nil {
		return nil
	}
	code, rerr := w.send.WaitReset()
	if rerr != nil {
		return toIOError(rerr)
	}
	if code == http2.ErrCodeNo {
		return nil
	}
	return resetToError(code)
}

// CloseRead releases the read half. It must be called once the caller is
// done reading, on error paths included, or the stream is counted as active
// forever.
func (s *Stream) CloseRead() {
	if left := s.read.dropped.release(); left >= 0 {
		s.logger.Trace("stream fully closed", "active_streams", left)
	}
}

// Close tears down both directions. It is safe to call after CloseRead or
// CloseWrite; the active count still drops exactly once.
func (s *Stream) Close() error {
	var errs *multierror.Error
	if !s.write.dropped.released.Load() {
		if err := s.write.closeSend(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	s.releaseWrite()
	s.CloseRead()
	return errs.ErrorOrNil()
}

func (s *Stream) releaseWrite() {
	if left := s.write.dropped.release(); left >= 0 {
		s.logger.Trace("stream fully closed", "active_streams", left)
	}
}
