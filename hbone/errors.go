package hbone

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"golang.org/x/net/http2"
)

// The stream layer reports failures either as wrapped transport I/O errors
// or as HTTP/2 stream resets carrying a reason code. Everything above us
// reasons in terms of the standard I/O taxonomy, so this file is the single
// chokepoint that translates between the two, on both the read and the
// write/shutdown paths.
//
// The distinction between a clean end and a broken pipe matters: proxy copy
// loops use it to decide whether an abrupt peer close is loggable or
// expected.

// toIOError converts an error from the stream layer into a standard I/O
// error. Errors that already wrap a transport-level I/O failure pass through
// unchanged; anything else is wrapped, preserving the cause for diagnostics.
func toIOError(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return err
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return err
	}
	return fmt.Errorf("http2 stream error: %w", err)
}

// classifyRecvError maps a read-path failure onto the I/O taxonomy. A reset
// with NO_ERROR or CANCEL is how the peer signals a clean end of stream, so
// it becomes io.EOF rather than a failure. STREAM_CLOSED means the peer
// considers the stream already gone: broken pipe.
func classifyRecvError(err error) error {
	var se http2.StreamError
	if errors.As(err, &se) {
		switch se.Code {
		case http2.ErrCodeNo, http2.ErrCodeCancel:
			return io.EOF
		case http2.ErrCodeStreamClosed:
			return fmt.Errorf("stream reset by peer: %w", syscall.EPIPE)
		}
	}
	return toIOError(err)
}

// resetToError converts the authoritative reset reason observed after a
// failed write into an error. On the write path any of NO_ERROR, CANCEL or
// STREAM_CLOSED means the peer is done receiving: broken pipe.
func resetToError(code http2.ErrCode) error {
	switch code {
	case http2.ErrCodeNo, http2.ErrCodeCancel, http2.ErrCodeStreamClosed:
		return fmt.Errorf("stream reset by peer: %w", syscall.EPIPE)
	default:
		return toIOError(http2.StreamError{Code: code})
	}
}
