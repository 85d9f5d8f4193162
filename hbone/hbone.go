// Package hbone implements the stream transport layer for HTTP/2 based
// tunneling (HBONE). It adapts a single logical stream multiplexed onto a
// shared HTTP/2 connection into a plain byte-oriented duplex channel, keeps
// the connection observable through an application-level ping watchdog, and
// tracks how many streams are active on each connection so that the pool
// above can reclaim idle connections.
//
// The package does not dial sockets, negotiate connections, or implement the
// HTTP/2 wire protocol. Those live in the client, server and pool layers; the
// multiplexing layer is consumed through the RecvStream, SendStream and
// Pinger interfaces.
package hbone

import (
	"fmt"
	"net/netip"
	"time"
)

// Key identifies the destination a pooled connection routes to. The pool
// maintains at most a few connections per key, so implementations must be
// comparable and usable as map keys.
type Key interface {
	fmt.Stringer

	// Dest returns the network address the connection is established to.
	Dest() netip.AddrPort
}

// Config holds the flow control and pooling parameters applied when a
// connection is established. It is created once at setup time and shared by
// reference across all streams of the connection; it is never mutated.
type Config struct {
	// WindowSize is the HTTP/2 initial window size for each stream.
	WindowSize uint32 `json:"window_size"`

	// ConnectionWindowSize is the HTTP/2 window size for the connection.
	ConnectionWindowSize uint32 `json:"connection_window_size"`

	// FrameSize is the maximum HTTP/2 frame size.
	FrameSize uint32 `json:"frame_size"`

	// PoolMaxStreamsPerConn caps the number of streams multiplexed onto one
	// physical connection before the pool establishes another.
	PoolMaxStreamsPerConn uint16 `json:"pool_max_streams_per_conn"`

	// PoolUnusedReleaseTimeout is how long a pooled connection may sit with
	// no active streams before it is released.
	PoolUnusedReleaseTimeout time.Duration `json:"pool_unused_release_timeout"`
}

// DefaultConfig returns the tuning applied when no overrides are given.
func DefaultConfig() *Config {
	return &Config{
		WindowSize:               4 * 1024 * 1024,
		ConnectionWindowSize:     16 * 1024 * 1024,
		FrameSize:                1024 * 1024,
		PoolMaxStreamsPerConn:    100,
		PoolUnusedReleaseTimeout: 5 * time.Minute,
	}
}
