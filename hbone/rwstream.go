package hbone

import (
	"fmt"
	"io"
)

// BufferedStream presents a Stream through the standard io contracts. At
// most one received chunk is held between Read calls and split to fit the
// caller's buffer, so any destination buffer size works.
type BufferedStream struct {
	stream *Stream
	buf    []byte
}

// NewBufferedStream wraps stream. The wrapper owns the stream; closing the
// wrapper closes the stream.
func NewBufferedStream(stream *Stream) *BufferedStream {
	return &BufferedStream{stream: stream}
}

func (s *BufferedStream) Read(p []byte) (int, error) {
	if len(s.buf) == 0 {
		chunk, err := s.stream.ReadChunk()
		if err != nil {
			return 0, err
		}
		s.buf = chunk
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *BufferedStream) Write(p []byte) (int, error) {
	var written int
	for written < len(p) {
		n, err := s.stream.WriteChunk(p[written:])
		if err != nil {
			return written, err
		}
		if n == 0 {
			// The send side stopped granting capacity without resetting.
			return written, io.ErrShortWrite
		}
		written += n
	}
	return written, nil
}

// CloseWrite half-closes the send direction, leaving reads open.
func (s *BufferedStream) CloseWrite() error {
	return s.stream.CloseWrite()
}

func (s *BufferedStream) Close() error {
	return s.stream.Close()
}

// UnbufferedStream presents a Stream through the standard io contracts with
// no intermediate copy: each Read hands the received chunk straight to the
// caller's buffer. The destination must be at least as large as the chunks
// the peer sends (bounded by the connection's frame size); a short buffer is
// an error, never a silent truncation. Callers that cannot size their
// buffers should use BufferedStream instead.
type UnbufferedStream struct {
	stream *Stream
}

// NewUnbufferedStream wraps stream. The wrapper owns the stream; closing the
// wrapper closes the stream.
func NewUnbufferedStream(stream *Stream) *UnbufferedStream {
	return &UnbufferedStream{stream: stream}
}

func (s *UnbufferedStream) Read(p []byte) (int, error) {
	chunk, err := s.stream.ReadChunk()
	if err != nil {
		return 0, err
	}
	if len(chunk) > len(p) {
		return 0, fmt.Errorf("chunk of %d bytes would overflow read buffer of %d bytes", len(chunk), len(p))
	}
	return copy(p, chunk), nil
}

func (s *UnbufferedStream) Write(p []byte) (int, error) {
	var written int
	for written < len(p) {
		n, err := s.stream.WriteChunk(p[written:])
		if err != nil {
			return written, err
		}
		if n == 0 {
			// The send side stopped granting capacity without resetting.
			return written, io.ErrShortWrite
		}
		written += n
	}
	return written, nil
}

// CloseWrite half-closes the send direction, leaving reads open.
func (s *UnbufferedStream) CloseWrite() error {
	return s.stream.CloseWrite()
}

func (s *UnbufferedStream) Close() error {
	return s.stream.Close()
}
