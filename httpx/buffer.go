package httpx

import (
	"io"
	"sync"
)

// BodyBuffer retains a response body for repeated reads.
type BodyBuffer interface {
	io.Writer
	io.ReaderAt
	Size() int64
}

type bufferMode uint8

const (
	bufferDefault bufferMode = iota
	bufferAlways
	bufferNever
	bufferDecide
	bufferSink
)

// BufferPolicy decides whether body bytes are kept for later whole-body
// retrieval. The zero value buffers.
type BufferPolicy struct {
	mode   bufferMode
	decide func(Header) (bool, error)
	sink   BodyBuffer
}

// BufferAlways keeps every body.
func BufferAlways() BufferPolicy { return BufferPolicy{mode: bufferAlways} }

// BufferNever streams bodies without keeping them.
func BufferNever() BufferPolicy { return BufferPolicy{mode: bufferNever} }

// BufferIf defers the decision until headers are known. fn runs once per
// response; an error from fn fails the response.
func BufferIf(fn func(Header) (bool, error)) BufferPolicy {
	if fn == nil {
		return BufferAlways()
	}
	return BufferPolicy{mode: bufferDecide, decide: fn}
}

// BufferTo writes the body to sink, which then serves re-reads.
func BufferTo(sink BodyBuffer) BufferPolicy {
	if sink == nil {
		return BufferNever()
	}
	return BufferPolicy{mode: bufferSink, sink: sink}
}

func (p BufferPolicy) isSet() bool { return p.mode != bufferDefault }

// resolve returns the buffer to use, nil when buffering is disabled.
func (p BufferPolicy) resolve(h Header) (BodyBuffer, error) {
	switch p.mode {
	case bufferNever:
		return nil, nil
	case bufferSink:
		return p.sink, nil
	case bufferDecide:
		ok, err := p.decide(h)
		if err != nil || !ok {
			return nil, err
		}
	}
	return &memBuffer{}, nil
}

// memBuffer is an append-only in-memory BodyBuffer.
type memBuffer struct {
	mu  sync.RWMutex
	buf []byte
}

func (b *memBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.buf = append(b.buf, p...)
	b.mu.Unlock()
	return len(p), nil
}

func (b *memBuffer) ReadAt(p []byte, off int64) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if off < 0 {
		return 0, ErrSeekOutOfRange
	}
	if off >= int64(len(b.buf)) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *memBuffer) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.buf))
}

// readAll copies the whole content of b.
func readAll(b BodyBuffer) ([]byte, error) {
	size := b.Size()
	out := make([]byte, size)
	if size == 0 {
		return out, nil
	}
	n, err := b.ReadAt(out, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return out[:n], nil
}
