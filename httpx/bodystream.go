package httpx

import (
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// BodyStream is a read-only, seekable view of a response body. It drives
// the client's engine itself, so it must be used from the goroutine
// driving the client.
//
// Backward seeks only work within buffered content.
type BodyStream struct {
	c      *Client
	r      *Response
	logger *zap.Logger

	pos      int64
	pending  []byte
	eof      bool
	blocking bool
	timeout  time.Duration
	closed   bool
}

var (
	_ io.ReadSeekCloser = (*BodyStream)(nil)
	_ fs.File           = (*BodyStream)(nil)
)

// OpenStream binds a stream to r. Only mode "r" is supported.
func OpenStream(c *Client, r *Response, mode string) (*BodyStream, error) {
	if mode != "r" {
		return nil, fmt.Errorf("%w: invalid mode %q, only \"r\" is supported", ErrUnsupportedMode, mode)
	}
	if c == nil || r == nil {
		return nil, fmt.Errorf("%w: missing client or response", ErrUnsupportedMode)
	}
	return &BodyStream{
		c:        c,
		r:        r,
		logger:   c.logger().With(zap.Int("response", r.id)),
		blocking: true,
	}, nil
}

// Response returns the wrapped response.
func (s *BodyStream) Response() *Response { return s.r }

// SetBlocking switches between blocking reads and reads that return
// (0, nil) when no data is available yet.
func (s *BodyStream) SetBlocking(blocking bool) { s.blocking = blocking }

// SetReadTimeout sets the idle timeout of blocking reads; zero uses the
// response's timeout.
func (s *BodyStream) SetReadTimeout(d time.Duration) { s.timeout = d }

func (s *BodyStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, os.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if s.r.buf != nil {
		if err := s.drain(); err != nil {
			return 0, s.warn(err)
		}
		if n, _ := s.r.buf.ReadAt(p, s.pos); n > 0 {
			s.pos += int64(n)
			return n, nil
		}
	}
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		s.pos += int64(n)
		return n, nil
	}

	var opts []StreamOption
	switch {
	case !s.blocking:
		opts = append(opts, WithIdleTimeout(0))
	case s.timeout > 0:
		opts = append(opts, WithIdleTimeout(s.timeout))
	}
	st := s.c.Stream([]*Response{s.r}, opts...)
	defer st.Close()
	for st.Next() {
		ch := st.Chunk()
		timeout, err := ch.IsTimeout()
		if err != nil {
			return 0, s.warn(err)
		}
		if timeout {
			if !s.blocking {
				return 0, nil
			}
			_, err := ch.IsLast()
			return 0, s.warn(err)
		}
		if first, _ := ch.IsFirst(); first {
			_, _ = s.r.StatusCode()
		}
		last, _ := ch.IsLast()
		s.eof = last
		data, _ := ch.Content()
		if len(data) == 0 {
			continue
		}
		n := copy(p, data)
		if n < len(data) && s.r.buf == nil {
			s.pending = append(s.pending[:0], data[n:]...)
		}
		s.pos += int64(n)
		return n, nil
	}
	if err := st.Err(); err != nil {
		return 0, s.warn(err)
	}
	s.eof = true
	return 0, io.EOF
}

// drain processes pending activity without blocking.
func (s *BodyStream) drain() error {
	st := s.c.Stream([]*Response{s.r}, WithIdleTimeout(0))
	defer st.Close()
	for st.Next() {
		ch := st.Chunk()
		timeout, err := ch.IsTimeout()
		if err != nil {
			return err
		}
		if first, _ := ch.IsFirst(); !timeout && first {
			_, _ = s.r.StatusCode()
		}
	}
	return st.Err()
}

// Seek moves the read position. Forward seeks past buffered content wait
// for the body; without a buffer they discard the skipped bytes.
func (s *BodyStream) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, os.ErrClosed
	}
	if _, err := s.r.StatusCode(); err != nil {
		return 0, s.warn(err)
	}
	if s.r.buf == nil {
		return s.seekUnbuffered(offset, whence)
	}
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += s.pos
	case io.SeekEnd:
	default:
		return 0, fmt.Errorf("httpx: invalid whence %d", whence)
	}
	if whence == io.SeekEnd || s.r.buf.Size() < offset {
		st := s.c.Stream([]*Response{s.r})
		for st.Next() {
			if _, err := st.Chunk().Content(); err != nil {
				_ = st.Close()
				return 0, s.warn(err)
			}
			if whence != io.SeekEnd && offset <= s.r.buf.Size() {
				break
			}
		}
		_ = st.Close()
		if err := st.Err(); err != nil {
			return 0, s.warn(err)
		}
		if whence == io.SeekEnd {
			offset += s.r.buf.Size()
		}
	}
	if offset < 0 || offset > s.r.buf.Size() {
		return 0, fmt.Errorf("%w: %d", ErrSeekOutOfRange, offset)
	}
	s.eof = false
	s.pos = offset
	return offset, nil
}

func (s *BodyStream) seekUnbuffered(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += s.pos
	case io.SeekEnd:
		return 0, &TransportError{Msg: "Cannot seek relative to the end: buffering is disabled.", Cause: ErrBufferingDisabled}
	default:
		return 0, fmt.Errorf("httpx: invalid whence %d", whence)
	}
	if offset < s.pos {
		return 0, fmt.Errorf("%w: %d is behind the read position and buffering is disabled", ErrSeekOutOfRange, offset)
	}
	if n := offset - s.pos; n > 0 {
		_, err := io.CopyN(io.Discard, s, n)
		if err == io.EOF {
			return 0, fmt.Errorf("%w: %d is past the end at %d", ErrSeekOutOfRange, offset, s.pos)
		}
		if err != nil {
			return 0, err
		}
	}
	return s.pos, nil
}

// Tell returns the read position.
func (s *BodyStream) Tell() int64 { return s.pos }

// EOF reports whether the end of the body was reached.
func (s *BodyStream) EOF() bool { return s.eof && len(s.pending) == 0 }

// Stat describes the body from its headers. Failures to get the headers
// are logged and yield an empty description.
func (s *BodyStream) Stat() (fs.FileInfo, error) {
	fi := &bodyInfo{name: path.Base(s.r.info.URL), size: -1}
	h, err := s.r.Headers(false)
	if err != nil {
		s.warn(err)
		return fi, nil
	}
	if v := h.Get("content-length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			fi.size = n
		}
	}
	if v := h.Get("last-modified"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			fi.mtime = t
		}
	}
	return fi, nil
}

// Fd returns the OS handle of the underlying connection once the headers
// arrived, for use with an external readiness poller.
func (s *BodyStream) Fd() (uintptr, error) {
	if _, err := s.r.Headers(false); err != nil {
		return 0, err
	}
	return s.r.ex.Handle()
}

// Close detaches the stream. The response stays usable.
func (s *BodyStream) Close() error {
	s.closed = true
	s.pending = nil
	return nil
}

func (s *BodyStream) warn(err error) error {
	if err != nil {
		s.logger.Warn("Body stream failure", zap.Error(err))
	}
	return err
}

type bodyInfo struct {
	name  string
	size  int64
	mtime time.Time
}

func (fi *bodyInfo) Name() string       { return fi.name }
func (fi *bodyInfo) Size() int64        { return fi.size }
func (fi *bodyInfo) Mode() fs.FileMode  { return 0o444 }
func (fi *bodyInfo) ModTime() time.Time { return fi.mtime }
func (fi *bodyInfo) IsDir() bool        { return false }
func (fi *bodyInfo) Sys() any           { return nil }
