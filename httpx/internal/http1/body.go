package http1

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	ErrChunkFormat  = errors.New("http1: malformed chunked encoding")
	ErrBodyTooLarge = errors.New("http1: response body exceeds limit")
)

// Limits bounds what reading one response body may consume.
type Limits struct {
	// MaxLine bounds chunk-size and trailer lines.
	MaxLine int
	// MaxTrailerBytes bounds the whole trailer block.
	MaxTrailerBytes int
	// MaxBody bounds the body bytes; zero means no limit.
	MaxBody int64
}

type framing uint8

const (
	framingNone framing = iota
	framingLength
	framingChunked
	framingClose
)

// Body reads a response body in its wire framing. Trailer fields of a
// chunked body are kept as raw lines and available once Read returned
// io.EOF.
type Body struct {
	// Length is the declared length, -1 when unknown.
	Length int64
	// Reusable reports whether the connection can carry another
	// exchange once the body was read to EOF.
	Reusable bool

	br      *bufio.Reader
	mode    framing
	lim     Limits
	remain  int64
	read    int64
	trailer []string
	done    bool
}

// NewBody selects the framing of the body following h, as a response to
// method.
func NewBody(br *bufio.Reader, h *ResponseHead, method string, lim Limits) (*Body, error) {
	b := &Body{br: br, lim: lim, Length: -1}
	switch {
	case NoBody(h.Status, method):
		b.mode, b.Length, b.Reusable = framingNone, 0, true
	case hasChunkedTE(h.Header):
		b.mode, b.Reusable = framingChunked, true
	case len(h.Header["content-length"]) > 0:
		n, err := parseContentLength(h.Header["content-length"])
		if err != nil {
			return nil, err
		}
		if lim.MaxBody > 0 && n > lim.MaxBody {
			return nil, fmt.Errorf("%w: Content-Length %d", ErrBodyTooLarge, n)
		}
		b.mode, b.Length, b.remain, b.Reusable = framingLength, n, n, true
	default:
		b.mode = framingClose
	}
	return b, nil
}

// Trailer returns the trailer lines of a chunked body.
func (b *Body) Trailer() []string { return b.trailer }

func (b *Body) Read(p []byte) (int, error) {
	if b.done {
		return 0, io.EOF
	}
	switch b.mode {
	case framingNone:
		b.done = true
		return 0, io.EOF
	case framingLength:
		if b.remain == 0 {
			b.done = true
			return 0, io.EOF
		}
	case framingChunked:
		if b.remain == 0 {
			if err := b.nextChunk(); err != nil {
				return 0, err
			}
			if b.done {
				return 0, io.EOF
			}
		}
	}
	if len(p) == 0 {
		return 0, nil
	}
	if b.mode != framingClose && int64(len(p)) > b.remain {
		p = p[:b.remain]
	}
	n, err := b.br.Read(p)
	b.read += int64(n)
	if b.mode != framingClose {
		b.remain -= int64(n)
	}
	if b.lim.MaxBody > 0 && b.read > b.lim.MaxBody {
		return n, ErrBodyTooLarge
	}
	if err == io.EOF {
		if b.mode == framingClose {
			b.done = true
			return n, io.EOF
		}
		return n, io.ErrUnexpectedEOF
	}
	if err != nil {
		return n, err
	}
	if b.mode == framingChunked && b.remain == 0 {
		if err := b.expectCRLF(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (b *Body) nextChunk() error {
	line, err := readLineLimit(b.br, b.lim.MaxLine)
	if err != nil {
		return unexpected(err)
	}
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil || size < 0 {
		return fmt.Errorf("%w: chunk size %q", ErrChunkFormat, line)
	}
	if size == 0 {
		if err := b.readTrailer(); err != nil {
			return err
		}
		b.done = true
		return nil
	}
	if b.lim.MaxBody > 0 && b.read+size > b.lim.MaxBody {
		return ErrBodyTooLarge
	}
	b.remain = size
	return nil
}

func (b *Body) expectCRLF() error {
	var crlf [2]byte
	if _, err := io.ReadFull(b.br, crlf[:]); err != nil {
		return unexpected(err)
	}
	if crlf != [2]byte{'\r', '\n'} {
		return fmt.Errorf("%w: missing CRLF after chunk data", ErrChunkFormat)
	}
	return nil
}

func (b *Body) readTrailer() error {
	total := 0
	for {
		line, err := readLineLimit(b.br, b.lim.MaxLine)
		if err != nil {
			return unexpected(err)
		}
		if line == "" {
			return nil
		}
		total += len(line) + 2
		if b.lim.MaxTrailerBytes > 0 && total > b.lim.MaxTrailerBytes {
			return ErrHeaderTooLarge
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 || !ValidHeaderName(strings.TrimSpace(line[:i])) {
			return fmt.Errorf("%w: trailer %q", ErrHeaderLine, line)
		}
		b.trailer = append(b.trailer, line)
	}
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
