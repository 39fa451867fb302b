package httpx

import (
	"bytes"
	"errors"
	"io"
	"iter"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// acceptEncoding is sent when the caller did not negotiate an encoding
// itself; responses using one of these are decoded transparently.
const acceptEncoding = "gzip, deflate, zstd"

var errDecoderStopped = errors.New("httpx: decoder stopped")

// decoder turns pushed compressed fragments into decoded fragments
// without goroutines: the decompressor runs as a coroutine that is
// resumed whenever new input arrives and suspends when it runs dry.
type decoder struct {
	in   []byte
	out  bytes.Buffer
	fed  bool
	eof  bool
	done bool
	err  error
	next func() (struct{}, bool)
	stop func()
}

type newReaderFunc func(io.Reader) (io.ReadCloser, error)

func decoderFor(encoding string) newReaderFunc {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		return func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) }
	case "deflate":
		return func(r io.Reader) (io.ReadCloser, error) { return zlib.NewReader(r) }
	case "zstd":
		return func(r io.Reader) (io.ReadCloser, error) {
			d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		}
	default:
		return nil
	}
}

func newDecoder(open newReaderFunc) *decoder {
	d := &decoder{}
	seq := func(yield func(struct{}) bool) {
		src := &feedReader{d: d, yield: yield}
		zr, err := open(src)
		if err != nil {
			d.fail(err)
			return
		}
		defer zr.Close()
		// take resets d.out between resumptions; no writer into it may
		// stay suspended across one.
		buf := make([]byte, 32<<10)
		for {
			n, err := zr.Read(buf)
			d.out.Write(buf[:n])
			if err == io.EOF {
				break
			}
			if err != nil {
				d.fail(err)
				return
			}
		}
		d.done = true
	}
	d.next, d.stop = iter.Pull(seq)
	return d
}

func (d *decoder) fail(err error) {
	if !errors.Is(err, errDecoderStopped) && d.err == nil {
		d.err = err
	}
	d.done = true
}

// Write feeds p and returns whatever output became available.
func (d *decoder) Write(p []byte) ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.in = append(d.in, p...)
	d.fed = d.fed || len(p) > 0
	if !d.done {
		d.next()
	}
	return d.take()
}

// Finish signals end of input and returns the remaining output. Input
// that ends inside a compressed stream is an error; no input at all is
// an empty body.
func (d *decoder) Finish() ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	if !d.fed {
		d.done = true
		return nil, nil
	}
	d.eof = true
	for !d.done {
		if _, ok := d.next(); !ok {
			break
		}
	}
	return d.take()
}

func (d *decoder) take() ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.out.Len() == 0 {
		return nil, nil
	}
	out := bytes.Clone(d.out.Bytes())
	d.out.Reset()
	return out, nil
}

// Close releases the coroutine.
func (d *decoder) Close() {
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
}

// feedReader serves pushed input to the decompressor and suspends the
// coroutine when none is left.
type feedReader struct {
	d     *decoder
	yield func(struct{}) bool
}

func (f *feedReader) Read(p []byte) (int, error) {
	for len(f.d.in) == 0 {
		if f.d.eof {
			return 0, io.EOF
		}
		if !f.yield(struct{}{}) {
			return 0, errDecoderStopped
		}
	}
	n := copy(p, f.d.in)
	f.d.in = f.d.in[n:]
	return n, nil
}
