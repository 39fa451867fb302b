// Package origin is a scripted HTTP/1.1 origin server. Handlers control
// framing, pauses and raw bytes on the wire, which is what the client
// transport tests need to provoke partial reads, interim responses and
// malformed heads over real sockets.
package origin

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type Handler func(w *Writer, r *http.Request)

type Server struct {
	Handler           Handler
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	ln       net.Listener
	conns    atomic.Int64
	requests atomic.Int64

	mu     sync.Mutex
	open   map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
	close  sync.Once
}

// Start serves h on a loopback port until the test ends. The listener is
// bound before Start returns, so URL is usable right away.
func Start(tb testing.TB, h Handler) *Server {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listen: %v", err)
	}
	s := &Server{Handler: h, IdleTimeout: 5 * time.Second}
	s.bind(ln)
	go func() { _ = s.accept(ln) }()
	tb.Cleanup(func() { _ = s.Close() })
	return s
}

// Serve accepts connections on l until the server is closed.
func (s *Server) Serve(l net.Listener) error {
	s.bind(l)
	return s.accept(l)
}

func (s *Server) bind(l net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ln = l
	if s.open == nil {
		s.open = make(map[net.Conn]struct{})
	}
}

func (s *Server) accept(l net.Listener) error {
	for {
		c, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = c.Close()
			return nil
		}
		s.conns.Add(1)
		s.open[c] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.serveConn(c)
	}
}

// Addr is the listening host:port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ln.Addr().String()
}

// URL returns the base URL with path appended.
func (s *Server) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "http://" + s.Addr() + path
}

// Conns is the number of connections accepted so far.
func (s *Server) Conns() int64 { return s.conns.Load() }

// Requests is the number of requests read so far.
func (s *Server) Requests() int64 { return s.requests.Load() }

// Close stops accepting and drops every open connection.
func (s *Server) Close() error {
	var err error
	s.close.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.ln != nil {
			err = s.ln.Close()
		}
		for c := range s.open {
			_ = c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return err
}

func (s *Server) serveConn(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.open, c)
		s.mu.Unlock()
		_ = c.Close()
	}()
	br := bufio.NewReader(c)
	bw := bufio.NewWriter(c)
	for {
		if s.ReadHeaderTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(s.ReadHeaderTimeout))
		}
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		s.requests.Add(1)
		_ = c.SetReadDeadline(time.Time{})

		ka := req.ProtoAtLeast(1, 1) && !req.Close
		w := &Writer{bw: bw, proto: req.Proto, keepAlive: ka, hdr: http.Header{}, method: req.Method}
		if s.Handler != nil {
			s.Handler(w, req)
		} else {
			w.WriteHeader(404)
		}
		_ = req.Body.Close()
		if err := w.finish(); err != nil || w.raw || !w.keepAlive {
			return
		}
		if s.IdleTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(s.IdleTimeout))
		}
	}
}

// Writer streams one response. Without a Content-Length header the body
// is chunked on HTTP/1.1, and every Write is flushed as its own chunk.
type Writer struct {
	bw        *bufio.Writer
	proto     string
	method    string
	keepAlive bool
	status    int
	wroteHdr  bool
	chunked   bool
	raw       bool
	hdr       http.Header
	trailer   http.Header
}

func (w *Writer) Header() http.Header { return w.hdr }

func (w *Writer) WriteHeader(status int) {
	if w.wroteHdr || w.raw {
		return
	}
	if status == 0 {
		status = 200
	}
	w.status = status
	_ = w.startIfNeeded()
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.raw {
		return 0, errors.New("origin: raw mode")
	}
	if err := w.startIfNeeded(); err != nil {
		return 0, err
	}
	if !w.chunked {
		n, err := w.bw.Write(p)
		if err != nil {
			return n, err
		}
		return n, w.bw.Flush()
	}
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(w.bw, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	if _, err := w.bw.Write(p); err != nil {
		return 0, err
	}
	if _, err := w.bw.WriteString("\r\n"); err != nil {
		return 0, err
	}
	return len(p), w.bw.Flush()
}

// Interim sends a 1xx response ahead of the final one.
func (w *Writer) Interim(status int, h http.Header) error {
	if w.wroteHdr || status < 100 || status > 199 {
		return fmt.Errorf("origin: cannot send interim %d", status)
	}
	fmt.Fprintf(w.bw, "%s %d %s\r\n", w.proto, status, http.StatusText(status))
	if err := h.Write(w.bw); err != nil {
		return err
	}
	_, _ = w.bw.WriteString("\r\n")
	return w.bw.Flush()
}

// Raw writes s to the connection as is. The connection is closed once the
// handler returns, so a raw response may also be delimited by close.
func (w *Writer) Raw(s string) error {
	if w.wroteHdr {
		return errors.New("origin: head already written")
	}
	w.raw = true
	if _, err := w.bw.WriteString(s); err != nil {
		return err
	}
	return w.bw.Flush()
}

// Pause flushes what was written and sleeps for d.
func (w *Writer) Pause(d time.Duration) {
	_ = w.Flush()
	time.Sleep(d)
}

func (w *Writer) Flush() error {
	if !w.raw {
		if err := w.startIfNeeded(); err != nil {
			return err
		}
	}
	return w.bw.Flush()
}

func (w *Writer) startIfNeeded() error {
	if w.wroteHdr {
		return nil
	}
	if w.status == 0 {
		w.status = 200
	}
	if strings.EqualFold(w.hdr.Get("Connection"), "close") {
		w.keepAlive = false
	}
	w.hdr.Del("Connection")
	hasCL := w.hdr.Get("Content-Length") != ""
	w.chunked = !hasCL && !noBody(w.status, w.method) && w.proto == "HTTP/1.1" && w.keepAlive
	if !hasCL && !w.chunked && !noBody(w.status, w.method) {
		w.keepAlive = false
	}

	fmt.Fprintf(w.bw, "%s %d %s\r\n", w.proto, w.status, http.StatusText(w.status))
	if w.chunked {
		w.hdr.Set("Transfer-Encoding", "chunked")
	}
	if !w.keepAlive {
		w.hdr.Set("Connection", "close")
	}
	if err := w.hdr.Write(w.bw); err != nil {
		return err
	}
	if _, err := w.bw.WriteString("\r\n"); err != nil {
		return err
	}
	w.wroteHdr = true
	return nil
}

func (w *Writer) finish() error {
	if w.raw {
		return w.bw.Flush()
	}
	if err := w.startIfNeeded(); err != nil {
		return err
	}
	if w.chunked {
		w.bw.WriteString("0\r\n")
		if err := w.trailer.Write(w.bw); err != nil {
			return err
		}
		w.bw.WriteString("\r\n")
	}
	return w.bw.Flush()
}

// Trailer adds a trailer field sent after a chunked body.
func (w *Writer) Trailer(key, value string) {
	if w.trailer == nil {
		w.trailer = http.Header{}
	}
	w.trailer.Add(key, value)
}

// ContentLength sets the Content-Length header to n.
func (w *Writer) ContentLength(n int) { w.hdr.Set("Content-Length", strconv.Itoa(n)) }

func noBody(status int, method string) bool {
	if method == "HEAD" {
		return true
	}
	if status >= 100 && status < 200 {
		return true
	}
	return status == 204 || status == 304
}
