package httpx

import (
	"bufio"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/semaphore"

	"dqx0.com/go/httpmux/httpx/internal/http1"
	"dqx0.com/go/httpmux/internal/obs"
)

// NetBackend performs HTTP/1.1 exchanges over TCP, TLS or unix sockets,
// with a per-authority connection pool and optional proxy support. Each
// in-flight exchange runs on its own goroutine; progress is handed to the
// engine in Perform.
type NetBackend struct {
	DialTimeout     time.Duration
	IdleConnTimeout time.Duration
	// MaxHeaderBytes bounds the whole response head.
	MaxHeaderBytes int
	// ReadSize is the size of body reads, and so of data fragments.
	ReadSize int
	// MaxQueuedBytes bounds the body bytes an exchange may have read
	// ahead of Perform; its connection is not read while over the bound.
	MaxQueuedBytes int
	// MaxBodyBytes fails responses with larger bodies; zero means no
	// limit.
	MaxBodyBytes int64
}

// NewNetBackend returns a NetBackend with defaults.
func NewNetBackend() *NetBackend {
	return &NetBackend{
		DialTimeout:     5 * time.Second,
		IdleConnTimeout: 30 * time.Second,
		MaxHeaderBytes:  64 << 10,
		ReadSize:        16 << 10,
		MaxQueuedBytes:  256 << 10,
	}
}

func (b *NetBackend) NewSession(opts ConnOptions, cfg SessionConfig) (Session, error) {
	tc, err := tlsConfig(opts)
	if err != nil {
		return nil, err
	}
	var proxy *url.URL
	if opts.Proxy != "" {
		proxy, err = url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("httpx: invalid proxy %q: %w", opts.Proxy, err)
		}
		if proxy.Scheme != "http" {
			return nil, fmt.Errorf("httpx: unsupported proxy scheme %q", proxy.Scheme)
		}
	}
	limit := cfg.MaxHostConnections
	if limit <= 0 {
		limit = DefaultMaxHostConnections
	}
	s := &netSession{
		b:       b,
		opts:    opts,
		tls:     tc,
		proxy:   proxy,
		limit:   int64(limit),
		logger:  obs.OrNop(cfg.Logger).With(zap.String("component", "net")),
		meter:   obs.OrNopMeter(cfg.Meter),
		sems:    make(map[string]*semaphore.Weighted),
		idle:    make(map[string][]*pooledConn),
		running: make(map[int]*netExchange),
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	s.startCleanup()
	return s, nil
}

type pooledConn struct {
	c       net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	lastUse time.Time
	reused  bool
}

// netExchange tracks one running exchange. queued counts the body bytes
// posted since the last Perform; room is signaled when Perform drains
// them.
type netExchange struct {
	cancel context.CancelFunc
	queued int
	room   chan struct{}
}

type netEvent struct {
	id    int
	kind  activityKind
	lines []string
	data  []byte
	err   error
}

type netSession struct {
	b      *NetBackend
	opts   ConnOptions
	tls    *tls.Config
	proxy  *url.URL
	limit  int64
	logger *zap.Logger
	meter  obs.Meter

	mu      sync.Mutex
	sems    map[string]*semaphore.Weighted
	idle    map[string][]*pooledConn
	running map[int]*netExchange
	events  []netEvent
	notify  chan struct{}
	stop    chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

func (s *netSession) Start(ex *Exchange) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("httpx: session closed")
	}
	ctx, cancel := context.WithCancel(ex.Request.Context())
	s.running[ex.ID] = &netExchange{cancel: cancel, room: make(chan struct{}, 1)}
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.exchange(ctx, ex)
		if err != nil && ctx.Err() == nil {
			s.logger.Debug("exchange failed", zap.String("url", ex.URL), zap.Error(err))
		}
		s.post(netEvent{id: ex.ID, kind: activityEnd, err: err})
	}()
	return nil
}

func (s *netSession) Perform(sink Sink) {
	select {
	case <-s.notify:
	default:
	}
	s.mu.Lock()
	events := s.events
	s.events = nil
	for _, x := range s.running {
		if x.queued > 0 {
			x.queued = 0
			select {
			case x.room <- struct{}{}:
			default:
			}
		}
	}
	s.mu.Unlock()
	for _, ev := range events {
		switch ev.kind {
		case activityHeaders:
			sink.Headers(ev.id, ev.lines)
		case activityData:
			sink.Data(ev.id, ev.data)
		case activityEnd:
			sink.End(ev.id, ev.err)
		}
	}
}

func (s *netSession) Select(timeout time.Duration) SelectResult {
	s.mu.Lock()
	pending := len(s.events)
	s.mu.Unlock()
	if pending > 0 {
		return SelectActivity
	}
	if timeout <= 0 {
		return SelectIdle
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.notify:
		return SelectActivity
	case <-t.C:
		return SelectIdle
	}
}

func (s *netSession) Cancel(id int) {
	s.mu.Lock()
	x, ok := s.running[id]
	delete(s.running, id)
	s.mu.Unlock()
	if ok {
		x.cancel()
		s.metricCounter("client_requests_error", 1, obs.Label{Key: "stage", Value: "canceled"})
	}
}

// Close aborts running exchanges, waits for their goroutines and closes
// idle connections.
func (s *netSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, x := range s.running {
		x.cancel()
		delete(s.running, id)
	}
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
	s.CloseIdleConnections()
	return nil
}

// waitRoom blocks the reader of exchange id while its queued bytes are
// over MaxQueuedBytes.
func (s *netSession) waitRoom(ctx context.Context, id int) error {
	limit := s.b.MaxQueuedBytes
	if limit <= 0 {
		return nil
	}
	for {
		s.mu.Lock()
		x, ok := s.running[id]
		if !ok {
			s.mu.Unlock()
			return context.Canceled
		}
		if x.queued < limit {
			s.mu.Unlock()
			return nil
		}
		room := x.room
		s.mu.Unlock()
		select {
		case <-room:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// queuedBytes sums the body bytes waiting for Perform.
func (s *netSession) queuedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		n += len(ev.data)
	}
	return n
}

// post queues an event for a running exchange. Events of canceled
// exchanges are dropped.
func (s *netSession) post(ev netEvent) {
	s.mu.Lock()
	x, ok := s.running[ev.id]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.events = append(s.events, ev)
	x.queued += len(ev.data)
	if ev.kind == activityEnd {
		delete(s.running, ev.id)
	}
	s.mu.Unlock()
	if ev.kind == activityEnd {
		x.cancel()
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *netSession) exchange(ctx context.Context, ex *Exchange) error {
	u := ex.Request.URL
	authority := hostPort(u)
	sem := s.semaphore(authority)
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)

	key, dial := s.route(u)
	start := time.Now()
	for attempt := 0; ; attempt++ {
		pc, err := s.getConn(ctx, key, dial)
		if err != nil {
			s.logf(zap.ErrorLevel, "dial failed", zap.String("key", key), zap.Error(err))
			s.metricCounter("client_requests_error", 1, obs.Label{Key: "stage", Value: "dial"})
			return &TransportError{Msg: fmt.Sprintf("Failed to connect to %s: %v", authority, err), Cause: err}
		}
		sent, err := s.roundTrip(ctx, ex, key, pc)
		if err != nil && !sent && pc.reused && attempt == 0 && ctx.Err() == nil && !errors.Is(err, http1.ErrHeaderField) {
			// The server closed the idle connection before reading the request.
			continue
		}
		if err == nil {
			s.metricHistogram("client_roundtrip_duration_ms", float64(time.Since(start).Milliseconds()),
				obs.Label{Key: "method", Value: ex.Request.Method})
		}
		if ctx.Err() != nil && err != nil {
			return ctx.Err()
		}
		return err
	}
}

// roundTrip runs one request on pc. sent reports whether any response
// byte was received.
func (s *netSession) roundTrip(ctx context.Context, ex *Exchange, key string, pc *pooledConn) (sent bool, err error) {
	req := ex.Request
	ex.SetHandle(connHandle(pc.c))
	stop := context.AfterFunc(ctx, func() { _ = pc.c.SetDeadline(time.Unix(1, 0)) })
	reuse := false
	defer func() {
		ex.SetHandle(nil)
		alive := stop()
		if reuse && alive {
			s.putConn(key, pc)
		} else {
			s.closeConn(pc)
		}
	}()

	hdr := make(map[string][]string, len(req.Header)+2)
	for k, vv := range req.Header {
		hdr[k] = vv
	}
	target := req.target()
	if s.proxy != nil && req.URL.Scheme == "http" {
		target = absoluteURL(req.URL)
		if s.opts.ProxyAuth != "" {
			hdr["proxy-authorization"] = []string{s.opts.ProxyAuth}
		}
	}
	closeAfter := strings.EqualFold(req.Header.Get("connection"), "close")
	if !closeAfter {
		hdr["connection"] = []string{"keep-alive"}
	}
	if err := http1.WriteRequest(pc.bw, http1.RequestHead{
		Method: req.Method,
		Target: target,
		Host:   req.URL.Host,
		Header: hdr,
	}, req.Body); err != nil {
		s.logf(zap.WarnLevel, "write request failed", zap.Error(err))
		s.metricCounter("client_requests_error", 1, obs.Label{Key: "stage", Value: "write"})
		return false, err
	}

	if _, err := pc.br.Peek(1); err != nil {
		s.metricCounter("client_requests_error", 1, obs.Label{Key: "stage", Value: "read_status"})
		return false, err
	}
	rd := &http1.Reader{BR: pc.br, MaxHeaderBytes: 8 << 10, MaxTotalHeaderBytes: s.b.MaxHeaderBytes}
	head, err := rd.ReadResponseHead()
	if err != nil {
		s.logf(zap.WarnLevel, "read response head failed", zap.Error(err))
		s.metricCounter("client_requests_error", 1, obs.Label{Key: "stage", Value: "read_headers"})
		return true, err
	}
	s.post(netEvent{id: ex.ID, kind: activityHeaders, lines: head.Lines})
	s.metricCounter("net_responses_total", 1, obs.Label{Key: "status", Value: strconv.Itoa(head.Status)})

	body, err := http1.NewBody(pc.br, head, req.Method, http1.Limits{
		MaxLine:         8 << 10,
		MaxTrailerBytes: s.b.MaxHeaderBytes,
		MaxBody:         s.b.MaxBodyBytes,
	})
	if err != nil {
		s.metricCounter("client_requests_error", 1, obs.Label{Key: "stage", Value: "read_body"})
		return true, err
	}
	size := s.b.ReadSize
	if size <= 0 {
		size = 16 << 10
	}
	buf := make([]byte, size)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			s.post(netEvent{id: ex.ID, kind: activityData, data: append([]byte(nil), buf[:n]...)})
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			s.metricCounter("client_requests_error", 1, obs.Label{Key: "stage", Value: "read_body"})
			return true, err
		}
		if err := s.waitRoom(ctx, ex.ID); err != nil {
			return true, err
		}
	}
	if tr := body.Trailer(); len(tr) > 0 {
		s.post(netEvent{id: ex.ID, kind: activityHeaders, lines: tr})
	}
	reuse = body.Reusable && !closeAfter && !hasToken(head.Header["connection"], "close")
	return true, nil
}

func (s *netSession) semaphore(authority string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.sems[authority]
	if !ok {
		sem = semaphore.NewWeighted(s.limit)
		s.sems[authority] = sem
	}
	return sem
}

// route returns the pool key and dial function for u.
func (s *netSession) route(u *url.URL) (string, func(context.Context) (net.Conn, error)) {
	addr := hostPort(u)
	if path, ok := strings.CutPrefix(s.opts.BindTo, "unix:"); ok {
		return "unix://" + path, func(ctx context.Context) (net.Conn, error) {
			d := net.Dialer{Timeout: s.b.DialTimeout}
			c, err := d.DialContext(ctx, "unix", path)
			if err != nil || u.Scheme != "https" {
				return c, err
			}
			return s.handshake(ctx, c, u)
		}
	}
	if s.proxy != nil {
		proxyAddr := hostPort(s.proxy)
		if u.Scheme == "http" {
			// Plain HTTP via proxy: reuse proxy connection across targets
			return "proxy-http://" + proxyAddr, func(ctx context.Context) (net.Conn, error) {
				return s.dialer().DialContext(ctx, "tcp", proxyAddr)
			}
		}
		// Dedicated tunnel per target
		return "proxy-tunnel://" + proxyAddr + "->" + addr, func(ctx context.Context) (net.Conn, error) {
			c, err := s.dialer().DialContext(ctx, "tcp", proxyAddr)
			if err != nil {
				return nil, err
			}
			if err := s.connect(c, addr); err != nil {
				_ = c.Close()
				return nil, err
			}
			return s.handshake(ctx, c, u)
		}
	}
	return u.Scheme + "://" + addr, func(ctx context.Context) (net.Conn, error) {
		c, err := s.dialer().DialContext(ctx, "tcp", addr)
		if err != nil || u.Scheme != "https" {
			return c, err
		}
		return s.handshake(ctx, c, u)
	}
}

func (s *netSession) dialer() *net.Dialer {
	d := &net.Dialer{Timeout: s.b.DialTimeout}
	if s.opts.BindTo != "" {
		if addr, err := net.ResolveTCPAddr("tcp", bindAddr(s.opts.BindTo)); err == nil {
			d.LocalAddr = addr
		}
	}
	return d
}

func bindAddr(v string) string {
	if _, _, err := net.SplitHostPort(v); err == nil {
		return v
	}
	return net.JoinHostPort(strings.Trim(v, "[]"), "0")
}

// connect runs the CONNECT handshake on c.
func (s *netSession) connect(c net.Conn, addr string) error {
	br := bufio.NewReader(c)
	bw := bufio.NewWriter(c)
	hdr := map[string][]string{"connection": {"keep-alive"}}
	if s.opts.ProxyAuth != "" {
		hdr["proxy-authorization"] = []string{s.opts.ProxyAuth}
	}
	if err := http1.WriteConnect(bw, addr, hdr); err != nil {
		return err
	}
	rd := &http1.Reader{BR: br, MaxHeaderBytes: 8 << 10, MaxTotalHeaderBytes: s.b.MaxHeaderBytes}
	head, err := rd.ReadResponseHead()
	if err != nil {
		return err
	}
	if head.Status != 200 {
		return fmt.Errorf("httpx: proxy CONNECT failed: %d", head.Status)
	}
	if br.Buffered() > 0 {
		return fmt.Errorf("%w: data after CONNECT response", ErrProtocolViolation)
	}
	return nil
}

func (s *netSession) handshake(ctx context.Context, c net.Conn, u *url.URL) (net.Conn, error) {
	cfg := s.tls.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = hostOnly(u.Host)
	}
	tc := tls.Client(c, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	if s.opts.CapturePeerCertChain {
		for _, cert := range tc.ConnectionState().PeerCertificates {
			s.logger.Debug("peer certificate", zap.String("host", cfg.ServerName), zap.String("subject", cert.Subject.String()))
		}
	}
	return tc, nil
}

func (s *netSession) getConn(ctx context.Context, key string, dial func(context.Context) (net.Conn, error)) (*pooledConn, error) {
	s.mu.Lock()
	if list := s.idle[key]; len(list) > 0 {
		pc := list[len(list)-1]
		s.idle[key] = list[:len(list)-1]
		s.mu.Unlock()
		_ = pc.c.SetDeadline(time.Time{})
		pc.reused = true
		s.metricCounter("client_conn_reuse_total", 1)
		return pc, nil
	}
	s.mu.Unlock()
	c, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	s.metricCounter("client_conn_dial_total", 1)
	return &pooledConn{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c), lastUse: time.Now()}, nil
}

func (s *netSession) putConn(key string, pc *pooledConn) {
	if pc == nil || pc.c == nil {
		return
	}
	_ = pc.c.SetDeadline(time.Time{})
	pc.lastUse = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = pc.c.Close()
		return
	}
	s.idle[key] = append(s.idle[key], pc)
}

func (s *netSession) closeConn(pc *pooledConn) {
	if pc != nil && pc.c != nil {
		_ = pc.c.Close()
	}
}

// startCleanup launches a goroutine to close expired idle connections.
func (s *netSession) startCleanup() {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.pruneIdle()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *netSession) pruneIdle() {
	if s.b.IdleConnTimeout <= 0 {
		return
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, list := range s.idle {
		kept := list[:0]
		for _, pc := range list {
			if now.Sub(pc.lastUse) > s.b.IdleConnTimeout {
				_ = pc.c.Close()
				s.metricCounter("client_conn_idle_closed_total", 1)
				continue
			}
			kept = append(kept, pc)
		}
		if len(kept) == 0 {
			delete(s.idle, key)
		} else {
			s.idle[key] = kept
		}
	}
}

// CloseIdleConnections closes all idle pooled connections immediately.
func (s *netSession) CloseIdleConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, list := range s.idle {
		for _, pc := range list {
			_ = pc.c.Close()
		}
		delete(s.idle, key)
	}
}

func (s *netSession) logf(level zapcore.Level, msg string, fields ...zap.Field) {
	if ce := s.logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func (s *netSession) metricCounter(name string, value float64, labels ...obs.Label) {
	s.meter.Counter(name, value, labels...)
}

func (s *netSession) metricHistogram(name string, value float64, labels ...obs.Label) {
	s.meter.Histogram(name, value, labels...)
}

// connHandle returns a function exposing the socket descriptor of c.
func connHandle(c net.Conn) func() (uintptr, error) {
	return func() (uintptr, error) {
		if tc, ok := c.(*tls.Conn); ok {
			c = tc.NetConn()
		}
		sc, ok := c.(syscall.Conn)
		if !ok {
			return 0, ErrNoHandle
		}
		rc, err := sc.SyscallConn()
		if err != nil {
			return 0, err
		}
		var fd uintptr
		if err := rc.Control(func(h uintptr) { fd = h }); err != nil {
			return 0, err
		}
		return fd, nil
	}
}

func hasToken(values []string, token string) bool {
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(p), token) {
				return true
			}
		}
	}
	return false
}

var tlsVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// tlsConfig builds the client TLS configuration for opts.
func tlsConfig(opts ConnOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: opts.InsecureSkipVerify,
		NextProtos:         []string{"http/1.1"},
	}
	if opts.CAFile != "" || opts.CAPath != "" {
		pool := x509.NewCertPool()
		files := []string{}
		if opts.CAFile != "" {
			files = append(files, opts.CAFile)
		}
		if opts.CAPath != "" {
			for _, pat := range []string{"*.pem", "*.crt"} {
				m, _ := filepath.Glob(filepath.Join(opts.CAPath, pat))
				files = append(files, m...)
			}
		}
		for _, f := range files {
			pem, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("httpx: read CA %s: %w", f, err)
			}
			pool.AppendCertsFromPEM(pem)
		}
		cfg.RootCAs = pool
	}
	if opts.LocalCert != "" {
		keyFile := opts.LocalKey
		if keyFile == "" {
			keyFile = opts.LocalCert
		}
		cert, err := tls.LoadX509KeyPair(opts.LocalCert, keyFile)
		if err != nil {
			return nil, fmt.Errorf("httpx: load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if len(opts.Ciphers) > 0 {
		byName := make(map[string]uint16)
		for _, cs := range append(tls.CipherSuites(), tls.InsecureCipherSuites()...) {
			byName[cs.Name] = cs.ID
		}
		for _, name := range opts.Ciphers {
			id, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("httpx: unknown cipher suite %q", name)
			}
			cfg.CipherSuites = append(cfg.CipherSuites, id)
		}
	}
	if opts.MinTLSVersion != "" {
		v, ok := tlsVersions[opts.MinTLSVersion]
		if !ok {
			return nil, fmt.Errorf("httpx: unknown TLS version %q", opts.MinTLSVersion)
		}
		cfg.MinVersion = v
	}
	if len(opts.PinSHA256) > 0 {
		pins := opts.PinSHA256
		cfg.VerifyConnection = func(cs tls.ConnectionState) error {
			for _, cert := range cs.PeerCertificates {
				sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
				got := base64.StdEncoding.EncodeToString(sum[:])
				for _, p := range pins {
					if p == got {
						return nil
					}
				}
			}
			return errors.New("httpx: no peer public key matches the pinned keys")
		}
	}
	return cfg, nil
}
