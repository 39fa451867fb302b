package httpx

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"dqx0.com/go/httpmux/internal/obs"
)

const (
	DefaultTimeout            = 60 * time.Second
	DefaultMaxHostConnections = 6
	DefaultMaxPendingPushes   = 50
)

// Client multiplexes many responses over shared sessions. Requests are
// dispatched lazily and driven by Stream or by the blocking accessors of
// Response.
//
// A Client is not safe for concurrent use; it is driven from one
// goroutine.
type Client struct {
	// Backend performs the transfers; nil uses DefaultBackend.
	Backend Backend
	Logger  *zap.Logger
	Meter   obs.Meter
	// Timeout is the default idle timeout of a response.
	Timeout            time.Duration
	MaxHostConnections int
	// MaxPendingPushes bounds pushed responses kept per authority; a
	// negative value disables pushes.
	MaxPendingPushes int
	// Conn holds the default connection options.
	Conn ConnOptions
	// Buffer is the default buffering policy; the zero value buffers.
	Buffer BufferPolicy

	sessions map[uint64]*clientState
	order    []*clientState
	nextID   int
	log      *zap.Logger
}

// DefaultBackend is used by Client when Backend is nil.
var DefaultBackend Backend = NewNetBackend()

// Get sends a GET request for rawURL.
func (c *Client) Get(rawURL string) (*Response, error) {
	return c.Request("GET", rawURL, nil)
}

// Request builds and sends a request.
func (c *Client) Request(method, rawURL string, body []byte) (*Response, error) {
	req, err := NewRequest(method, rawURL, body)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do prepares req and returns its response. Nothing is sent until the
// response is streamed, inspected or closed.
func (c *Client) Do(req *Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	h := req.Header.Clone()
	decode := false
	if h.Get("accept-encoding") == "" {
		h.Set("accept-encoding", acceptEncoding)
		decode = true
	}
	ctx := req.Context()
	id := stampIDs(ctx, h, req.CorrelationID)
	injectTrace(ctx, h)

	opts := c.Conn
	if req.Conn != nil {
		opts = *req.Conn
	}
	if v := h.Get("proxy-authorization"); v != "" {
		opts.ProxyAuth = v
		h.Del("proxy-authorization")
	}
	opts = resolveProxy(req.URL, opts).normalize()
	cs, err := c.session(opts)
	if err != nil {
		return nil, err
	}

	out := *req
	out.Header = h
	out.Method = strings.ToUpper(out.Method)
	if out.Method == "" {
		out.Method = "GET"
	}
	c.nextID++
	r := &Response{
		id:      c.nextID,
		client:  c,
		cs:      cs,
		req:     &out,
		logger:  c.logger(),
		decode:  decode,
		headers: Header{},
		timeout: c.timeoutFor(req),
		policy:  c.Buffer,
		info: Info{
			URL:       absoluteURL(req.URL),
			Method:    out.Method,
			RequestID: id,
		},
	}
	if req.Buffer.isSet() {
		r.policy = req.Buffer
	}
	r.ex = &Exchange{ID: r.id, Request: &out, URL: r.info.URL}
	if out.Method == "GET" && len(out.Body) == 0 {
		authority, _ := pushKey(r.info.URL)
		if p, ok := cs.pushes.Take(authority, r.info.URL); ok {
			r.pushed = &p
		}
	}
	r.initializer = func(r *Response) (bool, error) {
		r.dispatch()
		return !r.headersSeen, nil
	}
	return r, nil
}

// Close releases every session. Responses still running are aborted.
func (c *Client) Close() error {
	var errs []error
	for _, cs := range c.order {
		for _, r := range cs.open {
			r.release()
		}
		cs.pushes.Clear()
		if err := cs.session.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.sessions = nil
	c.order = nil
	return errors.Join(errs...)
}

// session returns the cached session for opts, creating it on first use.
func (c *Client) session(opts ConnOptions) (*clientState, error) {
	key := opts.Key()
	if cs, ok := c.sessions[key]; ok {
		return cs, nil
	}
	backend := c.Backend
	if backend == nil {
		backend = DefaultBackend
	}
	s, err := backend.NewSession(opts, SessionConfig{
		MaxHostConnections: c.maxHostConnections(),
		Logger:             c.logger(),
		Meter:              c.meter(),
	})
	if err != nil {
		return nil, err
	}
	if c.sessions == nil {
		c.sessions = make(map[uint64]*clientState)
	}
	cs := newClientState(key, opts, s, c.logger(), c.maxPendingPushes())
	cs.pushes.OnEvict = func(string, Pushed) {
		c.meter().Counter("client_pushes_evicted_total", 1)
	}
	c.sessions[key] = cs
	c.order = append(c.order, cs)
	return cs, nil
}

func (c *Client) timeoutFor(req *Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c *Client) maxHostConnections() int {
	if c.MaxHostConnections > 0 {
		return c.MaxHostConnections
	}
	return DefaultMaxHostConnections
}

func (c *Client) maxPendingPushes() int {
	if c.MaxPendingPushes != 0 {
		return c.MaxPendingPushes
	}
	return DefaultMaxPendingPushes
}

func (c *Client) logger() *zap.Logger {
	if c.log == nil {
		c.log = obs.OrNop(c.Logger).With(zap.String("component", "httpx"))
	}
	return c.log
}

func (c *Client) meter() obs.Meter { return obs.OrNopMeter(c.Meter) }

func metricLabel(k, v string) obs.Label { return obs.Label{Key: k, Value: v} }
