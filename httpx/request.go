package httpx

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Request describes a request to send through Client.Do.
//
// Body is sent with a Content-Length. Timeout is the idle timeout for the
// response; zero uses the client's. Buffer and Conn override the client
// defaults when set.
type Request struct {
	Method  string
	URL     *url.URL
	Header  Header
	Body    []byte
	Timeout time.Duration
	Buffer  BufferPolicy
	Conn    *ConnOptions
	// CorrelationID is propagated as X-Correlation-ID when set.
	CorrelationID string
	ctx           context.Context
}

// NewRequest parses rawURL and returns a request for it.
func NewRequest(method, rawURL string, body []byte) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = "GET"
	}
	return &Request{Method: strings.ToUpper(method), URL: u, Header: Header{}, Body: body}, nil
}

// Context returns the request's context. If nil, returns Background.
func (r *Request) Context() context.Context {
	if r == nil || r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r with its context changed to ctx.
func WithContext(r *Request, ctx context.Context) *Request {
	if r == nil {
		return nil
	}
	r2 := *r
	r2.ctx = ctx
	return &r2
}

func (r *Request) validate() error {
	if r == nil || r.URL == nil {
		return fmt.Errorf("httpx: nil request or URL")
	}
	switch r.URL.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("httpx: unsupported scheme %q", r.URL.Scheme)
	}
	if r.URL.Host == "" {
		return fmt.Errorf("httpx: missing host in %q", r.URL.String())
	}
	return nil
}

// target is the request-target in origin form.
func (r *Request) target() string {
	if r.URL.Opaque != "" {
		return r.URL.Opaque
	}
	p := r.URL.RequestURI()
	if p == "" {
		return "/"
	}
	return p
}

// absoluteURL is the request URL without user info or fragment.
func absoluteURL(u *url.URL) string {
	c := *u
	c.User = nil
	c.Fragment = ""
	c.RawFragment = ""
	if c.Path == "" && c.Opaque == "" {
		c.Path = "/"
	}
	return c.String()
}
