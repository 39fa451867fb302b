package http1

import (
	"bufio"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// RequestHead describes a request line and its headers. Target is the
// request-target as sent: origin-form, or absolute-form through a proxy.
type RequestHead struct {
	Method string
	Target string
	Host   string
	Header map[string][]string
}

// WriteRequest writes a HTTP/1.1 request with a Content-Length framed
// body. Headers go out in sorted order; Host and Content-Length set by
// the caller are ignored. A field that would break the framing fails the
// write with ErrHeaderField before anything reaches bw.
func WriteRequest(bw *bufio.Writer, h RequestHead, body []byte) error {
	if err := h.validate(); err != nil {
		return err
	}
	fmt.Fprintf(bw, "%s %s HTTP/1.1\r\nHost: %s\r\n", h.Method, h.Target, h.Host)
	keys := make([]string, 0, len(h.Header))
	for k := range h.Header {
		if !strings.EqualFold(k, "host") && !strings.EqualFold(k, "content-length") {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		for _, v := range h.Header[k] {
			fmt.Fprintf(bw, "%s: %s\r\n", k, v)
		}
	}
	if len(body) > 0 || hasBody(h.Method) {
		bw.WriteString("Content-Length: " + strconv.Itoa(len(body)) + "\r\n")
	}
	bw.WriteString("\r\n")
	bw.Write(body)
	return bw.Flush()
}

func (h RequestHead) validate() error {
	if !ValidHeaderName(h.Method) {
		return fmt.Errorf("%w: method %q", ErrHeaderField, h.Method)
	}
	if h.Target == "" || strings.ContainsAny(h.Target, " \r\n") {
		return fmt.Errorf("%w: request target %q", ErrHeaderField, h.Target)
	}
	if !ValidHeaderValue(h.Host) {
		return fmt.Errorf("%w: host %q", ErrHeaderField, h.Host)
	}
	for k, vv := range h.Header {
		if !ValidHeaderName(k) {
			return fmt.Errorf("%w: name %q", ErrHeaderField, k)
		}
		for _, v := range vv {
			if !ValidHeaderValue(v) {
				return fmt.Errorf("%w: value of %s", ErrHeaderField, k)
			}
		}
	}
	return nil
}

// WriteConnect writes a CONNECT request for authority.
func WriteConnect(bw *bufio.Writer, authority string, header map[string][]string) error {
	return WriteRequest(bw, RequestHead{Method: "CONNECT", Target: authority, Host: authority, Header: header}, nil)
}

func hasBody(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}
