package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Info is the metadata collected for a response while it runs.
type Info struct {
	URL             string
	Method          string
	HTTPCode        int
	ResponseHeaders []string
	// Error holds the first transport failure, persisted so later reads
	// observe it deterministically.
	Error     string
	Canceled  bool
	RequestID string
	StartTime time.Time
	TotalTime time.Duration
}

type responseState uint8

const (
	statePending responseState = iota
	stateActive
	stateClosed
)

// Response is one in-flight or completed request. Responses are created
// by Client.Do, dispatched lazily and driven by Client.Stream or by any
// accessor that needs headers or body.
//
// A Response is not safe for concurrent use.
type Response struct {
	id     int
	client *Client
	cs     *clientState
	ex     *Exchange
	req    *Request
	logger *zap.Logger

	state   responseState
	info    Info
	headers Header
	offset  int64
	timeout time.Duration

	policy      BufferPolicy
	buf         BodyBuffer
	dec         *decoder
	decode      bool
	headersSeen bool
	pushed      *Pushed

	// initializer reports whether the caller must wait for the first
	// chunk. It is kept after a failure.
	initializer func(*Response) (bool, error)
	finalized   bool
	jsonData    map[string]any
}

// ID is unique within the client that created the response.
func (r *Response) ID() int { return r.id }

// Offset is the number of decoded body bytes delivered so far.
func (r *Response) Offset() int64 { return r.offset }

// Info returns a copy of the response metadata.
func (r *Response) Info() Info {
	info := r.info
	info.ResponseHeaders = append([]string(nil), r.info.ResponseHeaders...)
	if r.state != stateClosed && !info.StartTime.IsZero() {
		info.TotalTime = time.Since(info.StartTime)
	}
	return info
}

// StatusCode waits for the headers and returns the status code.
func (r *Response) StatusCode() (int, error) {
	if r.initializer != nil {
		if err := r.initialize(); err != nil {
			return 0, err
		}
	}
	return r.info.HTTPCode, nil
}

// Headers waits for the headers. With throw set, a status code of 300 or
// above is returned as a *StatusError.
func (r *Response) Headers(throw bool) (Header, error) {
	if r.initializer != nil {
		if err := r.initialize(); err != nil {
			return nil, err
		}
	}
	if throw {
		if err := r.checkStatus(); err != nil {
			return nil, err
		}
	}
	return r.headers.Clone(), nil
}

// Content drains the response and returns its body. Without buffering
// the body can be retrieved once; a second call fails with
// ErrBufferingDisabled, except for bodiless responses.
func (r *Response) Content(throw bool) ([]byte, error) {
	if r.initializer != nil {
		if err := r.initialize(); err != nil {
			return nil, err
		}
	}
	if throw {
		if err := r.checkStatus(); err != nil {
			return nil, err
		}
	}
	if r.buf == nil {
		return r.drainUnbuffered()
	}
	st := r.client.Stream([]*Response{r})
	for st.Next() {
		if _, err := st.Chunk().Content(); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	if err := st.Err(); err != nil {
		return nil, err
	}
	if r.info.Error != "" {
		return nil, r.persistedError()
	}
	return readAll(r.buf)
}

func (r *Response) drainUnbuffered() ([]byte, error) {
	var content []byte
	seen := false
	st := r.client.Stream([]*Response{r})
	for st.Next() {
		ch := st.Chunk()
		last, err := ch.IsLast()
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		seen = true
		if !last {
			p, _ := ch.Content()
			content = append(content, p...)
		}
	}
	if err := st.Err(); err != nil {
		return nil, err
	}
	if seen {
		if content == nil {
			content = []byte{}
		}
		return content, nil
	}
	if r.info.Error != "" {
		return nil, r.persistedError()
	}
	if r.info.Method == "HEAD" || r.info.HTTPCode == 204 || r.info.HTTPCode == 304 {
		return []byte{}, nil
	}
	return nil, &TransportError{
		Msg:   "Cannot get the content of the response twice: buffering is disabled.",
		Cause: ErrBufferingDisabled,
	}
}

var jsonContentType = regexp.MustCompile(`(?i)\bjson\b`)

// JSON decodes the body as a JSON object. Numbers are kept as
// json.Number. The result is cached when the body is buffered.
func (r *Response) JSON(throw bool) (map[string]any, error) {
	content, err := r.Content(throw)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, &TransportError{Msg: "Response body is empty."}
	}
	if r.jsonData != nil {
		return r.jsonData, nil
	}
	ct := r.headers.Get("content-type")
	if ct == "" {
		ct = "application/json"
	}
	if !jsonContentType.MatchString(ct) {
		return nil, &DecodingError{Msg: fmt.Sprintf("Response content-type is %q while a JSON-compatible one was expected for %q.", ct, r.info.URL)}
	}
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &DecodingError{Msg: err.Error() + " for \"" + r.info.URL + "\".", Cause: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &DecodingError{Msg: fmt.Sprintf("Syntax error: trailing data for %q.", r.info.URL)}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &DecodingError{Msg: fmt.Sprintf("JSON content was expected to decode to an object, %q returned for %q.", jsonKind(v), r.info.URL)}
	}
	if r.buf != nil {
		r.jsonData = obj
	}
	return obj, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	default:
		return "object"
	}
}

// Cancel aborts the transfer. Later reads fail with ErrCanceled.
func (r *Response) Cancel() {
	r.info.Canceled = true
	r.setError("Response has been canceled.")
	r.release()
	r.client.meter().Counter("client_responses_canceled_total", 1)
}

// Close finalizes the response: it makes sure the request was sent,
// waits for the headers and reports a status of 300 or above as a
// *StatusError, unless the response was already inspected. Close runs
// once; later calls return nil.
func (r *Response) Close() error {
	if r.finalized {
		return nil
	}
	r.finalized = true
	defer r.release()
	if r.initializer == nil || r.info.Error != "" {
		return nil
	}
	if err := r.initialize(); err != nil {
		return err
	}
	return r.checkStatus()
}

// ToStream returns a readable view of the body. With throw set the
// status is checked first.
func (r *Response) ToStream(throw bool) (*BodyStream, error) {
	if throw {
		if _, err := r.Headers(true); err != nil {
			return nil, err
		}
	}
	return OpenStream(r.client, r, "r")
}

// initialize runs the initializer. It is cleared only on success, so
// every later accessor of a failed response reports the persisted error.
func (r *Response) initialize() error {
	if r.info.Error != "" {
		return r.persistedError()
	}
	if err := r.runInitializer(); err != nil {
		r.setError(err.Error())
		r.release()
		return err
	}
	r.initializer = nil
	return nil
}

func (r *Response) runInitializer() (err error) {
	wait, err := r.initializer(r)
	if err != nil || !wait {
		return err
	}
	st := r.client.Stream([]*Response{r})
	defer func() {
		if cerr := st.Close(); err == nil {
			err = cerr
		}
	}()
	for st.Next() {
		first, err := st.Chunk().IsFirst()
		if err != nil {
			return err
		}
		if first {
			return nil
		}
	}
	if err := st.Err(); err != nil {
		return err
	}
	if r.info.Error != "" {
		return r.persistedError()
	}
	return nil
}

func (r *Response) checkStatus() error {
	if r.info.HTTPCode >= 300 {
		return newStatusError(r)
	}
	return nil
}

func (r *Response) setError(msg string) {
	if r.info.Error == "" {
		r.info.Error = msg
	}
}

func (r *Response) persistedError() error {
	if r.info.Canceled {
		return &TransportError{Msg: r.info.Error, Cause: ErrCanceled}
	}
	return &TransportError{Msg: r.info.Error}
}

// dispatch hands the response to its session. Dispatch failures are
// queued as a terminal error so they surface through the stream.
func (r *Response) dispatch() {
	if r.state != statePending {
		return
	}
	r.state = stateActive
	r.info.StartTime = time.Now()
	r.cs.open[r.id] = r
	var err error
	if r.pushed != nil {
		r.logger.Debug("Accepting pushed response", zap.String("url", r.info.URL))
		err = r.pushed.Adopt(r.ex)
		r.pushed = nil
	} else {
		err = r.cs.session.Start(r.ex)
	}
	r.client.meter().Counter("client_requests_total", 1, metricLabel("method", r.info.Method))
	if err != nil {
		if isFault(err) {
			r.cs.End(r.id, err)
			return
		}
		r.cs.End(r.id, &TransportError{Msg: err.Error(), Cause: err})
	}
}

// release closes the response on the engine side: it stops tracking,
// cancels any transfer still running and frees the decoder. Buffered
// content stays readable.
func (r *Response) release() {
	switch r.state {
	case stateClosed:
		return
	case stateActive:
		delete(r.cs.open, r.id)
		delete(r.cs.activity, r.id)
		r.cs.session.Cancel(r.id)
		r.info.TotalTime = time.Since(r.info.StartTime)
		r.client.meter().Histogram("client_response_duration_ms", float64(r.info.TotalTime.Milliseconds()),
			metricLabel("status", strconv.Itoa(r.info.HTTPCode)))
	}
	r.state = stateClosed
	if r.dec != nil {
		r.dec.Close()
	}
}

// addTrailer merges trailer fields received after the body into the
// headers and the raw header lines.
func (r *Response) addTrailer(lines []string) {
	for _, line := range lines {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		r.headers.Add(strings.TrimSpace(k), strings.TrimSpace(v))
		r.info.ResponseHeaders = append(r.info.ResponseHeaders, line)
	}
}

var statusLine = regexp.MustCompile(`^HTTP/\d+(?:\.\d+)?\s([12345]\d\d)`)

// parseHeaderLines applies a raw header block to info and h. Every status
// line starts a new block, so after redirects or interim responses the
// last block wins. All raw lines are kept in info.
func parseHeaderLines(lines []string, info *Info, h Header) error {
	seen := false
	for _, line := range lines {
		info.ResponseHeaders = append(info.ResponseHeaders, line)
		if m := statusLine.FindStringSubmatch(line); m != nil {
			code, _ := strconv.Atoi(m[1])
			info.HTTPCode = code
			for k := range h {
				delete(h, k)
			}
			seen = true
			continue
		}
		if strings.HasPrefix(line, "HTTP/") {
			return ErrBadStatusLine
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || !seen {
			continue
		}
		h.Add(strings.TrimSpace(name), strings.TrimLeft(value, " \t"))
	}
	if !seen {
		return ErrBadStatusLine
	}
	return nil
}
