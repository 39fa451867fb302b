package httpx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"dqx0.com/go/httpmux/internal/obs"
)

type event struct {
	kind   string
	offset int64
	data   string
}

func newTestClient(t *testing.T, b *MockBackend) *Client {
	t.Helper()
	c := &Client{Backend: b, Logger: zaptest.NewLogger(t)}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustGet(t *testing.T, c *Client, url string) *Response {
	t.Helper()
	r, err := c.Get(url)
	require.NoError(t, err)
	return r
}

// collect streams rs and records every chunk per response id.
func collect(t *testing.T, c *Client, rs []*Response, opts ...StreamOption) map[int][]event {
	t.Helper()
	out := make(map[int][]event)
	st := c.Stream(rs, opts...)
	for st.Next() {
		r, ch := st.Response(), st.Chunk()
		ev := event{offset: ch.Offset()}
		timeout, err := ch.IsTimeout()
		switch {
		case err != nil:
			ev.kind, ev.data = "error", err.Error()
		case timeout:
			ev.kind = "timeout"
		default:
			first, _ := ch.IsFirst()
			last, _ := ch.IsLast()
			data, _ := ch.Content()
			switch {
			case first:
				ev.kind = "first"
			case last:
				ev.kind = "last"
			default:
				ev.kind, ev.data = "data", string(data)
			}
		}
		out[r.ID()] = append(out[r.ID()], ev)
	}
	require.NoError(t, st.Err())
	return out
}

func TestStream_MultipleResponses(t *testing.T) {
	b := &MockBackend{Handler: func(req *Request) *MockResponse {
		switch req.URL.Path {
		case "/a":
			return NewMockResponse(200, nil, Text("ab"), Text("cd"))
		default:
			return NewMockResponse(200, nil, Text("x"))
		}
	}}
	c := newTestClient(t, b)
	a := mustGet(t, c, "http://example.com/a")
	x := mustGet(t, c, "http://example.com/x")

	got := collect(t, c, []*Response{a, x})
	assert.Equal(t, []event{
		{kind: "first"},
		{kind: "data", data: "ab"},
		{kind: "data", offset: 2, data: "cd"},
		{kind: "last", offset: 4},
	}, got[a.ID()])
	assert.Equal(t, []event{
		{kind: "first"},
		{kind: "data", data: "x"},
		{kind: "last", offset: 1},
	}, got[x.ID()])
	assert.Equal(t, 1, b.Sessions())
}

func TestStream_OrderingProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		bodies := rapid.SliceOfN(
			rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 1, 8), 0, 5),
			1, 4,
		).Draw(rt, "bodies")

		b := &MockBackend{}
		for _, frags := range bodies {
			steps := make([]MockStep, len(frags))
			for i, f := range frags {
				steps[i] = Body(f)
			}
			b.Responses = append(b.Responses, NewMockResponse(200, nil, steps...))
		}
		c := &Client{Backend: b, Logger: zap.NewNop()}
		defer c.Close()

		rs := make([]*Response, len(bodies))
		for i := range bodies {
			r, err := c.Get(fmt.Sprintf("http://example.com/%d", i))
			if err != nil {
				rt.Fatalf("get: %v", err)
			}
			rs[i] = r
		}

		got := make(map[int]*bytes.Buffer)
		seenFirst := make(map[int]bool)
		seenLast := make(map[int]bool)
		st := c.Stream(rs)
		for st.Next() {
			r, ch := st.Response(), st.Chunk()
			id := r.ID()
			if seenLast[id] {
				rt.Fatalf("chunk after last for %d", id)
			}
			first, err := ch.IsFirst()
			if err != nil {
				rt.Fatalf("unexpected error chunk: %v", err)
			}
			if first {
				seenFirst[id] = true
				got[id] = &bytes.Buffer{}
				continue
			}
			if !seenFirst[id] {
				rt.Fatalf("chunk before first for %d", id)
			}
			if ch.Offset() != int64(got[id].Len()) {
				rt.Fatalf("offset %d, want %d", ch.Offset(), got[id].Len())
			}
			if last, _ := ch.IsLast(); last {
				seenLast[id] = true
				continue
			}
			data, _ := ch.Content()
			got[id].Write(data)
		}
		if err := st.Err(); err != nil {
			rt.Fatalf("stream: %v", err)
		}
		for i, r := range rs {
			if !seenLast[r.ID()] {
				rt.Fatalf("response %d never completed", i)
			}
			if want := bytes.Join(bodies[i], nil); !bytes.Equal(got[r.ID()].Bytes(), want) {
				rt.Fatalf("body %d = %q, want %q", i, got[r.ID()].Bytes(), want)
			}
			if r.Offset() != int64(got[r.ID()].Len()) {
				rt.Fatalf("response offset %d", r.Offset())
			}
		}
	})
}

func TestStream_IdleTimeout(t *testing.T) {
	b := &MockBackend{Responses: []*MockResponse{
		NewMockResponse(200, nil, Text("a"), Pause(200*time.Millisecond), Text("b")),
	}}
	c := newTestClient(t, b)
	req, err := NewRequest("GET", "http://example.com/slow", nil)
	require.NoError(t, err)
	req.Timeout = 40 * time.Millisecond
	r, err := c.Do(req)
	require.NoError(t, err)

	got := collect(t, c, []*Response{r})
	require.Equal(t, []event{
		{kind: "first"},
		{kind: "data", data: "a"},
		{kind: "timeout", offset: 1},
	}, got[r.ID()])
	assert.Empty(t, b.Canceled())

	got = collect(t, c, []*Response{r}, WithIdleTimeout(2*time.Second))
	assert.Equal(t, []event{
		{kind: "data", offset: 1, data: "b"},
		{kind: "last", offset: 2},
	}, got[r.ID()])
}

func TestStream_TimeoutChunkErrors(t *testing.T) {
	b := &MockBackend{Responses: []*MockResponse{{Status: 200, HeaderDelay: time.Second}}}
	c := newTestClient(t, b)
	r := mustGet(t, c, "http://example.com/never")

	st := c.Stream([]*Response{r}, WithIdleTimeout(20*time.Millisecond))
	require.True(t, st.Next())
	ch := st.Chunk()
	timeout, err := ch.IsTimeout()
	require.NoError(t, err)
	require.True(t, timeout)

	_, err = ch.IsFirst()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, `Idle timeout reached for "http://example.com/never".`, err.Error())

	require.False(t, st.Next())
	require.NoError(t, st.Err())
}

func TestStream_ZeroTimeoutPolls(t *testing.T) {
	b := &MockBackend{Responses: []*MockResponse{{Status: 200, HeaderDelay: 300 * time.Millisecond}}}
	c := newTestClient(t, b)
	r := mustGet(t, c, "http://example.com/")

	start := time.Now()
	got := collect(t, c, []*Response{r}, WithIdleTimeout(0))
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, []event{{kind: "timeout"}}, got[r.ID()])
}

func TestStream_GzipDecoding(t *testing.T) {
	plain := strings.Repeat("hello, compressed world. ", 200)
	var zbuf bytes.Buffer
	zw := gzip.NewWriter(&zbuf)
	_, err := zw.Write([]byte(plain))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var steps []MockStep
	for p := zbuf.Bytes(); len(p) > 0; {
		n := min(7, len(p))
		steps = append(steps, Body(p[:n]))
		p = p[n:]
	}
	h := Header{}
	h.Set("Content-Encoding", "gzip")
	b := &MockBackend{Handler: func(*Request) *MockResponse { return NewMockResponse(200, h, steps...) }}
	c := newTestClient(t, b)

	r := mustGet(t, c, "http://example.com/z")
	content, err := r.Content(true)
	require.NoError(t, err)
	assert.Equal(t, plain, string(content))
	assert.Equal(t, int64(len(plain)), r.Offset())
	assert.Equal(t, acceptEncoding, b.Requests()[0].Header.Get("accept-encoding"))

	// A caller negotiating its own encoding gets the raw bytes.
	req, err := NewRequest("GET", "http://example.com/z", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	raw, err := c.Do(req)
	require.NoError(t, err)
	content, err = raw.Content(true)
	require.NoError(t, err)
	assert.Equal(t, zbuf.Bytes(), content)
}

func TestStream_DecodingFragmentSizes(t *testing.T) {
	var sb strings.Builder
	for i := range 20000 {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	plain := sb.String()
	for _, enc := range []string{"gzip", "deflate", "zstd"} {
		z := compress(t, enc, []byte(plain))
		for _, size := range []int{7, 512, 4096, 16384} {
			t.Run(fmt.Sprintf("%s/%d", enc, size), func(t *testing.T) {
				var steps []MockStep
				for p := z; len(p) > 0; {
					n := min(size, len(p))
					steps = append(steps, Body(p[:n]))
					p = p[n:]
				}
				h := Header{}
				h.Set("Content-Encoding", enc)
				b := &MockBackend{Responses: []*MockResponse{NewMockResponse(200, h, steps...)}}
				c := newTestClient(t, b)

				content, err := mustGet(t, c, "http://example.com/").Content(true)
				require.NoError(t, err)
				assert.Equal(t, len(plain), len(content))
				assert.Equal(t, plain, string(content))
			})
		}
	}
}

func TestStream_CorruptEncoding(t *testing.T) {
	h := Header{}
	h.Set("Content-Encoding", "gzip")
	b := &MockBackend{Responses: []*MockResponse{NewMockResponse(200, h, Text("definitely not gzip"))}}
	c := newTestClient(t, b)
	r := mustGet(t, c, "http://example.com/")

	got := collect(t, c, []*Response{r})
	evs := got[r.ID()]
	require.Len(t, evs, 2)
	assert.Equal(t, "first", evs[0].kind)
	assert.Equal(t, "error", evs[1].kind)
	assert.Equal(t, "Error while processing content unencoding.", evs[1].data)
	assert.Equal(t, "Error while processing content unencoding.", r.Info().Error)
}

func TestStream_StatusErrorsNeverStream(t *testing.T) {
	b := &MockBackend{Responses: []*MockResponse{NewMockResponse(503, nil, Text("down"))}}
	c := newTestClient(t, b)
	r := mustGet(t, c, "http://example.com/")

	got := collect(t, c, []*Response{r})
	assert.Equal(t, []event{
		{kind: "first"},
		{kind: "data", data: "down"},
		{kind: "last", offset: 4},
	}, got[r.ID()])

	_, err := r.Content(true)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StatusServer, se.Kind)
	assert.Equal(t, 503, se.Code)
	assert.Equal(t, `HTTP 503 returned for "http://example.com/".`, se.Error())

	content, err := r.Content(false)
	require.NoError(t, err)
	assert.Equal(t, "down", string(content))
}

func TestStream_TransportFailure(t *testing.T) {
	b := &MockBackend{Responses: []*MockResponse{
		NewMockResponse(200, nil, Text("par"), Fail(errors.New("connection reset"))),
	}}
	c := newTestClient(t, b)
	r := mustGet(t, c, "http://example.com/")

	got := collect(t, c, []*Response{r})
	assert.Equal(t, []event{
		{kind: "first"},
		{kind: "data", data: "par"},
		{kind: "error", offset: 3, data: "connection reset"},
	}, got[r.ID()])
	assert.Equal(t, "connection reset", r.Info().Error)

	_, err := r.Content(false)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "connection reset", te.Error())
}

func TestStream_FailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	b := &MockBackend{Responses: []*MockResponse{NewMockResponse(200, nil, Fail(errors.New("connection reset")))}}
	c := &Client{Backend: b, Logger: zap.New(core)}
	t.Cleanup(func() { _ = c.Close() })
	r := mustGet(t, c, "http://example.com/x")

	collect(t, c, []*Response{r})
	entries := logs.FilterMessage("Response failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "httpx", fields["component"])
	assert.Equal(t, "http://example.com/x", fields["url"])
	assert.Equal(t, "connection reset", fields["error"])
}

func TestStream_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := &MockBackend{Responses: []*MockResponse{
		NewMockResponse(200, nil, Text("ok")),
		NewMockResponse(200, nil, Fail(errors.New("reset"))),
	}}
	c := newTestClient(t, b)
	c.Meter = obs.NewPromMeter(reg, "httpx", nil)
	a := mustGet(t, c, "http://example.com/a")
	f := mustGet(t, c, "http://example.com/f")
	collect(t, c, []*Response{a, f})

	n, err := testutil.GatherAndCount(reg, "httpx_client_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = testutil.GatherAndCount(reg, "httpx_client_responses_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per outcome")
}

func TestStream_UnobservedErrorChunk(t *testing.T) {
	b := &MockBackend{Responses: []*MockResponse{NewMockResponse(200, nil, Fail(errors.New("boom")))}}
	c := newTestClient(t, b)
	r := mustGet(t, c, "http://example.com/")

	st := c.Stream([]*Response{r})
	var offsets []int64
	for st.Next() {
		offsets = append(offsets, st.Chunk().Offset())
	}
	assert.Len(t, offsets, 2)
	require.Error(t, st.Err())
	assert.Equal(t, "boom", st.Err().Error())
}

func TestStream_CloseReportsUnobservedError(t *testing.T) {
	b := &MockBackend{Responses: []*MockResponse{{Status: 200, HeaderLines: []string{"garbage"}}}}
	c := newTestClient(t, b)
	r := mustGet(t, c, "http://example.com/")

	st := c.Stream([]*Response{r})
	require.True(t, st.Next())
	_, isErr := st.Chunk().(*ErrorChunk)
	require.True(t, isErr)
	err := st.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadStatusLine)
	assert.False(t, st.Next())
}

func TestStream_InvalidStatusLine(t *testing.T) {
	for name, lines := range map[string][]string{
		"missing":   {"Content-Type: text/plain"},
		"malformed": {"HTTP/1.1 abc"},
		"bad code":  {"HTTP/1.1 700 Nope"},
	} {
		t.Run(name, func(t *testing.T) {
			b := &MockBackend{Responses: []*MockResponse{{HeaderLines: lines, Steps: []MockStep{Text("x")}}}}
			c := newTestClient(t, b)
			r := mustGet(t, c, "http://example.com/")

			got := collect(t, c, []*Response{r})
			require.Equal(t, []event{{kind: "error", data: "Invalid or missing HTTP status line."}}, got[r.ID()])
			_, err := r.StatusCode()
			assert.EqualError(t, err, "Invalid or missing HTTP status line.")
		})
	}
}

func TestStream_FaultStopsIteration(t *testing.T) {
	fault := &FaultError{Err: errors.New("broken backend")}
	b := &MockBackend{Responses: []*MockResponse{
		NewMockResponse(200, nil, Fail(fault)),
		NewMockResponse(200, nil, Text("fine"), Pause(50*time.Millisecond)),
	}}
	c := newTestClient(t, b)
	bad := mustGet(t, c, "http://example.com/bad")
	good := mustGet(t, c, "http://example.com/good")

	st := c.Stream([]*Response{bad, good})
	for st.Next() {
		_, _ = st.Chunk().IsFirst()
	}
	var fe *FaultError
	require.ErrorAs(t, st.Err(), &fe)
	assert.Equal(t, "broken backend", fe.Err.Error())
}

func TestStream_Cancel(t *testing.T) {
	b := &MockBackend{Responses: []*MockResponse{
		NewMockResponse(200, nil, Text("a"), Pause(time.Second), Text("b")),
	}}
	c := newTestClient(t, b)
	r := mustGet(t, c, "http://example.com/")

	st := c.Stream([]*Response{r})
	var kinds []string
	for st.Next() {
		ch := st.Chunk()
		if data, _ := ch.Content(); len(data) > 0 {
			kinds = append(kinds, "data")
			r.Cancel()
			continue
		}
		kinds = append(kinds, "other")
	}
	require.NoError(t, st.Err())
	assert.Equal(t, []string{"other", "data"}, kinds)
	assert.Equal(t, []int{r.ID()}, b.Canceled())

	info := r.Info()
	assert.True(t, info.Canceled)
	assert.Equal(t, "Response has been canceled.", info.Error)

	_, err := r.Content(false)
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestStream_CancelInsideRunningStream(t *testing.T) {
	b := &MockBackend{Handler: func(req *Request) *MockResponse {
		if req.URL.Path == "/a" {
			return NewMockResponse(200, nil, Text("a1"), Text("a2"), Text("a3"))
		}
		return NewMockResponse(200, nil, Text("b1"), Text("b2"))
	}}
	c := newTestClient(t, b)
	a := mustGet(t, c, "http://example.com/a")
	bb := mustGet(t, c, "http://example.com/b")

	seen := map[int][]string{}
	st := c.Stream([]*Response{a, bb})
	for st.Next() {
		r, ch := st.Response(), st.Chunk()
		data, err := ch.Content()
		require.NoError(t, err)
		if len(data) > 0 {
			seen[r.ID()] = append(seen[r.ID()], string(data))
			if r == a {
				a.Cancel()
			}
		}
	}
	require.NoError(t, st.Err())
	assert.Equal(t, []string{"a1"}, seen[a.ID()])
	assert.Equal(t, []string{"b1", "b2"}, seen[bb.ID()])
	assert.Equal(t, []int{a.ID()}, b.Canceled())
}

func TestStream_NestedStream(t *testing.T) {
	b := &MockBackend{Handler: func(req *Request) *MockResponse {
		if req.URL.Path == "/outer" {
			return NewMockResponse(200, nil, Text("o1"), Text("o2"))
		}
		return NewMockResponse(200, nil, Text("i1"), Text("i2"))
	}}
	c := newTestClient(t, b)
	outer := mustGet(t, c, "http://example.com/outer")
	inner := mustGet(t, c, "http://example.com/inner")

	var innerBody string
	got := map[int][]string{}
	st := c.Stream([]*Response{outer, inner})
	for st.Next() {
		r, ch := st.Response(), st.Chunk()
		if first, _ := ch.IsFirst(); first && r == outer {
			s, err := inner.ToStream(true)
			require.NoError(t, err)
			body, err := io.ReadAll(s)
			require.NoError(t, err)
			innerBody = string(body)
		}
		if data, _ := ch.Content(); len(data) > 0 {
			got[r.ID()] = append(got[r.ID()], string(data))
		}
	}
	require.NoError(t, st.Err())
	assert.Equal(t, "i1i2", innerBody)
	assert.Equal(t, []string{"o1", "o2"}, got[outer.ID()])
	assert.Empty(t, got[inner.ID()], "chunks consumed by the nested stream are not replayed")
	assert.Equal(t, int64(4), outer.Offset())
}

// scriptBackend is a single session whose Perform replays one batch of
// sink calls per invocation and whose Select never waits.
type scriptBackend struct {
	performs [][]func(Sink)
	n        int
}

func (b *scriptBackend) NewSession(ConnOptions, SessionConfig) (Session, error) { return b, nil }
func (b *scriptBackend) Start(*Exchange) error                                  { return nil }
func (b *scriptBackend) Select(time.Duration) SelectResult                      { return SelectIdle }
func (b *scriptBackend) Cancel(int)                                             {}
func (b *scriptBackend) Close() error                                           { return nil }

func (b *scriptBackend) Perform(sink Sink) {
	if b.n < len(b.performs) {
		for _, fn := range b.performs[b.n] {
			fn(sink)
		}
	}
	b.n++
}

func TestStream_ProgressEndsTimeoutPass(t *testing.T) {
	head := func(id int) func(Sink) {
		return func(s Sink) { s.Headers(id, []string{"HTTP/1.1 200 OK"}) }
	}
	b := &scriptBackend{performs: [][]func(Sink){
		{head(1), head(2)},
		nil,
		{func(s Sink) { s.Data(1, []byte("x")) }},
	}}
	c := &Client{Backend: b, Logger: zaptest.NewLogger(t)}
	t.Cleanup(func() { _ = c.Close() })
	r1 := mustGet(t, c, "http://example.com/1")
	r2 := mustGet(t, c, "http://example.com/2")

	var seq []string
	st := c.Stream([]*Response{r1, r2}, WithIdleTimeout(0))
	for st.Next() {
		r, ch := st.Response(), st.Chunk()
		kind := "data"
		if timeout, _ := ch.IsTimeout(); timeout {
			kind = "timeout"
		} else if first, _ := ch.IsFirst(); first {
			kind = "first"
		}
		seq = append(seq, fmt.Sprintf("%d %s", r.ID(), kind))
	}
	require.NoError(t, st.Err())
	assert.Equal(t, []string{"1 first", "2 first", "1 data", "1 timeout", "2 timeout"}, seq)
}

func TestStream_DispatchFailure(t *testing.T) {
	b := &MockBackend{}
	c := newTestClient(t, b)
	r := mustGet(t, c, "http://example.com/")

	got := collect(t, c, []*Response{r})
	assert.Equal(t, []event{{kind: "error", data: "httpx: mock responses exhausted"}}, got[r.ID()])
}

func TestStream_BufferPolicies(t *testing.T) {
	t.Run("never", func(t *testing.T) {
		b := &MockBackend{Responses: []*MockResponse{NewMockResponse(200, nil, Text("once"))}}
		c := newTestClient(t, b)
		c.Buffer = BufferNever()
		r := mustGet(t, c, "http://example.com/")

		content, err := r.Content(true)
		require.NoError(t, err)
		assert.Equal(t, "once", string(content))
		_, err = r.Content(true)
		assert.ErrorIs(t, err, ErrBufferingDisabled)
	})

	t.Run("decide from headers", func(t *testing.T) {
		h := Header{}
		h.Set("Content-Type", "image/png")
		b := &MockBackend{Responses: []*MockResponse{NewMockResponse(200, h, Text("png"))}}
		c := newTestClient(t, b)
		c.Buffer = BufferIf(func(h Header) (bool, error) {
			return strings.HasPrefix(h.Get("content-type"), "text/"), nil
		})
		r := mustGet(t, c, "http://example.com/")
		_, err := r.Content(true)
		require.NoError(t, err)
		_, err = r.Content(true)
		assert.ErrorIs(t, err, ErrBufferingDisabled)
	})

	t.Run("decider failure", func(t *testing.T) {
		b := &MockBackend{Responses: []*MockResponse{NewMockResponse(200, nil, Text("x"))}}
		c := newTestClient(t, b)
		denied := errors.New("not today")
		c.Buffer = BufferIf(func(Header) (bool, error) { return false, denied })
		r := mustGet(t, c, "http://example.com/")
		_, err := r.Content(true)
		assert.ErrorIs(t, err, denied)
	})

	t.Run("sink", func(t *testing.T) {
		b := &MockBackend{Responses: []*MockResponse{NewMockResponse(200, nil, Text("ab"), Text("c"))}}
		c := newTestClient(t, b)
		sink := &memBuffer{}
		req, err := NewRequest("GET", "http://example.com/", nil)
		require.NoError(t, err)
		req.Buffer = BufferTo(sink)
		r, err := c.Do(req)
		require.NoError(t, err)
		content, err := r.Content(true)
		require.NoError(t, err)
		assert.Equal(t, "abc", string(content))
		assert.Equal(t, int64(3), sink.Size())
	})
}
