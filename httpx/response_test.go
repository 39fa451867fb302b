package httpx

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonHeader(ct string) Header {
	h := Header{}
	if ct != "" {
		h.Set("Content-Type", ct)
	}
	return h
}

func TestResponse_LazyDispatch(t *testing.T) {
	b := &MockBackend{Responses: []*MockResponse{NewMockResponse(201, nil, Text("ok"))}}
	c := newTestClient(t, b)
	r := mustGet(t, c, "http://example.com/")
	assert.Empty(t, b.Requests())

	code, err := r.StatusCode()
	require.NoError(t, err)
	assert.Equal(t, 201, code)
	code, err = r.StatusCode()
	require.NoError(t, err)
	assert.Equal(t, 201, code)
	_, err = r.Headers(true)
	require.NoError(t, err)
	assert.Len(t, b.Requests(), 1)
}

func TestResponse_RequestHeaders(t *testing.T) {
	b := &MockBackend{Responses: []*MockResponse{NewMockResponse(200, nil)}}
	c := newTestClient(t, b)
	req, err := NewRequest("get", "http://user:pw@example.com/p?q=1#frag", nil)
	require.NoError(t, err)
	ctx := WithCorrelationID(WithRequestID(context.Background(), "rid-7"), "cid-9")
	r, err := c.Do(WithContext(req, ctx))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	sent := b.Requests()[0]
	assert.Equal(t, "GET", sent.Method)
	assert.Equal(t, "rid-7", sent.Header.Get("x-request-id"))
	assert.Equal(t, "cid-9", sent.Header.Get("x-correlation-id"))
	_, ok := TraceFrom(sent.Header)
	assert.True(t, ok, "traceparent should be injected")

	info := r.Info()
	assert.Equal(t, "http://example.com/p?q=1", info.URL)
	assert.Equal(t, "rid-7", info.RequestID)
	assert.Empty(t, req.Header.Get("x-request-id"), "caller headers must not be mutated")
}

func TestResponse_FailedInitializationPersists(t *testing.T) {
	b := &MockBackend{}
	c := newTestClient(t, b)
	r := mustGet(t, c, "http://example.com/")

	_, err := r.StatusCode()
	require.EqualError(t, err, "httpx: mock responses exhausted")
	code, err := r.StatusCode()
	require.EqualError(t, err, "httpx: mock responses exhausted")
	assert.Zero(t, code)
	_, err = r.Headers(false)
	assert.Error(t, err)
	_, err = r.Content(false)
	assert.Error(t, err)
	assert.Len(t, b.Requests(), 1)
}

func TestResponse_HeadersAreCopies(t *testing.T) {
	h := Header{}
	h.Set("X-Token", "abc")
	b := &MockBackend{Responses: []*MockResponse{NewMockResponse(200, h)}}
	c := newTestClient(t, b)
	r := mustGet(t, c, "http://example.com/")

	got, err := r.Headers(true)
	require.NoError(t, err)
	got.Set("x-token", "changed")
	again, err := r.Headers(true)
	require.NoError(t, err)
	assert.Equal(t, "abc", again.Get("x-token"))
	assert.Equal(t, []string{"HTTP/1.1 200 OK", "x-token: abc"}, r.Info().ResponseHeaders)
}

func TestResponse_CloseChecksStatusOnce(t *testing.T) {
	b := &MockBackend{Responses: []*MockResponse{
		NewMockResponse(404, nil, Text("missing")),
		NewMockResponse(404, nil, Text("missing")),
	}}
	c := newTestClient(t, b)

	r := mustGet(t, c, "http://example.com/a")
	err := r.Close()
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StatusClient, se.Kind)
	assert.NoError(t, r.Close())

	inspected := mustGet(t, c, "http://example.com/b")
	code, err := inspected.StatusCode()
	require.NoError(t, err)
	assert.Equal(t, 404, code)
	assert.NoError(t, inspected.Close())
}

func TestResponse_CloseAbortsTransfer(t *testing.T) {
	b := &MockBackend{Responses: []*MockResponse{NewMockResponse(200, nil, Text("a"), Text("b"))}}
	c := newTestClient(t, b)
	r := mustGet(t, c, "http://example.com/")
	require.NoError(t, r.Close())
	assert.Equal(t, []int{r.ID()}, b.Canceled())
	assert.Positive(t, r.Info().TotalTime)
}

func TestResponse_BodilessContent(t *testing.T) {
	b := &MockBackend{Responses: []*MockResponse{
		NewMockResponse(204, nil),
		NewMockResponse(200, nil),
	}}
	c := newTestClient(t, b)
	c.Buffer = BufferNever()

	r := mustGet(t, c, "http://example.com/")
	for range 2 {
		content, err := r.Content(true)
		require.NoError(t, err)
		assert.Empty(t, content)
	}

	head, err := c.Request("HEAD", "http://example.com/", nil)
	require.NoError(t, err)
	for range 2 {
		content, err := head.Content(true)
		require.NoError(t, err)
		assert.Empty(t, content)
	}
}

func TestResponse_JSON(t *testing.T) {
	tests := []struct {
		name    string
		ct      string
		body    string
		want    map[string]any
		wantErr string
	}{
		{
			name: "object",
			ct:   "application/json; charset=utf-8",
			body: `{"a":1,"b":[true,null],"c":{"d":"e"}}`,
			want: map[string]any{"a": json.Number("1"), "b": []any{true, nil}, "c": map[string]any{"d": "e"}},
		},
		{
			name: "vendor type",
			ct:   "application/vnd.api+json",
			body: `{"ok":true}`,
			want: map[string]any{"ok": true},
		},
		{
			name: "missing content type",
			body: `{"ok":true}`,
			want: map[string]any{"ok": true},
		},
		{
			name:    "wrong content type",
			ct:      "text/html",
			body:    `{"ok":true}`,
			wantErr: `Response content-type is "text/html" while a JSON-compatible one was expected for "http://example.com/".`,
		},
		{
			name:    "array root",
			ct:      "application/json",
			body:    `[1,2]`,
			wantErr: `JSON content was expected to decode to an object, "array" returned for "http://example.com/".`,
		},
		{
			name:    "trailing data",
			ct:      "application/json",
			body:    `{"a":1} {}`,
			wantErr: `Syntax error: trailing data for "http://example.com/".`,
		},
		{
			name:    "malformed",
			ct:      "application/json",
			body:    `{"a":`,
			wantErr: `unexpected EOF for "http://example.com/".`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &MockBackend{Responses: []*MockResponse{NewMockResponse(200, jsonHeader(tt.ct), Text(tt.body))}}
			c := newTestClient(t, b)
			r := mustGet(t, c, "http://example.com/")
			got, err := r.JSON(true)
			if tt.wantErr != "" {
				var de *DecodingError
				require.ErrorAs(t, err, &de)
				assert.Equal(t, tt.wantErr, de.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResponse_JSONEmptyBody(t *testing.T) {
	b := &MockBackend{Responses: []*MockResponse{NewMockResponse(200, jsonHeader("application/json"))}}
	c := newTestClient(t, b)
	r := mustGet(t, c, "http://example.com/")
	_, err := r.JSON(true)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "Response body is empty.", te.Error())
}

func TestResponse_JSONCachedWhenBuffered(t *testing.T) {
	b := &MockBackend{Responses: []*MockResponse{NewMockResponse(200, jsonHeader("application/json"), Text(`{"n":1}`))}}
	c := newTestClient(t, b)
	r := mustGet(t, c, "http://example.com/")
	first, err := r.JSON(true)
	require.NoError(t, err)
	first["n"] = "mutated"
	second, err := r.JSON(true)
	require.NoError(t, err)
	assert.Equal(t, "mutated", second["n"])
}

func TestResponse_PushedResponseIsAdopted(t *testing.T) {
	b := &MockBackend{Handler: func(req *Request) *MockResponse {
		return NewMockResponse(200, nil, Text("page"))
	}}
	b.Push("http://example.com/style.css", NewMockResponse(200, nil, Text("body{}")))
	c := newTestClient(t, b)

	page := mustGet(t, c, "http://example.com/")
	_, err := page.Content(true)
	require.NoError(t, err)

	css := mustGet(t, c, "http://example.com/style.css")
	content, err := css.Content(true)
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(content))
	assert.Len(t, b.Requests(), 2)
}

func TestResponse_PushWithDefaultPortIsAdopted(t *testing.T) {
	b := &MockBackend{Handler: func(req *Request) *MockResponse {
		return NewMockResponse(200, nil, Text("page"))
	}}
	b.Push("https://example.com:443/style.css", NewMockResponse(200, nil, Text("body{}")))
	c := newTestClient(t, b)

	page := mustGet(t, c, "https://example.com/")
	_, err := page.Content(true)
	require.NoError(t, err)

	css := mustGet(t, c, "https://EXAMPLE.com/style.css")
	content, err := css.Content(true)
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(content))
	assert.Len(t, b.Requests(), 2)
}

func TestResponse_PushesDisabled(t *testing.T) {
	b := &MockBackend{Handler: func(req *Request) *MockResponse {
		return NewMockResponse(200, nil, Text("origin"))
	}}
	b.Push("http://example.com/style.css", NewMockResponse(200, nil, Text("pushed")))
	c := newTestClient(t, b)
	c.MaxPendingPushes = -1

	page := mustGet(t, c, "http://example.com/")
	require.NoError(t, page.Close())

	css := mustGet(t, c, "http://example.com/style.css")
	content, err := css.Content(true)
	require.NoError(t, err)
	assert.Equal(t, "origin", string(content))
}

func TestRequest_Validation(t *testing.T) {
	c := newTestClient(t, &MockBackend{})
	for _, raw := range []string{"ftp://example.com/", "http:///nohost", "/relative"} {
		_, err := c.Get(raw)
		assert.Error(t, err, raw)
	}
}

func TestStampIDs(t *testing.T) {
	h := Header{}
	id := stampIDs(context.Background(), h, "fallback")
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, h.Get("x-request-id"))
	assert.Equal(t, "fallback", h.Get("x-correlation-id"))

	h = Header{}
	h.Set("X-Request-ID", "caller")
	ctx := WithCorrelationID(WithRequestID(context.Background(), "ctx"), "ctx-cid")
	assert.Equal(t, "caller", stampIDs(ctx, h, "fallback"))
	assert.Equal(t, "ctx-cid", h.Get("x-correlation-id"))
}
