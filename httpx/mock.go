package httpx

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"
)

// MockStep is one scripted event of a MockResponse body.
type MockStep struct {
	data  []byte
	pause time.Duration
	err   error
}

// Body delivers p as one fragment.
func Body(p []byte) MockStep { return MockStep{data: p} }

// Text delivers s as one fragment.
func Text(s string) MockStep { return MockStep{data: []byte(s)} }

// Pause stalls the transfer for d.
func Pause(d time.Duration) MockStep { return MockStep{pause: d} }

// Fail ends the transfer with err.
func Fail(err error) MockStep { return MockStep{err: err} }

// MockResponse scripts one response. Headers are delivered first, then
// one step per perform call, then the end of the transfer.
type MockResponse struct {
	Status int
	Header Header
	// HeaderLines, when set, replaces the generated header block.
	HeaderLines []string
	// HeaderDelay holds the headers back.
	HeaderDelay time.Duration
	Steps       []MockStep
}

// NewMockResponse returns a response with the given status and body steps.
func NewMockResponse(status int, h Header, steps ...MockStep) *MockResponse {
	return &MockResponse{Status: status, Header: h, Steps: steps}
}

func (m *MockResponse) lines() []string {
	if m.HeaderLines != nil {
		return slices.Clone(m.HeaderLines)
	}
	status := m.Status
	if status == 0 {
		status = 200
	}
	lines := []string{"HTTP/1.1 " + strconv.Itoa(status) + " " + reasonPhrase(status)}
	for _, k := range m.Header.keys() {
		for _, v := range m.Header[k] {
			lines = append(lines, k+": "+v)
		}
	}
	return lines
}

// MockBackend serves scripted responses without I/O. Handler picks the
// response for a request; when nil, Responses are served in order.
// MockBackend is safe for concurrent inspection while a client runs.
type MockBackend struct {
	Handler   func(*Request) *MockResponse
	Responses []*MockResponse

	mu       sync.Mutex
	served   int
	requests []*Request
	canceled []int
	pushes   []mockPush
	sessions int
}

type mockPush struct {
	url string
	res *MockResponse
}

// Push announces res as pushed for url on the next perform of every
// session.
func (b *MockBackend) Push(url string, res *MockResponse) {
	b.mu.Lock()
	b.pushes = append(b.pushes, mockPush{url: url, res: res})
	b.mu.Unlock()
}

// Requests returns the requests started so far.
func (b *MockBackend) Requests() []*Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.requests)
}

// Canceled returns the ids canceled while their transfer was running.
func (b *MockBackend) Canceled() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.canceled)
}

// Sessions returns the number of sessions created.
func (b *MockBackend) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions
}

func (b *MockBackend) NewSession(opts ConnOptions, cfg SessionConfig) (Session, error) {
	b.mu.Lock()
	b.sessions++
	b.mu.Unlock()
	return &mockSession{b: b, ex: make(map[int]*mockExchange)}, nil
}

func (b *MockBackend) next(req *Request) (*MockResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if b.Handler != nil {
		if res := b.Handler(req); res != nil {
			return res, nil
		}
		return nil, fmt.Errorf("httpx: no mock response for %s %s", req.Method, req.URL)
	}
	if b.served >= len(b.Responses) {
		return nil, errors.New("httpx: mock responses exhausted")
	}
	res := b.Responses[b.served]
	b.served++
	return res, nil
}

type mockExchange struct {
	res         *MockResponse
	step        int
	headersSent bool
	pauseUntil  time.Time
}

type mockSession struct {
	b         *MockBackend
	ex        map[int]*mockExchange
	announced int
}

func (s *mockSession) Start(ex *Exchange) error {
	res, err := s.b.next(ex.Request)
	if err != nil {
		return err
	}
	s.begin(ex.ID, res)
	return nil
}

func (s *mockSession) begin(id int, res *MockResponse) {
	e := &mockExchange{res: res}
	if res.HeaderDelay > 0 {
		e.pauseUntil = time.Now().Add(res.HeaderDelay)
	}
	s.ex[id] = e
}

func (s *mockSession) Perform(sink Sink) {
	s.b.mu.Lock()
	pushes := s.b.pushes[s.announced:]
	s.announced = len(s.b.pushes)
	s.b.mu.Unlock()
	for _, p := range pushes {
		res := p.res
		sink.Push(Pushed{
			URL: p.url,
			Adopt: func(ex *Exchange) error {
				s.b.mu.Lock()
				s.b.requests = append(s.b.requests, ex.Request)
				s.b.mu.Unlock()
				s.begin(ex.ID, res)
				return nil
			},
		})
	}

	now := time.Now()
	ids := make([]int, 0, len(s.ex))
	for id := range s.ex {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		e := s.ex[id]
		if now.Before(e.pauseUntil) {
			continue
		}
		if !e.headersSent {
			e.headersSent = true
			sink.Headers(id, e.res.lines())
			continue
		}
		if e.step >= len(e.res.Steps) {
			delete(s.ex, id)
			sink.End(id, nil)
			continue
		}
		st := e.res.Steps[e.step]
		e.step++
		switch {
		case st.pause > 0:
			e.pauseUntil = now.Add(st.pause)
		case st.err != nil:
			delete(s.ex, id)
			sink.End(id, st.err)
		default:
			sink.Data(id, st.data)
		}
	}
}

func (s *mockSession) Select(timeout time.Duration) SelectResult {
	now := time.Now()
	var earliest time.Time
	for _, e := range s.ex {
		if !now.Before(e.pauseUntil) {
			return SelectActivity
		}
		if earliest.IsZero() || e.pauseUntil.Before(earliest) {
			earliest = e.pauseUntil
		}
	}
	if !earliest.IsZero() && earliest.Sub(now) <= timeout {
		time.Sleep(earliest.Sub(now))
		return SelectActivity
	}
	time.Sleep(timeout)
	return SelectIdle
}

func (s *mockSession) Cancel(id int) {
	if _, ok := s.ex[id]; !ok {
		return
	}
	delete(s.ex, id)
	s.b.mu.Lock()
	s.b.canceled = append(s.b.canceled, id)
	s.b.mu.Unlock()
}

func (s *mockSession) Close() error {
	clear(s.ex)
	return nil
}

func reasonPhrase(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	default:
		return "Status"
	}
}
