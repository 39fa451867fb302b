package httpx

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"dqx0.com/go/httpmux/internal/obs"
)

// SelectResult is the outcome of waiting on a session.
type SelectResult int

const (
	// SelectActivity means at least one transfer made progress or may
	// have.
	SelectActivity SelectResult = iota
	// SelectIdle means the wait elapsed without any progress.
	SelectIdle
	// SelectWouldBlock means the session cannot wait; the engine sleeps
	// briefly instead.
	SelectWouldBlock
)

// Backend creates sessions. One session exists per distinct set of
// connection options within a client.
type Backend interface {
	NewSession(opts ConnOptions, cfg SessionConfig) (Session, error)
}

// SessionConfig carries client-wide settings to a new session.
type SessionConfig struct {
	MaxHostConnections int
	Logger             *zap.Logger
	Meter              obs.Meter
}

// Session performs transfers for many exchanges. All methods are called
// from the goroutine driving the client; implementations doing I/O in the
// background hand their progress over in Perform.
type Session interface {
	// Start begins the exchange. Progress is reported through the Sink
	// passed to Perform under ex.ID.
	Start(ex *Exchange) error
	// Perform reports all progress made since the previous call.
	Perform(sink Sink)
	// Select waits up to timeout for progress.
	Select(timeout time.Duration) SelectResult
	// Cancel aborts the exchange. Unknown ids are ignored.
	Cancel(id int)
	Close() error
}

// Sink receives transfer progress. Headers carries the raw header block,
// status line first; a later Headers call for the same exchange carries
// trailer fields. Data carries body bytes as received on the wire. End
// terminates the exchange, with a nil error on success.
type Sink interface {
	Headers(id int, lines []string)
	Data(id int, p []byte)
	End(id int, err error)
	Push(p Pushed)
}

// Exchange is the backend's view of one request.
type Exchange struct {
	ID      int
	Request *Request
	// URL is the absolute request URL.
	URL string

	mu     sync.Mutex
	handle func() (uintptr, error)
}

// SetHandle registers a function returning a pollable OS handle for the
// underlying connection.
func (ex *Exchange) SetHandle(fn func() (uintptr, error)) {
	ex.mu.Lock()
	ex.handle = fn
	ex.mu.Unlock()
}

// Handle returns the registered OS handle, ErrNoHandle if none.
func (ex *Exchange) Handle() (uintptr, error) {
	ex.mu.Lock()
	fn := ex.handle
	ex.mu.Unlock()
	if fn == nil {
		return 0, ErrNoHandle
	}
	return fn()
}

type activityKind uint8

const (
	activityHeaders activityKind = iota
	activityData
	activityEnd
	activityTimeout
)

// activity is one queued event for a response. decoded marks data that
// already went through the content decoder.
type activity struct {
	kind    activityKind
	lines   []string
	data    []byte
	decoded bool
	err     error
}

func endActivity(err error) activity { return activity{kind: activityEnd, err: err} }

// clientState is the engine side of a session: per-response activity
// queues, the set of open responses and pushed responses waiting to be
// claimed.
type clientState struct {
	key      uint64
	opts     ConnOptions
	session  Session
	logger   *zap.Logger
	activity map[int][]activity
	open     map[int]*Response
	pushes   *PushQueue
}

func newClientState(key uint64, opts ConnOptions, s Session, logger *zap.Logger, maxPushes int) *clientState {
	return &clientState{
		key:      key,
		opts:     opts,
		session:  s,
		logger:   logger,
		activity: make(map[int][]activity),
		open:     make(map[int]*Response),
		pushes:   NewPushQueue(maxPushes, logger),
	}
}

func (cs *clientState) perform() { cs.session.Perform(cs) }

func (cs *clientState) enqueue(id int, a activity) {
	if _, ok := cs.open[id]; !ok {
		return
	}
	cs.activity[id] = append(cs.activity[id], a)
}

func (cs *clientState) Headers(id int, lines []string) {
	cs.enqueue(id, activity{kind: activityHeaders, lines: lines})
}

func (cs *clientState) Data(id int, p []byte) {
	if len(p) == 0 {
		return
	}
	cs.enqueue(id, activity{kind: activityData, data: p})
}

func (cs *clientState) End(id int, err error) {
	cs.enqueue(id, endActivity(err))
}

func (cs *clientState) Push(p Pushed) {
	authority, _ := pushKey(p.URL)
	cs.pushes.Add(authority, p)
}
