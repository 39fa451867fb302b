package httpx

import (
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
)

const (
	maxSelectWait  = time.Second
	wouldBlockWait = 500 * time.Microsecond
)

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithIdleTimeout overrides the per-response idle timeouts: when no
// response made progress for d, every idle response yields a timeout
// chunk and leaves the stream. Zero polls once and reports every
// response still waiting as timed out.
func WithIdleTimeout(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d < 0 {
			d = 0
		}
		s.timeout = d
		s.explicit = true
	}
}

// Stream yields chunks for a set of responses as they arrive. Per
// response the order is First, then Data in offset order, then Last or
// an error chunk. Timeout chunks may appear in between; the timed out
// response leaves the stream but stays open.
//
// An ErrorChunk must be inspected before advancing: calling Next or
// Close after an unobserved error chunk returns that error.
type Stream struct {
	c        *Client
	sets     []*runningSet
	timeout  time.Duration
	explicit bool

	lastActivity time.Time
	isTimeout    bool

	inPass      bool
	work        []*workItem
	pos         int
	hasActivity bool
	timeoutPass bool
	timeoutMax  time.Duration
	timeoutMin  time.Duration

	cur   *Response
	chunk Chunk
	err   error
	done  bool
}

type runningSet struct {
	cs        *clientState
	responses map[int]*Response
}

type workItem struct {
	set     *runningSet
	r       *Response
	started bool
}

// Stream schedules responses and returns an iterator over their chunks.
// Pending responses are dispatched immediately. Streaming leaves each
// response's initializer in place, so later accessors and Close still
// check the status.
func (c *Client) Stream(responses []*Response, opts ...StreamOption) *Stream {
	s := &Stream{c: c, lastActivity: time.Now()}
	for _, o := range opts {
		o(s)
	}
	for _, r := range responses {
		if r == nil {
			continue
		}
		r.dispatch()
		s.setFor(r.cs).responses[r.id] = r
	}
	return s
}

func (s *Stream) setFor(cs *clientState) *runningSet {
	for _, set := range s.sets {
		if set.cs == cs {
			return set
		}
	}
	set := &runningSet{cs: cs, responses: make(map[int]*Response)}
	s.sets = append(s.sets, set)
	return set
}

// Next advances to the next chunk.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	if err := s.releaseCurrent(); err != nil {
		return s.fail(err)
	}
	for {
		if !s.inPass {
			if len(s.sets) == 0 {
				s.done = true
				return false
			}
			s.beginPass()
		}
		for s.pos < len(s.work) {
			w := s.work[s.pos]
			ch, err := s.step(w)
			if err != nil {
				return s.fail(err)
			}
			if ch != nil {
				s.cur, s.chunk = w.r, ch
				return true
			}
			s.pos++
		}
		s.endPass()
	}
}

// Response is the response the current chunk belongs to.
func (s *Stream) Response() *Response { return s.cur }

// Chunk is the current chunk.
func (s *Stream) Chunk() Chunk { return s.chunk }

// Err returns the fault that stopped the stream, if any.
func (s *Stream) Err() error { return s.err }

// Close stops the stream. It reports an unobserved current error chunk.
func (s *Stream) Close() error {
	err := s.releaseCurrent()
	s.done = true
	return err
}

func (s *Stream) releaseCurrent() error {
	ec, ok := s.chunk.(*ErrorChunk)
	s.cur, s.chunk = nil, nil
	if ok {
		return ec.Release()
	}
	return nil
}

func (s *Stream) fail(err error) bool {
	s.err = err
	s.done = true
	s.cur, s.chunk = nil, nil
	return false
}

func (s *Stream) beginPass() {
	s.inPass = true
	s.pos = 0
	s.work = s.work[:0]
	s.hasActivity = false
	s.timeoutPass = s.isTimeout
	s.isTimeout = false
	s.timeoutMax = 0
	s.timeoutMin = maxSelectWait
	if s.explicit {
		s.timeoutMax = s.timeout
		s.timeoutMin = min(s.timeout, maxSelectWait)
	}
	for _, set := range s.sets {
		set.cs.perform()
		ids := make([]int, 0, len(set.responses))
		for id := range set.responses {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			r := set.responses[id]
			s.work = append(s.work, &workItem{set: set, r: r})
			if !s.explicit {
				s.timeoutMax = max(s.timeoutMax, r.timeout)
			}
			s.timeoutMin = min(s.timeoutMin, r.timeout)
		}
	}
}

// step returns the next chunk for w, nil when w has nothing to deliver
// in this pass.
func (s *Stream) step(w *workItem) (Chunk, error) {
	cs, r := w.set.cs, w.r
	if !w.started {
		w.started = true
		if len(cs.activity[r.id]) == 0 {
			if _, open := cs.open[r.id]; !open {
				delete(w.set.responses, r.id)
				return nil, nil
			}
			if !s.timeoutPass {
				return nil, nil
			}
			cs.activity[r.id] = []activity{{kind: activityTimeout}}
		}
	}
	for {
		q := cs.activity[r.id]
		if len(q) == 0 {
			return nil, nil
		}
		a := q[0]
		cs.activity[r.id] = q[1:]
		s.hasActivity = true
		if a.kind != activityTimeout {
			// Progress on any response ends the timeout pass for the
			// responses still to come in it.
			s.timeoutPass = false
		}
		ch, err := s.transform(w, a)
		if err != nil || ch != nil {
			return ch, err
		}
	}
}

func (s *Stream) transform(w *workItem, a activity) (Chunk, error) {
	cs, r := w.set.cs, w.r
	switch a.kind {
	case activityHeaders:
		return s.first(w, a)

	case activityData:
		if !r.headersSeen {
			cs.activity[r.id] = []activity{endActivity(&TransportError{Msg: "Invalid or missing HTTP status line.", Cause: ErrBadStatusLine})}
			return nil, nil
		}
		data := a.data
		if r.dec != nil && !a.decoded {
			out, err := r.dec.Write(data)
			if err != nil {
				cs.activity[r.id] = []activity{endActivity(&TransportError{Msg: "Error while processing content unencoding.", Cause: err})}
				return nil, nil
			}
			data = out
		}
		if len(data) == 0 {
			return nil, nil
		}
		if r.buf != nil {
			if n, err := r.buf.Write(data); err != nil || n != len(data) {
				cs.activity[r.id] = []activity{endActivity(&TransportError{Msg: fmt.Sprintf("Failed writing %d bytes to the response buffer.", len(data)), Cause: err})}
				return nil, nil
			}
		}
		off := r.offset
		r.offset += int64(len(data))
		return DataChunk{offset: off, data: data}, nil

	case activityEnd:
		if a.err == nil && r.dec != nil {
			out, err := r.dec.Finish()
			if err != nil {
				cs.activity[r.id] = []activity{endActivity(&TransportError{Msg: "Error while processing content unencoding.", Cause: err})}
				return nil, nil
			}
			if len(out) > 0 {
				rest := cs.activity[r.id]
				cs.activity[r.id] = append([]activity{{kind: activityData, data: out, decoded: true}, a}, rest...)
				return nil, nil
			}
		}
		delete(w.set.responses, r.id)
		if a.err != nil {
			r.setError(a.err.Error())
		}
		r.release()
		delete(cs.activity, r.id)
		if a.err == nil {
			s.c.meter().Counter("client_responses_total", 1, metricLabel("outcome", "last"))
			return LastChunk{offset: r.offset}, nil
		}
		if isFault(a.err) {
			return nil, a.err
		}
		s.c.meter().Counter("client_responses_total", 1, metricLabel("outcome", "error"))
		r.logger.Info("Response failed", zap.String("url", r.info.URL), zap.Error(a.err))
		return NewErrorChunk(r.offset, a.err.Error(), a.err), nil

	case activityTimeout:
		delete(w.set.responses, r.id)
		if !s.polling() {
			s.c.meter().Counter("client_idle_timeouts_total", 1)
			r.logger.Debug("Idle timeout", zap.String("url", r.info.URL))
		}
		return NewErrorChunk(r.offset, fmt.Sprintf("Idle timeout reached for %q.", r.info.URL), nil), nil
	}
	return nil, nil
}

func (s *Stream) first(w *workItem, a activity) (Chunk, error) {
	cs, r := w.set.cs, w.r
	if r.headersSeen {
		r.addTrailer(a.lines)
		return nil, nil
	}
	if err := parseHeaderLines(a.lines, &r.info, r.headers); err != nil {
		cs.activity[r.id] = []activity{endActivity(&TransportError{Msg: "Invalid or missing HTTP status line.", Cause: err})}
		return nil, nil
	}
	r.headersSeen = true
	r.logger.Info(fmt.Sprintf("Response: \"%d %s\"", r.info.HTTPCode, r.info.URL))
	if r.decode {
		if open := decoderFor(r.headers.Get("content-encoding")); open != nil {
			r.dec = newDecoder(open)
		}
	}
	buf, err := r.policy.resolve(r.headers)
	if err != nil {
		r.setError(err.Error())
		r.release()
		cs.activity[r.id] = []activity{endActivity(err)}
	} else {
		r.buf = buf
	}
	return FirstChunk{offset: r.offset}, nil
}

// polling reports a zero idle timeout, whose timeout chunks only mean
// "nothing yet".
func (s *Stream) polling() bool { return s.explicit && s.timeout == 0 }

// endPass drops finished sets and, when nothing moved, waits on the
// sessions.
func (s *Stream) endPass() {
	s.inPass = false
	kept := s.sets[:0]
	for _, set := range s.sets {
		if len(set.responses) > 0 {
			kept = append(kept, set)
		}
	}
	s.sets = kept
	if len(s.sets) == 0 {
		return
	}
	if s.hasActivity {
		s.lastActivity = time.Now()
		return
	}
	wait := s.timeoutMin / time.Duration(len(s.sets))
	idle, blocked := true, false
	for _, set := range s.sets {
		switch set.cs.session.Select(wait) {
		case SelectActivity:
			idle = false
		case SelectWouldBlock:
			idle, blocked = false, true
		}
		if !idle {
			break
		}
	}
	switch {
	case blocked:
		time.Sleep(min(wouldBlockWait, s.timeoutMin))
	case idle:
		s.isTimeout = time.Since(s.lastActivity) > s.timeoutMax
	}
}
