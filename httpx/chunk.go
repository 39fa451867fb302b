package httpx

// Chunk is one observable event in a response's lifetime. The set of
// implementations is closed: FirstChunk, DataChunk, LastChunk and
// *ErrorChunk.
//
// Accessors other than Offset fail on an *ErrorChunk with the chunk's
// error; calling any of them marks the error as observed.
type Chunk interface {
	IsTimeout() (bool, error)
	IsFirst() (bool, error)
	IsLast() (bool, error)
	Content() ([]byte, error)
	Offset() int64

	chunk()
}

// FirstChunk signals that the owning response's headers are available.
type FirstChunk struct {
	offset int64
}

func (FirstChunk) IsTimeout() (bool, error) { return false, nil }
func (FirstChunk) IsFirst() (bool, error)   { return true, nil }
func (FirstChunk) IsLast() (bool, error)    { return false, nil }
func (FirstChunk) Content() ([]byte, error) { return nil, nil }
func (c FirstChunk) Offset() int64          { return c.offset }
func (FirstChunk) chunk()                   {}

func (FirstChunk) MarshalJSON() ([]byte, error)   { return nil, ErrNotSerializable }
func (FirstChunk) MarshalBinary() ([]byte, error) { return nil, ErrNotSerializable }
func (FirstChunk) GobEncode() ([]byte, error)     { return nil, ErrNotSerializable }

// DataChunk carries a body fragment. Offset is the number of body bytes
// delivered before this fragment.
type DataChunk struct {
	offset int64
	data   []byte
}

func (DataChunk) IsTimeout() (bool, error)   { return false, nil }
func (DataChunk) IsFirst() (bool, error)     { return false, nil }
func (DataChunk) IsLast() (bool, error)      { return false, nil }
func (c DataChunk) Content() ([]byte, error) { return c.data, nil }
func (c DataChunk) Offset() int64            { return c.offset }
func (DataChunk) chunk()                     {}

func (DataChunk) MarshalJSON() ([]byte, error)   { return nil, ErrNotSerializable }
func (DataChunk) MarshalBinary() ([]byte, error) { return nil, ErrNotSerializable }
func (DataChunk) GobEncode() ([]byte, error)     { return nil, ErrNotSerializable }

// LastChunk signals complete, successful delivery.
type LastChunk struct {
	offset int64
}

func (LastChunk) IsTimeout() (bool, error) { return false, nil }
func (LastChunk) IsFirst() (bool, error)   { return false, nil }
func (LastChunk) IsLast() (bool, error)    { return true, nil }
func (LastChunk) Content() ([]byte, error) { return nil, nil }
func (c LastChunk) Offset() int64          { return c.offset }
func (LastChunk) chunk()                   {}

func (LastChunk) MarshalJSON() ([]byte, error)   { return nil, ErrNotSerializable }
func (LastChunk) MarshalBinary() ([]byte, error) { return nil, ErrNotSerializable }
func (LastChunk) GobEncode() ([]byte, error)     { return nil, ErrNotSerializable }

// ErrorChunk reports a transport failure or an idle timeout. A chunk
// without a cause is a timeout.
//
// An ErrorChunk must be observed: if none of its accessors ran before
// Release is called (the stream calls it when moving past the chunk),
// Release returns the error so it cannot be lost silently.
type ErrorChunk struct {
	offset   int64
	msg      string
	cause    error
	observed bool
}

// NewErrorChunk returns an error chunk at offset. A nil cause makes it a
// timeout chunk.
func NewErrorChunk(offset int64, msg string, cause error) *ErrorChunk {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &ErrorChunk{offset: offset, msg: msg, cause: cause}
}

// IsTimeout returns true for timeout chunks and fails with the
// underlying error otherwise.
func (c *ErrorChunk) IsTimeout() (bool, error) {
	c.observed = true
	if c.cause != nil {
		return false, c.err()
	}
	return true, nil
}

func (c *ErrorChunk) IsFirst() (bool, error) {
	c.observed = true
	return false, c.err()
}

func (c *ErrorChunk) IsLast() (bool, error) {
	c.observed = true
	return false, c.err()
}

func (c *ErrorChunk) Content() ([]byte, error) {
	c.observed = true
	return nil, c.err()
}

func (c *ErrorChunk) Offset() int64 { return c.offset }
func (*ErrorChunk) chunk()          {}

// Err returns the chunk's error and marks it observed.
func (c *ErrorChunk) Err() error {
	c.observed = true
	return c.err()
}

// Message returns the error message without marking the chunk observed.
func (c *ErrorChunk) Message() string { return c.msg }

// Observed reports whether one of the failing accessors was called.
func (c *ErrorChunk) Observed() bool { return c.observed }

// Release ends the chunk's life. It returns the chunk's error when the
// chunk was never observed, nil otherwise.
func (c *ErrorChunk) Release() error {
	if c.observed {
		return nil
	}
	c.observed = true
	return c.err()
}

func (c *ErrorChunk) err() error {
	if c.cause != nil {
		return &TransportError{Msg: c.msg, Cause: c.cause}
	}
	return &TimeoutError{Msg: c.msg}
}

func (*ErrorChunk) MarshalJSON() ([]byte, error)   { return nil, ErrNotSerializable }
func (*ErrorChunk) MarshalBinary() ([]byte, error) { return nil, ErrNotSerializable }
func (*ErrorChunk) GobEncode() ([]byte, error)     { return nil, ErrNotSerializable }
