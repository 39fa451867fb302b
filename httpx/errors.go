package httpx

import (
	"errors"
	"fmt"
	"runtime"
)

var (
	ErrTimeout           = errors.New("httpx: timeout")
	ErrCanceled          = errors.New("httpx: response has been canceled")
	ErrBufferingDisabled = errors.New("httpx: buffering is disabled")
	ErrNotSerializable   = errors.New("httpx: chunks cannot be serialized")
	ErrSeekOutOfRange    = errors.New("httpx: seek out of range")
	ErrUnsupportedMode   = errors.New("httpx: unsupported stream mode")
	ErrNoHandle          = errors.New("httpx: no pollable handle")
	ErrBadStatusLine     = errors.New("httpx: invalid or missing HTTP status line")
	ErrHeaderTooLarge    = errors.New("httpx: header too large")
	ErrProtocolViolation = errors.New("httpx: protocol violation")
)

// TransportError reports a connection or protocol level failure,
// including malformed status lines, decode and buffer failures.
type TransportError struct {
	Msg   string
	Cause error
}

func (e *TransportError) Error() string { return e.Msg }
func (e *TransportError) Unwrap() error { return e.Cause }

// TimeoutError reports an idle timeout. It has no underlying cause.
type TimeoutError struct {
	Msg string
}

func (e *TimeoutError) Error() string        { return e.Msg }
func (e *TimeoutError) Timeout() bool        { return true }
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// StatusKind classifies a StatusError by status code range.
type StatusKind int

const (
	StatusRedirection StatusKind = iota + 3
	StatusClient
	StatusServer
)

func (k StatusKind) String() string {
	switch k {
	case StatusRedirection:
		return "redirection"
	case StatusClient:
		return "client"
	case StatusServer:
		return "server"
	default:
		return "unknown"
	}
}

// StatusError is returned by accessors that check the status code when
// it is 300 or above. The stream itself never returns it.
type StatusError struct {
	Kind     StatusKind
	Code     int
	URL      string
	Response *Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d returned for %q.", e.Code, e.URL)
}

// DecodingError reports a failure to decode a whole body as structured
// data: wrong content type, malformed payload or a non-object root.
type DecodingError struct {
	Msg   string
	Cause error
}

func (e *DecodingError) Error() string { return e.Msg }
func (e *DecodingError) Unwrap() error { return e.Cause }

// FaultError marks a backend error as a programming fault. Faults are
// never turned into chunks; they stop the stream.
type FaultError struct {
	Err error
}

func (e *FaultError) Error() string { return "httpx: fault: " + e.Err.Error() }
func (e *FaultError) Unwrap() error { return e.Err }

func isFault(err error) bool {
	var fe *FaultError
	if errors.As(err, &fe) {
		return true
	}
	var re runtime.Error
	return errors.As(err, &re)
}

func newStatusError(r *Response) *StatusError {
	code := r.info.HTTPCode
	var kind StatusKind
	switch {
	case code >= 500:
		kind = StatusServer
	case code >= 400:
		kind = StatusClient
	default:
		kind = StatusRedirection
	}
	return &StatusError{Kind: kind, Code: code, URL: r.info.URL, Response: r}
}
