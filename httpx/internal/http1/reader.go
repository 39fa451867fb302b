package http1

import (
	"bufio"
	"errors"
	"strconv"
	"strings"
)

var (
	ErrLineTooLong    = errors.New("http1: header line too long")
	ErrHeaderTooLarge = errors.New("http1: header block too large")
	ErrStatusLine     = errors.New("http1: malformed status line")
	ErrHeaderLine     = errors.New("http1: malformed header line")
	ErrContentLength  = errors.New("http1: invalid Content-Length")
	ErrHeaderField    = errors.New("http1: invalid request header field")
)

// ResponseHead is a parsed status line plus header block. Lines keeps the
// raw, CRLF-free lines in arrival order, status line first.
type ResponseHead struct {
	Proto  string
	Status int
	Reason string
	Lines  []string
	Header map[string][]string // lower-cased keys
}

type Reader struct {
	BR                  *bufio.Reader
	MaxHeaderBytes      int
	MaxTotalHeaderBytes int
}

// ReadResponseHead reads one response head. Interim 1xx responses other
// than 101 are read and skipped.
func (r *Reader) ReadResponseHead() (*ResponseHead, error) {
	for {
		h, err := r.readHead()
		if err != nil {
			return nil, err
		}
		if IsInterim(h.Status) {
			continue
		}
		return h, nil
	}
}

func (r *Reader) readHead() (*ResponseHead, error) {
	total := 0
	line, err := r.readLine(&total)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return nil, ErrStatusLine
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 3 {
		return nil, ErrStatusLine
	}
	h := &ResponseHead{
		Proto:  parts[0],
		Status: code,
		Lines:  []string{line},
		Header: make(map[string][]string),
	}
	if len(parts) == 3 {
		h.Reason = parts[2]
	}
	for {
		line, err := r.readLine(&total)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 || !ValidHeaderName(strings.TrimSpace(line[:i])) {
			return nil, ErrHeaderLine
		}
		k := strings.ToLower(strings.TrimSpace(line[:i]))
		h.Header[k] = append(h.Header[k], strings.TrimSpace(line[i+1:]))
		h.Lines = append(h.Lines, line)
	}
	return h, nil
}

func (r *Reader) readLine(total *int) (string, error) {
	line, err := readLineLimit(r.BR, r.MaxHeaderBytes)
	if err != nil {
		return "", err
	}
	*total += len(line) + 2
	if r.MaxTotalHeaderBytes > 0 && *total > r.MaxTotalHeaderBytes {
		return "", ErrHeaderTooLarge
	}
	return line, nil
}

// NoBody reports whether a response to method with status carries no body.
func NoBody(status int, method string) bool {
	if method == "HEAD" {
		return true
	}
	if status >= 100 && status < 200 {
		return true
	}
	return status == 204 || status == 304
}

func parseContentLength(vv []string) (int64, error) {
	n := int64(-1)
	for _, v := range vv {
		for _, p := range strings.Split(v, ",") {
			m, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil || m < 0 {
				return 0, ErrContentLength
			}
			if n >= 0 && m != n {
				return 0, ErrContentLength
			}
			n = m
		}
	}
	return n, nil
}

func hasChunkedTE(h map[string][]string) bool {
	for _, v := range h["transfer-encoding"] {
		if strings.Contains(strings.ToLower(v), "chunked") {
			return true
		}
	}
	return false
}

func readLineLimit(br *bufio.Reader, limit int) (string, error) {
	var sb strings.Builder
	for {
		c, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if c == '\n' {
			return strings.TrimSuffix(sb.String(), "\r"), nil
		}
		sb.WriteByte(c)
		if limit > 0 && sb.Len() > limit+1 {
			return "", ErrLineTooLong
		}
	}
}
