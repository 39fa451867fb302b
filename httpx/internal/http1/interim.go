package http1

import "strings"

// IsInterim reports whether status is a 1xx response that precedes the
// final one on the same exchange.
func IsInterim(status int) bool {
	return status >= 100 && status < 200 && status != 101
}

const tokenPunct = "!#$%&'*+-.^_`|~"

// ValidHeaderName reports whether name is a non-empty token.
func ValidHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		alnum := c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
		if !alnum && strings.IndexByte(tokenPunct, c) < 0 {
			return false
		}
	}
	return true
}

// ValidHeaderValue reports whether v can be sent as a field value: no
// control bytes other than HTAB, so no CR or LF.
func ValidHeaderValue(v string) bool {
	for i := 0; i < len(v); i++ {
		if c := v[i]; c < 0x20 && c != '\t' || c == 0x7f {
			return false
		}
	}
	return true
}
