package httpx

import (
	"sort"
	"strings"
)

// Header maps lower-cased header names to their values in arrival order.
type Header map[string][]string

func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	if vv, ok := h[strings.ToLower(key)]; ok && len(vv) > 0 {
		return vv[0]
	}
	return ""
}

// Values returns all values for key.
func (h Header) Values(key string) []string {
	if h == nil {
		return nil
	}
	return h[strings.ToLower(key)]
}

func (h Header) Set(key, value string) {
	if h == nil {
		return
	}
	h[strings.ToLower(key)] = []string{value}
}

func (h Header) Add(key, value string) {
	if h == nil {
		return
	}
	k := strings.ToLower(key)
	h[k] = append(h[k], value)
}

func (h Header) Del(key string) {
	if h == nil {
		return
	}
	delete(h, strings.ToLower(key))
}

// Clone returns a deep copy of h.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	out := make(Header, len(h))
	for k, vv := range h {
		out[k] = append([]string(nil), vv...)
	}
	return out
}

// keys returns the header names in sorted order.
func (h Header) keys() []string {
	ks := make([]string, 0, len(h))
	for k := range h {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}
