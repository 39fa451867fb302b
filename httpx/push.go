package httpx

import (
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Pushed is a server-pushed response waiting for a matching request.
type Pushed struct {
	URL    string
	Header Header
	// Adopt makes the pushed transfer report its progress under ex.ID.
	Adopt func(ex *Exchange) error
	// Discard, when set, is called if the push is evicted or dropped.
	Discard func()
}

// PushQueue holds pushed responses per authority in arrival order. Each
// authority keeps at most max entries; adding beyond that evicts the
// oldest. A max of zero or less disables pushes.
type PushQueue struct {
	max    int
	logger *zap.Logger
	queues map[string][]Pushed
	// OnEvict is called for each evicted entry.
	OnEvict func(authority string, p Pushed)
}

func NewPushQueue(max int, logger *zap.Logger) *PushQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushQueue{max: max, logger: logger, queues: make(map[string][]Pushed)}
}

// Add queues p under authority.
func (q *PushQueue) Add(authority string, p Pushed) {
	if q.max <= 0 {
		q.drop(authority, p)
		return
	}
	list := q.queues[authority]
	for len(list) >= q.max {
		q.logger.Debug("Evicting oldest pushed response", zap.String("authority", authority), zap.String("url", list[0].URL))
		q.drop(authority, list[0])
		list = list[1:]
	}
	q.queues[authority] = append(list, p)
}

// Take removes and returns the oldest entry for rawURL. URLs differing
// only in case of scheme and host or in an explicit default port match.
func (q *PushQueue) Take(authority, rawURL string) (Pushed, bool) {
	list := q.queues[authority]
	_, want := pushKey(rawURL)
	for i, p := range list {
		if _, got := pushKey(p.URL); got != want {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(q.queues, authority)
		} else {
			q.queues[authority] = list
		}
		return p, true
	}
	return Pushed{}, false
}

// Len reports the number of entries queued for authority.
func (q *PushQueue) Len(authority string) int { return len(q.queues[authority]) }

// Clear drops every queued entry.
func (q *PushQueue) Clear() {
	for authority, list := range q.queues {
		for _, p := range list {
			q.drop(authority, p)
		}
	}
	clear(q.queues)
}

func (q *PushQueue) drop(authority string, p Pushed) {
	if q.OnEvict != nil {
		q.OnEvict(authority, p)
	}
	if p.Discard != nil {
		p.Discard()
	}
}

// pushKey returns the authority pushes for rawURL are queued under,
// host:port with the port made explicit, and rawURL in canonical form:
// lower-cased scheme and host, default port elided.
func pushKey(rawURL string) (authority, canonical string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", rawURL
	}
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	host := strings.ToLower(hostOnly(c.Host))
	port := portOf(&c)
	authority = net.JoinHostPort(host, port)
	switch {
	case c.Scheme == "http" && port == "80", c.Scheme == "https" && port == "443":
		c.Host = host
		if strings.Contains(host, ":") {
			c.Host = "[" + host + "]"
		}
	default:
		c.Host = authority
	}
	return authority, absoluteURL(&c)
}
