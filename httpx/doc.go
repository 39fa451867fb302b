// Package httpx is an HTTP/1.1 client that multiplexes many in-flight
// responses over shared sessions and delivers their bodies as a single
// ordered stream of chunks.
//
// Requests are prepared by Client.Do and dispatched lazily: nothing is
// sent until the response is streamed or one of its accessors needs the
// status, headers or body. Client.Stream drives any number of responses
// at once and yields, per response, a FirstChunk when headers arrive,
// DataChunks in offset order, and a LastChunk or an *ErrorChunk at the
// end. Idle timeouts surface as timeout chunks; the response stays open
// and can be streamed again.
//
// Status codes of 300 and above never interrupt a stream. They are
// reported as a *StatusError by the accessors called with throw set and
// by Response.Close, unless the response was already inspected.
//
//	c := &httpx.Client{Logger: logger}
//	defer c.Close()
//	a, _ := c.Get("https://example.com/a")
//	b, _ := c.Get("https://example.com/b")
//	st := c.Stream([]*httpx.Response{a, b})
//	for st.Next() {
//		r, ch := st.Response(), st.Chunk()
//		data, err := ch.Content()
//		if err != nil {
//			log.Printf("%s: %v", r.Info().URL, err)
//			continue
//		}
//		_ = data
//	}
//	if err := st.Err(); err != nil {
//		log.Fatal(err)
//	}
//
// Transfers are performed by a Backend. NetBackend speaks HTTP/1.1 over
// TCP, TLS and unix sockets with a bounded per-host connection pool and
// proxy support; MockBackend replays scripted responses for tests.
// Content encodings the client negotiated itself (gzip, deflate, zstd)
// are decoded transparently.
package httpx
