// Package httpx provides a small HTTP/1.x server transport for embedding
// request dispatchers.
//
// Highlights
//   - Server: per-connection read loop with keep-alive, chunked request
//     bodies, Expect: 100-continue, header and body size limits, optional
//     TLS, accept throttling, graceful shutdown, logging/metrics hooks.
//   - Requests reach the Handler fully aggregated; responses are written
//     whole (never chunked), so the handler decides Content-Length and
//     Connection itself.
//   - Channel and ChannelGroup give the handler explicit control over when
//     a connection closes and let the owner close every connection at once.
//
// Quick start:
//
//	s := &httpx.Server{Addr: ":8080", Handler: h}
//	if err := s.ListenAndServe(); err != nil { log.Fatal(err) }
//
// where h implements Handler:
//
//	func (h *hello) ServeRequest(ch *httpx.Channel, r *httpx.Request) error {
//	    resp := httpx.NewResponse(r.Proto, 200)
//	    resp.Body = []byte("hello")
//	    resp.Header.Set("Content-Length", "5")
//	    return ch.Write(resp)
//	}
package httpx
