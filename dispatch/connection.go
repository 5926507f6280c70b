package dispatch

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"dqx0.com/go/wsgate/httpx"
)

const (
	headerContentType   = "Content-Type"
	headerContentLength = "Content-Length"
)

// Connection is the view of one request/response pair handed to an
// Invoker. It is built per request and must not be retained after the
// Invoker returns.
type Connection struct {
	req      *httpx.Request
	resp     *httpx.Response
	url      RequestURL
	delegate ContextDelegate

	// Both caches start unmaterialized (nil). Request headers are copied
	// on first read; response headers are created on first mutation.
	reqHeaders  httpx.Header
	respHeaders httpx.Header

	out *responseOutput
}

// NewConnection wraps req and resp. The Dispatcher builds connections
// itself; this is exported for engines that want to test against one.
func NewConnection(req *httpx.Request, resp *httpx.Response, u RequestURL, delegate ContextDelegate) *Connection {
	if resp.Header == nil {
		resp.Header = httpx.Header{}
	}
	return &Connection{req: req, resp: resp, url: u, delegate: delegate}
}

// RequestHeaders returns all request headers keyed by canonical name.
func (c *Connection) RequestHeaders() httpx.Header {
	if c.reqHeaders == nil {
		c.reqHeaders = make(httpx.Header, len(c.req.Header))
		for name, vv := range c.req.Header {
			c.reqHeaders.SetValues(name, vv)
		}
	}
	return c.reqHeaders
}

// RequestHeaderValues returns every value sent for name, or nil.
func (c *Connection) RequestHeaderValues(name string) []string {
	return c.RequestHeaders().Values(name)
}

// RequestHeaderNames returns the names of the request headers, sorted.
func (c *Connection) RequestHeaderNames() []string {
	return c.RequestHeaders().Names()
}

// RequestHeader returns the first value sent for name, or "".
func (c *Connection) RequestHeader(name string) string {
	return c.req.Header.Get(name)
}

// SetResponseHeaders replaces the response headers with h. Content-Type and
// Content-Length entries in h are not applied to the response; those are
// only set through SetContentTypeResponseHeader and
// SetContentLengthResponseHeader. A nil h clears the cache and leaves the
// response untouched.
func (c *Connection) SetResponseHeaders(h httpx.Header) {
	c.respHeaders = h
	if h == nil {
		return
	}
	for name := range c.resp.Header {
		if isReservedHeader(name) {
			continue
		}
		delete(c.resp.Header, name)
	}
	for name, vv := range h {
		if isReservedHeader(name) {
			continue
		}
		for _, v := range vv {
			c.resp.Header.Add(name, v)
		}
	}
}

// SetResponseHeader records values for name and appends them to the
// response. Repeated calls overwrite the cached entry but accumulate on the
// response.
func (c *Connection) SetResponseHeader(name string, values []string) {
	if c.respHeaders == nil {
		c.respHeaders = httpx.Header{}
	}
	c.respHeaders.SetValues(name, values)
	for _, v := range values {
		c.resp.Header.Add(name, v)
	}
}

// ResponseHeaders returns the headers set through this connection, or nil
// if none have been set.
func (c *Connection) ResponseHeaders() httpx.Header {
	return c.respHeaders
}

func (c *Connection) SetContentTypeResponseHeader(value string) {
	c.SetResponseHeader(headerContentType, []string{value})
}

func (c *Connection) SetContentLengthResponseHeader(n int) {
	c.SetResponseHeader(headerContentLength, []string{strconv.Itoa(n)})
}

func (c *Connection) Status() int { return c.resp.StatusCode }

func (c *Connection) SetStatus(code int) { c.resp.StatusCode = code }

// Input returns a reader over the request body. It does not copy.
func (c *Connection) Input() io.Reader {
	return bytes.NewReader(c.req.Body)
}

// Output returns the response body writer. Bytes are buffered until Close,
// which commits them as the response body; every call returns the same
// writer.
func (c *Connection) Output() io.WriteCloser {
	if c.out == nil {
		c.out = &responseOutput{resp: c.resp}
	}
	return c.out
}

func (c *Connection) ContextDelegate() ContextDelegate { return c.delegate }

func (c *Connection) Method() string { return c.req.Method }

func (c *Connection) RequestURI() string { return c.req.RequestURI }

func (c *Connection) Protocol() string { return c.req.Proto }

func (c *Connection) Secure() bool { return c.url.Secure }

func (c *Connection) Scheme() string { return c.url.Scheme() }

func (c *Connection) QueryString() (string, bool) { return c.url.Query, c.url.HasQuery }

func (c *Connection) PathInfo() (string, bool) { return c.url.PathInfo, c.url.HasPathInfo }

func (c *Connection) ServerName() string { return c.url.ServerName }

func (c *Connection) ServerPort() int { return c.url.ServerPort }

func (c *Connection) ContextPath() string { return c.url.ContextPath }

func (c *Connection) BaseAddress() string { return c.url.BaseAddress }

// URL returns the parsed request URL snapshot.
func (c *Connection) URL() RequestURL { return c.url }

func isReservedHeader(name string) bool {
	return strings.EqualFold(name, headerContentType) || strings.EqualFold(name, headerContentLength)
}

type responseOutput struct {
	resp      *httpx.Response
	buf       bytes.Buffer
	committed bool
}

func (o *responseOutput) Write(p []byte) (int, error) {
	if o.committed {
		return 0, io.ErrClosedPipe
	}
	return o.buf.Write(p)
}

// Close commits the buffered bytes as the response body. Only the first
// call has an effect.
func (o *responseOutput) Close() error {
	if o.committed {
		return nil
	}
	o.committed = true
	o.resp.Body = o.buf.Bytes()
	return nil
}
