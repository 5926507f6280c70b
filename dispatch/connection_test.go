package dispatch

import (
	"io"
	"testing"

	"dqx0.com/go/wsgate/httpx"
)

func newTestConnection(req *httpx.Request) (*Connection, *httpx.Response) {
	if req == nil {
		req = &httpx.Request{Method: "POST", RequestURI: "/svc/extra?x=1", Proto: "HTTP/1.1", Header: httpx.Header{}}
	}
	resp := httpx.NewResponse(req.Proto, 200)
	u := ParseRequestURL(req.RequestURI, false, "h", 80)
	return NewConnection(req, resp, u, nil), resp
}

func TestConnection_RequestHeadersLazy(t *testing.T) {
	req := &httpx.Request{Method: "POST", RequestURI: "/svc", Proto: "HTTP/1.1", Header: httpx.Header{}}
	req.Header.Add("SOAPAction", "urn:echo")
	req.Header.Add("X-Multi", "a")
	req.Header.Add("X-Multi", "b")
	c, _ := newTestConnection(req)

	if got := c.RequestHeader("soapaction"); got != "urn:echo" {
		t.Fatalf("RequestHeader=%q", got)
	}
	if c.reqHeaders != nil {
		t.Fatal("first-value shortcut materialized the header cache")
	}

	if got := c.RequestHeaderValues("x-multi"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("RequestHeaderValues=%v", got)
	}
	cached := c.RequestHeaders()
	// Later changes to the raw request are not re-read.
	req.Header.Add("X-Late", "1")
	if c.RequestHeaders().Has("X-Late") {
		t.Fatal("request header cache was rebuilt")
	}
	if len(cached) != 2 {
		t.Fatalf("cached=%v", cached)
	}
	names := c.RequestHeaderNames()
	if len(names) != 2 || names[0] != "Soapaction" || names[1] != "X-Multi" {
		t.Fatalf("names=%v", names)
	}
	if c.RequestHeaderValues("missing") != nil {
		t.Fatal("missing header returned values")
	}
}

func TestConnection_SetResponseHeaderAccumulates(t *testing.T) {
	c, resp := newTestConnection(nil)
	if c.ResponseHeaders() != nil {
		t.Fatal("response header cache materialized before any mutation")
	}
	c.SetResponseHeader("X-A", []string{"1"})
	c.SetResponseHeader("X-A", []string{"2", "3"})

	if got := c.ResponseHeaders().Values("X-A"); len(got) != 2 || got[0] != "2" {
		t.Fatalf("cache=%v, want overwritten [2 3]", got)
	}
	if got := resp.Header.Values("X-A"); len(got) != 3 {
		t.Fatalf("response=%v, want accumulated [1 2 3]", got)
	}
}

func TestConnection_BulkReplaceSkipsReservedHeaders(t *testing.T) {
	c, resp := newTestConnection(nil)
	c.SetContentTypeResponseHeader("text/xml")
	c.SetContentLengthResponseHeader(7)
	resp.Header.Set("X-Old", "gone")

	h := httpx.Header{}
	h.Set("Content-Type", "application/evil")
	h.Set("content-length", "999")
	h.Add("X-New", "a")
	h.Add("X-New", "b")
	c.SetResponseHeaders(h)

	if got := resp.Header.Values("Content-Type"); len(got) != 1 || got[0] != "text/xml" {
		t.Fatalf("Content-Type=%v", got)
	}
	if got := resp.Header.Values("Content-Length"); len(got) != 1 || got[0] != "7" {
		t.Fatalf("Content-Length=%v", got)
	}
	if resp.Header.Has("X-Old") {
		t.Fatal("bulk replace kept a stale header")
	}
	if got := resp.Header.Values("X-New"); len(got) != 2 {
		t.Fatalf("X-New=%v", got)
	}
	if c.ResponseHeaders().Get("Content-Type") != "application/evil" {
		t.Fatal("cache must hold the replacement map as given")
	}

	c.SetResponseHeaders(nil)
	if c.ResponseHeaders() != nil {
		t.Fatal("nil replace did not clear the cache")
	}
	if !resp.Header.Has("X-New") {
		t.Fatal("nil replace touched the response")
	}
}

func TestConnection_OutputCommitsOnClose(t *testing.T) {
	c, resp := newTestConnection(nil)
	out := c.Output()
	if c.Output() != out {
		t.Fatal("Output returned a different writer")
	}
	if _, err := io.WriteString(out, "hello"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp.Body != nil {
		t.Fatal("body committed before Close")
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(resp.Body) != "hello" {
		t.Fatalf("body=%q", resp.Body)
	}
	if _, err := out.Write([]byte("more")); err == nil {
		t.Fatal("write after close succeeded")
	}
	_ = out.Close()
	if string(resp.Body) != "hello" {
		t.Fatalf("second close changed body: %q", resp.Body)
	}
}

func TestConnection_InputAndAccessors(t *testing.T) {
	req := &httpx.Request{Method: "POST", RequestURI: "/svc/extra?x=1", Proto: "HTTP/1.0", Header: httpx.Header{}, Body: []byte("payload")}
	c, resp := newTestConnection(req)

	b, err := io.ReadAll(c.Input())
	if err != nil || string(b) != "payload" {
		t.Fatalf("Input=%q err=%v", b, err)
	}
	c.SetStatus(202)
	if c.Status() != 202 || resp.StatusCode != 202 {
		t.Fatalf("status=%d/%d", c.Status(), resp.StatusCode)
	}
	if q, ok := c.QueryString(); !ok || q != "x=1" {
		t.Fatalf("QueryString=(%q,%v)", q, ok)
	}
	if p, ok := c.PathInfo(); !ok || p != "/extra" {
		t.Fatalf("PathInfo=(%q,%v)", p, ok)
	}
	if c.Method() != "POST" || c.Protocol() != "HTTP/1.0" || c.RequestURI() != "/svc/extra?x=1" {
		t.Fatalf("method=%q proto=%q uri=%q", c.Method(), c.Protocol(), c.RequestURI())
	}
	if c.Scheme() != "http" || c.Secure() || c.ServerName() != "h" || c.ServerPort() != 80 {
		t.Fatalf("scheme=%q secure=%v name=%q port=%d", c.Scheme(), c.Secure(), c.ServerName(), c.ServerPort())
	}
	if c.ContextPath() != "/svc" || c.BaseAddress() != "http://h:80/svc" {
		t.Fatalf("context=%q base=%q", c.ContextPath(), c.BaseAddress())
	}
}
