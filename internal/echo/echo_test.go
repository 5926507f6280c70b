package echo

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dqx0.com/go/wsgate/dispatch"
	"dqx0.com/go/wsgate/httpx"
)

type staticDelegate struct{ addr string }

func (d staticDelegate) EndpointAddress() (string, error) {
	if d.addr == "" {
		return "", dispatch.ErrNoAddress
	}
	return d.addr, nil
}

func (d staticDelegate) DiscoveryAddress() (string, error) { return d.addr + "?wsdl", nil }

func call(t *testing.T, inv dispatch.Invoker, method, target, body string, discovery bool) *httpx.Response {
	t.Helper()
	req := &httpx.Request{Method: method, RequestURI: target, Proto: "HTTP/1.1", Header: httpx.Header{}, Body: []byte(body)}
	resp := httpx.NewResponse(req.Proto, 200)
	u := dispatch.ParseRequestURL(target, false, "127.0.0.1", 4040)
	c := dispatch.NewConnection(req, resp, u, staticDelegate{addr: u.BaseAddress})
	var err error
	if discovery {
		err = inv.PublishDiscovery(c)
	} else {
		err = inv.Invoke(c)
	}
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	return resp
}

func TestEngine_NewInvoker(t *testing.T) {
	var e Engine
	if _, err := e.NewInvoker("nope"); !errors.Is(err, ErrNotService) {
		t.Fatalf("err=%v", err)
	}
	if _, err := e.NewInvoker((*Service)(nil)); !errors.Is(err, ErrNotService) {
		t.Fatalf("nil service: err=%v", err)
	}
	if _, err := e.NewInvoker(&Service{Name: "a"}); !errors.Is(err, ErrMissingName) {
		t.Fatalf("err=%v", err)
	}
	if _, err := e.NewInvoker(&Service{Name: "a", Port: "p", DescriptionFile: filepath.Join(t.TempDir(), "missing.wsdl")}); !errors.Is(err, ErrNoDescription) {
		t.Fatalf("err=%v", err)
	}
	inv, err := e.NewInvoker(&Service{Name: "a", Port: "p"})
	if err != nil {
		t.Fatalf("NewInvoker: %v", err)
	}
	if inv.ServiceName() != "a" || inv.PortName() != "p" {
		t.Fatalf("names=%s/%s", inv.ServiceName(), inv.PortName())
	}
	r := inv.AddressResolver("http://h:1/a")
	if addr, ok := r.AddressFor("a", "p"); !ok || addr != "http://h:1/a" {
		t.Fatalf("AddressFor=(%q,%v)", addr, ok)
	}
	if _, ok := r.AddressFor("a", "other"); ok {
		t.Fatal("resolved a foreign port")
	}
}

func TestInvoker_Echo(t *testing.T) {
	inv, _ := Engine{}.NewInvoker(&Service{Name: "a", Port: "p"})
	resp := call(t, inv, "POST", "/a", "world", false)
	if string(resp.Body) != "Hello world" {
		t.Fatalf("body=%q", resp.Body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type=%q", ct)
	}

	custom, _ := Engine{}.NewInvoker(&Service{Name: "a", Port: "p", Prefix: "Hi "})
	if got := call(t, custom, "POST", "/a", "there", false); string(got.Body) != "Hi there" {
		t.Fatalf("body=%q", got.Body)
	}
}

func TestInvoker_RejectsNonPost(t *testing.T) {
	inv, _ := Engine{}.NewInvoker(&Service{Name: "a", Port: "p"})
	resp := call(t, inv, "GET", "/a", "", false)
	if resp.StatusCode != 405 || resp.Header.Get("Allow") != "POST" || len(resp.Body) != 0 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestInvoker_Discovery(t *testing.T) {
	inv, _ := Engine{}.NewInvoker(&Service{Name: "a", Port: "p", Schemas: map[string]string{"types": "<schema/>"}})

	doc := call(t, inv, "GET", "/a?wsdl", "", true)
	want := "service: a\nport: p\naddress: http://127.0.0.1:4040/a\n"
	if string(doc.Body) != want {
		t.Fatalf("doc=%q", doc.Body)
	}

	schema := call(t, inv, "GET", "/a?xsd=types", "", true)
	if string(schema.Body) != "<schema/>" {
		t.Fatalf("schema=%q", schema.Body)
	}
	if missing := call(t, inv, "GET", "/a?xsd=other", "", true); missing.StatusCode != 404 {
		t.Fatalf("status=%d", missing.StatusCode)
	}
}

func TestInvoker_DescriptionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wsdl")
	if err := os.WriteFile(path, []byte("<definitions/>"), 0o600); err != nil {
		t.Fatal(err)
	}
	inv, err := Engine{}.NewInvoker(&Service{Name: "a", Port: "p", DescriptionFile: path})
	if err != nil {
		t.Fatalf("NewInvoker: %v", err)
	}
	resp := call(t, inv, "GET", "/a?WSDL", "", true)
	if string(resp.Body) != "<definitions/>" {
		t.Fatalf("body=%q", resp.Body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("Content-Type=%q", ct)
	}
}

func TestInvoker_DiscoveryNeedsAddress(t *testing.T) {
	inv, _ := Engine{}.NewInvoker(&Service{Name: "a", Port: "p"})
	req := &httpx.Request{Method: "GET", RequestURI: "/a?wsdl", Proto: "HTTP/1.1", Header: httpx.Header{}}
	resp := httpx.NewResponse(req.Proto, 200)
	c := dispatch.NewConnection(req, resp, dispatch.ParseRequestURL(req.RequestURI, false, "h", 1), staticDelegate{})
	if err := inv.PublishDiscovery(c); !errors.Is(err, dispatch.ErrNoAddress) {
		t.Fatalf("err=%v", err)
	}
}

func TestInvoker_SchemaFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "types.xsd")
	if err := os.WriteFile(path, []byte("<xs:schema/>"), 0o600); err != nil {
		t.Fatal(err)
	}
	inv, err := Engine{}.NewInvoker(&Service{
		Name:        "a",
		Port:        "p",
		Schemas:     map[string]string{"inline": "<inline/>", "Types": "<stale/>"},
		SchemaFiles: map[string]string{"Types": path},
	})
	if err != nil {
		t.Fatalf("NewInvoker: %v", err)
	}
	if got := call(t, inv, "GET", "/a?xsd=Types", "", true); string(got.Body) != "<xs:schema/>" {
		t.Fatalf("file schema=%q", got.Body)
	}
	if got := call(t, inv, "GET", "/a?xsd=inline", "", true); string(got.Body) != "<inline/>" {
		t.Fatalf("inline schema=%q", got.Body)
	}
	if got := call(t, inv, "GET", "/a?xsd=types", "", true); got.StatusCode != 404 {
		t.Fatalf("schema names must match exactly, status=%d", got.StatusCode)
	}

	_, err = Engine{}.NewInvoker(&Service{Name: "a", Port: "p", SchemaFiles: map[string]string{"x": filepath.Join(dir, "missing.xsd")}})
	if !errors.Is(err, ErrNoSchema) {
		t.Fatalf("missing schema file: err=%v", err)
	}
}
