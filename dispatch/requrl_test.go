package dispatch

import "testing"

func TestParseRequestURL(t *testing.T) {
	cases := []struct {
		target      string
		contextPath string
		pathInfo    string
		hasPathInfo bool
		query       string
		hasQuery    bool
	}{
		{target: "/"},
		{target: "/svc", contextPath: "/svc"},
		{target: "/svc/", contextPath: "/svc", pathInfo: "/", hasPathInfo: true},
		{target: "/svc/extra?x=1", contextPath: "/svc", pathInfo: "/extra", hasPathInfo: true, query: "x=1", hasQuery: true},
		{target: "/svc/a/b", contextPath: "/svc", pathInfo: "/a/b", hasPathInfo: true},
		{target: "/svc?", contextPath: "/svc"},
		{target: "/svc?wsdl", contextPath: "/svc", query: "wsdl", hasQuery: true},
		{target: "/?wsdl", query: "wsdl", hasQuery: true},
		{target: "/?"},
		{target: "/svc??", contextPath: "/svc", query: "?", hasQuery: true},
		{target: "/svc?a=/b", contextPath: "/svc", query: "a=/b", hasQuery: true},
		{target: "//x", contextPath: "/", pathInfo: "/x", hasPathInfo: true},
	}
	for _, tc := range cases {
		u := ParseRequestURL(tc.target, false, "h", 80)
		if u.ContextPath != tc.contextPath {
			t.Errorf("%q: ContextPath=%q, want %q", tc.target, u.ContextPath, tc.contextPath)
		}
		if u.PathInfo != tc.pathInfo || u.HasPathInfo != tc.hasPathInfo {
			t.Errorf("%q: PathInfo=(%q,%v), want (%q,%v)", tc.target, u.PathInfo, u.HasPathInfo, tc.pathInfo, tc.hasPathInfo)
		}
		if u.Query != tc.query || u.HasQuery != tc.hasQuery {
			t.Errorf("%q: Query=(%q,%v), want (%q,%v)", tc.target, u.Query, u.HasQuery, tc.query, tc.hasQuery)
		}
	}
}

func TestParseRequestURL_BaseAddress(t *testing.T) {
	u := ParseRequestURL("/svc/extra?x=1", false, "example.org", 8080)
	if u.BaseAddress != "http://example.org:8080/svc" {
		t.Fatalf("BaseAddress=%q", u.BaseAddress)
	}
	if u.Scheme() != "http" || u.Secure {
		t.Fatalf("scheme=%q secure=%v", u.Scheme(), u.Secure)
	}

	s := ParseRequestURL("/", true, "example.org", 443)
	if s.BaseAddress != "https://example.org:443" {
		t.Fatalf("BaseAddress=%q", s.BaseAddress)
	}
	if s.ServerName != "example.org" || s.ServerPort != 443 || !s.Secure {
		t.Fatalf("server facts = %+v", s)
	}
}

func TestRequestURL_LookupKey(t *testing.T) {
	for target, want := range map[string]string{
		"/":          "/",
		"/?wsdl":     "/",
		"/svc":       "/svc",
		"/svc/x?y=z": "/svc",
	} {
		if got := ParseRequestURL(target, false, "h", 80).LookupKey(); got != want {
			t.Errorf("LookupKey(%q)=%q, want %q", target, got, want)
		}
	}
}

func TestIsDiscoveryQuery(t *testing.T) {
	cases := []struct {
		q       string
		present bool
		want    bool
	}{
		{"wsdl", true, true},
		{"WSDL", true, true},
		{"Wsdl", true, true},
		{"xsd=foo", true, true},
		{"xsd=", true, true},
		{"xsdfoo", true, false},
		{"wsdl=1", true, false},
		{"", true, false},
		{"wsdl", false, false},
	}
	for _, tc := range cases {
		if got := IsDiscoveryQuery(tc.q, tc.present); got != tc.want {
			t.Errorf("IsDiscoveryQuery(%q,%v)=%v, want %v", tc.q, tc.present, got, tc.want)
		}
	}
}
