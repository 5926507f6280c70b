package httpx

import "strings"

// Request is a fully received HTTP/1.x request. The transport aggregates the
// message body before handing the request to a Handler, so Body holds every
// byte the client sent (after chunked decoding).
type Request struct {
	Method        string
	RequestURI    string
	Proto         string
	Header        Header
	Body          []byte
	Host          string
	// ContentLength is the declared length, or -1 for chunked bodies.
	ContentLength int64
	// RequestID is the server generated identifier for this request.
	RequestID     string
}

// ProtoAtLeast reports whether the request protocol is HTTP/major.minor or later.
func (r *Request) ProtoAtLeast(major, minor int) bool {
	maj, min, ok := parseProto(r.Proto)
	if !ok {
		return false
	}
	return maj > major || (maj == major && min >= minor)
}

// KeepAlive reports whether the client wants the connection kept open after
// the response. HTTP/1.1 defaults to keep-alive unless "Connection: close" is
// sent; HTTP/1.0 keeps the connection only with "Connection: keep-alive".
func KeepAlive(r *Request) bool {
	if r == nil {
		return false
	}
	if r.ProtoAtLeast(1, 1) {
		return !connectionHas(r.Header, "close")
	}
	return connectionHas(r.Header, "keep-alive")
}

func connectionHas(h Header, token string) bool {
	for _, v := range h.Values("Connection") {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

func parseProto(p string) (major, minor int, ok bool) {
	if len(p) != len("HTTP/1.1") || !strings.HasPrefix(p, "HTTP/") || p[6] != '.' {
		return 0, 0, false
	}
	a, b := p[5], p[7]
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, 0, false
	}
	return int(a - '0'), int(b - '0'), true
}
