package httpx

import "dqx0.com/go/wsgate/httpx/internal/http1"

// Response is a complete, non-chunked HTTP/1.x response waiting to be written
// by a Channel.
type Response struct {
	Proto      string
	StatusCode int
	Header     Header
	Body       []byte
}

// NewResponse returns an empty response shell for proto with the given status.
func NewResponse(proto string, code int) *Response {
	if proto == "" {
		proto = "HTTP/1.1"
	}
	return &Response{Proto: proto, StatusCode: code, Header: Header{}}
}

// StatusText returns the reason phrase for code, or "" when unknown.
func StatusText(code int) string {
	return http1.StatusText(code)
}
