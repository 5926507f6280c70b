package http1

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
)

var (
	// ErrMalformed reports a request line, header line or framing header
	// that cannot be parsed.
	ErrMalformed = errors.New("http1: malformed request")
	// ErrLineTooLong reports a single line above the configured limit.
	ErrLineTooLong = errors.New("http1: line too long")
	// ErrHeaderTooLarge reports a header block above the total limit.
	ErrHeaderTooLarge = errors.New("http1: header block too large")
)

// ParsedRequest is a request head as read off the wire, with a body reader
// positioned at the first body byte.
type ParsedRequest struct {
	Method        string
	RequestURI    string
	Proto         string
	Header        map[string][]string // canonical keys
	ContentLength int64               // -1 for chunked bodies
	Body          io.ReadCloser
}

// Reader reads successive requests from one connection. The body of each
// request must be closed before the next ReadRequest.
type Reader struct {
	BR                  *bufio.Reader
	MaxHeaderBytes      int // per line
	MaxTotalHeaderBytes int // request line plus all header lines
	used                int
}

// ReadRequest reads one request head. A clean EOF before the first byte is
// returned as io.EOF so callers can tell an idle close from a broken request.
func (r *Reader) ReadRequest() (*ParsedRequest, error) {
	r.used = 0
	var (
		line string
		err  error
	)
	// Blank lines between pipelined requests are skipped.
	for line == "" {
		if line, err = r.headLine(); err != nil {
			return nil, err
		}
	}
	pr, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}
	if pr.Header, err = r.readHeaderBlock(); err != nil {
		return nil, err
	}
	if err := pr.attachBody(r.BR, r.MaxHeaderBytes); err != nil {
		return nil, err
	}
	return pr, nil
}

func parseRequestLine(line string) (*ParsedRequest, error) {
	method, rest, ok1 := strings.Cut(line, " ")
	uri, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || !ValidToken(method) || uri == "" {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformed, line)
	}
	if !strings.HasPrefix(proto, "HTTP/1.") {
		return nil, fmt.Errorf("%w: protocol %q", ErrMalformed, proto)
	}
	return &ParsedRequest{Method: method, RequestURI: uri, Proto: proto}, nil
}

func (r *Reader) readHeaderBlock() (map[string][]string, error) {
	h := make(map[string][]string)
	for {
		line, err := r.headLine()
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}
		if line == "" {
			return h, nil
		}
		// No whitespace is allowed between the name and the colon, and
		// continuation lines are not accepted.
		name, value, ok := strings.Cut(line, ":")
		if !ok || !ValidToken(name) {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformed, line)
		}
		key := textproto.CanonicalMIMEHeaderKey(name)
		h[key] = append(h[key], strings.Trim(value, " \t"))
	}
}

// headLine reads one line of the request head and charges it against the
// total header budget.
func (r *Reader) headLine() (string, error) {
	line, err := readLine(r.BR, r.MaxHeaderBytes)
	if err != nil {
		return "", err
	}
	r.used += len(line)
	if r.MaxTotalHeaderBytes > 0 && r.used > r.MaxTotalHeaderBytes {
		return "", ErrHeaderTooLarge
	}
	return line, nil
}

// readLine returns one line without its LF or CRLF terminator. It returns
// io.EOF only when the stream ends before any byte of the line.
func readLine(br *bufio.Reader, limit int) (string, error) {
	var line []byte
	for {
		frag, err := br.ReadSlice('\n')
		line = append(line, frag...)
		if limit > 0 && len(line) > limit+2 {
			return "", ErrLineTooLong
		}
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF && len(line) > 0 {
			err = io.ErrUnexpectedEOF
		}
		return "", err
	}
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	if limit > 0 && len(line) > limit {
		return "", ErrLineTooLong
	}
	if bytes.IndexByte(line, '\r') >= 0 {
		return "", fmt.Errorf("%w: bare CR", ErrMalformed)
	}
	return string(line), nil
}

// attachBody selects the body framing: chunked, Content-Length or none.
func (pr *ParsedRequest) attachBody(br *bufio.Reader, maxLine int) error {
	chunked, err := isChunked(pr.Header["Transfer-Encoding"])
	if err != nil {
		return err
	}
	clv, hasCL := pr.Header["Content-Length"]
	switch {
	case chunked && hasCL:
		return fmt.Errorf("%w: both Transfer-Encoding and Content-Length", ErrMalformed)
	case chunked:
		pr.ContentLength, pr.Body = -1, newChunkedReader(br, maxLine)
	case hasCL:
		n, err := parseContentLength(clv)
		if err != nil {
			return err
		}
		pr.ContentLength, pr.Body = n, noBody{}
		if n > 0 {
			pr.Body = &fixedBody{lr: io.LimitedReader{R: br, N: n}}
		}
	default:
		pr.Body = noBody{}
	}
	return nil
}

// isChunked reports whether Transfer-Encoding names exactly the chunked
// coding. Any other coding leaves the body length undeterminable.
func isChunked(vv []string) (bool, error) {
	if len(vv) == 0 {
		return false, nil
	}
	var codings []string
	for _, v := range vv {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				codings = append(codings, c)
			}
		}
	}
	if len(codings) != 1 || !strings.EqualFold(codings[0], "chunked") {
		return false, fmt.Errorf("%w: unsupported transfer-encoding %q", ErrMalformed, strings.Join(vv, ", "))
	}
	return true, nil
}

// parseContentLength accepts repeated or comma-separated values only when
// they all agree.
func parseContentLength(vv []string) (int64, error) {
	var n int64 = -1
	for _, v := range vv {
		for _, part := range strings.Split(v, ",") {
			m, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || m < 0 {
				return 0, fmt.Errorf("%w: content-length %q", ErrMalformed, v)
			}
			if n != -1 && m != n {
				return 0, fmt.Errorf("%w: conflicting content-length values", ErrMalformed)
			}
			n = m
		}
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: empty content-length", ErrMalformed)
	}
	return n, nil
}

// fixedBody reads exactly the declared Content-Length.
type fixedBody struct {
	lr io.LimitedReader
}

func (b *fixedBody) Read(p []byte) (int, error) {
	n, err := b.lr.Read(p)
	if err == io.EOF && b.lr.N > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func (b *fixedBody) Close() error {
	_, err := io.Copy(io.Discard, &b.lr)
	return err
}

type noBody struct{}

func (noBody) Read([]byte) (int, error) { return 0, io.EOF }

func (noBody) Close() error { return nil }
