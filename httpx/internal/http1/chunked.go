package http1

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

var errBadChunk = fmt.Errorf("%w: bad chunked encoding", ErrMalformed)

// chunkedReader decodes a chunked request body. Chunk extensions and
// trailer fields are read and discarded. Errors are sticky: once a read
// fails, every later read returns the same error, io.EOF included.
type chunkedReader struct {
	br      *bufio.Reader
	maxLine int
	left    int64 // bytes remaining in the current chunk
	inChunk bool
	err     error
}

func newChunkedReader(br *bufio.Reader, maxLine int) *chunkedReader {
	return &chunkedReader{br: br, maxLine: maxLine}
}

func (cr *chunkedReader) Read(p []byte) (int, error) {
	if cr.err == nil && !cr.inChunk {
		cr.nextChunk()
	}
	if cr.err != nil {
		return 0, cr.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if int64(len(p)) > cr.left {
		p = p[:cr.left]
	}
	n, err := cr.br.Read(p)
	cr.left -= int64(n)
	switch {
	case err == io.EOF:
		cr.err = io.ErrUnexpectedEOF
	case err != nil:
		cr.err = err
	case cr.left == 0:
		cr.endChunk()
	}
	return n, cr.err
}

// Close consumes the rest of the body so the next request on the
// connection starts at the right byte.
func (cr *chunkedReader) Close() error {
	_, err := io.Copy(io.Discard, cr)
	return err
}

func (cr *chunkedReader) nextChunk() {
	line, err := cr.line()
	if err != nil {
		cr.err = err
		return
	}
	size, err := parseChunkSize(line)
	if err != nil {
		cr.err = err
		return
	}
	if size > 0 {
		cr.left, cr.inChunk = size, true
		return
	}
	// Last chunk: skip the trailer section up to its blank line.
	for {
		if line, err = cr.line(); err != nil {
			cr.err = err
			return
		}
		if line == "" {
			cr.err = io.EOF
			return
		}
	}
}

// endChunk consumes the CRLF that must follow chunk data.
func (cr *chunkedReader) endChunk() {
	var crlf [2]byte
	if _, err := io.ReadFull(cr.br, crlf[:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		cr.err = err
		return
	}
	if crlf != [2]byte{'\r', '\n'} {
		cr.err = fmt.Errorf("%w: %q after chunk data", errBadChunk, crlf[:])
		return
	}
	cr.inChunk = false
}

func (cr *chunkedReader) line() (string, error) {
	line, err := readLine(cr.br, cr.maxLine)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return line, err
}

// parseChunkSize parses "<hex>[;ext]" as sent on a chunk-size line.
func parseChunkSize(line string) (int64, error) {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimRight(line, " \t")
	if line == "" || len(line) > 15 {
		return 0, fmt.Errorf("%w: chunk size %q", errBadChunk, line)
	}
	var n int64
	for i := 0; i < len(line); i++ {
		var d byte
		switch c := line[i]; {
		case '0' <= c && c <= '9':
			d = c - '0'
		case 'a' <= c && c <= 'f':
			d = c - 'a' + 10
		case 'A' <= c && c <= 'F':
			d = c - 'A' + 10
		default:
			return 0, fmt.Errorf("%w: chunk size %q", errBadChunk, line)
		}
		n = n<<4 | int64(d)
	}
	return n, nil
}
