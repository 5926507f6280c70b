package http1

import (
	"bufio"
	"fmt"
	"sort"
)

const continueResponse = "HTTP/1.1 100 Continue\r\n\r\n"

// WriteContinue writes the interim response that tells a client waiting on
// Expect: 100-continue to send its body.
func WriteContinue(bw *bufio.Writer) error {
	_, err := bw.WriteString(continueResponse)
	return err
}

// WriteResponse writes a complete, non-chunked response. Headers are written
// in sorted order exactly as given; hdr keys should be canonicalized by the
// caller. Framing headers such as Connection and Content-Length are the
// caller's responsibility.
func WriteResponse(bw *bufio.Writer, proto string, status int, reason string, hdr map[string][]string, body []byte) error {
	if proto == "" {
		proto = "HTTP/1.1"
	}
	if reason == "" {
		reason = StatusText(status)
	}
	if _, err := fmt.Fprintf(bw, "%s %d %s\r\n", proto, status, reason); err != nil {
		return err
	}
	keys := make([]string, 0, len(hdr))
	for k := range hdr {
		if !ValidToken(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range hdr[k] {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", k, CleanHeaderValue(v)); err != nil {
				return err
			}
		}
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := bw.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// StatusText returns the reason phrase for the codes this server emits or
// commonly relays. Unknown codes get an empty phrase.
func StatusText(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 413:
		return "Request Entity Too Large"
	case 415:
		return "Unsupported Media Type"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 503:
		return "Service Unavailable"
	default:
		return ""
	}
}
