package dispatch

import (
	"strconv"
	"strings"
)

// RequestURL is the routing view of a request target. It is derived once
// per request and never modified.
type RequestURL struct {
	// BaseAddress is the absolute URL up to and including the context path.
	BaseAddress string
	// ContextPath is the leading segment that selects an endpoint. It is
	// empty only for the root target.
	ContextPath string
	// PathInfo is whatever follows the context path, before the query.
	PathInfo    string
	HasPathInfo bool
	// Query is the raw query string without the leading '?'.
	Query    string
	HasQuery bool

	Secure     bool
	ServerName string
	ServerPort int
}

// ParseRequestURL splits rawTarget into context path, path info and query
// string. A trailing '?' with nothing after it yields no query string.
func ParseRequestURL(rawTarget string, secure bool, serverName string, serverPort int) RequestURL {
	u := RequestURL{Secure: secure, ServerName: serverName, ServerPort: serverPort}
	if rawTarget != "/" {
		prefix := rawTarget
		if i := strings.IndexByte(rawTarget, '?'); i != -1 {
			prefix = rawTarget[:i]
			if i+1 < len(rawTarget) {
				u.Query, u.HasQuery = rawTarget[i+1:], true
			}
		}
		if prefix != "/" {
			u.ContextPath = prefix
			if i := strings.IndexByte(prefix[min(1, len(prefix)):], '/'); i != -1 {
				i++
				u.ContextPath = prefix[:i]
				u.PathInfo, u.HasPathInfo = prefix[i:], true
			}
		}
	}
	u.BaseAddress = u.Scheme() + "://" + serverName + ":" + strconv.Itoa(serverPort) + u.ContextPath
	return u
}

// Scheme returns "https" for secure connections and "http" otherwise.
func (u RequestURL) Scheme() string {
	if u.Secure {
		return "https"
	}
	return "http"
}

// LookupKey returns the routing key: the context path, or "/" for the root.
func (u RequestURL) LookupKey() string {
	if u.ContextPath == "" {
		return "/"
	}
	return u.ContextPath
}
