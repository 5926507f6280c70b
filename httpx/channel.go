package httpx

import (
	"bufio"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"dqx0.com/go/wsgate/httpx/internal/http1"
)

// Channel is one accepted client connection. Writes are synchronous: when
// Write returns, the response has been flushed to the socket, so a Close
// that follows never abandons a pending response. A Close issued while a
// Write is blocked on a slow peer closes the socket and fails that Write.
type Channel struct {
	id           string
	conn         net.Conn
	bw           *bufio.Writer
	writeTimeout time.Duration

	mu        sync.Mutex // serializes writes
	closed    atomic.Bool
	idle      atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	closeErr  error
}

func newChannel(c net.Conn, writeTimeout time.Duration) *Channel {
	return &Channel{
		id:           genID(),
		conn:         c,
		bw:           bufio.NewWriter(c),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// NewChannel wraps an established connection. The transport creates
// channels itself; this is for handlers driven outside Server.
func NewChannel(c net.Conn) *Channel {
	return newChannel(c, 0)
}

func (ch *Channel) ID() string { return ch.id }

// IsOpen reports whether Close has not been called yet.
func (ch *Channel) IsOpen() bool { return !ch.closed.Load() }

// Done is closed once the channel has been closed.
func (ch *Channel) Done() <-chan struct{} { return ch.done }

// Secure reports whether the connection runs over TLS.
func (ch *Channel) Secure() bool {
	_, ok := ch.conn.(*tls.Conn)
	return ok
}

func (ch *Channel) RemoteAddr() net.Addr { return ch.conn.RemoteAddr() }

func (ch *Channel) LocalAddr() net.Addr { return ch.conn.LocalAddr() }

// LocalHost returns the host part of the local address the client connected to.
func (ch *Channel) LocalHost() string {
	host, _ := splitAddr(ch.conn.LocalAddr())
	return host
}

// LocalPort returns the local port the client connected to, or 0 when the
// connection is not TCP.
func (ch *Channel) LocalPort() int {
	_, port := splitAddr(ch.conn.LocalAddr())
	return port
}

// Write writes resp to the connection and flushes it.
func (ch *Channel) Write(resp *Response) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed.Load() {
		return ErrChannelClosed
	}
	if ch.writeTimeout > 0 {
		_ = ch.conn.SetWriteDeadline(time.Now().Add(ch.writeTimeout))
	}
	if err := http1.WriteResponse(ch.bw, resp.Proto, resp.StatusCode, "", resp.Header, resp.Body); err != nil {
		return err
	}
	return ch.bw.Flush()
}

func (ch *Channel) writeContinue() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed.Load() {
		return ErrChannelClosed
	}
	if err := http1.WriteContinue(ch.bw); err != nil {
		return err
	}
	return ch.bw.Flush()
}

// Close closes the connection without waiting for an in-flight Write. It is
// safe to call more than once; later calls return the first result.
func (ch *Channel) Close() error {
	ch.closeOnce.Do(func() {
		ch.closed.Store(true)
		ch.closeErr = ch.conn.Close()
		close(ch.done)
	})
	return ch.closeErr
}

func splitAddr(a net.Addr) (string, int) {
	if a == nil {
		return "", 0
	}
	if ta, ok := a.(*net.TCPAddr); ok {
		return ta.IP.String(), ta.Port
	}
	host, port, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String(), 0
	}
	p, _ := strconv.Atoi(port)
	return host, p
}
