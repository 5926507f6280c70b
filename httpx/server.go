package httpx

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"dqx0.com/go/wsgate/httpx/internal/http1"
	"dqx0.com/go/wsgate/internal/obs"
)

// DefaultMaxBodyBytes caps an aggregated request body.
const DefaultMaxBodyBytes = 64 << 10

// Handler receives connection events from the Server. All three methods
// run on the connection's own goroutine.
//
// ServeRequest must write a response (or close the channel) before
// returning. A returned error, or a panic, ends the connection after
// OnError has been given the chance to report it to the client.
type Handler interface {
	OnOpen(ch *Channel)
	ServeRequest(ch *Channel, r *Request) error
	OnError(ch *Channel, err error)
}

type Server struct {
	Addr                string
	Handler             Handler
	TLSConfig           *tls.Config
	ReadTimeout         time.Duration
	ReadHeaderTimeout   time.Duration
	WriteTimeout        time.Duration
	IdleTimeout         time.Duration
	MaxHeaderBytes      int
	MaxTotalHeaderBytes int
	MaxBodyBytes        int64
	// AcceptLimiter, if set, throttles how fast new connections are accepted.
	AcceptLimiter       *rate.Limiter
	Logger              obs.Logger
	Meter               obs.Meter

	mu         sync.Mutex
	listeners  map[*net.Listener]struct{}
	active     map[*Channel]struct{}
	conns      sync.WaitGroup
	inShutdown atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

func (s *Server) ListenAndServe() error {
	if s.inShutdown.Load() {
		return ErrServerClosed
	}
	addr := s.Addr
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on l until the listener fails or the server is
// shut down, in which case it returns ErrServerClosed. When TLSConfig is set
// the listener is wrapped with TLS.
func (s *Server) Serve(l net.Listener) error {
	if s.TLSConfig != nil {
		l = tls.NewListener(l, s.TLSConfig)
	}
	if !s.trackListener(&l, true) {
		_ = l.Close()
		return ErrServerClosed
	}
	defer s.trackListener(&l, false)
	defer l.Close()

	ctx := s.baseContext()
	var tempDelay time.Duration
	for {
		if s.AcceptLimiter != nil {
			if err := s.AcceptLimiter.Wait(ctx); err != nil {
				if s.shuttingDown() {
					return ErrServerClosed
				}
				return err
			}
		}
		c, err := l.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.logf(obs.Warn, "accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0
		ch := newChannel(c, s.WriteTimeout)
		if !s.trackChannel(ch, true) {
			_ = ch.Close()
			return ErrServerClosed
		}
		go s.serveConn(ch)
	}
}

func (s *Server) serveConn(ch *Channel) {
	defer s.conns.Done()
	defer s.trackChannel(ch, false)
	defer ch.Close()

	c := ch.conn
	if tc, ok := c.(*tls.Conn); ok {
		if s.ReadHeaderTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(s.ReadHeaderTimeout))
		}
		if err := tc.Handshake(); err != nil {
			s.logf(obs.Debug, "tls handshake from %s: %v", c.RemoteAddr(), err)
			return
		}
	}

	s.logf(obs.Debug, "channel %s open from %s", ch.ID(), c.RemoteAddr())
	s.meter().Counter("connections_total", 1)
	h := s.handler()
	h.OnOpen(ch)

	br := bufio.NewReader(c)
	rr := &http1.Reader{BR: br, MaxHeaderBytes: s.headerLimit(), MaxTotalHeaderBytes: s.totalHeaderLimit()}
	for ch.IsOpen() && !s.shuttingDown() {
		if s.ReadHeaderTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(s.ReadHeaderTimeout))
		}
		// Idle lasts until the first byte of the next request arrives, so
		// Shutdown never cuts a request whose head is still arriving.
		ch.idle.Store(true)
		_, err := br.Peek(1)
		ch.idle.Store(false)
		if err != nil {
			s.readFailed(h, ch, err)
			return
		}
		pr, err := rr.ReadRequest()
		if err != nil {
			s.readFailed(h, ch, err)
			return
		}
		if s.ReadTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}

		r, err := s.readRequest(ch, pr)
		if err != nil {
			s.readFailed(h, ch, err)
			return
		}

		if err := s.serve(h, ch, r); err != nil {
			s.logf(obs.Warn, "channel %s request %s failed: %v", ch.ID(), r.RequestID, err)
			if ch.IsOpen() {
				h.OnError(ch, err)
			}
			return
		}

		// Reset deadlines for next request
		if s.IdleTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(s.IdleTimeout))
		} else if s.ReadTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		} else {
			_ = c.SetReadDeadline(time.Time{})
		}
	}
}

// readRequest turns a parsed request head into a Request with its body fully
// aggregated, answering Expect: 100-continue first so the client sends it.
func (s *Server) readRequest(ch *Channel, pr *http1.ParsedRequest) (*Request, error) {
	hdr := Header(pr.Header)
	limit := s.bodyLimit()
	if pr.ContentLength > limit {
		return nil, &FramingError{Kind: ErrBodyTooLarge, Err: fmt.Errorf("content-length %d exceeds %d", pr.ContentLength, limit)}
	}
	if strings.EqualFold(hdr.Get("Expect"), "100-continue") && pr.ContentLength != 0 {
		if err := ch.writeContinue(); err != nil {
			return nil, err
		}
	}
	body, err := io.ReadAll(io.LimitReader(pr.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, &FramingError{Kind: ErrBodyTooLarge, Err: fmt.Errorf("body exceeds %d bytes", limit)}
	}
	if err := pr.Body.Close(); err != nil {
		return nil, err
	}
	return &Request{
		Method:        pr.Method,
		RequestURI:    pr.RequestURI,
		Proto:         pr.Proto,
		Header:        hdr,
		Body:          body,
		Host:          hdr.Get("Host"),
		ContentLength: pr.ContentLength,
		RequestID:     genID(),
	}, nil
}

// readFailed reports framing faults to the handler. Connection-level
// failures such as EOF, resets and timeouts just end the connection.
func (s *Server) readFailed(h Handler, ch *Channel, err error) {
	fe := asFramingError(err)
	if fe == nil {
		if err != io.EOF {
			s.logf(obs.Debug, "channel %s read: %v", ch.ID(), err)
		}
		return
	}
	s.logf(obs.Info, "channel %s framing fault: %v", ch.ID(), fe)
	if ch.IsOpen() {
		h.OnError(ch, fe)
	}
}

func (s *Server) serve(h Handler, ch *Channel, r *Request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logf(obs.Error, "panic serving %s %s: %v\n%s", r.Method, r.RequestURI, p, debug.Stack())
			err = fmt.Errorf("httpx: panic serving request: %v", p)
		}
	}()
	return h.ServeRequest(ch, r)
}

// Shutdown stops accepting connections, closes idle ones and waits for
// in-flight requests to finish. If ctx expires first the remaining
// connections are closed and ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.cancelBase()
	lnErr := s.closeListeners()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.closeIdle() {
			s.conns.Wait()
			return lnErr
		}
		select {
		case <-ctx.Done():
			s.closeAll()
			s.conns.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close immediately closes all listeners and connections.
func (s *Server) Close() error {
	s.inShutdown.Store(true)
	s.cancelBase()
	err := s.closeListeners()
	s.closeAll()
	s.conns.Wait()
	return err
}

func (s *Server) shuttingDown() bool { return s.inShutdown.Load() }

func (s *Server) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	return s.ctx
}

func (s *Server) cancelBase() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) trackListener(ln *net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[*net.Listener]struct{})
	}
	if add {
		if s.shuttingDown() {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}

func (s *Server) trackChannel(ch *Channel, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		s.active = make(map[*Channel]struct{})
	}
	if add {
		if s.shuttingDown() {
			return false
		}
		s.active[ch] = struct{}{}
		s.conns.Add(1)
	} else {
		delete(s.active, ch)
	}
	return true
}

func (s *Server) closeListeners() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for ln := range s.listeners {
		if err := (*ln).Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// closeIdle closes connections waiting for a request and reports whether
// none remain.
func (s *Server) closeIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.active {
		if ch.idle.Load() {
			_ = ch.Close()
		}
	}
	return len(s.active) == 0
}

func (s *Server) closeAll() {
	s.mu.Lock()
	snapshot := make([]*Channel, 0, len(s.active))
	for ch := range s.active {
		snapshot = append(snapshot, ch)
	}
	s.mu.Unlock()
	for _, ch := range snapshot {
		_ = ch.Close()
	}
}

func (s *Server) handler() Handler {
	if s.Handler == nil {
		return notFoundHandler{}
	}
	return s.Handler
}

func (s *Server) headerLimit() int {
	if s.MaxHeaderBytes <= 0 {
		return 8 << 10
	}
	return s.MaxHeaderBytes
}

func (s *Server) totalHeaderLimit() int {
	if s.MaxTotalHeaderBytes <= 0 {
		return 64 << 10
	}
	return s.MaxTotalHeaderBytes
}

func (s *Server) bodyLimit() int64 {
	if s.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return s.MaxBodyBytes
}

func (s *Server) logf(level obs.Level, format string, args ...interface{}) {
	if s.Logger == nil {
		return
	}
	s.Logger.Logf(level, format, args...)
}

func (s *Server) meter() obs.Meter {
	if s.Meter == nil {
		return obs.NopMeter{}
	}
	return s.Meter
}

// notFoundHandler answers every request with 404 and closes the connection.
type notFoundHandler struct{}

func (notFoundHandler) OnOpen(*Channel) {}

func (notFoundHandler) ServeRequest(ch *Channel, r *Request) error {
	resp := NewResponse(r.Proto, 404)
	resp.Header.Set("Connection", "close")
	err := ch.Write(resp)
	_ = ch.Close()
	return err
}

func (notFoundHandler) OnError(ch *Channel, err error) { _ = ch.Close() }
