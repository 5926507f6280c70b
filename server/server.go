// Package server ties the transport, the channel group and the dispatcher
// together behind a start/stop lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"dqx0.com/go/wsgate/config"
	"dqx0.com/go/wsgate/dispatch"
	"dqx0.com/go/wsgate/httpx"
	"dqx0.com/go/wsgate/internal/obs"
)

var (
	ErrAlreadyStarted = errors.New("server: already started")
	ErrNotStarted     = errors.New("server: not started")
)

// Server serves a fixed set of endpoints. A stopped Server can be started
// again; each start builds a fresh dispatcher and channel group.
type Server struct {
	cfg      config.Config
	engine   dispatch.Engine
	mappings map[string]any
	logger   obs.Logger
	meter    obs.Meter

	running atomic.Bool

	mu        sync.Mutex
	ln        net.Listener
	group     *httpx.ChannelGroup
	transport *httpx.Server
	serveErr  chan error
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l obs.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithMeter(m obs.Meter) Option {
	return func(s *Server) { s.meter = m }
}

// New returns a stopped server. mappings is passed to dispatch.New on Start.
func New(engine dispatch.Engine, mappings map[string]any, cfg config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   engine,
		mappings: mappings,
		logger:   obs.NopLogger{},
		meter:    obs.NopMeter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the endpoints, binds the configured address and serves
// in the background. Registration failures abort the start.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if err := s.start(); err != nil {
		s.running.Store(false)
		return err
	}
	return nil
}

func (s *Server) start() error {
	group := httpx.NewChannelGroup("wsgate")
	d, err := dispatch.New(s.engine, s.mappings,
		dispatch.WithChannelGroup(group),
		dispatch.WithLogger(s.logger),
		dispatch.WithMeter(s.meter),
	)
	if err != nil {
		return err
	}
	tlsCfg, err := s.cfg.TLS.LoadTLS()
	if err != nil {
		return err
	}
	t := &httpx.Server{
		Addr:                s.cfg.Addr,
		Handler:             d,
		TLSConfig:           tlsCfg,
		ReadTimeout:         s.cfg.Timeouts.Read,
		ReadHeaderTimeout:   s.cfg.Timeouts.ReadHeader,
		WriteTimeout:        s.cfg.Timeouts.Write,
		IdleTimeout:         s.cfg.Timeouts.Idle,
		MaxHeaderBytes:      s.cfg.Limits.MaxHeaderBytes,
		MaxTotalHeaderBytes: s.cfg.Limits.MaxTotalHeaderBytes,
		MaxBodyBytes:        s.cfg.Limits.MaxBodyBytes,
		Logger:              s.logger,
		Meter:               s.meter,
	}
	if s.cfg.Accept.Rate > 0 {
		t.AcceptLimiter = rate.NewLimiter(rate.Limit(s.cfg.Accept.Rate), s.cfg.Accept.Burst)
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	serveErr := make(chan error, 1)

	s.mu.Lock()
	s.ln, s.group, s.transport, s.serveErr = ln, group, t, serveErr
	s.mu.Unlock()

	go func() { serveErr <- t.Serve(ln) }()
	s.logger.Logf(obs.Info, "listening on %s (%d endpoints, tls=%t)", ln.Addr(), len(d.Paths()), tlsCfg != nil)
	return nil
}

// Stop closes every tracked connection, waits for the closes to complete,
// then shuts the transport down and releases the listener. Waiting is
// bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrNotStarted
	}
	s.mu.Lock()
	group, t, serveErr := s.group, s.transport, s.serveErr
	s.mu.Unlock()

	var errs []error
	closed := make(chan error, 1)
	go func() { closed <- group.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			errs = append(errs, err)
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("server: closing channels: %w", ctx.Err()))
	}
	if err := t.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, httpx.ErrServerClosed) {
		errs = append(errs, err)
	}
	s.logger.Logf(obs.Info, "stopped")
	return errors.Join(errs...)
}

// Running reports whether the server has been started and not stopped.
func (s *Server) Running() bool { return s.running.Load() }

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Channels returns the group tracking the current run's connections.
func (s *Server) Channels() *httpx.ChannelGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.group
}
