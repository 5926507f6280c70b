package dispatch

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"dqx0.com/go/wsgate/httpx"
	"dqx0.com/go/wsgate/internal/obs"
)

// Dispatcher routes requests to registered endpoints. The routing table is
// fixed at construction, so lookups need no locking.
type Dispatcher struct {
	endpoints map[string]Invoker
	channels  *httpx.ChannelGroup
	logger    obs.Logger
	meter     obs.Meter
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithChannelGroup tracks every opened channel in g.
func WithChannelGroup(g *httpx.ChannelGroup) Option {
	return func(d *Dispatcher) { d.channels = g }
}

func WithLogger(l obs.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithMeter(m obs.Meter) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.meter = m
		}
	}
}

// New builds an Invoker for every mapping through engine. Mappings are
// keyed by exact routing path ("/" for the root). Any failure aborts
// construction with a *RegistrationError.
func New(engine Engine, mappings map[string]any, opts ...Option) (*Dispatcher, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}
	d := &Dispatcher{
		endpoints: make(map[string]Invoker, len(mappings)),
		logger:    obs.NopLogger{},
		meter:     obs.NopMeter{},
	}
	for _, opt := range opts {
		opt(d)
	}

	// Sorted so the reported failure is deterministic.
	paths := make([]string, 0, len(mappings))
	for p := range mappings {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if p == "" || !strings.HasPrefix(p, "/") {
			return nil, &RegistrationError{Path: p, Err: ErrInvalidPath}
		}
		inv, err := engine.NewInvoker(mappings[p])
		if err != nil {
			return nil, &RegistrationError{Path: p, Err: err}
		}
		if inv == nil {
			return nil, &RegistrationError{Path: p, Err: ErrNilInvoker}
		}
		d.endpoints[p] = inv
		d.logger.Logf(obs.Info, "registered endpoint %s (service=%s port=%s)", p, inv.ServiceName(), inv.PortName())
	}
	return d, nil
}

// Paths returns the registered routing paths, sorted.
func (d *Dispatcher) Paths() []string {
	out := make([]string, 0, len(d.endpoints))
	for p := range d.endpoints {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the invoker registered for the exact routing key.
func (d *Dispatcher) Lookup(key string) (Invoker, bool) {
	inv, ok := d.endpoints[key]
	return inv, ok
}

func (d *Dispatcher) OnOpen(ch *httpx.Channel) {
	if d.channels != nil {
		d.channels.Add(ch)
	}
}

// ServeRequest dispatches one request. Errors from the invoker are returned
// unchanged so the transport can route them to OnError.
func (d *Dispatcher) ServeRequest(ch *httpx.Channel, req *httpx.Request) error {
	start := time.Now()
	u := ParseRequestURL(req.RequestURI, ch.Secure(), ch.LocalHost(), ch.LocalPort())
	key := u.LookupKey()

	inv, ok := d.endpoints[key]
	if !ok {
		d.logger.Logf(obs.Info, "no endpoint for %s %s (key %s)", req.Method, req.RequestURI, key)
		d.meter.Counter("requests_total", 1, obs.Label{Key: "route", Value: "unmatched"}, obs.Label{Key: "outcome", Value: "not_found"})
		err := ch.Write(httpx.NewResponse(req.Proto, 404))
		_ = ch.Close()
		return err
	}

	keepAlive := httpx.KeepAlive(req)
	resp := httpx.NewResponse(req.Proto, 200)
	conn := NewConnection(req, resp, u, newDelegate(inv, u))

	outcome := "invoke"
	var err error
	if req.Method == "GET" && IsDiscoveryQuery(u.Query, u.HasQuery) {
		outcome = "discovery"
		err = inv.PublishDiscovery(conn)
	} else {
		err = inv.Invoke(conn)
	}
	if err != nil {
		d.meter.Counter("requests_total", 1, obs.Label{Key: "route", Value: key}, obs.Label{Key: "outcome", Value: "fault"})
		return err
	}

	if keepAlive {
		resp.Header.Set("Connection", "keep-alive")
		if resp.Header.Get("Content-Length") == "" {
			resp.Header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
		}
	} else {
		resp.Header.Set("Connection", "close")
	}

	// A failed write leaves the stream in an unknown state, so the channel
	// is closed rather than reused.
	err = ch.Write(resp)
	if !keepAlive || err != nil {
		_ = ch.Close()
	}
	d.meter.Counter("requests_total", 1, obs.Label{Key: "route", Value: key}, obs.Label{Key: "outcome", Value: outcome})
	d.meter.Histogram("request_duration_seconds", time.Since(start).Seconds(), obs.Label{Key: "route", Value: key})
	d.logger.Logf(obs.Debug, "%s %s -> %d (%s, keep-alive=%t)", req.Method, req.RequestURI, resp.StatusCode, key, keepAlive)
	return err
}

// OnError answers a transport or invocation fault with a plain-text
// diagnostic and closes the channel. Framing faults get 400, everything
// else 500.
func (d *Dispatcher) OnError(ch *httpx.Channel, err error) {
	if !ch.IsOpen() {
		return
	}
	status := 500
	if httpx.IsFramingError(err) {
		status = 400
	}
	d.logger.Logf(obs.Warn, "channel %s fault (%d): %v", ch.ID(), status, err)
	d.meter.Counter("faults_total", 1, obs.Label{Key: "status", Value: strconv.Itoa(status)})

	resp := httpx.NewResponse("HTTP/1.1", status)
	resp.Body = []byte("Failure:\r\n" + err.Error() + "\r\n")
	resp.Header.Set("Content-Type", "text/plain; charset=UTF-8")
	resp.Header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	resp.Header.Set("Connection", "close")
	if werr := ch.Write(resp); werr != nil {
		d.logger.Logf(obs.Debug, "channel %s: writing fault response: %v", ch.ID(), werr)
	}
	_ = ch.Close()
}
