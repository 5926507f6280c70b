package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"dqx0.com/go/wsgate/config"
	"dqx0.com/go/wsgate/dispatch"
	"dqx0.com/go/wsgate/internal/echo"
)

func testConfig() config.Config {
	cfg := *config.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Endpoints = nil
	return cfg
}

func echoMappings() map[string]any {
	return map[string]any{
		"/echoService": &echo.Service{Name: "echoService", Port: "echoPort"},
	}
}

func post(t *testing.T, addr, path, body string) string {
	t.Helper()
	resp, err := http.Post("http://"+addr+path, "text/plain", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status=%d body=%q", resp.StatusCode, b)
	}
	return string(b)
}

func TestServer_StartStop(t *testing.T) {
	s := New(echo.Engine{}, echoMappings(), testConfig())
	if s.Running() || s.Addr() != nil {
		t.Fatal("new server reports running")
	}
	if err := s.Stop(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Stop before Start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start: %v", err)
	}
	addr := s.Addr().String()
	if got := post(t, addr, "/echoService", "world"); got != "Hello world" {
		t.Fatalf("body=%q", got)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Running() {
		t.Fatal("running after Stop")
	}
	if _, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		t.Fatal("listener still accepting after Stop")
	}
	if err := s.Stop(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestServer_Restart(t *testing.T) {
	s := New(echo.Engine{}, echoMappings(), testConfig())
	for i := 0; i < 2; i++ {
		if err := s.Start(); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		if got := post(t, s.Addr().String(), "/echoService", "again"); got != "Hello again" {
			t.Fatalf("body=%q", got)
		}
		if err := s.Stop(context.Background()); err != nil {
			t.Fatalf("Stop %d: %v", i, err)
		}
	}
}

func TestServer_RegistrationFailureAbortsStart(t *testing.T) {
	s := New(echo.Engine{}, map[string]any{"/bad": &echo.Service{Name: "noPort"}}, testConfig())
	err := s.Start()
	var re *dispatch.RegistrationError
	if !errors.As(err, &re) || !errors.Is(err, echo.ErrMissingName) {
		t.Fatalf("Start err=%v", err)
	}
	if s.Running() {
		t.Fatal("running after failed Start")
	}
}

func TestServer_BindFailureAbortsStart(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	cfg := testConfig()
	cfg.Addr = ln.Addr().String()
	s := New(echo.Engine{}, echoMappings(), cfg)
	if err := s.Start(); err == nil {
		_ = s.Stop(context.Background())
		t.Fatal("Start succeeded on a bound address")
	}
	if s.Running() {
		t.Fatal("running after failed Start")
	}
}

func TestServer_StopClosesKeepAliveConnections(t *testing.T) {
	s := New(echo.Engine{}, echoMappings(), testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	br := bufio.NewReader(c)
	_, _ = io.WriteString(c, "POST /echoService HTTP/1.1\r\nHost: x\r\nContent-Length: 2\r\n\r\nhi")
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.Header.Get("Connection") != "keep-alive" {
		t.Fatalf("Connection=%q", resp.Header.Get("Connection"))
	}
	if n := s.Channels().Len(); n != 1 {
		t.Fatalf("tracked channels=%d", n)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		t.Fatalf("connection survived Stop: %v", err)
	}
	if n := s.Channels().Len(); n != 0 {
		t.Fatalf("tracked channels after Stop=%d", n)
	}
}

func TestServer_AcceptRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Accept.Rate = 1000
	cfg.Accept.Burst = 4
	s := New(echo.Engine{}, echoMappings(), cfg)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()
	for i := 0; i < 3; i++ {
		if got := post(t, s.Addr().String(), "/echoService", "x"); got != "Hello x" {
			t.Fatalf("body=%q", got)
		}
	}
}
