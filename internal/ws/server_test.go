package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/epiphany-db/monitor/internal/config"
	"github.com/epiphany-db/monitor/internal/inspect"
	"github.com/epiphany-db/monitor/internal/metrics"
)

type testServer struct {
	*Server
	http     *httptest.Server
	registry *Registry
	bc       *Broadcaster
	metrics  *metrics.Metrics
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Server.AcceptRate = 0
	cfg.Broadcast.PingInterval = time.Second
	cfg.Broadcast.PongTimeout = 5 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	registry := NewRegistry(cfg.Server.MaxObservers, WithMembershipHook(m.SetActiveObservers))
	bc := newTestBroadcaster(registry, WithMetrics(m))
	src := inspect.NewMockSource(10, 4, 4, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s := NewServer(cfg, registry, bc, src,
		WithServerLogger(quietLogger()),
		WithServerMetrics(m, metrics.Handler(reg)),
	)

	ts := &testServer{Server: s, http: httptest.NewServer(s.Handler()), registry: registry, bc: bc, metrics: m}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		ts.http.Close()
	})
	return ts
}

func (ts *testServer) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(ts.http.URL, "http") + path
}

// dial connects an observer and consumes the hello message.
func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL("/monitor"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	env := readEnvelope(t, conn)
	if env.Type != MsgHello {
		t.Fatalf("first message type = %q, want hello", env.Type)
	}
	return conn
}

type rawEnvelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) rawEnvelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env rawEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return env
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMonitor_HelloAndPublish(t *testing.T) {
	ts := newTestServer(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL("/monitor"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := readEnvelope(t, conn)
	if hello.Type != MsgHello {
		t.Fatalf("type = %q, want hello", hello.Type)
	}
	var hp HelloPayload
	if err := json.Unmarshal(hello.Data, &hp); err != nil {
		t.Fatal(err)
	}
	if hp.ObserverID == "" || hp.TickInterval != "1s" || hp.MessageType != MsgStatsUpdate {
		t.Errorf("hello payload = %+v", hp)
	}

	waitFor(t, "registration", func() bool { return ts.registry.Len() == 1 })

	res, err := ts.bc.Publish(context.Background(), Envelope{Type: MsgStatsUpdate, Data: map[string]int{"activePages": 1234}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Delivered != 1 {
		t.Fatalf("result = %+v", res)
	}

	env := readEnvelope(t, conn)
	if env.Type != MsgStatsUpdate || string(env.Data) != `{"activePages":1234}` {
		t.Errorf("received %s %s", env.Type, env.Data)
	}
}

func TestMonitor_WSAlias(t *testing.T) {
	ts := newTestServer(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL("/ws"), nil)
	if err != nil {
		t.Fatalf("dial /ws: %v", err)
	}
	defer conn.Close()
	if env := readEnvelope(t, conn); env.Type != MsgHello {
		t.Fatalf("type = %q, want hello", env.Type)
	}
}

func TestMonitor_HelloPrecedesPublishDuringRegistration(t *testing.T) {
	cfg := config.Default()
	cfg.Server.AcceptRate = 0

	var bc *Broadcaster
	published := make(chan PublishResult, 1)
	// The hook runs inside Register, so this publish races the greeting.
	registry := NewRegistry(0, WithMembershipHook(func(n int) {
		if n == 1 {
			go func() {
				res, _ := bc.Publish(context.Background(), Envelope{Type: "engine_stats", Data: 1})
				published <- res
			}()
		}
	}))
	bc = newTestBroadcaster(registry)
	s := NewServer(cfg, registry, bc, nil, WithServerLogger(quietLogger()))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		srv.Close()
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/monitor", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if env := readEnvelope(t, conn); env.Type != MsgHello {
		t.Fatalf("first message type = %q, want hello", env.Type)
	}
	if env := readEnvelope(t, conn); env.Type != "engine_stats" {
		t.Fatalf("second message type = %q, want engine_stats", env.Type)
	}

	select {
	case res := <-published:
		if res.Delivered != 1 {
			t.Errorf("publish result = %+v, want 1 delivered", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("publish did not complete")
	}
}

func TestMonitor_InboundMessagesIgnored(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t)

	for _, msg := range []string{"hello", `{"type":"subscribe"}`, "\x00\x01"} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(50 * time.Millisecond)
	if ts.registry.Len() != 1 {
		t.Fatalf("observer dropped after inbound traffic")
	}
}

func TestMonitor_OversizedInboundClosesSession(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Broadcast.MaxMessageSize = 16 })
	conn := ts.dial(t)

	_ = conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64)))
	waitFor(t, "unregister after oversized frame", func() bool { return ts.registry.Len() == 0 })
}

func TestMonitor_DisconnectUnregisters(t *testing.T) {
	ts := newTestServer(t, nil)
	a := ts.dial(t)
	b := ts.dial(t)
	waitFor(t, "two observers", func() bool { return ts.registry.Len() == 2 })

	_ = a.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	a.Close()
	waitFor(t, "unregister", func() bool { return ts.registry.Len() == 1 })

	if _, err := ts.bc.Publish(context.Background(), Envelope{Type: "x", Data: 2}); err != nil {
		t.Fatal(err)
	}
	if env := readEnvelope(t, b); string(env.Data) != "2" {
		t.Errorf("b received %s", env.Data)
	}
	if v := testutil.ToFloat64(ts.metrics.ActiveObservers); v != 1 {
		t.Errorf("active observers gauge = %v, want 1", v)
	}
}

func TestMonitor_CapacityRejected(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Server.MaxObservers = 1 })
	ts.dial(t)
	waitFor(t, "first observer", func() bool { return ts.registry.Len() == 1 })

	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL("/monitor"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.CloseTryAgainLater {
		t.Fatalf("read = %v, want CloseTryAgainLater", err)
	}
	if ts.registry.Len() != 1 {
		t.Errorf("registry size = %d, want 1", ts.registry.Len())
	}
	if v := testutil.ToFloat64(ts.metrics.Rejections.WithLabelValues("capacity")); v != 1 {
		t.Errorf("capacity rejections = %v, want 1", v)
	}
}

func TestMonitor_RateLimited(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Server.AcceptRate = 0.001
		c.Server.AcceptBurst = 1
	})
	ts.dial(t)

	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL("/monitor"), nil)
	if err == nil {
		t.Fatal("second dial should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("response = %v, want 429", resp)
	}
}

func TestMonitor_ShutdownClosesObservers(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t)
	waitFor(t, "registration", func() bool { return ts.registry.Len() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ts.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected observer connection to be closed")
	}
	if ts.registry.Len() != 0 {
		t.Errorf("registry size = %d after shutdown", ts.registry.Len())
	}

	resp, err := http.Get(ts.http.URL + "/monitor")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after shutdown = %d, want 503", resp.StatusCode)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		host    string
		origin  string
		want    bool
	}{
		{"no origin header", nil, "monitor:8080", "", true},
		{"same host", nil, "monitor:8080", "http://monitor:8080", true},
		{"localhost", nil, "monitor:8080", "http://localhost:3000", true},
		{"loopback v4", nil, "monitor:8080", "http://127.0.0.1:5173", true},
		{"loopback v6", nil, "monitor:8080", "http://[::1]:5173", true},
		{"foreign", nil, "monitor:8080", "http://evil.example", false},
		{"garbage", nil, "monitor:8080", "::::", false},
		{"allow list exact", []string{"https://dash.example"}, "monitor:8080", "https://dash.example", true},
		{"allow list host match", []string{"https://dash.example"}, "monitor:8080", "http://dash.example", true},
		{"allow list excludes localhost", []string{"https://dash.example"}, "monitor:8080", "http://localhost:3000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Server.AllowedOrigins = tt.allowed
			s := NewServer(cfg, NewRegistry(0), nil, nil, WithServerLogger(quietLogger()))

			req := httptest.NewRequest(http.MethodGet, "/monitor", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestMonitor_ForeignOriginRefused(t *testing.T) {
	ts := newTestServer(t, nil)

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL("/monitor"), header)
	if err == nil {
		t.Fatal("dial with foreign origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %v, want 403", resp)
	}
	if ts.registry.Len() != 0 {
		t.Error("refused observer must not be registered")
	}
}

func TestAPI_Endpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/api/cache", http.StatusOK, `"pageId":1`},
		{"/api/pages/3", http.StatusOK, `"id":3`},
		{"/api/pages/999", http.StatusNotFound, "page not found"},
		{"/api/pages/abc", http.StatusBadRequest, "invalid page id"},
		{"/api/btree", http.StatusOK, `"label":"Root [40, 70, 100]"`},
		{"/api/observers", http.StatusOK, `{"count":0}`},
		{"/api/unknown", http.StatusNotFound, ""},
		{"/healthz", http.StatusOK, `"status":"ok"`},
		{"/metrics", http.StatusOK, "monitor_observers_active"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ts.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", rec.Body, tt.wantBody)
			}
		})
	}
}

func TestAPI_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}

func TestMetricsRouteDisabled(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Metrics.Enabled = false })

	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStaticHandlerMountedAtRoot(t *testing.T) {
	cfg := config.Default()
	static := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("dashboard"))
	})
	s := NewServer(cfg, NewRegistry(0), nil, inspect.NewMockSource(1, 1, 2, time.Now()),
		WithServerLogger(quietLogger()), WithStaticHandler(static))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Body.String() != "dashboard" {
		t.Errorf("GET / body = %q, want dashboard", rec.Body)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("/healthz shadowed by static handler: %q", rec.Body)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/observers", nil))
	if !strings.Contains(rec.Body.String(), `"count":0`) {
		t.Errorf("/api/observers shadowed by static handler: %q", rec.Body)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/cache status = %d, want 405", rec.Code)
	}
}

func TestHealthIncludesSource(t *testing.T) {
	cfg := config.Default()
	s := NewServer(cfg, NewRegistry(0), nil, nil,
		WithServerLogger(quietLogger()),
		WithSourceHealth(func() SourceHealthPayload {
			return SourceHealthPayload{Source: "host", Status: StatusDegraded, ConsecutiveFailures: 1}
		}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body struct {
		Status    string              `json:"status"`
		Observers int                 `json:"observers"`
		Source    SourceHealthPayload `json:"source"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Source.Status != StatusDegraded || body.Source.Source != "host" {
		t.Errorf("healthz = %+v", body)
	}
}

func TestServeAfterShutdownReturns(t *testing.T) {
	s := NewServer(config.Default(), NewRegistry(0), nil, nil, WithServerLogger(quietLogger()))
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Serve(l) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestServeAndShutdown(t *testing.T) {
	cfg := config.Default()
	registry := NewRegistry(0)
	s := NewServer(cfg, registry, newTestBroadcaster(registry), nil, WithServerLogger(quietLogger()))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Serve(l) }()

	url := "ws://" + l.Addr().String() + "/monitor"
	var conn *websocket.Conn
	waitFor(t, "listener", func() bool {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		return err == nil
	})
	defer conn.Close()
	readEnvelope(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve() = %v, want nil after shutdown", err)
	}
}
