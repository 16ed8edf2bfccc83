package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/foundryhub/internal/config"
	"github.com/Tyrowin/foundryhub/internal/hub"
)

type testEnv struct {
	srv *Server
	ts  *httptest.Server
	cfg *config.Config
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.AI.Delay = 0
	cfg.AI.Timeout = 2 * time.Second
	return cfg
}

// newTestEnv starts a Server behind an httptest.Server whose own URL is an
// allowed origin. customize may adjust the configuration and dependencies
// before the server is built.
func newTestEnv(t *testing.T, customize func(cfg *config.Config, deps *Deps)) *testEnv {
	t.Helper()

	cfg := testConfig()
	deps := Deps{Logger: discardLogger(), System: fakeProbe{}}
	if customize != nil {
		customize(cfg, &deps)
	}

	srv := New(cfg, deps)
	ts := httptest.NewServer(srv.Handler())
	srv.origins.Update(append([]string{ts.URL}, cfg.AllowedOrigins...))

	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return &testEnv{srv: srv, ts: ts, cfg: cfg}
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + path
}

func newOriginHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

// dial connects to the WebSocket endpoint and consumes the welcome message.
func (e *testEnv) dial(t *testing.T) (*websocket.Conn, hub.Notification) {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(e.wsURL("/ws/websocket"), newOriginHeader(e.ts.URL))
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	welcome := readNotification(t, conn)
	require.Equal(t, hub.TypeWelcome, welcome.Type)
	return conn, welcome
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func readNotification(t *testing.T, conn *websocket.Conn) hub.Notification {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var n hub.Notification
	require.NoError(t, json.Unmarshal(raw, &n), "payload: %s", raw)
	return n
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no message, received %s", raw)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of message: %v", err)
}

func (e *testEnv) get(t *testing.T, path string, header http.Header) *http.Response {
	t.Helper()
	return e.do(t, http.MethodGet, path, "", header)
}

func (e *testEnv) do(t *testing.T, method, path, body string, header http.Header) *http.Response {
	t.Helper()

	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, r)
	require.NoError(t, err)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

type fakeProbe struct {
	snap SystemSnapshot
	err  error
}

func (f fakeProbe) Snapshot(context.Context) (SystemSnapshot, error) {
	return f.snap, f.err
}
