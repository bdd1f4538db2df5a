package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/surfacekit/uibridge/internal/bridge"
	"github.com/surfacekit/uibridge/internal/bus"
	"github.com/surfacekit/uibridge/internal/config"
	"github.com/surfacekit/uibridge/internal/state"
	"github.com/surfacekit/uibridge/internal/wire"
)

func newTestConfig() config.HostConfig {
	var cfg config.HostConfig
	cfg.SetDefaults()
	cfg.MetricsAddr = ":0" // keep /metrics off the test handler
	return cfg
}

func freshState(t *testing.T) {
	t.Helper()
	state.UseStore(state.NewMemoryStore())
	state.SetStatus("ready")
}

func createSession(t *testing.T, ts *httptest.Server, body, key string) createSessionResponse {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/session", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post session: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Token == "" || !strings.Contains(out.ConnectPath, out.Token) {
		t.Fatalf("bad response: %+v", out)
	}
	return out
}

func TestHealthzReportsStatus(t *testing.T) {
	freshState(t)
	ts := httptest.NewServer(New(newTestConfig(), NewSessions(), nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ready" {
		t.Fatalf("status = %q", body["status"])
	}
}

func TestStateSnapshot(t *testing.T) {
	freshState(t)
	state.SessionStarted()
	defer state.SessionEnded()
	ts := httptest.NewServer(New(newTestConfig(), NewSessions(), nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var st state.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Status != "ready" || st.ActiveSessions != 1 {
		t.Fatalf("snapshot = %+v", st)
	}
}

func TestCreateSessionGuestKey(t *testing.T) {
	freshState(t)
	cfg := newTestConfig()
	cfg.GuestKey = "sekrit"
	ts := httptest.NewServer(New(cfg, NewSessions(), nil))
	defer ts.Close()

	body := `{"resource":{"uri":"ui://t/panel","mimeType":"text/html","text":"<p/>"}}`
	resp, err := http.Post(ts.URL+"/api/session", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without key = %d", resp.StatusCode)
	}

	createSession(t, ts, body, "sekrit")
}

func TestCreateSessionValidatesBody(t *testing.T) {
	freshState(t)
	ts := httptest.NewServer(New(newTestConfig(), NewSessions(), nil))
	defer ts.Close()

	for _, body := range []string{
		`{}`,
		`{"uri":"https://not-a-ui-uri"}`,
		`{"resource":{"uri":"ui://x","mimeType":"text/html"}}`,
		`not json`,
	} {
		resp, err := http.Post(ts.URL+"/api/session", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q status = %d", body, resp.StatusCode)
		}
	}
}

func TestCreateSessionRefusedWhileDraining(t *testing.T) {
	freshState(t)
	state.StartDrain()
	ts := httptest.NewServer(New(newTestConfig(), NewSessions(), nil))
	defer ts.Close()

	body := `{"uri":"ui://t/panel"}`
	resp, err := http.Post(ts.URL+"/api/session", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestConnectUnknownToken(t *testing.T) {
	freshState(t)
	ts := httptest.NewServer(New(newTestConfig(), NewSessions(), nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/session/nope/connect")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestConnectTokenSingleUse(t *testing.T) {
	freshState(t)
	sessions := NewSessions()
	ts := httptest.NewServer(New(newTestConfig(), sessions, nil))
	defer ts.Close()

	created := createSession(t, ts, `{"uri":"ui://t/panel"}`, "")
	if _, ok := sessions.Claim(created.Token); !ok {
		t.Fatal("first claim should succeed")
	}
	resp, err := http.Get(ts.URL + created.ConnectPath)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second use status = %d", resp.StatusCode)
	}
}

func TestGuestConnectAndCall(t *testing.T) {
	freshState(t)
	sessions := NewSessions()
	ts := httptest.NewServer(New(newTestConfig(), sessions, nil))
	defer ts.Close()

	body := `{"resource":{"uri":"ui://t/panel","mimeType":"text/html","text":"<p>hi</p>"}}`
	created := createSession(t, ts, body, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + created.ConnectPath
	ep, err := bus.DialWebsocket(ctx, wsURL, created.Token, "guest-1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	guest := bridge.NewGuest(ep, nil)
	defer guest.Close()

	// No catalog and no fallback configured, so any request resolves to a
	// method-not-found rejection from the host router.
	_, err = guest.Call(ctx, "custom/anything", nil)
	var be *bridge.Error
	if !errors.As(err, &be) || be.Kind != bridge.KindMethodNotFound {
		t.Fatalf("expected method-not-found, got %v", err)
	}
	if be.Code != wire.CodeMethodNotFound {
		t.Fatalf("code = %d", be.Code)
	}

	waitFor(t, func() bool { return sessions.Len() == 1 })

	guest.Close()
	waitFor(t, func() bool { return sessions.Len() == 0 })
}

func TestTeardownAllDetachesGuests(t *testing.T) {
	freshState(t)
	sessions := NewSessions()
	ts := httptest.NewServer(New(newTestConfig(), sessions, nil))
	defer ts.Close()

	created := createSession(t, ts, `{"resource":{"uri":"ui://t/panel","mimeType":"text/html","text":"<p/>"}}`, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + created.ConnectPath
	ep, err := bus.DialWebsocket(ctx, wsURL, created.Token, "guest-1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	sawTeardown := make(chan struct{}, 1)
	guest := bridge.NewGuest(ep, func(method string, _ json.RawMessage) {
		if method == wire.NotifyTeardown {
			sawTeardown <- struct{}{}
		}
	})
	defer guest.Close()

	waitFor(t, func() bool { return sessions.Len() == 1 })
	sessions.TeardownAll(context.Background())

	select {
	case <-sawTeardown:
	case <-time.After(2 * time.Second):
		t.Fatal("guest never saw the teardown notification")
	}
	if sessions.Len() != 0 {
		t.Fatalf("sessions still tracked: %d", sessions.Len())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}
