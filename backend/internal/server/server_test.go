package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jacky-htg/webcall/libs/interfaces"
	"github.com/jacky-htg/webcall/libs/store"
	"github.com/jacky-htg/webcall/libs/vendors/local"
	"github.com/jacky-htg/webcall/libs/vendors/signaling"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvisioner struct{}

func (stubProvisioner) Name() string { return "stub" }

func (stubProvisioner) CreateWebCall(_ context.Context, _ string, req interfaces.CreateWebCallRequest) (*interfaces.WebCall, error) {
	return &interfaces.WebCall{AccessToken: "tok123", CallID: "c1", AgentID: req.AgentID}, nil
}

func secret(s string) func() string { return func() string { return s } }

func createTestServer(t *testing.T, p interfaces.Provisioner, st *store.Store) *Server {
	t.Helper()
	s, err := New(Options{Secret: secret("key_test")}, p, st, nil, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestNewServerDefaults(t *testing.T) {
	s := createTestServer(t, stubProvisioner{}, nil)
	assert.Equal(t, ":8080", s.options.Addr)
	assert.Equal(t, []string{"*"}, s.options.AllowedOrigins)
	assert.NotNil(t, s.metrics)

	_, err := New(Options{}, nil, nil, nil, zerolog.Nop())
	assert.ErrorContains(t, err, "provisioner is required")
}

func TestTokenRoute(t *testing.T) {
	ts := httptest.NewServer(createTestServer(t, stubProvisioner{}, nil).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+TokenPath, "application/json", strings.NewReader(`{"agent_id":"a1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, map[string]string{"access_token": "tok123", "call_id": "c1"}, out)
}

func TestCallHistoryRoute(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "calls.db"))
	require.NoError(t, err)
	defer st.Close()

	ts := httptest.NewServer(createTestServer(t, stubProvisioner{}, st).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+TokenPath, "application/json", strings.NewReader(`{"agent_id":"a1"}`))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/calls/c1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var call store.Call
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&call))
	assert.Equal(t, "a1", call.AgentID)
	assert.Equal(t, "stub", call.Provisioner)
}

func TestCallHistoryDisabled(t *testing.T) {
	ts := httptest.NewServer(createTestServer(t, stubProvisioner{}, nil).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/calls/c1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	s := createTestServer(t, stubProvisioner{}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "stub", body["provisioner"])

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, HealthPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	s := createTestServer(t, stubProvisioner{}, nil)
	h := s.Handler()

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, TokenPath, nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `webcall_token_requests_total{outcome="method_not_allowed"} 1`)
}

func TestCORS(t *testing.T) {
	s := createTestServer(t, stubProvisioner{}, nil)

	req := httptest.NewRequest(http.MethodPost, TokenPath, strings.NewReader(`{"agent_id":"a1"}`))
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	s := createTestServer(t, stubProvisioner{}, nil)

	req := httptest.NewRequest(http.MethodOptions, TokenPath, nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestBareOptionsIsMethodNotAllowed(t *testing.T) {
	s := createTestServer(t, stubProvisioner{}, nil)

	tests := []struct {
		name   string
		origin string
	}{
		{"no cors headers", ""},
		{"origin without request method", "https://app.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, TokenPath, nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSignalingRouteOnlyForLocalVendor(t *testing.T) {
	rec := httptest.NewRecorder()
	createTestServer(t, stubProvisioner{}, nil).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, SignalingPath, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	createTestServer(t, local.New(0), nil).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, SignalingPath, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLocalCallEndToEnd(t *testing.T) {
	ts := httptest.NewServer(createTestServer(t, local.New(time.Minute), nil).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+TokenPath, "application/json", strings.NewReader(`{"agent_id":"a1"}`))
	require.NoError(t, err)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.NotEmpty(t, out["access_token"])

	wsURL := fmt.Sprintf("ws%s%s?access_token=%s", strings.TrimPrefix(ts.URL, "http"), SignalingPath, out["access_token"])
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var f signaling.Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, string(interfaces.RuntimeCallStarted), f.Event)
}

func TestStartStop(t *testing.T) {
	s, err := New(Options{Addr: "127.0.0.1:0", Secret: secret("k")}, stubProvisioner{}, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + HealthPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.NoError(t, <-errCh)
}
