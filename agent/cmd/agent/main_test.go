package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jacky-htg/webcall/agent/callsession"
	"github.com/jacky-htg/webcall/libs/interfaces"
	"github.com/jacky-htg/webcall/libs/vendors/local"
	"github.com/jacky-htg/webcall/libs/vendors/signaling"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "key_agent_test"

// newBackend serves a token endpoint backed by the local provisioner and the
// matching signaling endpoint, which ends every call after maxDuration.
func newBackend(t *testing.T, maxDuration time.Duration) *httptest.Server {
	t.Helper()
	p := local.New(time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc(callsession.DefaultEndpoint, func(w http.ResponseWriter, r *http.Request) {
		var req interfaces.CreateWebCallRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		call, err := p.CreateWebCall(r.Context(), testSecret, req)
		if !assert.NoError(t, err) {
			http.Error(w, "provisioning failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(call)
	})
	mux.Handle("/ws/call", signaling.NewHandler(func() string { return testSecret }, maxDuration, zerolog.Nop()))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunCallUntilEnded(t *testing.T) {
	backend := newBackend(t, 200*time.Millisecond)

	err := runCall(context.Background(), callFlags{
		agentID:      "a1",
		backend:      backend.URL,
		endpoint:     callsession.DefaultEndpoint,
		signalingURL: backend.URL + "/ws/call",
		timeout:      5 * time.Second,
	}, zerolog.Nop())
	assert.NoError(t, err)
}

func TestRunCallHangsUpOnCancel(t *testing.T) {
	backend := newBackend(t, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	err := runCall(ctx, callFlags{
		agentID:      "a1",
		backend:      backend.URL,
		endpoint:     callsession.DefaultEndpoint,
		signalingURL: backend.URL + "/ws/call",
		timeout:      5 * time.Second,
	}, zerolog.Nop())
	assert.NoError(t, err)
}

func TestRunCallWithoutSignaling(t *testing.T) {
	backend := newBackend(t, time.Hour)

	err := runCall(context.Background(), callFlags{
		agentID: "a1",
		backend: backend.URL,
		timeout: time.Second,
	}, zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, callsession.ErrSDKUnavailable)
}

func TestSessionRestartsAfterStop(t *testing.T) {
	backend := newBackend(t, time.Hour)
	session := callsession.New(callsession.Options{
		Runtime: func() (interfaces.RuntimeClient, error) {
			return signaling.New(backend.URL+"/ws/call", zerolog.Nop()), nil
		},
		BaseURL: backend.URL,
		Logger:  zerolog.Nop(),
	})
	defer session.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, session.StartCall(context.Background(), "a1", ""), "round %d", i)
		assert.True(t, session.Active(), "round %d", i)
		session.StopCall()
		assert.False(t, session.Active(), "round %d", i)
	}
}

func TestCallCommandRequiresAgentID(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"call"})
	root.SetOut(&discard{})
	root.SetErr(&discard{})
	assert.ErrorContains(t, root.Execute(), "--agent-id is required")
}

type discard struct{}

func (*discard) Write(p []byte) (int, error) { return len(p), nil }
