// Package callsession drives a single web call from the client side: it
// fetches an access token from the token endpoint, starts the call on the
// vendor runtime client, and reports the call's lifecycle to listeners.
//
// A Session tracks at most one call. StartCall fails with
// ErrCallAlreadyActive while a call is active or still being set up.
package callsession

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jacky-htg/webcall/libs/interfaces"
	"github.com/rs/zerolog"
)

// DefaultEndpoint is the token endpoint path served by the backend.
const DefaultEndpoint = "/api/create-web-call"

const defaultTokenError = "Failed to create web call"

// RuntimeProvider returns the vendor runtime client, or nil when the vendor
// SDK is not available in this environment.
type RuntimeProvider func() (interfaces.RuntimeClient, error)

// Options configures a Session.
type Options struct {
	Runtime RuntimeProvider
	// BaseURL resolves relative endpoints, e.g. "http://localhost:8080".
	BaseURL string
	// Endpoint is used when StartCall/RequestToken get an empty endpoint.
	Endpoint   string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

type state int

const (
	stateIdle state = iota
	stateStarting
	stateActive
)

// Session owns the runtime client handle and the call state.
type Session struct {
	provider RuntimeProvider
	baseURL  string
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
	events   emitter

	mu       sync.Mutex
	runtime  interfaces.RuntimeClient
	state    state
	abortErr error
}

// New creates an idle Session.
func New(opts Options) *Session {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Session{
		provider: opts.Runtime,
		baseURL:  opts.BaseURL,
		endpoint: endpoint,
		client:   client,
		logger:   opts.Logger.With().Str("component", "callsession").Logger(),
	}
}

// Initialize obtains and caches the runtime client handle. It reports false,
// without error, when the runtime is unavailable; a later call checks again.
// Once a handle is cached it is reused without asking the provider.
func (s *Session) Initialize() bool {
	s.mu.Lock()
	if s.runtime != nil {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	if s.provider == nil {
		s.logger.Warn().Msg("no call runtime configured")
		return false
	}
	rt, err := s.provider()
	if err != nil {
		s.logger.Error().Err(err).Msg("loading call runtime")
		return false
	}
	if rt == nil {
		s.logger.Warn().Msg("call runtime not available")
		return false
	}

	s.mu.Lock()
	if s.runtime != nil {
		s.mu.Unlock()
		return true
	}
	s.runtime = rt
	s.mu.Unlock()

	// one registration per handle
	rt.On(interfaces.RuntimeCallStarted, func(error) { s.handleRuntime(EventCallStarted, nil) })
	rt.On(interfaces.RuntimeCallEnded, func(error) { s.handleRuntime(EventCallEnded, nil) })
	rt.On(interfaces.RuntimeError, func(err error) { s.handleRuntime(EventCallError, err) })
	return true
}

// RequestToken asks the token endpoint for an access token for agentID.
// Only the token is returned; the call id stays with the server.
func (s *Session) RequestToken(ctx context.Context, agentID, endpoint string) (string, error) {
	target, err := s.resolve(endpoint)
	if err != nil {
		s.logger.Error().Err(err).Msg("creating web call")
		return "", err
	}

	b, err := json.Marshal(interfaces.CreateWebCallRequest{AgentID: agentID})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Str("endpoint", target).Msg("creating web call")
		return "", fmt.Errorf("post token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		s.logger.Error().Err(err).Msg("reading token response")
		return "", fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		msg := defaultTokenError
		if json.Unmarshal(body, &errBody) == nil && errBody.Error != "" {
			msg = errBody.Error
		}
		terr := &TokenRequestError{Status: resp.StatusCode, Message: msg}
		s.logger.Error().Err(terr).Str("agent_id", agentID).Msg("creating web call")
		return "", terr
	}

	var out interfaces.WebCall
	if err := json.Unmarshal(body, &out); err != nil {
		s.logger.Error().Err(err).Msg("decoding token response")
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if out.AccessToken == "" {
		err := errors.New("token response has no access_token")
		s.logger.Error().Err(err).Msg("decoding token response")
		return "", err
	}
	return out.AccessToken, nil
}

// StartCall requests a token for agentID and starts a call with it.
func (s *Session) StartCall(ctx context.Context, agentID, endpoint string) error {
	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		s.logger.Error().Err(ErrCallAlreadyActive).Str("agent_id", agentID).Msg("starting web call")
		return ErrCallAlreadyActive
	}
	s.state = stateStarting
	s.abortErr = nil
	s.mu.Unlock()

	rt, err := s.start(ctx, agentID, endpoint)

	s.mu.Lock()
	aborted := err == nil && s.abortErr != nil
	if aborted {
		err = fmt.Errorf("%w: %w", ErrCallAborted, s.abortErr)
	}
	if err != nil {
		s.state = stateIdle
	} else {
		s.state = stateActive
	}
	s.abortErr = nil
	s.mu.Unlock()

	if aborted {
		if serr := rt.StopCall(); serr != nil {
			s.logger.Error().Err(serr).Msg("stopping aborted call")
		}
	}
	if err != nil {
		s.logger.Error().Err(err).Str("agent_id", agentID).Msg("starting web call")
		return err
	}
	s.logger.Info().Str("agent_id", agentID).Msg("web call started")
	return nil
}

func (s *Session) start(ctx context.Context, agentID, endpoint string) (interfaces.RuntimeClient, error) {
	if !s.Initialize() {
		return nil, ErrSDKUnavailable
	}
	token, err := s.RequestToken(ctx, agentID, endpoint)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	rt := s.runtime
	s.mu.Unlock()

	if err := rt.StartCall(ctx, token); err != nil {
		return nil, fmt.Errorf("start call: %w", err)
	}
	return rt, nil
}

// StopCall hangs up the active call. Runtime failures are logged, never
// returned; the session is idle afterwards. Without an active call it does
// nothing.
func (s *Session) StopCall() {
	s.mu.Lock()
	rt := s.runtime
	if rt == nil || s.state != stateActive {
		s.mu.Unlock()
		return
	}
	s.state = stateIdle
	s.mu.Unlock()

	if err := rt.StopCall(); err != nil {
		s.logger.Error().Err(err).Msg("stopping call")
	}
}

// Active reports whether a call is in progress.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateActive
}

// Subscribe registers l for lifecycle events and returns a function that
// removes it. Events are delivered synchronously on the runtime's goroutine.
func (s *Session) Subscribe(l Listener) (unsubscribe func()) {
	return s.events.subscribe(l)
}

// Close stops any active call and drops all listeners.
func (s *Session) Close() {
	s.StopCall()
	s.events.clear()
}

func (s *Session) handleRuntime(typ EventType, err error) {
	if typ == EventCallError && err == nil {
		err = errors.New("unknown call error")
	}

	s.mu.Lock()
	prev := s.state
	if typ != EventCallStarted {
		switch s.state {
		case stateActive:
			s.state = stateIdle
		case stateStarting:
			if s.abortErr == nil {
				s.abortErr = err
				if s.abortErr == nil {
					s.abortErr = errors.New("call ended")
				}
			}
		}
	}
	s.mu.Unlock()

	switch typ {
	case EventCallStarted:
		s.logger.Info().Msg("call started")
	case EventCallEnded:
		s.logger.Info().Msg("call ended")
	case EventCallError:
		s.logger.Error().Err(err).Msg("call error")
	}
	if prev == stateIdle && typ != EventCallStarted {
		s.logger.Debug().Str("event", string(typ)).Msg("runtime event without active call")
	}

	s.events.emit(Event{Type: typ, Err: err, At: time.Now()})
}

func (s *Session) resolve(endpoint string) (string, error) {
	if endpoint == "" {
		endpoint = s.endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if s.baseURL == "" {
		return "", fmt.Errorf("relative endpoint %q needs a base URL", endpoint)
	}
	base, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	return base.ResolveReference(u).String(), nil
}
