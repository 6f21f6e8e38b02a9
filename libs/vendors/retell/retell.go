package retell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jacky-htg/webcall/libs/interfaces"
)

const (
	DefaultBaseURL = "https://api.retellai.com"
	createWebCall  = "/v2/create-web-call"
)

// retellProvisioner calls the hosted create-web-call API.
type retellProvisioner struct {
	baseURL string
	client  *http.Client
}

// New returns a provisioner for the public API with a 30s timeout.
func New() interfaces.Provisioner {
	return NewWithEndpoint(DefaultBaseURL, 30*time.Second)
}

// NewWithEndpoint allows overriding the API base URL and client timeout.
func NewWithEndpoint(baseURL string, timeout time.Duration) interfaces.Provisioner {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &retellProvisioner{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *retellProvisioner) Name() string { return "retell" }

type webCallResponse struct {
	CallID      string `json:"call_id"`
	AgentID     string `json:"agent_id"`
	AccessToken string `json:"access_token"`
	CallStatus  string `json:"call_status"`
}

func (p *retellProvisioner) CreateWebCall(ctx context.Context, apiKey string, in interfaces.CreateWebCallRequest) (*interfaces.WebCall, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("retell api key required")
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal create web call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+createWebCall, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post to retell: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("retell returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out webCallResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode retell response: %w", err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("retell response has no access_token")
	}

	agentID := out.AgentID
	if agentID == "" {
		agentID = in.AgentID
	}
	return &interfaces.WebCall{AccessToken: out.AccessToken, CallID: out.CallID, AgentID: agentID}, nil
}
