// Package local provisions web calls without a hosted API: the access token
// is a JWT signed with the configured secret, so any signaling server that
// shares the secret can authorize the call.
package local

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jacky-htg/webcall/libs/calltoken"
	"github.com/jacky-htg/webcall/libs/interfaces"
)

type localProvisioner struct {
	ttl time.Duration
}

// New returns a provisioner whose tokens live for ttl (default 15m).
func New(ttl time.Duration) interfaces.Provisioner {
	return &localProvisioner{ttl: ttl}
}

func (p *localProvisioner) Name() string { return "local" }

func (p *localProvisioner) CreateWebCall(ctx context.Context, apiKey string, req interfaces.CreateWebCallRequest) (*interfaces.WebCall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	callID := uuid.NewString()
	token, err := calltoken.Generate(apiKey, req.AgentID, callID, p.ttl)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}
	return &interfaces.WebCall{AccessToken: token, CallID: callID, AgentID: req.AgentID}, nil
}
