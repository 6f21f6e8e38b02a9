package interfaces

import "context"

// CreateWebCallRequest is what the provisioner needs to open a web call.
type CreateWebCallRequest struct {
	AgentID string `json:"agent_id"`
}

// WebCall is the credential a provisioner hands back for one call.
type WebCall struct {
	AccessToken string `json:"access_token"`
	CallID      string `json:"call_id"`
	AgentID     string `json:"agent_id,omitempty"`
}

// Provisioner creates web calls against a call-provisioning backend.
// Implementations should be swappable.
type Provisioner interface {
	// Name identifies the vendor, e.g. "retell".
	Name() string
	// CreateWebCall authorizes with apiKey and returns a fresh access credential.
	CreateWebCall(ctx context.Context, apiKey string, req CreateWebCallRequest) (*WebCall, error)
}

// RuntimeEvent names a lifecycle notification emitted by a RuntimeClient.
type RuntimeEvent string

const (
	RuntimeCallStarted RuntimeEvent = "call_started"
	RuntimeCallEnded   RuntimeEvent = "call_ended"
	RuntimeError       RuntimeEvent = "error"
)

// RuntimeClient is the vendor component that performs the real-time call.
type RuntimeClient interface {
	// StartCall begins a call authorized by accessToken.
	StartCall(ctx context.Context, accessToken string) error
	// StopCall hangs up the current call.
	StopCall() error
	// On registers handler for event. err is non-nil only for RuntimeError.
	On(event RuntimeEvent, handler func(err error))
}
