// Package tokenissuer serves the endpoint browsers and agents call to open a
// web call. It holds the provisioning secret so callers never see it.
package tokenissuer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jacky-htg/webcall/backend/internal/metrics"
	"github.com/jacky-htg/webcall/libs/interfaces"
	"github.com/jacky-htg/webcall/libs/store"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the per-request id echoed in responses and logs.
const RequestIDHeader = "X-Request-ID"

const (
	msgMethodNotAllowed = "Method not allowed"
	msgMisconfigured    = "Server configuration error"
	msgAgentIDRequired  = "agent_id is required"
	msgCreateFailed     = "Failed to create web call"
	msgUnknownError     = "Unknown error"

	maxBodyBytes = 64 << 10
)

// CallRecorder persists issued calls. *store.Store satisfies it.
type CallRecorder interface {
	RecordCall(ctx context.Context, c store.Call) error
}

// Handler issues web call access tokens on POST.
type Handler struct {
	provisioner interfaces.Provisioner
	secret      func() string
	recorder    CallRecorder
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// Option customizes a Handler.
type Option func(*Handler)

// WithRecorder records every issued call. Recording failures never change the response.
func WithRecorder(r CallRecorder) Option {
	return func(h *Handler) { h.recorder = r }
}

// WithMetrics counts requests and provisioning latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// New creates a Handler. secret is consulted on every request.
func New(p interfaces.Provisioner, secret func() string, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		provisioner: p,
		secret:      secret,
		logger:      logger.With().Str("component", "tokenissuer").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	CallID      string `json:"call_id"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	w.Header().Set(RequestIDHeader, reqID)
	log := h.logger.With().Str("request_id", reqID).Logger()

	if r.Method != http.MethodPost {
		h.metrics.Request(metrics.OutcomeMethodNotAllowed)
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: msgMethodNotAllowed})
		return
	}

	apiKey := ""
	if h.secret != nil {
		apiKey = h.secret()
	}
	if apiKey == "" {
		log.Error().Msg("provisioning API key is not configured")
		h.metrics.Request(metrics.OutcomeMisconfigured)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgMisconfigured})
		return
	}

	var req interfaces.CreateWebCallRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Debug().Err(err).Msg("undecodable request body")
		req = interfaces.CreateWebCallRequest{}
	}
	if req.AgentID == "" {
		h.metrics.Request(metrics.OutcomeBadRequest)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgAgentIDRequired})
		return
	}

	start := time.Now()
	call, err := h.provisioner.CreateWebCall(r.Context(), apiKey, req)
	if err == nil && (call == nil || call.AccessToken == "") {
		err = errors.New("provisioner returned no access token")
	}
	h.metrics.Provisioned(h.provisioner.Name(), time.Since(start).Seconds(), err)
	if err != nil {
		log.Error().Err(err).Str("agent_id", req.AgentID).Str("provisioner", h.provisioner.Name()).Msg("creating web call")
		h.metrics.Request(metrics.OutcomeProvisioningFailed)
		msg := err.Error()
		if msg == "" {
			msg = msgUnknownError
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgCreateFailed, Message: msg})
		return
	}

	h.record(r.Context(), log, req.AgentID, call)
	h.metrics.Request(metrics.OutcomeIssued)
	log.Info().Str("agent_id", req.AgentID).Str("call_id", call.CallID).Msg("web call created")
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: call.AccessToken, CallID: call.CallID})
}

func (h *Handler) record(ctx context.Context, log zerolog.Logger, agentID string, call *interfaces.WebCall) {
	if h.recorder == nil || call.CallID == "" {
		return
	}
	err := h.recorder.RecordCall(ctx, store.Call{
		ID:          call.CallID,
		AgentID:     agentID,
		Provisioner: h.provisioner.Name(),
		CreatedAt:   time.Now(),
	})
	if err != nil {
		h.metrics.StoreFailed()
		log.Warn().Err(err).Str("call_id", call.CallID).Msg("recording call")
	}
}

func requestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" && len(id) <= 64 {
		return id
	}
	id, err := gonanoid.New()
	if err != nil {
		return "unknown"
	}
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
