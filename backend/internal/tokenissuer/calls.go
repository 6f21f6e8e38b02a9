package tokenissuer

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jacky-htg/webcall/libs/store"
	"github.com/rs/zerolog"
)

// CallsPattern is the mux pattern CallsHandler expects.
const CallsPattern = "/api/calls/{call_id}"

// CallLookup reads recorded calls. *store.Store satisfies it.
type CallLookup interface {
	GetCall(ctx context.Context, callID string) (*store.Call, error)
}

// CallsHandler serves GET /api/calls/{call_id}.
type CallsHandler struct {
	lookup CallLookup
	logger zerolog.Logger
}

// NewCallsHandler creates a CallsHandler. A nil lookup answers 503.
func NewCallsHandler(lookup CallLookup, logger zerolog.Logger) *CallsHandler {
	return &CallsHandler{
		lookup: lookup,
		logger: logger.With().Str("component", "calls").Logger(),
	}
}

func (h *CallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: msgMethodNotAllowed})
		return
	}
	if h.lookup == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Call history is not enabled"})
		return
	}

	callID := r.PathValue("call_id")
	if callID == "" {
		callID = strings.TrimPrefix(r.URL.Path, "/api/calls/")
	}
	if callID == "" || strings.Contains(callID, "/") {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Call not found"})
		return
	}

	call, err := h.lookup.GetCall(r.Context(), callID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Call not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("call_id", callID).Msg("looking up call")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to look up call"})
		return
	}
	writeJSON(w, http.StatusOK, call)
}
