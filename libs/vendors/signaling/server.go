package signaling

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jacky-htg/webcall/libs/calltoken"
	"github.com/jacky-htg/webcall/libs/interfaces"
	"github.com/rs/zerolog"
)

// Handler is a minimal signaling endpoint for locally provisioned calls. It
// authorizes the socket with a calltoken, announces call_started, and keeps
// the call up until the client hangs up or the max duration passes.
type Handler struct {
	secret      func() string
	maxDuration time.Duration
	logger      zerolog.Logger
	upgrader    websocket.Upgrader
}

// NewHandler builds a Handler. secret is read per connection so it follows
// credential rotation; maxDuration <= 0 means one hour.
func NewHandler(secret func() string, maxDuration time.Duration, logger zerolog.Logger) *Handler {
	if maxDuration <= 0 {
		maxDuration = time.Hour
	}
	return &Handler{
		secret:      secret,
		maxDuration: maxDuration,
		logger:      logger.With().Str("component", "signaling").Logger(),
		upgrader: websocket.Upgrader{
			// browsers connect cross-origin; the access token is the authorization
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	secret := ""
	if h.secret != nil {
		secret = h.secret()
	}
	if secret == "" {
		http.Error(w, "signaling not configured", http.StatusServiceUnavailable)
		return
	}

	claims, err := calltoken.Parse(secret, r.URL.Query().Get("access_token"))
	if err != nil {
		h.logger.Warn().Err(err).Msg("rejected signaling connection")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		return
	}
	defer conn.Close()

	log := h.logger.With().Str("call_id", claims.CallID).Str("agent_id", claims.AgentID).Logger()
	log.Info().Msg("call started")
	if err := conn.WriteJSON(Frame{Event: string(interfaces.RuntimeCallStarted)}); err != nil {
		log.Error().Err(err).Msg("write call_started")
		return
	}

	limit := h.maxDuration
	if exp := claims.ExpiresAt; exp != nil && time.Until(exp.Time) < limit {
		// a call never outlives its token
		limit = time.Until(exp.Time)
	}

	hangup := make(chan struct{})
	go func() {
		defer close(hangup)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-hangup:
		log.Info().Msg("caller hung up")
	case <-timer.C:
		log.Info().Dur("max_duration", limit).Msg("call reached max duration")
		_ = conn.WriteJSON(Frame{Event: string(interfaces.RuntimeCallEnded)})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"),
			time.Now().Add(time.Second))
	}
}
