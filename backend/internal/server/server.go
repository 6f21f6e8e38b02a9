package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/jacky-htg/webcall/backend/internal/metrics"
	"github.com/jacky-htg/webcall/backend/internal/tokenissuer"
	"github.com/jacky-htg/webcall/libs/interfaces"
	"github.com/jacky-htg/webcall/libs/store"
	"github.com/jacky-htg/webcall/libs/vendors/signaling"
	"github.com/rs/zerolog"
)

// Routes served by the backend.
const (
	TokenPath     = "/api/create-web-call"
	HealthPath    = "/health"
	MetricsPath   = "/metrics"
	SignalingPath = "/ws/call"
)

// Options configures the HTTP server.
type Options struct {
	Addr           string
	AllowedOrigins []string
	// Secret returns the provisioning credential; read per request.
	Secret func() string
	// MaxCallDuration bounds locally signaled calls.
	MaxCallDuration time.Duration
}

// Server wires the token endpoint and its supporting routes.
type Server struct {
	options     Options
	provisioner interfaces.Provisioner
	store       *store.Store
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	startTime   time.Time
	handler     http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a Server. st may be nil, which disables call history.
func New(options Options, p interfaces.Provisioner, st *store.Store, m *metrics.Metrics, logger zerolog.Logger) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("provisioner is required")
	}
	if options.Addr == "" {
		options.Addr = ":8080"
	}
	if len(options.AllowedOrigins) == 0 {
		options.AllowedOrigins = []string{"*"}
	}
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		options:     options,
		provisioner: p,
		store:       st,
		metrics:     m,
		logger:      logger.With().Str("component", "server").Logger(),
		startTime:   time.Now(),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	opts := []tokenissuer.Option{tokenissuer.WithMetrics(s.metrics)}
	var lookup tokenissuer.CallLookup
	if s.store != nil {
		opts = append(opts, tokenissuer.WithRecorder(s.store))
		lookup = s.store
	}
	mux.Handle(TokenPath, tokenissuer.New(s.provisioner, s.options.Secret, s.logger, opts...))
	mux.Handle(tokenissuer.CallsPattern, tokenissuer.NewCallsHandler(lookup, s.logger))
	mux.HandleFunc(HealthPath, s.handleHealth)
	mux.Handle(MetricsPath, s.metrics.Handler())

	// locally minted tokens are only usable against our own signaling endpoint
	if s.provisioner.Name() == "local" {
		mux.Handle(SignalingPath, signaling.NewHandler(s.options.Secret, s.options.MaxCallDuration, s.logger))
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.options.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", tokenissuer.RequestIDHeader}),
		handlers.ExposedHeaders([]string{tokenissuer.RequestIDHeader}),
	)(mux)
	// an OPTIONS request that is not a CORS preflight reaches the route and
	// gets its 405
	withCORS := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions && !isPreflight(r) {
			mux.ServeHTTP(w, r)
			return
		}
		cors.ServeHTTP(w, r)
	})
	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.logger}))
	return recovery(withCORS)
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.options.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.options.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("provisioner", s.provisioner.Name()).
		Bool("call_history", s.store != nil).
		Msg("Starting token server")

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Addr returns the bound address once Start is listening, or "".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info().Msg("Shutting down token server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown token server: %w", err)
	}
	s.logger.Info().Msg("Token server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status":      "ok",
		"uptime":      time.Since(s.startTime).Seconds(),
		"provisioner": s.provisioner.Name(),
		"timestamp":   time.Now().UnixMilli(),
	}
	if s.store != nil {
		if err := s.store.DB.PingContext(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("store ping failed")
			response["status"] = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// recoveryLogger routes panics caught by the recovery middleware to zerolog.
type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Msg(fmt.Sprint(v...))
}
