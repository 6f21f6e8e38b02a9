package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jacky-htg/webcall/agent/callsession"
	"github.com/jacky-htg/webcall/libs/config"
	"github.com/jacky-htg/webcall/libs/interfaces"
	"github.com/jacky-htg/webcall/libs/logger"
	"github.com/jacky-htg/webcall/libs/vendors/signaling"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:          "webcall-agent",
		Short:        "Client for web calls issued by the token server",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(newCallCmd(&logLevel))
	return root
}

type callFlags struct {
	agentID      string
	backend      string
	endpoint     string
	signalingURL string
	timeout      time.Duration
}

func newCallCmd(logLevel *string) *cobra.Command {
	var f callFlags
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Start a web call and wait until it ends",
		Long: `Requests an access token from the backend, opens the call on the
signaling runtime and blocks until the call ends, fails, or the process
receives SIGINT/SIGTERM, at which point the call is hung up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.agentID == "" {
				return errors.New("--agent-id is required")
			}
			if f.signalingURL == "" {
				f.signalingURL = config.LoadFromEnv().Vendor("local", "signaling_url")
			}

			logCfg := logger.DefaultConfig()
			logCfg.Level = *logLevel
			logCfg.Pretty = true
			log := logger.New(logCfg)
			defer log.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCall(ctx, f, log.Logger)
		},
	}
	cmd.Flags().StringVar(&f.agentID, "agent-id", "", "agent to call")
	cmd.Flags().StringVar(&f.backend, "backend", "http://localhost:8080", "backend base URL")
	cmd.Flags().StringVar(&f.endpoint, "endpoint", callsession.DefaultEndpoint, "token endpoint, relative to --backend or absolute")
	cmd.Flags().StringVar(&f.signalingURL, "signaling-url", "", "signaling websocket URL (default SIGNALING_URL)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 15*time.Second, "timeout for obtaining the token and connecting")
	return cmd
}

func runCall(ctx context.Context, f callFlags, log zerolog.Logger) error {
	session := callsession.New(callsession.Options{
		Runtime: func() (interfaces.RuntimeClient, error) {
			if f.signalingURL == "" {
				return nil, nil
			}
			return signaling.New(f.signalingURL, log), nil
		},
		BaseURL: f.backend,
		Logger:  log,
	})
	defer session.Close()

	done := make(chan error, 1)
	session.Subscribe(callsession.ListenerFuncs{
		OnStarted: func() { fmt.Println("call started") },
		OnEnded: func() {
			select {
			case done <- nil:
			default:
			}
		},
		OnError: func(err error) {
			select {
			case done <- err:
			default:
			}
		},
	})

	startCtx, cancel := context.WithTimeout(ctx, f.timeout)
	err := session.StartCall(startCtx, f.agentID, f.endpoint)
	cancel()
	if errors.Is(err, callsession.ErrSDKUnavailable) {
		return fmt.Errorf("%w: set --signaling-url or SIGNALING_URL", err)
	}
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("call failed: %w", err)
		}
		fmt.Println("call ended")
		return nil
	case <-ctx.Done():
		session.StopCall()
		fmt.Println("hung up")
		return nil
	}
}
