package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jacky-htg/webcall/backend/internal/factory"
	"github.com/jacky-htg/webcall/backend/internal/metrics"
	"github.com/jacky-htg/webcall/backend/internal/server"
	"github.com/jacky-htg/webcall/libs/config"
	"github.com/jacky-htg/webcall/libs/logger"
	"github.com/jacky-htg/webcall/libs/store"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr     string
		logLevel string
	)
	cmd := &cobra.Command{
		Use:   "webcall-server",
		Short: "Web call token server",
		Long: `Serves POST /api/create-web-call, which creates a web call with the
configured provisioner and returns its access token and call id.
Configuration is read from the environment and an optional .env file.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadFromEnv()
			if cmd.Flags().Changed("addr") {
				cfg.HTTPAddr = addr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address (overrides HTTP_ADDR)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error; overrides LOG_LEVEL)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.File = cfg.Logging.File
	logCfg.Pretty = cfg.Logging.Pretty
	log := logger.New(logCfg)
	defer log.Close()

	if cfg.APIKey() == "" {
		log.Warn().Str("env", config.APIKeyEnv).Msg("provisioning API key is not set; token requests will fail")
	}

	p, err := factory.NewProvisioner(cfg)
	if err != nil {
		log.Error().Err(err).Msg("creating provisioner")
		return err
	}

	var st *store.Store
	if cfg.DatabasePath != "" {
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
		}
		st, err = store.Open(cfg.DatabasePath)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.DatabasePath).Msg("opening call store")
			return fmt.Errorf("open db: %w", err)
		}
		defer st.Close()
	}

	ttl, err := factory.LocalTokenTTL(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Addr:            cfg.HTTPAddr,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		Secret:          cfg.APIKey,
		MaxCallDuration: ttl,
	}, p, st, metrics.New(), log.Logger)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("token server failed")
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
		return err
	}
	return <-errCh
}
