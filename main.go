package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftpad/driftpad/internal/api"
	"github.com/driftpad/driftpad/internal/auth"
	"github.com/driftpad/driftpad/internal/bridge"
	"github.com/driftpad/driftpad/internal/collab"
	"github.com/driftpad/driftpad/internal/config"
	"github.com/driftpad/driftpad/internal/gateway"
	"github.com/driftpad/driftpad/internal/logging"
	"github.com/driftpad/driftpad/internal/metrics"
	"github.com/driftpad/driftpad/internal/presence"
	"github.com/driftpad/driftpad/internal/storage"
	"github.com/driftpad/driftpad/internal/ws"
)

// Version is set via ldflags during build.
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "driftpad",
	Short:   "Driftpad - collaborative document session manager",
	Version: Version,
}

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collaboration server",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg := config.Default()

		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}

			cfg = loaded
		}

		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg config.Config) error {
	logging.Init(logging.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	metrics.Register()

	log := logging.WithComponent("main")

	store, audit, closeStore, err := openStorage(cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	// Token issuance lives elsewhere; the server only validates. The
	// in-memory authenticator is the development stand-in for that
	// external collaborator.
	authn := auth.NewMemoryAuthenticator()
	authz := auth.NewMemoryAuthorizer()

	br := bridge.New(bridge.Config{
		Store:          store,
		Audit:          audit,
		HydrateTimeout: cfg.Session.HydrateTimeout,
		FlushTimeout:   cfg.Session.FlushTimeout,
	})

	manager := collab.NewManager(collab.ManagerConfig{
		EvictionGrace: cfg.Session.EvictionGrace,
		OnEvict:       br.FlushOnEvict(),
	})

	hub := ws.NewHub()
	tracker := presence.NewTracker()

	gw := gateway.New(gateway.Config{
		Authenticator: authn,
		Authorizer:    authz,
		Store:         store,
		Manager:       manager,
		Bridge:        br,
		Hub:           hub,
		Presence:      tracker,
		IdleTimeout:   cfg.Session.ConnIdleTimeout,
	})

	server := api.NewServer(api.ServerConfig{
		Gateway:       gw,
		Manager:       manager,
		Store:         store,
		Audit:         audit,
		Authenticator: authn,
		Authorizer:    authz,
	})

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go br.RunIdleFlusher(ctx, manager, cfg.Session.IdleFlush)

	go func() {
		log.Info().Str("addr", cfg.Listen).Msg("starting server")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server listen failed")
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	// Final flush for every live session
	manager.CloseAll()

	return nil
}

// openStorage constructs the configured durable store and audit sink.
func openStorage(cfg config.StorageConfig) (storage.Store, storage.AuditSink, func(), error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := storage.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, nil, err
		}

		return s, s, func() { _ = s.Close() }, nil
	default:
		s := storage.NewMemoryStore()

		return s, s, func() {}, nil
	}
}
