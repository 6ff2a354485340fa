package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/loqui-im/loqui/edge/internal/config"
	"github.com/loqui-im/loqui/edge/internal/gateway"
	"github.com/loqui-im/loqui/edge/internal/handler"
	"github.com/loqui-im/loqui/edge/internal/link"
	"github.com/loqui-im/loqui/edge/internal/logicapi"
	"github.com/loqui-im/loqui/edge/internal/session"
	"github.com/loqui-im/loqui/pkg/auth"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [config-file]",
		Short: "Start the edge node (default when no subcommand is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRun,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath := resolveConfigPath(cmd, args, "edge-config.json")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error: %w", err)
	}

	logger := newLogger(cfg.Logging)

	var provider auth.Provider
	if cfg.Auth.Mode != "none" {
		provider, err = auth.NewProvider(auth.Config{
			Mode:       cfg.Auth.Mode,
			JWTSecret:  cfg.Auth.JWTSecret,
			JWKSIssuer: cfg.Auth.JWKSIssuer,
		})
		if err != nil {
			return fmt.Errorf("auth provider: %w", err)
		}
	}

	logic := logicapi.NewClient(cfg.Logic.APIURL, cfg.Logic.ServiceToken)

	registry := session.NewRegistry(logger)
	groups := session.NewGroupIndex()
	registry.RegisterListener(session.NewAutoSubscriber(logic, groups, 0, logger))

	router := handler.NewRouter(registry, groups, logger)
	dispatcher := handler.NewDispatcher(
		handler.NewPushHandler(registry, groups, router, logger),
		handler.NewSubGroupHandler(registry, groups),
		handler.NewUnsubGroupHandler(registry, groups),
	)

	hostName, _ := os.Hostname()
	links := link.NewManager(cfg.Logic.LinkTargets, link.Options{
		Name:       cfg.Edge.Name,
		HostName:   hostName,
		BackoffMin: cfg.Logic.BackoffMin.Duration,
		BackoffMax: cfg.Logic.BackoffMax.Duration,
	}, dispatcher, logger)

	gw := gateway.NewGateway(registry, logic, provider, logger)

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Get("/ws", gw.HandleClientWS)
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	httpSrv := &http.Server{
		Addr:    cfg.Edge.Addr,
		Handler: mux,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	linkDone := make(chan struct{})
	go func() {
		defer close(linkDone)
		links.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("loqui edge node starting",
			"version", version, "name", cfg.Edge.Name, "addr", cfg.Edge.Addr, "link_targets", links.Targets())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		logger.Error("server error", "error", err)
		cancel()
		<-linkDone
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	<-linkDone

	logger.Info("edge node stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// resolveConfigPath returns the config file path from (in priority order):
// 1. Positional argument
// 2. --config / -c flag
// 3. Default value
func resolveConfigPath(cmd *cobra.Command, args []string, defaultPath string) string {
	if len(args) > 0 {
		return args[0]
	}
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if f := cmd.Root().PersistentFlags().Lookup("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	return defaultPath
}
