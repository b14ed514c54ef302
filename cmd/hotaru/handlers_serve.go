package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/app"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/config"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/httpapi"
)

// runServe implements the serve command: load config, wire the App
// Context, bind the HTTP/SSE facade, and block until a shutdown
// signal arrives.
func runServe(cmd *cobra.Command, configPath, addr string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	log := slog.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Server.Hostname, cfg.Server.Port)
	}

	dataDir := filepath.Join(config.ConfigDir(), "data")
	appCtx, err := app.New(app.Options{Config: cfg, DataDir: dataDir, Logger: log})
	if err != nil {
		return fmt.Errorf("build app context: %w", err)
	}
	if err := appCtx.Startup(); err != nil {
		return fmt.Errorf("start app context: %w", err)
	}
	defer appCtx.Shutdown()

	server := httpapi.New(appCtx, log)
	if err := server.Start(addr); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	log.Info("hotaru server started", "addr", addr, "config", configPath)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	log.Info("shutdown signal received, stopping server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
