package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/certifychain/server/internal/app"
	"github.com/certifychain/server/internal/config"
	"github.com/certifychain/server/internal/db"
	"github.com/certifychain/server/internal/http/handlers"
	"github.com/certifychain/server/internal/log"
)

var logger = log.Logger("main")

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "certifychain",
		Short:        "Academic credential issuance and verification server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP API (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Applies database migrations and exits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context())
		},
	})
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := log.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}

func migrate(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		return err
	}
	if cfg.StorageBackend != config.BackendPostgres {
		logger.Info("File backend has no migrations")
		return nil
	}
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Error("Failed to open database")
		return err
	}
	defer database.Close()
	if err := db.Migrate(database); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		return err
	}
	logger.Info("Migrations applied")
	return nil
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		return err
	}

	st, database, err := app.OpenStore(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to open store")
		return err
	}
	var ping handlers.Pinger
	if database != nil {
		ping = database
	}
	a := app.New(cfg, st, ping)
	defer func() {
		if err := a.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close store")
		}
	}()

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.WithError(err).Error("Server failed")
		return err
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		return err
	}

	logger.Info("Server exited")
	return nil
}
