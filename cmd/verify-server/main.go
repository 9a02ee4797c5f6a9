package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/app"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/config"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/db"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: config.local.yaml or config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("verify-server failed: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Log, cfg.Server.Mode)
	logger.WithField("version", cfg.Version).Info("Starting verify-server")

	database, err := db.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	if err := db.Migrate(database, logger); err != nil {
		return err
	}

	container, err := app.NewServiceContainer(cfg, logger, database, nil, nil)
	if err != nil {
		return err
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container.StartBackground(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           container.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-serveErr
}
