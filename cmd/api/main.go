package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gstflow/artifact"
	"gstflow/bulkjob"
	"gstflow/db"
	"gstflow/document"
	"gstflow/health"
	"gstflow/order"
	"gstflow/session"
	"gstflow/tax"
	"gstflow/webhook"
)

const sweepInterval = time.Hour

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := configFromEnv()
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.databaseURL)
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	sessions := session.NewService(session.NewRepository(pool), cfg.appSecret, cfg.sealKey)
	artifacts := artifact.NewService(artifact.NewRepository(pool), logger)
	provider := newRESTProvider()

	jobCfg := bulkjob.DefaultConfig(cfg.sellerState)
	jobs := bulkjob.NewService(bulkjob.NewRepository(pool), provider, artifacts,
		document.NewGofpdfBackend(), jobCfg, logger)

	monitor := health.NewMonitor()
	dispatcher := webhook.NewDispatcher(monitor, logger)
	orderOpts := order.Options{SellerState: cfg.sellerState, Tax: tax.DefaultConfig()}
	webhook.NewHandlers(sessions, jobs, artifacts, orderOpts, logger).RegisterAll(dispatcher)

	artifacts.StartSweeper(ctx, sweepInterval)

	server := &Server{
		sessions:   sessions,
		jobs:       jobs,
		artifacts:  artifacts,
		orders:     provider,
		validator:  webhook.NewValidator(cfg.webhookSecret),
		dispatcher: dispatcher,
		monitor:    monitor,
		orderOpts:  orderOpts,
		logger:     logger,
	}

	httpServer := &http.Server{
		Addr:         cfg.listenAddr,
		Handler:      server.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.listenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}

	// Let in-flight bulk jobs record their terminal state.
	jobs.Wait()
	logger.Info("api stopped")
	return nil
}

type config struct {
	databaseURL   string
	appSecret     string
	webhookSecret string
	sealKey       [32]byte
	sellerState   string
	listenAddr    string
}

func configFromEnv() (config, error) {
	cfg := config{
		databaseURL:   os.Getenv("DATABASE_URL"),
		appSecret:     os.Getenv("APP_SECRET"),
		webhookSecret: os.Getenv("WEBHOOK_SECRET"),
		sellerState:   os.Getenv("SELLER_STATE"),
		listenAddr:    os.Getenv("LISTEN_ADDR"),
	}
	if cfg.databaseURL == "" {
		return config{}, errors.New("DATABASE_URL is required")
	}
	if cfg.appSecret == "" {
		return config{}, errors.New("APP_SECRET is required")
	}
	if cfg.webhookSecret == "" {
		return config{}, errors.New("WEBHOOK_SECRET is required")
	}
	if cfg.sellerState == "" {
		cfg.sellerState = "KA"
	}
	if cfg.listenAddr == "" {
		cfg.listenAddr = ":8080"
	}

	keyHex := os.Getenv("SESSION_KEY")
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != 32 {
		return config{}, errors.New("SESSION_KEY must be 64 hex characters")
	}
	copy(cfg.sealKey[:], key)

	return cfg, nil
}
