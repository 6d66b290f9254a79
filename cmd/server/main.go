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

	"go.uber.org/zap"

	"xox/internal/config"
	"xox/internal/engine"
	"xox/internal/game"
	"xox/internal/jobs"
	"xox/internal/logging"
	"xox/internal/server"
	"xox/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, foundEnv, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Development())
	if err != nil {
		return err
	}
	defer logger.Sync()
	if !foundEnv {
		logger.Info("no .env file found, reading environment variables directly")
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	variants := game.DefaultRegistry()
	eng := engine.New(engine.Options{
		Users:         store,
		Variants:      variants,
		Logger:        logger,
		FallbackDelay: cfg.FallbackDelay,
		AIMoveDelay:   cfg.AIMoveDelay,
		StoreTimeout:  cfg.StoreTimeout,
		Randomness:    cfg.AIRandomness,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine", zap.Error(err))
		}
	}()

	cron, err := jobs.New(store, eng, logger, cfg.StoreTimeout, cfg.SessionIdle)
	if err != nil {
		return err
	}
	cron.Start()
	defer cron.Stop()

	srv := server.New(store, eng, variants, logger, server.Options{
		DBPath:             cfg.DBPath,
		Env:                cfg.Env,
		DeployMarker:       cfg.DeployMarker,
		NFTSupply:          cfg.NFTSupply,
		SubscriptionPeriod: cfg.SubscriptionPeriod(),
		AllowedOrigins:     cfg.AllowedOrigins,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           logging.RequestLogger(logger, srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr()), zap.String("db", cfg.DBPath), zap.String("env", cfg.Env))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			stop()
			<-engineDone
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	<-engineDone
	return nil
}
