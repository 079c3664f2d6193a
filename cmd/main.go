package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"apex-guard/internal/config"
	"apex-guard/internal/logging"
)

func main() {
	envLoaded := config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		logging.Init(logging.Options{Production: config.IsProductionEnvironment()})
		logging.L().Fatal("invalid configuration", zap.Error(err))
	}

	logging.Init(logging.Options{
		Level:      cfg.LogLevel,
		Production: cfg.Environment == "production",
		LogFile:    cfg.LogFile,
	})
	defer logging.Sync()
	logger := logging.L()

	logger.Info("starting apex-guard",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.Bool("dotenv", envLoaded),
	)

	secrets, err := config.ValidateAndLogSecrets(logger)
	if err != nil {
		logger.Fatal("secrets validation failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, secrets, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	logger.Info("http server listening", zap.String("addr", httpServer.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		a.Close()
		logger.Fatal("http server failed", zap.Error(err))
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	// in-flight batches get the same window as other requests
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	cancel()
	a.Close()
	logger.Info("shutdown complete")
}
