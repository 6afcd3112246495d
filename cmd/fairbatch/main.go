package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Aidin1998/fairbatch/internal/batch"
	"github.com/Aidin1998/fairbatch/internal/config"
	"github.com/Aidin1998/fairbatch/internal/engine"
	"github.com/Aidin1998/fairbatch/internal/events"
	"github.com/Aidin1998/fairbatch/internal/kv"
	"github.com/Aidin1998/fairbatch/internal/validation"
	"github.com/Aidin1998/fairbatch/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.New(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()
	sugar := zapLogger.Sugar()

	cfg, err := config.Load()
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		zapLogger.Fatal("Invalid configuration", zap.Error(err))
	}

	store := kv.NewRedisStore(cfg.Redis)
	defer store.Close()

	sink := events.NewKafkaSink(cfg.Kafka, sugar)
	defer sink.Close()

	ledger := validation.NewHTTPLedgerClient(cfg.Ledger)

	engCfg := engine.Config{
		MinRevealDelay:    cfg.Intake.MinRevealDelay,
		MaxRevealDelay:    cfg.Intake.MaxRevealDelay,
		CommitmentTTL:     cfg.Intake.CommitmentTTL,
		MinOrderValue:     cfg.Intake.MinOrderValue,
		MaxPriceImpactBps: cfg.Intake.MaxPriceImpactBps,
		ResultBuffer:      64,
		RateLimit:         cfg.RateLimit,
		Scheduler:         cfg.Scheduler,
		Detection:         cfg.Detection,
		Validation:        cfg.Validation,
	}
	eng := engine.New(engCfg, store, ledger, sink, batch.NewRealClock(), sugar)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start engine", zap.Error(err))
	}

	// Drain execution results; downstream settlement consumes these in a
	// full deployment.
	go func() {
		for result := range eng.Results() {
			sugar.Infow("window committed",
				"window_id", result.WindowID,
				"trades", len(result.Trades),
				"blocked", result.Blocked,
				"root", result.Root.Hex())
		}
	}()

	metricsServer := &http.Server{
		Addr:    cfg.Server.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		sugar.Infow("metrics listener started", "addr", cfg.Server.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Errorw("metrics listener failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Infow("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("metrics listener shutdown failed", "error", err)
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		sugar.Warnw("engine shutdown failed", "error", err)
	}
	sugar.Infow("shutdown complete")
}
