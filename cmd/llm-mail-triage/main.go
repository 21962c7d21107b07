package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/di"
	"go.uber.org/zap"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	triage *core.TriageService,
	store core.TriageStore,
	backend core.ClassifierBackend,
	triageCfg config.TriageConfig,
) error {
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Shutting down...")
		cancel()
	}()

	logger.Info("Starting triage loop",
		zap.Duration("cycle_interval", triageCfg.CycleInterval))

	runCycle(ctx, triage, logger)

	ticker := time.NewTicker(triageCfg.CycleInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			runCycle(ctx, triage, logger)
		}
	}

	// Close any resources that need closing
	if closer, ok := backend.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close classifier backend", zap.Error(err))
		}
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
	}

	logger.Info("Shutdown complete")
	return nil
}

func runCycle(ctx context.Context, triage *core.TriageService, logger *zap.Logger) {
	stats, err := triage.RunCycle(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("Triage cycle failed", zap.Error(err))
		return
	}
	logger.Info("Triage cycle complete",
		zap.Int("fetched", stats.Fetched),
		zap.Int("new", stats.New),
		zap.Int("auto_ruled", stats.AutoRuled),
		zap.Int("inherited", stats.Inherited),
		zap.Int("classified", stats.Classified),
		zap.Int("failed", stats.Failed),
		zap.Int("queued", stats.Queued),
		zap.Int("expired", stats.Expired))
}
