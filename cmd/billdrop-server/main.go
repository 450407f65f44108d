package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Threadigit/BillDrop/internal/adapters/httpapi"
	"github.com/Threadigit/BillDrop/internal/adapters/ingest"
	"github.com/Threadigit/BillDrop/internal/candidate"
	"github.com/Threadigit/BillDrop/internal/config"
	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/Threadigit/BillDrop/internal/di"
	"github.com/Threadigit/BillDrop/internal/extraction"
	"github.com/Threadigit/BillDrop/internal/factory"
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
	cfg *config.Config,
	logger *zap.Logger,
	api *httpapi.Server,
	smtpIngest *ingest.Server,
	filterFactory *factory.FilterFactory,
	filter *candidate.Filter,
	engine *extraction.Engine,
	st factory.Store,
	llmClient core.LLMClient,
	cacheRepo core.CacheRepository,
) error {
	defer logger.Sync()

	serverCfg, err := cfg.GetServer()
	if err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reload pattern tables on change
	filterFactory.WatchPatterns(ctx, filter, engine)

	// Start the forwarding inbox
	if cfg.GetIngest().Enabled {
		if err := smtpIngest.Start(); err != nil {
			return fmt.Errorf("failed to start SMTP ingest: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := api.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Shutting down...")
	case err := <-errCh:
		logger.Error("HTTP server failed", zap.Error(err))
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer stop()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	if cfg.GetIngest().Enabled {
		if err := smtpIngest.Stop(); err != nil {
			logger.Error("Failed to stop SMTP ingest", zap.Error(err))
		}
	}

	// Close any resources that need closing
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close LLM client", zap.Error(err))
		}
	}

	// Stop the cache if needed
	if stopper, ok := cacheRepo.(interface{ Stop() }); ok {
		stopper.Stop()
	}

	if err := st.Close(); err != nil {
		logger.Error("Failed to close store", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}
