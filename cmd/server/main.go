/*
main.go - Application entry point

PURPOSE:
  Starts the snapSolPay ledger server: one engine for pools, one for
  collateral accounts, both persisted to the same blob store.

STARTUP SEQUENCE:
  1. Load configuration (flags over environment, see config package)
  2. Open the blob store (sqlite, postgres or memory)
  3. Open the pool and collateral engines (collateral migrates the legacy
     solSNAP_* layout on first start)
  4. Start the flush retry scheduler
  5. Serve HTTP with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and flush any pending snapshot one last time
  4. Close the blob store

EXAMPLES:
  # Run with file database
  ./server -db="./data/snapsolpay.db"

  # Run against PostgreSQL
  DATABASE_URL=postgres://... ./server -store=postgres

  # Run without persistence
  ./server -store=memory -log-level=debug

SEE ALSO:
  - config/config.go: Flags and environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snapsolpay/ledger-engine/api"
	"github.com/snapsolpay/ledger-engine/collateral"
	"github.com/snapsolpay/ledger-engine/config"
	"github.com/snapsolpay/ledger-engine/ledger"
	"github.com/snapsolpay/ledger-engine/pool"
	"github.com/snapsolpay/ledger-engine/store/memory"
	"github.com/snapsolpay/ledger-engine/store/postgres"
	"github.com/snapsolpay/ledger-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger := cfg.Logger()

	ctx := context.Background()

	// Initialize blob store
	blobs, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize %s store: %v", cfg.Store, err)
	}
	defer closeStore()

	metrics := api.NewMetrics()

	// Open ledgers
	poolEngine, poolPersister, err := pool.Open(ctx, blobs, logger, ledger.WithObserver(metrics))
	if err != nil {
		logger.Fatalf("Failed to open pool ledger: %v", err)
	}
	collEngine, collPersister, err := collateral.Open(ctx, blobs, logger, ledger.WithObserver(metrics))
	if err != nil {
		logger.Fatalf("Failed to open collateral ledger: %v", err)
	}

	handler := api.NewHandler(
		api.Ledger{Engine: poolEngine, Persister: poolPersister},
		api.Ledger{Engine: collEngine, Persister: collPersister},
	)

	scheduler := api.NewFlushScheduler(handler.Ledgers(), logger, metrics)
	if err := scheduler.Start(cfg.FlushRetry); err != nil {
		logger.Fatalf("Failed to start flush scheduler: %v", err)
	}

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSOrigins,
		Logger:         logger,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{"port": cfg.Port, "store": cfg.Store}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}

	scheduler.Stop()
	if n := scheduler.FlushAll(shutdownCtx); n > 0 {
		logger.WithField("ledgers", n).Error("exiting with unsaved ledger state")
	}

	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (ledger.BlobStore, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StoreMemory:
		return memory.New(), func() {}, nil
	default:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}
