/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the flow-balance ledger server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Build the batch engine and API handler
  4. Start the sync scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port           HTTP server port (default: 8080)
  -db             SQLite database path (default: flowbalance.db)
                  Use ":memory:" for an in-memory database
  -sync-interval  Scheduler tick interval (default: 1h)
  -lookahead      Days of pre-generation past today (default: 7)
  -dev            Development logger (human-readable output)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for an in-flight run)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/flowbalance.db"

  # Run with a 15 minute scheduler and 30 days of pre-generation
  ./server -sync-interval=15m -lookahead=30

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Periodic batch runs
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jomonylw/flow-balance/api"
	"github.com/jomonylw/flow-balance/batch"
	"github.com/jomonylw/flow-balance/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "flowbalance.db", "SQLite database path")
	syncInterval := flag.Duration("sync-interval", 1*time.Hour, "scheduler tick interval")
	lookAhead := flag.Int("lookahead", 7, "days of pre-generation past today")
	dev := flag.Bool("dev", false, "development logger")
	flag.Parse()

	// Logger
	logger, err := newLogger(*dev)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Batch engine
	engine := batch.NewEngine(store, logger)
	engine.LookAheadDays = *lookAhead

	// Handler and scheduler. No currency converter is wired here; aggregate
	// requests report conversion errors for non-base buckets.
	handler := api.NewHandler(store, engine, nil, logger)

	scheduler := api.NewSyncScheduler(engine, store, logger)
	scheduler.Interval = *syncInterval
	handler.Scheduler = scheduler
	scheduler.Start()
	defer scheduler.Stop()

	// Server
	router := api.NewRouter(handler)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", *port),
			zap.String("db", *dbPath),
			zap.Duration("syncInterval", *syncInterval),
			zap.Int("lookAheadDays", *lookAhead))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
