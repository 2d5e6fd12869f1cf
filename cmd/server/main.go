/*
main.go - Application entry point

PURPOSE:

	Initializes and starts the HOA dues payment engine server.
	Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
 1. Parse command-line flags, load YAML config
 2. Initialize SQLite store, register metrics
 3. Apply the seed file, if any
 4. Create payments service and API handler
 5. Start the penalty refresh scheduler
 6. Start server with graceful shutdown

COMMAND-LINE FLAGS:

	-config  YAML config file (default: $DUES_CONFIG)
	-port    HTTP server port, overrides config (default: 8080)
	-db      SQLite database path, overrides config (default: dues.db)
	         Use ":memory:" for in-memory database
	-seed    YAML seed file with billing configs, bills, and credit
	-demo    Mount /api/scenarios (loading a scenario resets the database)

GRACEFUL SHUTDOWN:

	On SIGINT/SIGTERM:
	1. Stop the scheduler
	2. Stop accepting new connections
	3. Wait for active requests to complete (30s timeout)
	4. Close database connection

EXAMPLES:

	# Run with file database
	./server -db="./data/dues.db"

	# Run with in-memory database and demo data
	./server -db=":memory:" -seed=./seed.yaml

SEE ALSO:
  - cmd/server/config.go: Config file and environment
  - api/server.go: Router configuration
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

	"github.com/warp/dues-engine/api"
	"github.com/warp/dues-engine/factory"
	"github.com/warp/dues-engine/metrics"
	"github.com/warp/dues-engine/payments"
	"github.com/warp/dues-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	seedPath := flag.String("seed", "", "YAML seed file")
	demo := flag.Bool("demo", false, "Enable demo scenario endpoints (they reset the database)")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *seedPath != "" {
		cfg.SeedFile = *seedPath
	}
	if *demo {
		cfg.Demo = true
	}
	interval, _ := cfg.RefreshInterval()

	logger := log.Default()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	metrics.Init(store.DB(), logger)

	if cfg.SeedFile != "" {
		seed, err := factory.LoadSeed(cfg.SeedFile)
		if err != nil {
			log.Fatalf("Failed to load seed: %v", err)
		}
		if err := seed.Apply(context.Background(), store); err != nil {
			log.Fatalf("Failed to apply seed: %v", err)
		}
		log.Printf("[Server] Seeded %d config(s), %d bill(s)", len(seed.Configs), len(seed.Bills))
	}

	svc := payments.NewService(store, logger)
	handler := api.NewHandler(svc)
	if cfg.Demo {
		handler.Demo = store
	}
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.AllowedOrigins})

	scheduler := api.NewPenaltyScheduler(svc, cfg.RefreshTargets())
	scheduler.CheckInterval = interval
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("[Server] Starting on http://localhost:%d", cfg.Port)
		log.Printf("[Server] API at http://localhost:%d/api, metrics at /metrics", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Server] Shutting down...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("[Server] Stopped")
}
