/*
main.go - Application entry point

PURPOSE:
  Starts the retail ledger HTTP server: loads configuration, builds the
  logger, the store and the engine, and serves the API until interrupted.

STARTUP SEQUENCE:
  1. Load configuration (defaults, config.yaml, .env, RETAIL_* env)
  2. Build the zap logger
  3. Open the store (memory or SQLite)
  4. Build the currency converter and the engine; a store holding data
     booked in another base currency refuses to start
  5. Start the expiry watch and the HTTP server

COMMAND-LINE FLAGS:
  -config  Path to a config file (default: search for config.yaml)
  -port    Overrides server.port
  -db      Overrides storage.sqlite_path; ":memory:" keeps SQLite in RAM

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the expiry watch
  4. Close the database connection

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/retail-ledger/api"
	"github.com/warp/retail-ledger/config"
	"github.com/warp/retail-ledger/core"
	corestore "github.com/warp/retail-ledger/core/store"
	"github.com/warp/retail-ledger/logger"
	"github.com/warp/retail-ledger/shop"
	"github.com/warp/retail-ledger/store/sqlite"
)

func main() {
	configFile := flag.String("config", "", "Config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Storage.Driver = "sqlite"
		cfg.Storage.SQLitePath = *dbPath
	}

	log, err := cfg.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Errorw("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Configuration, log *logger.Logger) error {
	store, closeStore, err := openStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	fx, err := cfg.Currencies(log)
	if err != nil {
		return fmt.Errorf("currencies: %w", err)
	}

	engine, err := shop.Open(context.Background(), store, fx, log)
	if err != nil {
		return fmt.Errorf("open shop: %w", err)
	}
	handler := api.NewHandler(engine, log)
	router := api.NewRouter(handler, log, api.RouterOptions{AllowedOrigins: cfg.Server.AllowedOrigins})

	handler.Expiry.Start()
	defer handler.Expiry.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infow("server starting",
			"addr", server.Addr,
			"storage", cfg.Storage.Driver,
			"base_currency", fx.Base(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case sig := <-quit:
		log.Infow("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Infow("server stopped")
	return nil
}

func openStore(cfg config.StorageConfig) (core.TxStore, func(), error) {
	switch cfg.Driver {
	case "memory":
		return corestore.NewMemory(), func() {}, nil
	default:
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	}
}
