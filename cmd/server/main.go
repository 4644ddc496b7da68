// Package main runs the sale and vesting engine as an HTTP service:
// - Sale: purchases priced on the bonding curve become ledger allocations
// - Distribution: claimable queries and claims against the vesting schedule
// - Feed: committed claims streamed over websocket and stored for analytics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"sale-vesting-engine/internal/allocation"
	"sale-vesting-engine/internal/feed"
	"sale-vesting-engine/internal/ledger"
	"sale-vesting-engine/internal/observability"
	"sale-vesting-engine/internal/storage"
	chstore "sale-vesting-engine/internal/storage/clickhouse"
	"sale-vesting-engine/internal/storage/memory"
	"sale-vesting-engine/internal/storage/migrations"
	pgstore "sale-vesting-engine/internal/storage/postgres"
)

// allStores holds all storage implementations.
type allStores struct {
	backend     string
	ledger      storage.LedgerStore
	investments storage.InvestmentStore
	pools       storage.PoolStore
	claims      storage.ClaimEventStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	addr := flag.String("addr", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", envBool("USE_MEMORY"), "Use in-memory storage instead of PostgreSQL/ClickHouse")
	startTime := flag.Int64("start-time", envInt64("DISTRIBUTION_START"), "Distribution start (Unix seconds)")
	adminToken := flag.String("admin-token", os.Getenv("ADMIN_TOKEN"), "Bearer token for allocation and purchase endpoints")
	namespace := flag.String("metrics-namespace", envOr("METRICS_NAMESPACE", "sale_vesting"), "Prometheus metrics namespace")
	checkAddresses := flag.Bool("check-addresses", !envBool("SKIP_ADDRESS_CHECK"), "Require investor ids to be ed25519 base58 addresses")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}
	if *startTime <= 0 {
		logger.Fatal("--start-time is required")
	}
	if *adminToken == "" {
		logger.Println("No --admin-token set, allocation and purchase endpoints are disabled")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	metrics := observability.NewMetrics(*namespace)

	hub := feed.NewHub(feed.Options{
		OnSubscribers: func(n int) { metrics.FeedSubscribers.Set(float64(n)) },
		OnDrop:        func() { metrics.FeedMessagesDropped.Inc() },
	})

	ldg := ledger.New(ledger.Options{
		Store:     observability.InstrumentLedgerStore(stores.ledger, metrics, stores.backend),
		StartTime: *startTime,
		OnClaim:   claimRecorder(stores.claims, hub, metrics, logger),
	})

	sales := allocation.New(allocation.Options{
		Ledger:      ldg,
		Investments: stores.investments,
		Pools:       observability.InstrumentPoolStore(stores.pools, metrics, stores.backend),
		Logger:      log.New(os.Stdout, "[allocation] ", log.LstdFlags|log.Lshortfile),
		OnPurchase:  metrics.RecordPurchase,
	})

	server := NewServer(ServerOptions{
		Ledger:         ldg,
		Sales:          sales,
		Claims:         stores.claims,
		Feed:           hub,
		Metrics:        metrics,
		AdminToken:     *adminToken,
		CheckAddresses: *checkAddresses,
		Backend:        stores.backend,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Starting HTTP server on %s (storage: %s, start: %d)", *addr, stores.backend, *startTime)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("HTTP server error: %v", err)
		}
	}

	// Feed subscribers hold hijacked connections that Shutdown does not close.
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Graceful shutdown failed: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates all required stores and runs migrations on the databases.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			backend:     "memory",
			ledger:      memory.NewLedgerStore(),
			investments: memory.NewInvestmentStore(),
			pools:       memory.NewPoolStore(),
			claims:      memory.NewClaimEventStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	// ClickHouse
	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &allStores{
		backend: "postgres",

		// PostgreSQL stores (balances and sale records)
		ledger:      pgstore.NewLedgerStore(pool),
		investments: pgstore.NewInvestmentStore(pool),
		pools:       pgstore.NewPoolStore(pool),

		// ClickHouse stores (analytics)
		claims: chstore.NewClaimEventStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, strings.TrimSpace(value))
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func envInt64(key string) int64 {
	v, _ := strconv.ParseInt(os.Getenv(key), 10, 64)
	return v
}
