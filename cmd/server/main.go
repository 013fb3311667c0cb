/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the salary advance engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (.env, environment, flags)
  2. Build the zap logger
  3. Open the store (SQLite or PostgreSQL)
  4. Build gateway: Simulated -> circuit Breaker
  5. Build Orchestrator and Reconciler
  6. Run one reconciliation pass for advances left pending by a crash
  7. Start the reconciliation scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_PORT)
  -db      SQLite database path (overrides SQLITE_PATH)
           Use ":memory:" for an in-memory database

ENVIRONMENT:
  See config/config.go. A .env file in the working directory is loaded first.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reconciliation scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the database

EXAMPLES:
  ./server -db=":memory:"
  STORE_DRIVER=postgres DATABASE_URL=postgres://localhost/advances ./server

SEE ALSO:
  - api/server.go: Router configuration
  - advance/orchestrator.go: ProcessAdvance
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

	"github.com/warp/advance-engine/advance"
	"github.com/warp/advance-engine/advance/store"
	"github.com/warp/advance-engine/api"
	"github.com/warp/advance-engine/config"
	"github.com/warp/advance-engine/gateway"
	"github.com/warp/advance-engine/store/postgres"
	"github.com/warp/advance-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	port := flag.Int("port", cfg.HTTPPort, "HTTP server port")
	dbPath := flag.String("db", cfg.SQLitePath, "SQLite database path")
	flag.Parse()
	cfg.HTTPPort = *port
	cfg.SQLitePath = *dbPath

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	backend, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	fees := advance.FeeSchedule{CommissionRate: cfg.CommissionRate, TaxRate: cfg.TaxRate}
	if err := fees.Validate(); err != nil {
		return fmt.Errorf("fee schedule: %w", err)
	}
	clock := advance.SystemClock{Location: cfg.Location}

	simulated := gateway.NewSimulated(
		gateway.WithLatency(cfg.GatewayLatency),
		gateway.WithPrefix(cfg.GatewayPrefix),
		gateway.WithLogger(logger.Named("gateway")),
	)
	breakerCfg := gateway.DefaultBreakerConfig()
	breakerCfg.ConsecutiveFailures = cfg.BreakerMaxFailures
	breakerCfg.Timeout = cfg.BreakerOpenTimeout
	gw := gateway.NewBreaker(simulated, breakerCfg, logger.Named("breaker"))

	orch := advance.NewOrchestrator(backend, backend, gw,
		advance.WithClock(clock),
		advance.WithFeeSchedule(fees),
		advance.WithGatewayTimeout(cfg.GatewayTimeout),
		advance.WithLogger(logger.Named("advance")),
	)
	reconciler := advance.NewReconciler(backend, gw,
		advance.WithReconcilerClock(clock),
		advance.WithGracePeriod(cfg.ReconcileGrace),
		advance.WithReconcilerLogger(logger.Named("reconciler")),
	)

	// Advances left pending by a previous process are resolved before serving.
	if report, err := reconciler.Reconcile(ctx); err != nil {
		logger.Warn("startup reconciliation failed", zap.Error(err))
	} else if report.Checked > 0 {
		logger.Info("startup reconciliation",
			zap.Int("finalized", report.Finalized),
			zap.Int("discarded", report.Discarded),
			zap.Int("unresolved", report.Unresolved),
		)
	}

	scheduler := api.NewReconciliationScheduler(reconciler, cfg.ReconcileInterval, logger.Named("scheduler"))
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(backend, orch, reconciler, clock, logger.Named("http"))
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg.GatewayTimeout),
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.HTTPPort),
			zap.String("store", cfg.StoreDriver),
			zap.String("timezone", cfg.Location.String()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// writeTimeout leaves room for the slowest advance request to finish
// recording its transfer before the response is cut off.
func writeTimeout(gatewayTimeout time.Duration) time.Duration {
	return advance.MaxProcessingTime(gatewayTimeout) + 5*time.Second
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Backend, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := postgres.NewStore(ctx, cfg.DatabaseURL, logger.Named("postgres"))
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		lite, err := sqlite.New(cfg.SQLitePath, sqlite.WithLogger(logger.Named("sqlite")))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return lite, func() {
			if err := lite.Close(); err != nil {
				logger.Warn("failed to close database", zap.Error(err))
			}
		}, nil
	}
}
