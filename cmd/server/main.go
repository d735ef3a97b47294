/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the expense ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment, apply command-line flags
  2. Open the document store (SQL or in-memory)
  3. Optionally run the schema v1 -> v2 migration
  4. Build translator, notifications, ledger and metrics
  5. Start the outbox recovery scheduler
  6. Serve HTTP/1.1 and cleartext HTTP/2 until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -port     HTTP server port (PORT)
  -db       store driver: sqlite3 | sqlite | postgres | memory (DB_DRIVER)
  -dsn      data source name (DB_DSN); ":memory:" for a throwaway SQLite
  -env      .env file to read (default: .env)
  -migrate  run the document migration before serving

EXAMPLES:
  # Development: header auth, in-memory store
  ./server -db=memory

  # Postgres with JWT
  JWT_SECRET=... ./server -db=postgres -dsn="postgres://localhost/ledger?sslmode=disable"

SEE ALSO:
  - config/config.go:  environment keys
  - api/server.go:     router configuration
  - store/sqlstore:    SQL document store
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/warp/expense-ledger/api"
	"github.com/warp/expense-ledger/config"
	"github.com/warp/expense-ledger/docstore"
	"github.com/warp/expense-ledger/docstore/memory"
	"github.com/warp/expense-ledger/i18n"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/notify"
	"github.com/warp/expense-ledger/pkg/logging"
	"github.com/warp/expense-ledger/store/sqlstore"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	envFile := flag.String("env", ".env", ".env file to load")
	port := flag.Int("port", 0, "HTTP server port (overrides PORT)")
	driver := flag.String("db", "", "store driver (overrides DB_DRIVER)")
	dsn := flag.String("dsn", "", "data source name (overrides DB_DSN)")
	migrate := flag.Bool("migrate", false, "migrate stored documents before serving")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *driver != "" {
		cfg.DBDriver = *driver
	}
	if *dsn != "" {
		cfg.DBDSN = *dsn
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := logging.SetupWithLevel(logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if *migrate {
		report, err := ledger.NewMigrator(store, logger).Run(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("documents migrated",
			"payments", report.PaymentsMigrated,
			"expenses", report.ExpensesStamped,
			"groups", report.GroupsStamped)
	}

	// Services
	translator, err := i18n.New(i18n.Match(cfg.Language), i18n.NewMapCache())
	if err != nil {
		return fmt.Errorf("translator: %w", err)
	}
	notifications := notify.NewService(store, translator, notify.WithLogger(logger))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := ledger.NewService(store, notifications,
		ledger.WithLogger(logger),
		ledger.WithMetrics(ledger.NewMetrics(reg)),
		ledger.WithMaxAttempts(cfg.MaxCommitAttempts),
		ledger.WithOutboxMaxAttempts(cfg.OutboxMaxAttempts),
	)

	scheduler := api.NewOutboxScheduler(svc, logger)
	scheduler.Interval = cfg.OutboxSweepInterval
	scheduler.Grace = cfg.OutboxGrace
	scheduler.Start()
	defer scheduler.Stop()

	auth := api.NewAuthenticator(cfg.JWTSecret, 24*time.Hour)
	if auth.DevMode() {
		logger.Warn("JWT_SECRET not set, trusting the " + api.UserHeader + " header")
	}

	router := api.NewRouter(api.NewHandler(svc, notifications, logger), api.RouterOptions{
		Auth:        auth,
		Metrics:     api.NewHTTPMetrics(reg),
		Gatherer:    reg,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	// No WriteTimeout: the unread stream is long-lived. Shutdown cancels the
	// base context so open streams end instead of holding the drain.
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h2c.NewHandler(router, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelRequests)

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", server.Addr,
			"driver", cfg.DBDriver,
			"language", translator.Language())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(cfg config.Config, logger *slog.Logger) (docstore.Store, error) {
	if cfg.DBDriver == "memory" {
		return memory.New(memory.WithLogger(logger)), nil
	}
	return sqlstore.Open(cfg.DBDriver, cfg.DBDSN, sqlstore.WithLogger(logger))
}
