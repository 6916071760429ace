/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the attendance engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML file, .env, ATTENDANCE_* env)
  2. Apply command-line flag overrides
  3. Build the zap logger
  4. Open the SQLite store and apply the optional seed
  5. Pick the day locker (Redis when configured, in-process otherwise)
  6. Build punch service, scheduler and HTTP handler
  7. Start the scheduler and the server, then wait for a signal

COMMAND-LINE FLAGS:
  -config  YAML configuration file (optional)
  -env     .env file merged into the environment (default: .env, optional)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for in-memory database
  -seed    Organization seed file, or "demo" for the built-in one

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler and wait for a running pass to finish
  2. Stop accepting new connections
  3. Wait for active requests (server.shutdown_timeout)
  4. Close Redis and database connections

EXAMPLES:
  # Local run with demo data
  ./server -db=":memory:" -seed=demo

  # Multi-replica deployment
  ATTENDANCE_REDIS_ADDR=redis:6379 ./server -config=/etc/attendance.yaml

SEE ALSO:
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
  - scheduler/scheduler.go: Periodic passes
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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/config"
	"github.com/warp/attendance-engine/factory"
	"github.com/warp/attendance-engine/logging"
	"github.com/warp/attendance-engine/metrics"
	"github.com/warp/attendance-engine/punch"
	"github.com/warp/attendance-engine/scheduler"
	"github.com/warp/attendance-engine/store/redislock"
	"github.com/warp/attendance-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "attendance server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	envPath := flag.String("env", ".env", "dotenv file merged into the environment")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	seedPath := flag.String("seed", "", `organization seed file, or "demo"`)
	flag.Parse()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	if *seedPath != "" {
		if err := applySeed(context.Background(), store, *seedPath); err != nil {
			return err
		}
		logger.Info("seed applied", zap.String("seed", *seedPath))
	}

	checks := map[string]api.Pinger{"database": store}

	var locker attendance.Locker = attendance.NewKeyedMutex()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		rl := redislock.New(client, redislock.Options{TTL: cfg.Redis.LockTTL, Logger: logger})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rl.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		locker = rl
		checks["redis"] = rl
		logger.Info("using redis day locks", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Warn("using in-process day locks; run a single replica")
	}

	m := metrics.New()

	punches := punch.NewService(store, punch.Options{
		Locker:              locker,
		Logger:              logger,
		Metrics:             m,
		RequireActivePolicy: cfg.Attendance.RequireActivePolicy,
		MaxPastSkew:         cfg.MaxPastSkew(),
	})

	sched := scheduler.New(store, scheduler.Options{
		Locker:      locker,
		Logger:      logger,
		Metrics:     m,
		Spec:        cfg.Scheduler.Spec,
		Parallelism: cfg.Scheduler.Parallelism,
	})
	if cfg.Scheduler.Enabled {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	handler := api.NewHandler(punches, api.HandlerOptions{
		Scheduler: sched,
		Checks:    checks,
		Logger:    logger,
	})
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        m.Handler(),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("db", cfg.Database.Path),
			zap.Bool("scheduler", cfg.Scheduler.Enabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	if cfg.Scheduler.Enabled {
		sched.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func applySeed(ctx context.Context, w factory.SeedWriter, path string) error {
	f := factory.New()
	var (
		seed factory.Seed
		err  error
	)
	if path == "demo" {
		seed, err = f.Demo()
	} else {
		seed, err = f.ParseFile(path)
	}
	if err != nil {
		return err
	}
	return f.Apply(ctx, w, seed)
}
