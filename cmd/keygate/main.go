// Package main is the entry point for the keygate service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/orblabs/keygate/internal/audit"
	"github.com/orblabs/keygate/internal/config"
	"github.com/orblabs/keygate/internal/keystore"
	"github.com/orblabs/keygate/internal/lifecycle"
	"github.com/orblabs/keygate/internal/observability"
	"github.com/orblabs/keygate/internal/ratelimit"
	ratelimitstore "github.com/orblabs/keygate/internal/ratelimit/store"
	"github.com/orblabs/keygate/internal/resolver"
	"github.com/orblabs/keygate/internal/server"
	"github.com/orblabs/keygate/internal/settings"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)
	app := initApplication(cfg, logger)

	runService(app, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("KEYGATE_CONFIG_PATH", "configs/keygate.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("KEYGATE_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("KEYGATE_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("keygate version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting keygate",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	if err := config.ValidateConfig(cfg); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.String("addr", cfg.Server.Addr),
		observability.Bool("redis", cfg.Redis.Enabled),
		observability.Int("default_per_minute", cfg.RateLimit.PerMinute),
		observability.Int("default_per_day", cfg.RateLimit.PerDay),
	)

	return cfg
}

// application holds all application components.
type application struct {
	server      *server.Server
	service     *lifecycle.Service
	keys        keystore.Store
	settings    settings.Store
	counters    ratelimitstore.Store
	auditLogger audit.Logger
	redisClient *redis.Client
	config      *config.Config
}

// initApplication wires the stores, the lifecycle service, the
// resolver, and the HTTP server.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	auditLogger, err := audit.NewLogger(&cfg.Audit, audit.WithLoggerLogger(logger))
	if err != nil {
		logger.Fatal("failed to initialize audit logger", observability.Error(err))
	}

	app := &application{
		auditLogger: auditLogger,
		config:      cfg,
	}

	if cfg.Redis.Enabled {
		initRedisStores(app, cfg, logger)
	} else {
		logger.Info("redis disabled, using in-memory stores")
		app.keys = keystore.NewMemoryStore()
		app.settings = settings.NewMemoryStore()
		app.counters = ratelimitstore.NewMemoryStore()
	}

	limiter := ratelimit.NewLimiter(app.counters, ratelimit.WithLogger(logger))

	app.service = lifecycle.NewService(app.keys, app.settings, limiter,
		lifecycle.WithLogger(logger),
		lifecycle.WithAuditLogger(auditLogger),
		lifecycle.WithDefaultLimits(ratelimit.Limits{
			PerMinute: cfg.RateLimit.PerMinute,
			PerDay:    cfg.RateLimit.PerDay,
		}),
	)

	res := resolver.New(app.service, app.settings,
		resolver.WithLogger(logger),
		resolver.WithAuditLogger(auditLogger),
	)

	serverOpts := []server.Option{server.WithLogger(logger)}
	if app.redisClient != nil {
		client := app.redisClient
		serverOpts = append(serverOpts, server.WithHealthCheck(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}

	app.server = server.New(cfg.Server, res, serverOpts...)

	return app
}

// initRedisStores builds the Redis-backed stores on a shared client.
// The counter store is wrapped in a circuit breaker so a Redis outage
// degrades rate limiting instead of stalling every validation.
func initRedisStores(app *application, cfg *config.Config, logger observability.Logger) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ReadTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to redis",
			observability.String("addr", cfg.Redis.Addr),
			observability.Error(err),
		)
	}

	prefix := cfg.Redis.KeyPrefix

	app.redisClient = client
	app.keys = keystore.NewRedisStoreWithClient(client, prefix+"keys:")
	app.settings = settings.NewRedisStore(client, prefix+"settings:")

	counters := ratelimitstore.NewRedisStore(client, prefix+"ratelimit:", logger)
	app.counters = ratelimitstore.NewBreakerStore(counters, ratelimitstore.BreakerConfig{
		Threshold: cfg.RateLimit.Breaker.Threshold,
		Timeout:   cfg.RateLimit.Breaker.Timeout,
	}, logger)

	logger.Info("redis stores initialized",
		observability.String("addr", cfg.Redis.Addr),
		observability.String("key_prefix", prefix),
	)
}

// runService starts the server and the config watcher, then blocks
// until a shutdown signal arrives.
func runService(app *application, configPath string, logger observability.Logger) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.server.Start()
	}()

	watcher := startConfigWatcher(app, configPath, logger)

	waitForShutdown(app, watcher, errCh, logger)
}

// startConfigWatcher starts the configuration watcher. Reloads apply
// the settings that can change at runtime: the default rate limits and
// the log level. Listener and store changes need a restart.
func startConfigWatcher(app *application, configPath string, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		logger.Info("configuration changed, applying runtime settings",
			observability.Int("default_per_minute", newCfg.RateLimit.PerMinute),
			observability.Int("default_per_day", newCfg.RateLimit.PerDay),
			observability.String("log_level", newCfg.Logging.Level),
		)
		app.service.SetDefaultLimits(ratelimit.Limits{
			PerMinute: newCfg.RateLimit.PerMinute,
			PerDay:    newCfg.RateLimit.PerDay,
		})
		if setter, ok := logger.(observability.LevelSetter); ok && newCfg.Logging.Level != "" {
			if err := setter.SetLevel(newCfg.Logging.Level); err != nil {
				logger.Warn("invalid log level in reloaded config", observability.Error(err))
			}
		}
	}, config.WithWatcherLogger(logger))

	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
	}

	return watcher
}

// waitForShutdown waits for a shutdown signal or a server error and
// drains everything gracefully.
func waitForShutdown(
	app *application,
	watcher *config.Watcher,
	errCh <-chan error,
	logger observability.Logger,
) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", observability.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := app.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop server gracefully", observability.Error(err))
	}

	if err := app.keys.Close(); err != nil {
		logger.Error("failed to close key store", observability.Error(err))
	}
	if err := app.settings.Close(); err != nil {
		logger.Error("failed to close settings store", observability.Error(err))
	}
	if err := app.counters.Close(); err != nil {
		logger.Error("failed to close counter store", observability.Error(err))
	}
	if err := app.auditLogger.Close(); err != nil {
		logger.Error("failed to close audit logger", observability.Error(err))
	}

	if app.redisClient != nil {
		_ = app.redisClient.Close()
	}

	logger.Info("keygate stopped")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
