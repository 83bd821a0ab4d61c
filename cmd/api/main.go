package main

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/farxc/spm-results/internal/db"
	"github.com/farxc/spm-results/internal/env"
	"github.com/farxc/spm-results/internal/incentive"
	"github.com/farxc/spm-results/internal/incentive/client"
	"github.com/farxc/spm-results/internal/logger"
	"github.com/farxc/spm-results/internal/store"
)

const (
	devHost = "127.0.0.1"
	devPort = "8050"
)

func loadConfig() config {
	cfg := config{
		apiBaseURL:   env.GetString("INCENTIVE_API_BASE_URL", client.DefaultBaseURL),
		fetchTimeout: env.GetDuration("FETCH_TIMEOUT", 30*time.Second),
		batchTimeout: env.GetDuration("BATCH_TIMEOUT", incentive.DefaultBatchTimeout),
		pageSize:     env.GetInt("PAGE_SIZE", 10),
		logLevel:     env.GetString("LOG_LEVEL", "info"),
		db: dbConfig{
			addr:         env.GetString("DB_ADDR", ""),
			maxOpenConns: env.GetInt("DB_MAX_OPEN_CONNS", 10),
			maxIdleConns: env.GetInt("DB_MAX_IDLE_CONNS", 10),
			maxIdleTime:  env.GetString("DB_MAX_IDLE_TIME", "15m"),
		},
	}

	// Without PORT the server runs in development mode on the loopback interface.
	// DEV_MODE=true keeps the PORT binding but switches to console debug logs.
	if port, ok := os.LookupEnv("PORT"); ok && port != "" {
		cfg.addr = net.JoinHostPort("0.0.0.0", port)
		cfg.devMode = env.GetBool("DEV_MODE", false)
	} else {
		cfg.devMode = true
		cfg.addr = net.JoinHostPort(devHost, devPort)
	}
	if cfg.devMode {
		cfg.logLevel = "debug"
	}
	if cfg.pageSize <= 0 {
		cfg.pageSize = 10
	}
	return cfg
}

func newLogger(cfg config) *logger.Logger {
	level := logger.ParseLevel(cfg.logLevel)
	if cfg.devMode {
		return logger.NewConsole(level)
	}
	return logger.New(os.Stdout, level)
}

func main() {
	envErr := env.Load()

	cfg := loadConfig()
	appLogger := newLogger(cfg)
	if envErr != nil {
		appLogger.Warn("Config", "Failed to load .env file: %v", envErr)
	}

	app := &application{
		config:    cfg,
		appLogger: appLogger,
	}

	var recorder incentive.RunRecorder
	if cfg.db.addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := db.New(ctx, db.Config{
			Addr:         cfg.db.addr,
			MaxOpenConns: cfg.db.maxOpenConns,
			MaxIdleConns: cfg.db.maxIdleConns,
			MaxIdleTime:  cfg.db.maxIdleTime,
		})
		if err != nil {
			cancel()
			appLogger.Fatal("Database", "Failed to connect: %v", err)
		}
		defer conn.Close()

		storage := store.NewStorage(conn)
		if err := storage.ExtractionRuns.EnsureSchema(ctx); err != nil {
			cancel()
			appLogger.Fatal("Database", "Failed to prepare schema: %v", err)
		}
		cancel()
		appLogger.Info("Database", "Connection pool established, run history enabled")

		app.store = storage
		recorder = storage.ExtractionRuns
	} else {
		appLogger.Info("Database", "DB_ADDR not set, run history disabled")
	}

	apiClient := client.New(cfg.apiBaseURL, cfg.fetchTimeout, appLogger)
	app.pipeline = incentive.NewPipeline(apiClient, recorder, appLogger, cfg.batchTimeout)

	mux, err := app.mount()
	if err != nil {
		appLogger.Fatal("Server", "Failed to build routes: %v", err)
	}

	if err := app.run(mux); err != nil {
		appLogger.Fatal("Server", "Server stopped: %v", err)
	}
}
