package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trajectoryRL/trajectory-sandbox/internal/auth"
	"github.com/trajectoryRL/trajectory-sandbox/internal/scenario"
	"github.com/trajectoryRL/trajectory-sandbox/internal/server"
	"github.com/trajectoryRL/trajectory-sandbox/internal/storage"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("SANDBOX_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	port := envOrDefault("SANDBOX_PORT", "3001")
	scenarioRoot := envOrDefault("SCENARIO_ROOT", "scenarios")
	defaultScenario := os.Getenv("SANDBOX_SCENARIO")
	callLogPath := os.Getenv("CALL_LOG_PATH")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	authCacheTTL := envOrDefaultInt("SANDBOX_AUTH_CACHE_TTL_S", 30)

	logger.Info("starting sandbox server",
		zap.String("port", port),
		zap.String("scenario_root", scenarioRoot),
	)

	// Storage — ClickHouse, local JSONL, or LogWriter fallback
	var writer storage.EventWriter
	switch {
	case clickhouseDSN != "":
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	case callLogPath != "":
		jw, err := storage.NewJSONLWriter(callLogPath, logger)
		if err != nil {
			logger.Fatal("failed to open call log", zap.String("path", callLogPath), zap.Error(err))
		}
		writer = jw
		logger.Info("jsonl writer opened", zap.String("path", callLogPath))
	default:
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN or CALL_LOG_PATH set, using log writer")
	}
	defer writer.Close()

	// Auth — Postgres if DSN provided, otherwise static (local development)
	var authenticator auth.Authenticator
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: time.Duration(authCacheTTL) * time.Second,
			FailOpen: true,
			Logger:   logger,
		})
		logger.Info("postgres authenticator connected")
	} else {
		authenticator = auth.NewStaticAuthenticator()
		logger.Info("using static authenticator (no POSTGRES_DSN)")
	}

	// Scenario registry, optionally with a scenario activated at boot
	reg := scenario.NewRegistry(scenarioRoot)
	if defaultScenario != "" {
		active, err := reg.Activate(defaultScenario)
		if err != nil {
			logger.Fatal("failed to activate scenario", zap.String("scenario", defaultScenario), zap.Error(err))
		}
		logger.Info("scenario activated",
			zap.String("scenario", active.Scenario.Name),
			zap.String("episode_id", active.EpisodeID),
		)
	}

	srv := server.New(reg, authenticator, writer, logger)
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Warn("shutdown did not complete cleanly", zap.Error(err))
		}
	}()

	logger.Info("sandbox server listening", zap.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
