package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/triage-ai/privacy-shield/internal/api"
	"github.com/triage-ai/privacy-shield/internal/auth"
	"github.com/triage-ai/privacy-shield/internal/chread"
	"github.com/triage-ai/privacy-shield/internal/deadletter"
	"github.com/triage-ai/privacy-shield/internal/engine"
	"github.com/triage-ai/privacy-shield/internal/engine/detectors"
	"github.com/triage-ai/privacy-shield/internal/pipeline"
	"github.com/triage-ai/privacy-shield/internal/rules"
	"github.com/triage-ai/privacy-shield/internal/server"
	"github.com/triage-ai/privacy-shield/internal/state"
	"github.com/triage-ai/privacy-shield/internal/storage"
	"github.com/triage-ai/privacy-shield/internal/store"
	"github.com/triage-ai/privacy-shield/internal/tabs"
	"github.com/triage-ai/privacy-shield/internal/tasks"
	"github.com/triage-ai/privacy-shield/internal/trackerlist"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("SHIELD_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("SHIELD_HTTP_PORT", "8080")
	grpcPort := envOrDefault("SHIELD_GRPC_PORT", "50051")
	eventLogCapacity := envOrDefaultInt("SHIELD_EVENT_LOG_CAPACITY", 400)
	cookieSyncCap := envOrDefaultInt("SHIELD_COOKIE_SYNC_CAP", 1000)
	detectorTimeoutMs := envOrDefaultInt("SHIELD_DETECTOR_TIMEOUT_MS", 50)
	taskWorkers := envOrDefaultInt("SHIELD_TASK_WORKERS", 4)
	taskQueue := envOrDefaultInt("SHIELD_TASK_QUEUE", 1024)
	trackerListPath := os.Getenv("SHIELD_TRACKER_LIST")
	adminKeyHash := os.Getenv("SHIELD_ADMIN_KEY_HASH")
	adminKeyPrefix := os.Getenv("SHIELD_ADMIN_KEY_PREFIX")
	cacheTTL := envOrDefaultInt("SHIELD_AUTH_CACHE_TTL_S", 30)
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	deadLetterBucket := os.Getenv("DEADLETTER_BUCKET")
	deadLetterPrefix := envOrDefault("DEADLETTER_PREFIX", "shield/deadletter")
	awsRegion := envOrDefault("AWS_REGION", "us-east-1")

	logger.Info("starting shield server",
		zap.String("http_port", httpPort),
		zap.String("grpc_port", grpcPort),
		zap.Int("event_log_capacity", eventLogCapacity),
		zap.Int("detector_timeout_ms", detectorTimeoutMs),
		zap.Int("task_workers", taskWorkers),
	)

	ctx := context.Background()

	// Dead letters: S3, or log fallback
	logSink := deadletter.NewLogSink(logger)
	var sink deadletter.Sink = logSink
	if deadLetterBucket != "" {
		client, err := deadletter.NewS3Client(ctx, awsRegion)
		if err != nil {
			logger.Warn("s3 client setup failed, dead letters go to the log", zap.Error(err))
		} else {
			sink = deadletter.NewS3Sink(client, deadletter.S3Config{
				Bucket: deadLetterBucket,
				Prefix: deadLetterPrefix,
			}, logSink, logger)
			logger.Info("s3 dead-letter sink enabled", zap.String("bucket", deadLetterBucket))
		}
	}
	defer sink.Close()

	// Background work (persistence flushes, cookie-sync detection)
	dispatcher := tasks.NewDispatcher(tasks.Config{
		Workers:   taskWorkers,
		QueueSize: taskQueue,
		Timeout:   5 * time.Second,
	}, sink, logger)

	// KV + key store: Postgres or in-memory
	var (
		kv       store.KV
		keyStore auth.KeyStore
	)
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pg := store.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to create kv schema", zap.Error(err))
		}
		keys := auth.NewSQLKeyStore(db)
		if err := keys.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to create key schema", zap.Error(err))
		}
		kv, keyStore = pg, keys
		logger.Info("postgres connected")
	} else {
		kv = store.NewMemory()
		logger.Info("no POSTGRES_DSN set, state is kept in memory")
	}

	// Auth: configured keys, or open when none exist
	var authenticator auth.Authenticator
	switch {
	case keyStore != nil:
		authenticator = auth.NewKeyAuthenticator(auth.KeyAuthConfig{
			Store:    keyStore,
			CacheTTL: time.Duration(cacheTTL) * time.Second,
			Logger:   logger,
		})
	case adminKeyHash != "":
		if adminKeyPrefix == "" {
			logger.Fatal("SHIELD_ADMIN_KEY_PREFIX is required with SHIELD_ADMIN_KEY_HASH")
		}
		authenticator = auth.NewKeyAuthenticator(auth.KeyAuthConfig{
			Store: auth.NewStaticKeyStore(auth.KeyRow{
				KeyID:  "admin",
				Prefix: adminKeyPrefix,
				Hash:   adminKeyHash,
				Role:   auth.RoleAdmin,
			}),
			CacheTTL: time.Duration(cacheTTL) * time.Second,
			Logger:   logger,
		})
	default:
		authenticator = auth.NewOpenAuthenticator()
		logger.Warn("no API keys configured, authentication is disabled")
	}

	// Tracker list
	list := trackerlist.Default()
	if trackerListPath != "" {
		loaded, err := trackerlist.Load(trackerListPath)
		if err != nil {
			logger.Warn("tracker list load failed, using built-in list",
				zap.String("path", trackerListPath),
				zap.Error(err),
			)
		} else {
			list = loaded
		}
	}
	matcher := trackerlist.Compile(list, logger)
	domains, regexes := matcher.Size()
	logger.Info("tracker list compiled", zap.Int("domains", domains), zap.Int("regexes", regexes))

	// Rules + state
	ruleStore := rules.NewStore(kv, logger)
	ruleStore.Load(ctx)
	siteState := state.New(kv, dispatcher, sink, state.Config{
		EventLogCapacity: eventLogCapacity,
		CookieSyncCap:    cookieSyncCap,
	}, logger)

	// Event export: ClickHouse, or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
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
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// ClickHouse reader (for events/analytics HTTP endpoints)
	var reader api.EventReader
	if clickhouseDSN != "" {
		chReader, err := chread.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = chReader.Close() }()
			reader = chReader
			logger.Info("clickhouse reader connected")
		}
	}

	signals := engine.NewSignalEngine(
		[]engine.Detector{detectors.NewCookieSyncDetector()},
		time.Duration(detectorTimeoutMs)*time.Millisecond,
		logger,
	)

	p := pipeline.New(pipeline.Dependencies{
		Tabs:    tabs.NewTracker(),
		Rules:   ruleStore,
		Decider: engine.NewRuleEngine(ruleStore, matcher),
		Signals: signals,
		State:   siteState,
		Events:  writer,
		Tasks:   dispatcher,
		Sink:    sink,
		Logger:  logger,
		Source:  "shield-server",
	})

	// gRPC interception service
	grpcServer := grpc.NewServer()
	server.RegisterInterceptionServiceServer(grpcServer, server.NewInterceptionServer(p, authenticator, logger))
	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", grpcPort), zap.Error(err))
	}
	go func() {
		logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("grpc server failed", zap.Error(err))
		}
	}()

	// HTTP API server
	httpServer := &http.Server{
		Addr: ":" + httpPort,
		Handler: api.NewRouter(&api.Dependencies{
			Pipeline: p,
			Rules:    ruleStore,
			Reader:   reader,
			Auth:     authenticator,
			Logger:   logger,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown: stop intake, drain background work, then flush state.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()
	dispatcher.Close()
	if err := siteState.Flush(shutdownCtx); err != nil {
		logger.Error("state flush failed", zap.Error(err))
	}

	logger.Info("shield server stopped")
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
