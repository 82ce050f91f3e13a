package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	catalogimportapp "github.com/erp/catalog-exchange/internal/application/catalogimport"
	syncapp "github.com/erp/catalog-exchange/internal/application/erpsync"
	"github.com/erp/catalog-exchange/internal/infrastructure/cache"
	"github.com/erp/catalog-exchange/internal/infrastructure/config"
	"github.com/erp/catalog-exchange/internal/infrastructure/credguard"
	"github.com/erp/catalog-exchange/internal/infrastructure/datanorm"
	"github.com/erp/catalog-exchange/internal/infrastructure/format"
	"github.com/erp/catalog-exchange/internal/infrastructure/logger"
	"github.com/erp/catalog-exchange/internal/infrastructure/persistence"
	"github.com/erp/catalog-exchange/internal/infrastructure/storage"
	"github.com/erp/catalog-exchange/internal/infrastructure/telemetry"
	"github.com/erp/catalog-exchange/internal/interfaces/http/handler"
	"github.com/erp/catalog-exchange/internal/interfaces/http/middleware"
	"github.com/erp/catalog-exchange/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	telCfg := telemetry.ConfigFrom(cfg.Telemetry)
	lp, err := telemetry.NewLoggerProvider(context.Background(), telCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	log = lp.Bridge(log)

	log.Info("Starting catalog exchange server",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	// Telemetry
	tp, err := telemetry.NewTracerProvider(context.Background(), telCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	mp, err := telemetry.NewMeterProvider(context.Background(), telCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	meter := mp.Meter("catalog-exchange")
	exchangeMetrics, err := telemetry.NewExchangeMetrics(meter)
	if err != nil {
		log.Fatal("Failed to register exchange metrics", zap.Error(err))
	}

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		dbTracing := telemetry.DefaultDBTracingConfig()
		dbTracing.Enabled = true
		dbTracing.SlowQueryThresh = cfg.Telemetry.DBSlowQueryThresh
		dbTracing.DBName = cfg.Database.DBName
		if err := telemetry.NewDBTracingPlugin(dbTracing, log).Register(db.DB); err != nil {
			log.Fatal("Failed to register database tracing", zap.Error(err))
		}
	}
	var dbMetrics *telemetry.DBMetrics
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBMetricsEnabled {
		dbMetrics, err = telemetry.NewDBMetrics(mp.Meter("db.client"), telemetry.DBMetricsConfig{
			SlowQueryThresh:   cfg.Telemetry.DBSlowQueryThresh,
			PoolStatsInterval: cfg.Telemetry.DBPoolStatsInterval,
		}, log.Named("db_metrics"))
		if err != nil {
			log.Fatal("Failed to create database metrics", zap.Error(err))
		}
		if err := dbMetrics.Register(db.DB); err != nil {
			log.Fatal("Failed to register database metrics", zap.Error(err))
		}
		dbMetrics.StartPoolStats(context.Background())
	}
	log.Info("Database connected successfully")

	// Locks and replay protection
	backend, err := cache.NewBackend(cfg.Redis, cfg.Sync.LockTTL,
		cache.WithLogger(log), cache.WithInMemoryFallback(!cfg.IsProduction()))
	if err != nil {
		log.Fatal("Failed to initialize cache backend", zap.Error(err))
	}

	// Repositories
	recordStore := persistence.NewGormRecordStore(db.DB)
	importRepo := persistence.NewGormCatalogImportRepository(db.DB)
	apiKeyRepo := persistence.NewGormAPIKeyRepository(db.DB)

	// Sync services
	cursorSecret := cfg.Sync.CursorSecret
	if cursorSecret == "" {
		// production config rejects an empty secret
		cursorSecret = randomSecret()
		log.Warn("sync.cursor_secret is empty, using a random secret; cursors do not survive a restart")
	}
	codec, err := syncapp.NewCursorCodec(cursorSecret)
	if err != nil {
		log.Fatal("Invalid cursor secret", zap.Error(err))
	}
	pageService := syncapp.NewPageService(recordStore, codec,
		syncapp.WithPageSizes(cfg.Sync.DefaultPageSize, cfg.Sync.MaxPageSize),
		syncapp.WithPageLogger(log.Named("page")))
	deltaService := syncapp.NewDeltaService(recordStore, codec,
		syncapp.WithBatchSizes(cfg.Sync.DefaultBatchSize, cfg.Sync.MaxBatchSize),
		syncapp.WithDeltaMetrics(exchangeMetrics),
		syncapp.WithDeltaLogger(log.Named("delta")))
	batchWriter := syncapp.NewBatchWriter(recordStore, backend.Locker, syncapp.NewItemValidator(),
		syncapp.WithReplayProtection(backend.Idempotency, cfg.Sync.IdempotencyTTL),
		syncapp.WithBatchMetrics(exchangeMetrics),
		syncapp.WithBatchLogger(log.Named("batch")))

	guard := credguard.New(
		credguard.NewFileMachineKey(cfg.Credential.MachineIDPath, cfg.Credential.FallbackMachineIDPath),
		credguard.WithSalt(cfg.Credential.Salt),
		credguard.WithLogger(log.Named("credguard")))
	credentialService := syncapp.NewCredentialService(apiKeyRepo, guard, log.Named("credentials"))

	// Catalog import
	charset, err := datanorm.CharsetByName(cfg.Import.DatanormCharset)
	if err != nil {
		log.Fatal("Invalid import configuration", zap.Error(err))
	}
	registry := format.NewDefaultRegistry(format.Options{
		MaxIssues:       cfg.Import.MaxIssues,
		SchemaDir:       cfg.Import.SchemaDir,
		DatanormCharset: charset,
		Logger:          log.Named("format"),
	})
	archive, err := storage.NewArchive(&cfg.Storage, log.Named("archive"))
	if err != nil {
		log.Fatal("Failed to initialize catalog archive", zap.Error(err))
	}

	var importService *catalogimportapp.ImportService
	sessions := catalogimportapp.NewInMemorySessionStore(cfg.Import.SessionTTL,
		catalogimportapp.WithExpireHook(func(s *catalogimportapp.ImportSession) {
			importService.ExpireSession(s)
		}))
	importService = catalogimportapp.NewImportService(registry, importRepo,
		catalogimportapp.WithArticleWriter(batchWriter),
		catalogimportapp.WithStaging(archive, sessions),
		catalogimportapp.WithMaxFileSize(cfg.Import.MaxFileSize),
		catalogimportapp.WithStrictMetadataMatch(cfg.Import.StrictMetadataMatch),
		catalogimportapp.WithWriteChunkSize(cfg.Import.WriteChunkSize),
		catalogimportapp.WithMaxIssues(cfg.Import.MaxIssues),
		catalogimportapp.WithImportMetrics(exchangeMetrics),
		catalogimportapp.WithImportLogger(log.Named("import")))

	// HTTP
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Fatal("Invalid trusted proxies", zap.Error(err))
		}
	} else {
		_ = engine.SetTrustedProxies(nil)
	}

	httpMetrics, err := middleware.HTTPMetrics(meter)
	if err != nil {
		log.Fatal("Failed to register HTTP metrics", zap.Error(err))
	}
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.CorrelationID())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(httpMetrics)
	engine.Use(middleware.Secure())
	engine.Use(middleware.APIVersion())
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	connectorGuards := []gin.HandlerFunc{
		middleware.APIKeyAuth(credentialService, log.Named("auth")),
		middleware.SpanEnricher(),
	}
	var limiter *middleware.RateLimiter
	if cfg.HTTP.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimit, time.Minute)
		connectorGuards = append(connectorGuards, middleware.RateLimit(limiter))
	}
	if cfg.HTTP.AdminToken == "" {
		log.Warn("http.admin_token is empty, API key management is disabled")
	}

	router.Setup(engine, router.Handlers{
		Sync: handler.NewSyncHandler(pageService, deltaService, batchWriter,
			handler.WithStreamChunkSize(cfg.Sync.StreamChunkSize),
			handler.WithSyncMetrics(exchangeMetrics),
			handler.WithSyncLogger(log.Named("sync"))),
		Imports:     handler.NewCatalogImportHandler(importService, log.Named("catalog")),
		Credentials: handler.NewCredentialHandler(credentialService, log.Named("credentials")),
		System: handler.NewSystemHandler(cfg.App.Name, version, map[string]handler.ReadinessCheck{
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		}),
	}, router.Guards{
		Connector: connectorGuards,
		Admin:     []gin.HandlerFunc{middleware.AdminAuth(cfg.HTTP.AdminToken)},
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	sessions.Stop()
	if limiter != nil {
		limiter.Stop()
	}
	if dbMetrics != nil {
		dbMetrics.Stop()
	}
	if err := backend.Close(); err != nil {
		log.Error("Error closing cache backend", zap.Error(err))
	}
	if err := mp.Shutdown(ctx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tp.Shutdown(ctx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := lp.Shutdown(ctx); err != nil {
		log.Error("Error shutting down logger provider", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
