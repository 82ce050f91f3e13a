package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	catalogimportapp "github.com/erp/catalog-exchange/internal/application/catalogimport"
	syncapp "github.com/erp/catalog-exchange/internal/application/erpsync"
	"github.com/erp/catalog-exchange/internal/infrastructure/cache"
	"github.com/erp/catalog-exchange/internal/infrastructure/credguard"
	"github.com/erp/catalog-exchange/internal/infrastructure/format"
	"github.com/erp/catalog-exchange/internal/infrastructure/logger"
	"github.com/erp/catalog-exchange/internal/infrastructure/persistence"
	"github.com/erp/catalog-exchange/internal/infrastructure/storage"
	"github.com/erp/catalog-exchange/internal/interfaces/http/dto"
	"github.com/erp/catalog-exchange/internal/interfaces/http/handler"
	"github.com/erp/catalog-exchange/internal/interfaces/http/middleware"
	"github.com/erp/catalog-exchange/internal/interfaces/http/router"
	"github.com/erp/catalog-exchange/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const adminToken = "integration-admin-token"

func TestMain(m *testing.M) {
	code := m.Run()
	CleanupSharedContainers()
	os.Exit(code)
}

// stack is the server wired the way cmd/server wires it, minus telemetry
type stack struct {
	DB          *TestDB
	Engine      *gin.Engine
	Server      *httptest.Server
	Records     *persistence.GormRecordStore
	Imports     *persistence.GormCatalogImportRepository
	Credentials *syncapp.CredentialService
	Backend     *cache.Backend
}

type stackOption func(*stackConfig)

type stackConfig struct {
	backend *cache.Backend
}

func withBackend(b *cache.Backend) stackOption {
	return func(c *stackConfig) { c.backend = b }
}

func newStack(t *testing.T, opts ...stackOption) *stack {
	t.Helper()

	cfg := stackConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.backend == nil {
		cfg.backend = cache.NewInMemoryBackend()
		t.Cleanup(func() { _ = cfg.backend.Close() })
	}

	tdb := NewTestDB(t)
	log := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))

	records := persistence.NewGormRecordStore(tdb.DB)
	imports := persistence.NewGormCatalogImportRepository(tdb.DB)
	apiKeys := persistence.NewGormAPIKeyRepository(tdb.DB)

	codec, err := syncapp.NewCursorCodec("integration-cursor-secret-0123456789")
	require.NoError(t, err)
	pages := syncapp.NewPageService(records, codec, syncapp.WithPageLogger(log))
	deltas := syncapp.NewDeltaService(records, codec, syncapp.WithDeltaLogger(log))
	batches := syncapp.NewBatchWriter(records, cfg.backend.Locker, syncapp.NewItemValidator(),
		syncapp.WithReplayProtection(cfg.backend.Idempotency, time.Hour),
		syncapp.WithBatchLogger(log))

	guard := credguard.New(credguard.StaticMachineKey("integration-host"), credguard.WithLogger(log))
	credentials := syncapp.NewCredentialService(apiKeys, guard, log)

	archive, err := storage.NewFilesystemArchive(t.TempDir())
	require.NoError(t, err)
	var importService *catalogimportapp.ImportService
	sessions := catalogimportapp.NewInMemorySessionStore(time.Hour,
		catalogimportapp.WithExpireHook(func(s *catalogimportapp.ImportSession) {
			importService.ExpireSession(s)
		}))
	t.Cleanup(sessions.Stop)
	importService = catalogimportapp.NewImportService(format.NewDefaultRegistry(format.Options{Logger: log}), imports,
		catalogimportapp.WithArticleWriter(batches),
		catalogimportapp.WithStaging(archive, sessions),
		catalogimportapp.WithImportLogger(log))

	middleware.SetupValidator()
	engine := gin.New()
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.CorrelationID())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.APIVersion())
	engine.Use(middleware.BodyLimit(32 << 20))

	router.Setup(engine, router.Handlers{
		Sync:        handler.NewSyncHandler(pages, deltas, batches, handler.WithStreamChunkSize(50), handler.WithSyncLogger(log)),
		Imports:     handler.NewCatalogImportHandler(importService, log),
		Credentials: handler.NewCredentialHandler(credentials, log),
		System: handler.NewSystemHandler("catalog-exchange", "test", map[string]handler.ReadinessCheck{
			"database": func(ctx context.Context) error { return tdb.SqlDB.PingContext(ctx) },
		}),
	}, router.Guards{
		Connector: []gin.HandlerFunc{middleware.APIKeyAuth(credentials, log), middleware.SpanEnricher()},
		Admin:     []gin.HandlerFunc{middleware.AdminAuth(adminToken)},
	})

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return &stack{
		DB:          tdb,
		Engine:      engine,
		Server:      srv,
		Records:     records,
		Imports:     imports,
		Credentials: credentials,
		Backend:     cfg.backend,
	}
}

// admin returns a client for key management of tenantID
func (s *stack) admin(tenantID uuid.UUID) *testutil.APIClient {
	return testutil.NewAPIClient(s.Engine).
		WithHeader("Authorization", "Bearer "+adminToken).
		WithHeader("X-Tenant-Id", tenantID.String())
}

// connector returns a client authenticated with a fresh API key of tenantID
func (s *stack) connector(t *testing.T, tenantID uuid.UUID) (*testutil.APIClient, string) {
	t.Helper()

	w := s.admin(tenantID).Do(t, http.MethodPost, "/api/v1/credentials/api-keys", map[string]string{
		"name":         "integration connector",
		"erp_username": "erp-user",
		"erp_password": "erp-pass",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := testutil.DecodeData[dto.CreatedAPIKeyResponse](t, w)
	require.NotEmpty(t, created.Key)

	return testutil.NewAPIClient(s.Engine).WithHeader("X-Api-Key", created.Key), created.Key
}
