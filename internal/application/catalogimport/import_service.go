// Package catalogimportapp runs supplier catalog imports: format
// resolution, streaming parse, optional persistence through the batch
// writer, staged imports and the import history.
package catalogimportapp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/erp/catalog-exchange/internal/infrastructure/logger"
	"github.com/erp/catalog-exchange/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultWriteChunkSize = 500
	defaultOrphanAfter    = 6 * time.Hour
	readBufferSize        = 64 * 1024
)

// FormatRegistry resolves the adapter for a document
type FormatRegistry interface {
	Resolve(explicit string, head []byte, filename string) (catalog.Adapter, error)
	All() []catalog.FormatInfo
}

// ArticleWriter applies article batches to the synchronized record store
type ArticleWriter interface {
	Write(ctx context.Context, req *erpsync.BatchWriteRequest[json.RawMessage], correlationID string) (*erpsync.BatchWriteResponse, error)
}

// ImportCommand describes one catalog import
type ImportCommand struct {
	TenantID   uuid.UUID
	SupplierID string
	CatalogID  string
	// Format names the format explicitly; empty means detect
	Format   string
	FileName string
	// Size is the declared body size, or -1 when unknown
	Size             int64
	Body             io.Reader
	CustomSchemaPath string
	DeclaredVersion  string
	// StrictMetadataMatch overrides the configured default when set
	StrictMetadataMatch *bool
	// Persist writes accepted articles through the batch writer
	Persist bool
	// CollectEntities keeps accepted articles in the result
	CollectEntities bool
	// ArchiveKey links the run to its archived source, for staged imports
	ArchiveKey string
}

// ImportService runs catalog imports and records their history
type ImportService struct {
	registry       FormatRegistry
	repo           catalog.CatalogImportRepository
	writer         ArticleWriter
	archive        CatalogArchive
	sessions       SessionStore
	maxFileSize    int64
	strictMetadata bool
	writeChunkSize int
	maxIssues      int
	orphanAfter    time.Duration
	metrics        *telemetry.ExchangeMetrics
	logger         *zap.Logger
}

// ServiceOption configures an ImportService
type ServiceOption func(*ImportService)

// WithArticleWriter enables persisting imports
func WithArticleWriter(w ArticleWriter) ServiceOption {
	return func(s *ImportService) { s.writer = w }
}

// WithStaging enables Stage and Commit
func WithStaging(archive CatalogArchive, sessions SessionStore) ServiceOption {
	return func(s *ImportService) {
		s.archive = archive
		s.sessions = sessions
	}
}

// WithMaxFileSize overrides catalog.MaxFileSize
func WithMaxFileSize(n int64) ServiceOption {
	return func(s *ImportService) {
		if n > 0 {
			s.maxFileSize = n
		}
	}
}

// WithStrictMetadataMatch sets whether supplier and catalog id mismatches
// are errors (the default) or warnings
func WithStrictMetadataMatch(strict bool) ServiceOption {
	return func(s *ImportService) { s.strictMetadata = strict }
}

// WithWriteChunkSize sets the number of articles per batch write
func WithWriteChunkSize(n int) ServiceOption {
	return func(s *ImportService) {
		if n > 0 {
			s.writeChunkSize = min(n, erpsync.MaxBatchWriteItems)
		}
	}
}

// WithMaxIssues caps the write failure issues added to a result, matching
// the cap the format adapters apply
func WithMaxIssues(n int) ServiceOption {
	return func(s *ImportService) {
		if n > 0 {
			s.maxIssues = n
		}
	}
}

// WithImportMetrics records import outcomes
func WithImportMetrics(m *telemetry.ExchangeMetrics) ServiceOption {
	return func(s *ImportService) { s.metrics = m }
}

// WithImportLogger sets the logger
func WithImportLogger(l *zap.Logger) ServiceOption {
	return func(s *ImportService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewImportService creates an ImportService
func NewImportService(registry FormatRegistry, repo catalog.CatalogImportRepository, opts ...ServiceOption) *ImportService {
	s := &ImportService{
		registry:       registry,
		repo:           repo,
		maxFileSize:    catalog.MaxFileSize,
		strictMetadata: true,
		writeChunkSize: defaultWriteChunkSize,
		maxIssues:      catalog.DefaultMaxIssues,
		orphanAfter:    defaultOrphanAfter,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Formats lists the registered catalog formats
func (s *ImportService) Formats() []catalog.FormatInfo {
	return s.registry.All()
}

// Detect resolves the format of a document from its first bytes
func (s *ImportService) Detect(r io.Reader, filename string) (catalog.FormatInfo, error) {
	head := make([]byte, formatDetectWindow)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return catalog.FormatInfo{}, fmt.Errorf("failed to read catalog head: %w", err)
	}
	adapter, err := s.registry.Resolve("", head[:n], filename)
	if err != nil {
		return catalog.FormatInfo{}, err
	}
	return adapter.Info(), nil
}

// formatDetectWindow matches the registry's detection window
const formatDetectWindow = 1024

// Import parses a catalog and records the run. A result is returned
// whenever parsing started, also alongside an error. Cancellation marks
// the run cancelled and returns ctx.Err().
func (s *ImportService) Import(ctx context.Context, cmd ImportCommand) (*catalog.ImportResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "catalog_import", "import",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, cmd.TenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrSupplierID, cmd.SupplierID))
	defer span.End()

	if cmd.Size > s.maxFileSize {
		return nil, catalog.ErrFileTooLarge
	}
	if cmd.Persist && s.writer == nil {
		return nil, shared.NewDomainError(shared.ErrInvalidInput.Code, "persisting imports is not enabled")
	}

	br := bufio.NewReaderSize(catalog.NewSizeLimitedReader(cmd.Body, s.maxFileSize), readBufferSize)
	head, err := peekHead(br)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.Resolve(cmd.Format, head, cmd.FileName)
	if err != nil {
		return nil, err
	}
	info := adapter.Info()
	telemetry.SetAttributes(span, telemetry.SpanAttrFormat, info.ID)

	meta := s.metadata(cmd)
	size := cmd.Size
	if size < 0 {
		size = 0
	}
	imp, err := catalog.NewCatalogImport(meta, cmd.FileName, size)
	if err != nil {
		return nil, err
	}
	imp.ArchiveKey = cmd.ArchiveKey
	if err := imp.StartProcessing(info.ID); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, imp); err != nil {
		return nil, fmt.Errorf("failed to record catalog import: %w", err)
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrImportID, imp.ID.String())

	log := logger.Enrich(ctx, s.logger).With(
		zap.String("import_id", imp.ID.String()),
		zap.String("format", info.ID),
		zap.String("file_name", cmd.FileName),
	)

	sink := s.newSink(imp, cmd)
	result, parseErr := adapter.Parse(ctx, br, meta, sink.handle)
	if result == nil {
		result = &catalog.ImportResult{
			Format:     info.ID,
			FormatName: info.Name,
			Issues:     make([]catalog.ValidationIssue, 0),
			StartedAt:  time.Now().UTC(),
			FinishedAt: time.Now().UTC(),
		}
	}
	result.ImportID = imp.ID
	if parseErr == nil && ctx.Err() == nil {
		parseErr = sink.flush(ctx)
	}
	sink.finish(result)

	status, retErr := s.finishImport(ctx, imp, result, parseErr)
	if retErr != nil {
		telemetry.RecordError(span, retErr)
	}

	s.metrics.RecordImport(ctx, result, string(status), imp.Duration())
	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("total", result.TotalCount),
		zap.Int("valid", result.ValidCount),
		zap.Int("skipped", result.SkippedCount),
		zap.Int("written", imp.WrittenItems),
		zap.Int("write_errors", imp.WriteErrors),
		zap.Int("issues", len(result.Issues)),
		zap.Duration("duration", imp.Duration()),
	}
	if retErr != nil {
		log.Warn("Catalog import did not complete", append(fields, zap.Error(retErr))...)
	} else {
		log.Info("Catalog import finished", fields...)
	}
	return result, retErr
}

// finishImport moves the run to its terminal state and saves it. The save
// uses a context that outlives cancellation so a cancelled run is still
// recorded.
func (s *ImportService) finishImport(ctx context.Context, imp *catalog.CatalogImport, result *catalog.ImportResult, parseErr error) (catalog.ImportStatus, error) {
	var retErr error
	switch {
	case ctx.Err() != nil:
		result.Success = false
		_ = imp.Cancel()
		retErr = ctx.Err()
	case parseErr != nil:
		result.Success = false
		_ = imp.Fail(result, fatalIssue(parseErr))
		retErr = parseErr
	default:
		if err := imp.Complete(result); err != nil {
			retErr = err
		}
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.repo.Save(saveCtx, imp); err != nil {
		s.logger.Error("Failed to record catalog import outcome",
			zap.String("import_id", imp.ID.String()), zap.Error(err))
		if retErr == nil {
			retErr = fmt.Errorf("failed to record catalog import: %w", err)
		}
	}
	return imp.Status, retErr
}

func (s *ImportService) metadata(cmd ImportCommand) catalog.CatalogMetadata {
	meta := catalog.NewCatalogMetadata(cmd.TenantID, cmd.SupplierID, cmd.CatalogID)
	meta.DeclaredVersion = strings.TrimSpace(cmd.DeclaredVersion)
	meta.CustomSchemaPath = strings.TrimSpace(cmd.CustomSchemaPath)
	meta.StrictMetadataMatch = s.strictMetadata
	if cmd.StrictMetadataMatch != nil {
		meta.StrictMetadataMatch = *cmd.StrictMetadataMatch
	}
	return meta
}

// Get returns one import run of a tenant
func (s *ImportService) Get(ctx context.Context, tenantID, id uuid.UUID) (*catalog.CatalogImport, error) {
	return s.repo.FindByID(ctx, tenantID, id)
}

// List returns a page of a tenant's import runs, newest first. Runs left
// processing longer than the orphan window are failed first; they were
// interrupted by a restart.
func (s *ImportService) List(ctx context.Context, tenantID uuid.UUID, filter catalog.CatalogImportFilter, page, pageSize int) (*catalog.CatalogImportListResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if _, err := s.FailOrphaned(ctx, tenantID); err != nil {
		s.logger.Warn("Failed to close orphaned imports", zap.Error(err))
	}
	return s.repo.FindAll(ctx, tenantID, filter, page, pageSize)
}

// FailOrphaned marks a tenant's runs that stayed unfinished past the orphan
// window as failed and returns how many were closed
func (s *ImportService) FailOrphaned(ctx context.Context, tenantID uuid.UUID) (int, error) {
	runs, err := s.repo.FindUnfinished(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-s.orphanAfter)
	closed := 0
	for _, imp := range runs {
		started := imp.CreatedAt
		if imp.StartedAt != nil {
			started = *imp.StartedAt
		}
		if started.After(cutoff) {
			continue
		}
		cause := catalog.Critical(catalog.CodeImportCancelled, "import was interrupted and did not finish")
		if err := imp.Fail(nil, cause); err != nil {
			continue
		}
		if err := s.repo.Save(ctx, imp); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

func peekHead(br *bufio.Reader) ([]byte, error) {
	head, err := br.Peek(formatDetectWindow)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		if errors.Is(err, catalog.ErrFileTooLarge) {
			return nil, catalog.ErrFileTooLarge
		}
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return head, nil
}

// fatalIssue turns a parse error into the issue recorded on a failed run
func fatalIssue(err error) catalog.ValidationIssue {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return catalog.Critical(de.Code, err.Error())
	}
	return catalog.Critical(catalog.CodeWriteFailed, err.Error())
}
