package catalogimportapp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/erp/catalog-exchange/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrStagingDisabled is returned by Stage and Commit without an archive
var ErrStagingDisabled = shared.NewDomainError("STAGING_DISABLED", "staged imports are not configured")

// StagedKey is the archive key of a staged catalog
func StagedKey(tenantID, sessionID uuid.UUID) string {
	return fmt.Sprintf("staged/%s/%s", tenantID, sessionID)
}

// Stage archives a catalog and validates it without writing anything. The
// bytes are streamed to the archive while the adapter parses them, so the
// document is read once.
func (s *ImportService) Stage(ctx context.Context, cmd ImportCommand) (*ImportSession, error) {
	if s.archive == nil || s.sessions == nil {
		return nil, ErrStagingDisabled
	}
	if cmd.Size > s.maxFileSize {
		return nil, catalog.ErrFileTooLarge
	}

	session := &ImportSession{
		ID:         uuid.New(),
		TenantID:   cmd.TenantID,
		SupplierID: cmd.SupplierID,
		CatalogID:  cmd.CatalogID,
		FileName:   cmd.FileName,
		FileSize:   cmd.Size,
	}
	session.ArchiveKey = StagedKey(cmd.TenantID, session.ID)

	pr, pw := io.Pipe()
	archived := make(chan error, 1)
	go func() {
		err := s.archive.Put(ctx, session.ArchiveKey, pr, cmd.Size, contentTypeFor(cmd.FileName))
		// unblocks the parser if the archive stopped reading early
		_ = pr.CloseWithError(err)
		archived <- err
	}()

	result, counted, stageErr := s.validateStream(ctx, cmd, io.TeeReader(cmd.Body, pw))
	if stageErr != nil {
		_ = pw.CloseWithError(stageErr)
	} else {
		_ = pw.Close()
	}
	archiveErr := <-archived

	if stageErr == nil && archiveErr != nil {
		stageErr = fmt.Errorf("failed to archive catalog: %w", archiveErr)
	}
	if stageErr != nil {
		s.discard(session.ArchiveKey)
		return nil, stageErr
	}

	if session.FileSize < 0 {
		session.FileSize = counted
	}
	session.Format = result.Format
	session.FormatName = result.FormatName
	session.Version = result.Version
	session.TotalItems = result.TotalCount
	session.ValidItems = result.ValidCount
	session.SkippedItems = result.SkippedCount
	session.Issues = result.Issues
	session.State = SessionInvalid
	if result.Success {
		session.State = SessionValidated
	}
	if err := s.sessions.Save(session); err != nil {
		s.discard(session.ArchiveKey)
		return nil, fmt.Errorf("failed to store import session: %w", err)
	}

	logger.Enrich(ctx, s.logger).Info("Catalog staged",
		zap.String("session_id", session.ID.String()),
		zap.String("format", session.Format),
		zap.String("state", string(session.State)),
		zap.Int("total", session.TotalItems),
		zap.Int("valid", session.ValidItems),
	)
	return session, nil
}

// validateStream resolves and parses a catalog without a handler and reads
// it to the end so the archive receives every byte
func (s *ImportService) validateStream(ctx context.Context, cmd ImportCommand, body io.Reader) (*catalog.ImportResult, int64, error) {
	limited := catalog.NewSizeLimitedReader(body, s.maxFileSize)
	br := bufio.NewReaderSize(limited, readBufferSize)
	head, err := peekHead(br)
	if err != nil {
		return nil, 0, err
	}
	adapter, err := s.registry.Resolve(cmd.Format, head, cmd.FileName)
	if err != nil {
		return nil, 0, err
	}
	result, err := adapter.Parse(ctx, br, s.metadata(cmd), nil)
	if err != nil {
		return result, 0, err
	}
	if _, err := io.Copy(io.Discard, br); err != nil {
		return result, 0, err
	}
	if err := ctx.Err(); err != nil {
		return result, 0, err
	}
	return result, limited.BytesRead(), nil
}

// GetSession returns a tenant's staged import
func (s *ImportService) GetSession(_ context.Context, tenantID, sessionID uuid.UUID) (*ImportSession, error) {
	if s.sessions == nil {
		return nil, ErrStagingDisabled
	}
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if session.TenantID != tenantID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// ListSessions returns a tenant's live staged imports, newest first
func (s *ImportService) ListSessions(_ context.Context, tenantID uuid.UUID, limit int) ([]*ImportSession, error) {
	if s.sessions == nil {
		return nil, ErrStagingDisabled
	}
	return s.sessions.GetByTenant(tenantID, limit)
}

// Commit imports a staged catalog with persistence. A session can be
// committed once; it is consumed even when the import fails.
func (s *ImportService) Commit(ctx context.Context, tenantID, sessionID uuid.UUID) (*catalog.ImportResult, error) {
	session, err := s.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.CanCommit() {
		return nil, ErrSessionInvalid
	}
	if session, err = s.sessions.Take(sessionID); err != nil {
		return nil, err
	}

	body, err := s.archive.Open(ctx, session.ArchiveKey)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to open staged catalog: %w", err)
	}
	defer body.Close()

	return s.Import(ctx, ImportCommand{
		TenantID:   session.TenantID,
		SupplierID: session.SupplierID,
		CatalogID:  session.CatalogID,
		Format:     session.Format,
		FileName:   session.FileName,
		Size:       session.FileSize,
		Body:       body,
		Persist:    true,
		ArchiveKey: session.ArchiveKey,
	})
}

// Discard drops a staged import and its archived bytes
func (s *ImportService) Discard(ctx context.Context, tenantID, sessionID uuid.UUID) error {
	session, err := s.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}
	if _, err := s.sessions.Take(session.ID); err != nil {
		return err
	}
	return s.archive.Delete(ctx, session.ArchiveKey)
}

// ExpireSession removes the archived bytes of a session that was never
// committed. It is the session store's expire hook.
func (s *ImportService) ExpireSession(session *ImportSession) {
	s.discard(session.ArchiveKey)
}

func (s *ImportService) discard(key string) {
	if s.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.archive.Delete(ctx, key); err != nil {
		s.logger.Warn("Failed to remove staged catalog", zap.String("key", key), zap.Error(err))
	}
}

func contentTypeFor(fileName string) string {
	if ct := mime.TypeByExtension(filepath.Ext(fileName)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
