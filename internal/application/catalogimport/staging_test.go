package catalogimportapp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stagingFixture struct {
	svc      *ImportService
	repo     *MockCatalogImportRepository
	archive  *memArchive
	sessions *InMemorySessionStore
	writer   *recordingWriter
	saved    *[]*catalog.CatalogImport
}

func newStagingFixture(t *testing.T) *stagingFixture {
	t.Helper()
	f := &stagingFixture{
		repo:    new(MockCatalogImportRepository),
		archive: newMemArchive(),
		writer:  &recordingWriter{},
	}
	f.saved = savedImports(f.repo)
	f.sessions = NewInMemorySessionStore(time.Hour)
	t.Cleanup(f.sessions.Stop)
	f.svc = NewImportService(testRegistry(), f.repo,
		WithArticleWriter(f.writer),
		WithStaging(f.archive, f.sessions))
	return f
}

func TestStage_ArchivesAndValidates(t *testing.T) {
	f := newStagingFixture(t)
	tenantID := uuid.New()
	body := csvCatalog(4)

	session, err := f.svc.Stage(context.Background(), csvCommand(tenantID, body))
	require.NoError(t, err)
	assert.Equal(t, SessionValidated, session.State)
	assert.Equal(t, "csv", session.Format)
	assert.Equal(t, 4, session.ValidItems)
	assert.Equal(t, StagedKey(tenantID, session.ID), session.ArchiveKey)

	archived, ok := f.archive.get(session.ArchiveKey)
	require.True(t, ok)
	assert.Equal(t, body, string(archived))

	assert.Empty(t, f.writer.requests, "staging writes nothing")
	f.repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestStage_UnknownSizeIsCounted(t *testing.T) {
	f := newStagingFixture(t)
	body := csvCatalog(2)
	cmd := csvCommand(uuid.New(), body)
	cmd.Size = -1

	session, err := f.svc.Stage(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), session.FileSize)
}

func TestStage_RejectedCatalogIsNotKept(t *testing.T) {
	f := newStagingFixture(t)
	cmd := ImportCommand{
		TenantID: uuid.New(),
		FileName: "blob.bin",
		Size:     -1,
		Body:     strings.NewReader("\x00\x01\x02 binary"),
	}
	_, err := f.svc.Stage(context.Background(), cmd)
	assert.ErrorIs(t, err, catalog.ErrFormatNotDetected)
	assert.Empty(t, f.archive.objects)
	assert.Zero(t, f.sessions.Len())
}

func TestStage_Disabled(t *testing.T) {
	svc := NewImportService(testRegistry(), new(MockCatalogImportRepository))
	_, err := svc.Stage(context.Background(), csvCommand(uuid.New(), csvCatalog(1)))
	assert.ErrorIs(t, err, ErrStagingDisabled)
}

func TestCommit_WritesOnce(t *testing.T) {
	f := newStagingFixture(t)
	tenantID := uuid.New()
	session, err := f.svc.Stage(context.Background(), csvCommand(tenantID, csvCatalog(3)))
	require.NoError(t, err)

	result, err := f.svc.Commit(context.Background(), tenantID, session.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, f.writer.items(), 3)

	imp := (*f.saved)[len(*f.saved)-1]
	assert.Equal(t, session.ArchiveKey, imp.ArchiveKey)
	assert.Equal(t, 3, imp.WrittenItems)

	_, ok := f.archive.get(session.ArchiveKey)
	assert.True(t, ok, "committed catalogs stay archived")

	_, err = f.svc.Commit(context.Background(), tenantID, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCommit_OtherTenant(t *testing.T) {
	f := newStagingFixture(t)
	session, err := f.svc.Stage(context.Background(), csvCommand(uuid.New(), csvCatalog(1)))
	require.NoError(t, err)

	_, err = f.svc.Commit(context.Background(), uuid.New(), session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.svc.GetSession(context.Background(), uuid.New(), session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCommit_InvalidSession(t *testing.T) {
	f := newStagingFixture(t)
	tenantID := uuid.New()
	session := &ImportSession{ID: uuid.New(), TenantID: tenantID, State: SessionInvalid, ArchiveKey: "staged/x"}
	require.NoError(t, f.sessions.Save(session))

	_, err := f.svc.Commit(context.Background(), tenantID, session.ID)
	assert.ErrorIs(t, err, ErrSessionInvalid)
	assert.Equal(t, 1, f.sessions.Len(), "an invalid session stays listed until it expires")
}

func TestDiscardAndExpire(t *testing.T) {
	f := newStagingFixture(t)
	tenantID := uuid.New()

	first, err := f.svc.Stage(context.Background(), csvCommand(tenantID, csvCatalog(1)))
	require.NoError(t, err)
	second, err := f.svc.Stage(context.Background(), csvCommand(tenantID, csvCatalog(2)))
	require.NoError(t, err)

	listed, err := f.svc.ListSessions(context.Background(), tenantID, 10)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	require.NoError(t, f.svc.Discard(context.Background(), tenantID, first.ID))
	_, ok := f.archive.get(first.ArchiveKey)
	assert.False(t, ok)

	f.svc.ExpireSession(second)
	_, ok = f.archive.get(second.ArchiveKey)
	assert.False(t, ok)
}
