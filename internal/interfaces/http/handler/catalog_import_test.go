package handler

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	catalogimportapp "github.com/erp/catalog-exchange/internal/application/catalogimport"
	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "article_number;name;price\nA-1;Drill;1.50\n"

type importFixture struct {
	router   *gin.Engine
	importer *MockCatalogImporter
	tenant   uuid.UUID
}

func newImportFixture(t *testing.T) *importFixture {
	t.Helper()
	f := &importFixture{importer: new(MockCatalogImporter), tenant: uuid.New()}
	h := NewCatalogImportHandler(f.importer, nil)

	f.router = newTestEngine(f.tenant)
	f.router.GET("/catalog/formats", h.Formats)
	f.router.POST("/catalog/detect", h.Detect)
	g := f.router.Group("/catalog/imports")
	g.POST("", h.Import)
	g.GET("", h.List)
	g.POST("/stage", h.Stage)
	g.GET("/sessions", h.ListSessions)
	g.GET("/sessions/:id", h.GetSession)
	g.DELETE("/sessions/:id", h.DiscardSession)
	g.POST("/:id/commit", h.Commit)
	g.GET("/:id", h.Get)

	t.Cleanup(func() { f.importer.AssertExpectations(t) })
	return f
}

func (f *importFixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// uploadRequest builds a multipart upload; a nil content leaves out the file
func uploadRequest(t *testing.T, path, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if content != nil {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func sampleResult(success bool) *catalog.ImportResult {
	r := &catalog.ImportResult{
		ImportID:   uuid.New(),
		Format:     "csv",
		FormatName: "CSV",
		Success:    success,
		TotalCount: 1,
		ValidCount: 1,
		Entities: []catalog.CatalogEntity{{
			ExternalID: "A-1",
			SupplierID: "SUP-1",
			Name:       "Drill",
			ListPrice:  decimal.RequireFromString("1.50"),
			Currency:   "EUR",
		}},
		Issues: []catalog.ValidationIssue{
			catalog.NewIssue("MISSING_EAN", catalog.SeverityWarning, "EAN is missing"),
		},
	}
	if !success {
		r.ValidCount = 0
		r.Entities = nil
		r.Issues = append(r.Issues, catalog.NewIssue("MISSING_PRICE", catalog.SeverityError, "price is missing"))
	}
	return r
}

func TestCatalogImportHandler_Import(t *testing.T) {
	f := newImportFixture(t)

	f.importer.On("Import", mock.Anything, mock.MatchedBy(func(cmd catalogimportapp.ImportCommand) bool {
		return cmd.TenantID == f.tenant &&
			cmd.SupplierID == "SUP-1" &&
			cmd.Format == "csv" &&
			cmd.FileName == "prices.csv" &&
			cmd.Size == int64(len(sampleCSV)) &&
			cmd.Body != nil &&
			!cmd.Persist && cmd.CollectEntities &&
			cmd.StrictMetadataMatch != nil && !*cmd.StrictMetadataMatch
	})).Return(sampleResult(true), nil)

	w := f.do(uploadRequest(t, "/catalog/imports", "prices.csv", []byte(sampleCSV), map[string]string{
		"supplier_id":     "SUP-1",
		"format":          "csv",
		"strict_metadata": "false",
	}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got struct {
		Success    bool `json:"success"`
		Statistics struct {
			TotalItems int `json:"totalItems"`
			ValidItems int `json:"validItems"`
		} `json:"statistics"`
		Entities []catalog.CatalogEntity   `json:"entities"`
		Warnings []catalog.ValidationIssue `json:"warnings"`
		Errors   []catalog.ValidationIssue `json:"errors"`
	}
	decodeData(t, w, &got)
	assert.True(t, got.Success)
	assert.Equal(t, 1, got.Statistics.ValidItems)
	require.Len(t, got.Entities, 1)
	assert.Equal(t, "A-1", got.Entities[0].ExternalID)
	assert.Len(t, got.Warnings, 1)
	assert.Empty(t, got.Errors)
}

func TestCatalogImportHandler_ImportPersist(t *testing.T) {
	t.Run("entities are left out by default", func(t *testing.T) {
		f := newImportFixture(t)
		f.importer.On("Import", mock.Anything, mock.MatchedBy(func(cmd catalogimportapp.ImportCommand) bool {
			return cmd.Persist && !cmd.CollectEntities
		})).Return(sampleResult(true), nil)

		w := f.do(uploadRequest(t, "/catalog/imports", "prices.csv", []byte(sampleCSV), map[string]string{"persist": "true"}))
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("include_entities overrides", func(t *testing.T) {
		f := newImportFixture(t)
		f.importer.On("Import", mock.Anything, mock.MatchedBy(func(cmd catalogimportapp.ImportCommand) bool {
			return cmd.Persist && cmd.CollectEntities
		})).Return(sampleResult(true), nil)

		w := f.do(uploadRequest(t, "/catalog/imports", "prices.csv", []byte(sampleCSV),
			map[string]string{"persist": "true", "include_entities": "true"}))
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})
}

func TestCatalogImportHandler_ImportOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		result   *catalog.ImportResult
		err      error
		status   int
		code     string
		withData bool
	}{
		{"catalog with errors", sampleResult(false), nil, http.StatusUnprocessableEntity, "VALIDATION_FAILED", true},
		{"malformed document", sampleResult(false), fmt.Errorf("%w: unexpected EOF at line 3", catalog.ErrMalformedDocument), http.StatusBadRequest, "MALFORMED_DOCUMENT", true},
		{"format not detected", nil, catalog.ErrFormatNotDetected, http.StatusBadRequest, catalog.ErrFormatNotDetected.Code, false},
		{"unknown format", nil, catalog.ErrUnknownFormat, http.StatusBadRequest, "UNKNOWN_FORMAT", false},
		{"too large", nil, catalog.ErrFileTooLarge, http.StatusRequestEntityTooLarge, catalog.ErrFileTooLarge.Code, false},
		{"unsupported version", sampleResult(false), catalog.ErrUnsupportedVersion, http.StatusUnprocessableEntity, "UNSUPPORTED_VERSION", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newImportFixture(t)
			if tt.result == nil {
				f.importer.On("Import", mock.Anything, mock.Anything).Return(nil, tt.err)
			} else {
				f.importer.On("Import", mock.Anything, mock.Anything).Return(tt.result, tt.err)
			}

			w := f.do(uploadRequest(t, "/catalog/imports", "prices.csv", []byte(sampleCSV), nil))

			assert.Equal(t, tt.status, w.Code, w.Body.String())
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, tt.withData, resp.Data != nil)
		})
	}
}

func TestCatalogImportHandler_ImportBadForm(t *testing.T) {
	f := newImportFixture(t)

	w := f.do(uploadRequest(t, "/catalog/imports", "", nil, map[string]string{"format": "csv"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(uploadRequest(t, "/catalog/imports", "prices.csv", []byte(sampleCSV), map[string]string{"persist": "maybe"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCatalogImportHandler_Staging(t *testing.T) {
	t.Run("stage", func(t *testing.T) {
		f := newImportFixture(t)
		session := &catalogimportapp.ImportSession{
			ID: uuid.New(), TenantID: f.tenant, Format: "csv", State: catalogimportapp.SessionValidated,
			Issues: []catalog.ValidationIssue{},
		}
		f.importer.On("Stage", mock.Anything, mock.MatchedBy(func(cmd catalogimportapp.ImportCommand) bool {
			return cmd.TenantID == f.tenant && cmd.FileName == "prices.csv"
		})).Return(session, nil)

		w := f.do(uploadRequest(t, "/catalog/imports/stage", "prices.csv", []byte(sampleCSV), nil))

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var got struct {
			ID          uuid.UUID `json:"id"`
			State       string    `json:"state"`
			Committable bool      `json:"committable"`
		}
		decodeData(t, w, &got)
		assert.Equal(t, session.ID, got.ID)
		assert.Equal(t, "validated", got.State)
		assert.True(t, got.Committable)
	})

	t.Run("stage without archive", func(t *testing.T) {
		f := newImportFixture(t)
		f.importer.On("Stage", mock.Anything, mock.Anything).Return(nil, catalogimportapp.ErrStagingDisabled)

		w := f.do(uploadRequest(t, "/catalog/imports/stage", "prices.csv", []byte(sampleCSV), nil))
		assert.Equal(t, http.StatusNotImplemented, w.Code)
	})

	t.Run("commit", func(t *testing.T) {
		f := newImportFixture(t)
		id := uuid.New()
		f.importer.On("Commit", mock.Anything, f.tenant, id).Return(sampleResult(true), nil)

		w := f.do(httptest.NewRequest(http.MethodPost, "/catalog/imports/"+id.String()+"/commit", nil))
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("commit failures", func(t *testing.T) {
		f := newImportFixture(t)
		invalid, gone := uuid.New(), uuid.New()
		f.importer.On("Commit", mock.Anything, f.tenant, invalid).Return(nil, catalogimportapp.ErrSessionInvalid)
		f.importer.On("Commit", mock.Anything, f.tenant, gone).Return(nil, catalogimportapp.ErrSessionNotFound)

		w := f.do(httptest.NewRequest(http.MethodPost, "/catalog/imports/"+invalid.String()+"/commit", nil))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "SESSION_INVALID", decodeResponse(t, w).Error.Code)

		w = f.do(httptest.NewRequest(http.MethodPost, "/catalog/imports/"+gone.String()+"/commit", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = f.do(httptest.NewRequest(http.MethodPost, "/catalog/imports/not-a-uuid/commit", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("sessions", func(t *testing.T) {
		f := newImportFixture(t)
		s := &catalogimportapp.ImportSession{ID: uuid.New(), TenantID: f.tenant, State: catalogimportapp.SessionInvalid}
		f.importer.On("ListSessions", mock.Anything, f.tenant, 10).Return([]*catalogimportapp.ImportSession{s}, nil)
		f.importer.On("GetSession", mock.Anything, f.tenant, s.ID).Return(s, nil)
		f.importer.On("Discard", mock.Anything, f.tenant, s.ID).Return(nil)

		w := f.do(httptest.NewRequest(http.MethodGet, "/catalog/imports/sessions?limit=10", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var list []map[string]any
		decodeData(t, w, &list)
		require.Len(t, list, 1)
		assert.Equal(t, false, list[0]["committable"])

		w = f.do(httptest.NewRequest(http.MethodGet, "/catalog/imports/sessions?limit=500", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = f.do(httptest.NewRequest(http.MethodGet, "/catalog/imports/sessions/"+s.ID.String(), nil))
		assert.Equal(t, http.StatusOK, w.Code)

		w = f.do(httptest.NewRequest(http.MethodDelete, "/catalog/imports/sessions/"+s.ID.String(), nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestCatalogImportHandler_History(t *testing.T) {
	f := newImportFixture(t)

	meta := catalog.NewCatalogMetadata(f.tenant, "SUP-1", "CAT-1")
	imp, err := catalog.NewCatalogImport(meta, "prices.csv", 64)
	require.NoError(t, err)
	imp.ArchiveKey = "staged/x"

	f.importer.On("Get", mock.Anything, f.tenant, imp.ID).Return(imp, nil)
	missing := uuid.New()
	f.importer.On("Get", mock.Anything, f.tenant, missing).Return(nil, shared.ErrNotFound)
	f.importer.On("List", mock.Anything, f.tenant, mock.MatchedBy(func(filter catalog.CatalogImportFilter) bool {
		return filter.Status != nil && *filter.Status == catalog.ImportStatusCompleted && filter.SupplierID == "SUP-1"
	}), 2, 10).Return(&catalog.CatalogImportListResult{
		Items: []*catalog.CatalogImport{imp}, TotalCount: 11, Page: 2, PageSize: 10,
	}, nil)

	w := f.do(httptest.NewRequest(http.MethodGet, "/catalog/imports/"+imp.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got map[string]any
	decodeData(t, w, &got)
	assert.Equal(t, "prices.csv", got["fileName"])
	assert.Equal(t, true, got["archived"])

	w = f.do(httptest.NewRequest(http.MethodGet, "/catalog/imports/"+missing.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(httptest.NewRequest(http.MethodGet, "/catalog/imports?page=2&page_size=10&status=completed&supplier_id=SUP-1", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(11), resp.Meta.Total)
	assert.Equal(t, 2, resp.Meta.TotalPages)

	w = f.do(httptest.NewRequest(http.MethodGet, "/catalog/imports?status=exploded", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCatalogImportHandler_FormatsAndDetect(t *testing.T) {
	f := newImportFixture(t)
	csvInfo := catalog.FormatInfo{ID: "csv", Name: "CSV", Extensions: []string{".csv"}, Description: "delimited text"}
	f.importer.On("Formats").Return([]catalog.FormatInfo{csvInfo})
	f.importer.On("Detect", mock.Anything, "prices.csv").Return(csvInfo, nil)
	f.importer.On("Detect", mock.Anything, "blob.bin").Return(catalog.FormatInfo{}, catalog.ErrFormatNotDetected)

	w := f.do(httptest.NewRequest(http.MethodGet, "/catalog/formats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var formats []map[string]any
	decodeData(t, w, &formats)
	require.Len(t, formats, 1)
	assert.Equal(t, "csv", formats[0]["id"])

	w = f.do(uploadRequest(t, "/catalog/detect", "prices.csv", []byte(sampleCSV), nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(uploadRequest(t, "/catalog/detect", "blob.bin", []byte{0, 1, 2}, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
