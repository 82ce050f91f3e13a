package catalogimportapp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// articleRecord is the synchronized article written for a catalog entity
type articleRecord struct {
	ID                     string            `json:"id"`
	SupplierID             string            `json:"supplierId,omitempty"`
	ExternalID             string            `json:"externalId"`
	Name                   string            `json:"name"`
	Description            string            `json:"description,omitempty"`
	EAN                    string            `json:"ean,omitempty"`
	ManufacturerPartNumber string            `json:"manufacturerPartNumber,omitempty"`
	ManufacturerName       string            `json:"manufacturerName,omitempty"`
	ListPrice              decimal.Decimal   `json:"listPrice"`
	Currency               string            `json:"currency,omitempty"`
	Unit                   string            `json:"unit,omitempty"`
	Extensions             map[string]string `json:"extensions,omitempty"`
}

// ArticleID is the record id under which a catalog entity is synchronized
func ArticleID(e catalog.CatalogEntity) string {
	if e.SupplierID == "" {
		return e.ExternalID
	}
	return e.SupplierID + "/" + e.ExternalID
}

func toArticleRecord(e catalog.CatalogEntity) articleRecord {
	return articleRecord{
		ID:                     ArticleID(e),
		SupplierID:             e.SupplierID,
		ExternalID:             e.ExternalID,
		Name:                   e.Name,
		Description:            e.Description,
		EAN:                    e.EAN,
		ManufacturerPartNumber: e.ManufacturerPartNumber,
		ManufacturerName:       e.ManufacturerName,
		ListPrice:              e.ListPrice,
		Currency:               e.Currency,
		Unit:                   e.Unit,
		Extensions:             e.Extensions,
	}
}

// entitySink receives parsed entities. It collects them, buffers them into
// batch writes, or both.
type entitySink struct {
	imp       *catalog.CatalogImport
	writer    ArticleWriter
	tenantID  uuid.UUID
	chunkSize int
	maxIssues int
	collect   bool

	collected []catalog.CatalogEntity
	pending   []json.RawMessage
	pendingID []string
	batches   int
	issues    []catalog.ValidationIssue
	dropped   int
}

func (s *ImportService) newSink(imp *catalog.CatalogImport, cmd ImportCommand) *entitySink {
	sink := &entitySink{
		imp:       imp,
		tenantID:  cmd.TenantID,
		chunkSize: s.writeChunkSize,
		maxIssues: s.maxIssues,
		collect:   cmd.CollectEntities,
	}
	if cmd.Persist {
		sink.writer = s.writer
	}
	return sink
}

func (k *entitySink) handle(ctx context.Context, e catalog.CatalogEntity) error {
	if k.collect {
		k.collected = append(k.collected, e)
	}
	if k.writer == nil {
		return nil
	}
	raw, err := json.Marshal(toArticleRecord(e))
	if err != nil {
		return fmt.Errorf("failed to encode article %s: %w", e.ExternalID, err)
	}
	k.pending = append(k.pending, raw)
	k.pendingID = append(k.pendingID, ArticleID(e))
	if len(k.pending) >= k.chunkSize {
		return k.flush(ctx)
	}
	return nil
}

// flush writes the buffered articles. Item failures become issues; an
// error is returned only when the writer itself failed.
func (k *entitySink) flush(ctx context.Context) error {
	if k.writer == nil || len(k.pending) == 0 {
		return nil
	}
	k.batches++
	validate := false
	req := &erpsync.BatchWriteRequest[json.RawMessage]{
		TenantID:   k.tenantID,
		EntityType: erpsync.EntityArticles,
		Items:      k.pending,
		Mode:       erpsync.WriteUpsert,
		// entities were validated by the adapter
		ValidateBeforeWrite: &validate,
	}
	resp, err := k.writer.Write(ctx, req, fmt.Sprintf("import:%s:%d", k.imp.ID, k.batches))
	if err != nil {
		return fmt.Errorf("failed to write articles: %w", err)
	}

	k.imp.RecordWrites(resp.SuccessCount, resp.ErrorCount)
	for _, e := range resp.Errors {
		if len(k.issues) >= k.maxIssues {
			k.dropped++
			continue
		}
		id := e.ID
		if id == "" && e.Index < len(k.pendingID) {
			id = k.pendingID[e.Index]
		}
		k.issues = append(k.issues, catalog.Error(catalog.CodeWriteFailed,
			fmt.Sprintf("article %s was not written: %s", id, e.Message)).OnField(e.Field))
	}
	k.pending = nil
	k.pendingID = nil
	return nil
}

// finish copies collected entities and write issues into the result. Write
// issues share the result's issue cap.
func (k *entitySink) finish(result *catalog.ImportResult) {
	if k.collect {
		result.Entities = k.collected
	}
	for _, issue := range k.issues {
		result.AppendIssue(issue, k.maxIssues)
	}
	if k.dropped > 0 {
		result.DroppedIssues += k.dropped
		result.Success = false
	}
}
