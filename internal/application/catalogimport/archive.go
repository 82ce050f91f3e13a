package catalogimportapp

import (
	"context"
	"io"
)

// CatalogArchive keeps the raw bytes of staged catalogs. Committed catalogs
// stay archived with their import run; uncommitted ones are removed when
// their session expires.
type CatalogArchive interface {
	// Put stores body under key. size is -1 when unknown.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	// Open returns the stored bytes. A missing key yields shared.ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
