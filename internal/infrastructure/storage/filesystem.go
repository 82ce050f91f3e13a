package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	catalogimportapp "github.com/erp/catalog-exchange/internal/application/catalogimport"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	infraconfig "github.com/erp/catalog-exchange/internal/infrastructure/config"
	"go.uber.org/zap"
)

var _ catalogimportapp.CatalogArchive = (*FilesystemArchive)(nil)

// FilesystemArchive stores catalogs below a base directory
type FilesystemArchive struct {
	base string
}

// NewFilesystemArchive creates base when missing
func NewFilesystemArchive(base string) (*FilesystemArchive, error) {
	if base == "" {
		return nil, errors.New("archive base path is required")
	}
	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FilesystemArchive{base: base}, nil
}

// Put writes to a temp file and renames it into place, so readers never
// observe a partial catalog
func (a *FilesystemArchive) Put(ctx context.Context, key string, body io.Reader, _ int64, _ string) error {
	path, err := a.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to archive catalog %s: %w", key, err)
	}
	_, err = io.Copy(tmp, &ctxReader{ctx: ctx, r: body})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to archive catalog %s: %w", key, err)
	}
	return nil
}

// Open opens the archived file
func (a *FilesystemArchive) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := a.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("archived catalog %s: %w", key, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open archived catalog %s: %w", key, err)
	}
	return f, nil
}

// Delete removes the archived file
func (a *FilesystemArchive) Delete(_ context.Context, key string) error {
	path, err := a.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete archived catalog %s: %w", key, err)
	}
	return nil
}

// path rejects keys that would escape the base directory
func (a *FilesystemArchive) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", shared.NewDomainError("INVALID_INPUT", "invalid archive key: "+key)
	}
	return filepath.Join(a.base, clean), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// NewArchive picks the archive driver from configuration
func NewArchive(cfg *infraconfig.StorageConfig, logger *zap.Logger) (catalogimportapp.CatalogArchive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "", "filesystem":
		logger.Info("Using filesystem catalog archive", zap.String("base_path", cfg.BasePath))
		return NewFilesystemArchive(cfg.BasePath)
	case "s3":
		a, err := NewS3Archive(cfg, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		logger.Info("Using S3 catalog archive", zap.String("bucket", a.Bucket()))
		return a, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
