package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/erp/catalog-exchange/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemArchive(t *testing.T) {
	base := t.TempDir()
	archive, err := NewFilesystemArchive(base)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("put and open", func(t *testing.T) {
		require.NoError(t, archive.Put(ctx, "tenant/session.dat", strings.NewReader("X;A;00;"), -1, ""))

		rc, err := archive.Open(ctx, "tenant/session.dat")
		require.NoError(t, err)
		defer rc.Close()
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "X;A;00;", string(got))

		entries, err := os.ReadDir(filepath.Join(base, "tenant"))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temp files left behind")
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, archive.Delete(ctx, "tenant/session.dat"))
		require.NoError(t, archive.Delete(ctx, "tenant/session.dat"))
		_, err := archive.Open(ctx, "tenant/session.dat")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("rejects escaping keys", func(t *testing.T) {
		for _, key := range []string{"", "..", "../etc/passwd", "/abs/path"} {
			err := archive.Put(ctx, key, strings.NewReader("x"), 1, "")
			assert.ErrorIs(t, err, shared.ErrInvalidInput, key)
		}
	})

	t.Run("cancelled context leaves nothing", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := archive.Put(cctx, "tenant/cancelled.xml", strings.NewReader("<x/>"), 4, "")
		assert.ErrorIs(t, err, context.Canceled)
		_, err = os.Stat(filepath.Join(base, "tenant", "cancelled.xml"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestNewArchive(t *testing.T) {
	t.Run("filesystem by default", func(t *testing.T) {
		a, err := NewArchive(&config.StorageConfig{BasePath: t.TempDir()}, nil)
		require.NoError(t, err)
		assert.IsType(t, &FilesystemArchive{}, a)
	})

	t.Run("s3", func(t *testing.T) {
		a, err := NewArchive(&config.StorageConfig{
			Driver: "s3", Bucket: "b", AccessKey: "k", SecretKey: "s",
		}, nil)
		require.NoError(t, err)
		assert.IsType(t, &S3Archive{}, a)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := NewArchive(&config.StorageConfig{Driver: "ftp"}, nil)
		assert.Error(t, err)
	})
}
