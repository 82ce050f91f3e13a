package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFormats_ListsBuiltinAdapters(t *testing.T) {
	cfgPath := writeConfig(t, "")
	out, err := runCmd(t, "", "--config", cfgPath, "--log-level", "error", "formats")
	require.NoError(t, err)

	assert.Contains(t, out, "bmecat")
	assert.Contains(t, out, "datanorm")
	assert.Contains(t, out, "csv")
}

func TestDetect(t *testing.T) {
	cfgPath := writeConfig(t, "")

	t.Run("csv", func(t *testing.T) {
		path := writeCatalog(t, "prices.csv", "SKU;Bezeichnung;Preis\nA1;Schraube M8;1,50\n")
		out, err := runCmd(t, "", "--config", cfgPath, "--log-level", "error", "detect", path)
		require.NoError(t, err)
		assert.Contains(t, out, "csv")
	})

	t.Run("binary content", func(t *testing.T) {
		path := writeCatalog(t, "blob.bin", "\x00\x01\x02\x03")
		_, err := runCmd(t, "", "--config", cfgPath, "--log-level", "error", "detect", path)
		assert.ErrorIs(t, err, catalog.ErrFormatNotDetected)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := runCmd(t, "", "--config", cfgPath, "--log-level", "error", "detect", filepath.Join(t.TempDir(), "nope.csv"))
		assert.Error(t, err)
	})
}

func TestCheck(t *testing.T) {
	cfgPath := writeConfig(t, "")

	t.Run("valid catalog", func(t *testing.T) {
		path := writeCatalog(t, "prices.csv", "SKU;Bezeichnung;Preis;Währung\nA1;Schraube M8;1,50;EUR\nA2;Mutter;0,20;EUR\n")
		out, err := runCmd(t, "", "--config", cfgPath, "--log-level", "error", "check", path)
		require.NoError(t, err)
		assert.Contains(t, out, "valid:   2")
		assert.Contains(t, out, "success: true")
	})

	t.Run("catalog without id column fails", func(t *testing.T) {
		path := writeCatalog(t, "colors.csv", "Farbe,Größe\nrot,XL\n")
		out, err := runCmd(t, "", "--config", cfgPath, "--log-level", "error", "check", "--format", "csv", path)
		require.Error(t, err)
		assert.Contains(t, out, "success: false")
	})

	t.Run("unknown explicit format", func(t *testing.T) {
		path := writeCatalog(t, "prices.csv", "SKU;Bezeichnung\nA1;Schraube\n")
		_, err := runCmd(t, "", "--config", cfgPath, "--log-level", "error", "check", "--format", "edifact", path)
		assert.ErrorIs(t, err, catalog.ErrUnknownFormat)
	})
}
