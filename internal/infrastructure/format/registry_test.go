package format

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	info  catalog.FormatInfo
	score catalog.Confidence
}

func (s stubAdapter) Info() catalog.FormatInfo { return s.info }

func (s stubAdapter) Detect([]byte, string) catalog.Confidence { return s.score }

func (s stubAdapter) Parse(context.Context, io.Reader, catalog.CatalogMetadata, catalog.EntityHandler) (*catalog.ImportResult, error) {
	return &catalog.ImportResult{Format: s.info.ID, Success: true}, nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubAdapter{info: catalog.FormatInfo{ID: "Foo"}}))

	err := r.Register(stubAdapter{info: catalog.FormatInfo{ID: "foo"}})
	assert.ErrorIs(t, err, ErrDuplicateFormat)

	err = r.Register(stubAdapter{})
	assert.Error(t, err)

	a, ok := r.Get("FOO")
	require.True(t, ok)
	assert.Equal(t, "Foo", a.Info().ID)

	_, ok = r.Get("bar")
	assert.False(t, ok)
}

func TestRegistry_All(t *testing.T) {
	r := NewDefaultRegistry(Options{})
	infos := r.All()
	require.Len(t, infos, 3)
	assert.Equal(t, []string{"bmecat", "csv", "datanorm"}, []string{infos[0].ID, infos[1].ID, infos[2].ID})
	for _, info := range infos {
		assert.NotEmpty(t, info.Name)
		assert.NotEmpty(t, info.Extensions)
		assert.NotEmpty(t, info.Description)
	}
}

func TestRegistry_Detect(t *testing.T) {
	r := NewDefaultRegistry(Options{})

	tests := []struct {
		name     string
		head     string
		filename string
		want     string
	}{
		{"bmecat root", `<?xml version="1.0"?><BMECAT version="2005">`, "upload.bin", "bmecat"},
		{"bmecat after BOM", "\xEF\xBB\xBF<BMECAT version=\"1.2\">", "", "bmecat"},
		{"datanorm header", "V;040;010124;Acme;;;EUR\nA;N;1;00;x;;1;0;ST;100;;;\n", "prices.txt", "datanorm"},
		{"csv with headers", "Artikelnummer;Bezeichnung;Preis\nA1;Bolt;1,00\n", "", "csv"},
		{"generic xml by extension", `<?xml version="1.0"?><catalog/>`, "supplier.xml", "bmecat"},
		{"empty head by extension", "", "catalog.csv", "csv"},
		{"single column csv by extension", "A1,\n", "list.csv", "csv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok := r.Detect([]byte(tt.head), tt.filename)
			require.True(t, ok)
			assert.Equal(t, tt.want, a.Info().ID)
		})
	}

	t.Run("nothing confident", func(t *testing.T) {
		_, ok := r.Detect([]byte("hello world"), "notes.md")
		assert.False(t, ok)
	})

	t.Run("extension contradicted by content", func(t *testing.T) {
		_, ok := r.Detect([]byte(`<?xml version="1.0"?><feed/>`), "feed.txt")
		assert.False(t, ok)
	})

	t.Run("only the detection window is inspected", func(t *testing.T) {
		head := make([]byte, DetectWindow)
		for i := range head {
			head[i] = ' '
		}
		head = append(head, []byte("<BMECAT version=\"1.2\">")...)
		_, ok := r.Detect(head, "")
		assert.False(t, ok)
	})
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewDefaultRegistry(Options{})

	a, err := r.Resolve("CSV", []byte(`<BMECAT version="1.2">`), "x.xml")
	require.NoError(t, err)
	assert.Equal(t, "csv", a.Info().ID, "explicit format short-circuits detection")

	_, err = r.Resolve("edifact", nil, "")
	assert.ErrorIs(t, err, catalog.ErrUnknownFormat)

	_, err = r.Resolve("", []byte("???"), "")
	assert.ErrorIs(t, err, catalog.ErrFormatNotDetected)

	a, err = r.Resolve("", []byte("V;050;010124;x;;;EUR\n"), "")
	require.NoError(t, err)
	assert.Equal(t, "datanorm", a.Info().ID)
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(stubAdapter{info: catalog.FormatInfo{ID: string(rune('a' + i))}, score: catalog.Confidence(i * 10)})
		}(i)
		go func() {
			defer wg.Done()
			r.Detect([]byte("x"), "")
			r.All()
		}()
	}
	wg.Wait()
	assert.Len(t, r.All(), 8)
}
