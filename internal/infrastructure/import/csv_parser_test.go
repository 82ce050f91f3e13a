package csvimport

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCSVParser(t *testing.T) {
	t.Run("UTF-8 BOM is stripped", func(t *testing.T) {
		parser, err := NewCSVParser(strings.NewReader("\xEF\xBB\xBFname,age\nAlice,30"))
		require.NoError(t, err)

		rec, err := parser.ReadRecord()
		require.NoError(t, err)
		assert.Equal(t, "name", rec.Fields[0])
		assert.Equal(t, 1, rec.LineNumber)
	})

	t.Run("Empty file returns error", func(t *testing.T) {
		parser, err := NewCSVParser(strings.NewReader(""))
		assert.Nil(t, parser)
		assert.ErrorIs(t, err, ErrEmptyFile)
	})

	t.Run("Latin-1 input is decoded", func(t *testing.T) {
		// "Größe" in Windows-1252
		parser, err := NewCSVParser(strings.NewReader("sku;Gr\xf6\xdfe\nA1;XL\n"))
		require.NoError(t, err)
		rec, err := parser.ReadRecord()
		require.NoError(t, err)
		assert.Equal(t, []string{"sku", "Größe"}, rec.Fields)
	})

	t.Run("Invalid encoding without fallback", func(t *testing.T) {
		_, err := NewCSVParser(strings.NewReader("a,\xff\xfe\n"), WithFallbackCharset(nil))
		assert.ErrorIs(t, err, ErrInvalidEncoding)
	})

	t.Run("Explicit delimiter", func(t *testing.T) {
		parser, err := NewCSVParser(strings.NewReader("a|b\n1|2"), WithDelimiter('|'))
		require.NoError(t, err)
		rec, err := parser.ReadRecord()
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, rec.Fields)
	})
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		name string
		head string
		want rune
	}{
		{"comma", "sku,name,price\nA1,Bolt,1.00\n", ','},
		{"semicolon", "sku;name;price\nA1;Bolt;1,00\n", ';'},
		{"tab", "sku\tname\tprice\nA1\tBolt\t1.00\n", '\t'},
		{"semicolon with decimal commas", "sku;name;price\nA1;Bolt, zinc;1,00\nA2;Nut;2,00\n", ';'},
		{"quoted commas ignored", "sku;name\n\"A,1\";\"x,y,z\"\n", ';'},
		{"single column defaults to comma", "sku\nA1\n", ','},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectDelimiter([]byte(tt.head)))
		})
	}
}

func TestCSVParser_ReadRecord(t *testing.T) {
	parser, err := NewCSVParser(strings.NewReader("sku,name\n  A1 , Bolt \n\nA2,\"Nut\"\n"))
	require.NoError(t, err)

	var lines []int
	var records [][]string
	for {
		rec, err := parser.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		lines = append(lines, rec.LineNumber)
		records = append(records, rec.Fields)
	}

	assert.Equal(t, []int{1, 2, 4}, lines)
	assert.Equal(t, []string{"A1", "Bolt"}, records[1])
	assert.Equal(t, 3, parser.TotalRows())
}

func TestCSVParser_MalformedRowIsRecoverable(t *testing.T) {
	parser, err := NewCSVParser(strings.NewReader("sku,name\nA1,\"unterminated\nA2,ok\n"), WithLazyQuotes(false))
	require.NoError(t, err)

	_, err = parser.ReadRecord()
	require.NoError(t, err)

	_, err = parser.ReadRecord()
	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, ErrCodeImportMalformedRow, rowErr.Code)
	assert.Equal(t, 2, rowErr.Row)
}
