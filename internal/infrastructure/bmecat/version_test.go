package bmecat

import (
	"testing"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/stretchr/testify/assert"
)

func TestDetectVersion(t *testing.T) {
	tests := []struct {
		name string
		head string
		want string
	}{
		{"root attribute", `<?xml version="1.0"?><BMECAT version="2005.2">`, Version20052},
		{"attribute after namespace", `<BMECAT xmlns="http://www.bmecat.org/bmecat/2005" version='2005.1'>`, Version20051},
		{"namespace 1.2", `<BMECAT xmlns="http://www.bmecat.org/bmecat/1.2/bmecat_new_catalog">`, Version12},
		{"namespace 2005", `<BMECAT xmlns="http://www.bmecat.org/bmecat/2005">`, Version2005},
		{"prolog version is ignored", `<?xml version="1.0"?><BMECAT>`, ""},
		{"no marker", `<catalog/>`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectVersion([]byte(tt.head)))
		})
	}
}

func TestIsSupported(t *testing.T) {
	for _, v := range SupportedVersions {
		assert.True(t, IsSupported(v), v)
	}
	assert.False(t, IsSupported("3.0"))
	assert.False(t, IsSupported(""))
}

func TestAdapter_Detect(t *testing.T) {
	a := NewAdapter()
	tests := []struct {
		name string
		head string
		want catalog.Confidence
	}{
		{"root element", `<?xml version="1.0"?><BMECAT version="1.2">`, confidenceRoot},
		{"root element after BOM", "\xEF\xBB\xBF<BMECAT version=\"1.2\">", confidenceRoot},
		{"namespace only", `<?xml version="1.0"?><bc:X xmlns:bc="http://www.bmecat.org/bmecat/2005">`, catalog.ConfidenceHigh},
		{"other xml", `<?xml version="1.0"?><feed/>`, catalog.ConfidenceLow},
		{"csv", "sku;name\nA1;Bolt\n", catalog.ConfidenceNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Detect([]byte(tt.head), "catalog.xml"))
		})
	}
}
