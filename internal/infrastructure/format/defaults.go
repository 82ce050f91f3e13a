package format

import (
	"github.com/erp/catalog-exchange/internal/infrastructure/bmecat"
	"github.com/erp/catalog-exchange/internal/infrastructure/datanorm"
	csvimport "github.com/erp/catalog-exchange/internal/infrastructure/import"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
)

// Options configures the built-in adapters
type Options struct {
	MaxIssues       int
	SchemaDir       string
	DatanormCharset encoding.Encoding
	CSVCharset      encoding.Encoding
	Logger          *zap.Logger
}

// NewDefaultRegistry registers the BMEcat, Datanorm and CSV adapters
func NewDefaultRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	csvOpts := []csvimport.Option{csvimport.WithMaxIssues(opts.MaxIssues), csvimport.WithLogger(logger.Named("csv"))}
	if opts.CSVCharset != nil {
		csvOpts = append(csvOpts, csvimport.WithCharset(opts.CSVCharset))
	}

	return NewRegistry().MustRegister(
		bmecat.NewAdapter(
			bmecat.WithMaxIssues(opts.MaxIssues),
			bmecat.WithSchemaDir(opts.SchemaDir),
			bmecat.WithLogger(logger.Named("bmecat")),
		),
		datanorm.NewAdapter(
			datanorm.WithCharset(opts.DatanormCharset),
			datanorm.WithMaxIssues(opts.MaxIssues),
			datanorm.WithLogger(logger.Named("datanorm")),
		),
		csvimport.NewAdapter(csvOpts...),
	)
}
