package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/erp/catalog-exchange/internal/infrastructure/datanorm"
	"github.com/erp/catalog-exchange/internal/infrastructure/format"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) registry() (*format.Registry, error) {
	charset, err := datanorm.CharsetByName(a.cfg.Import.DatanormCharset)
	if err != nil {
		return nil, err
	}
	return format.NewDefaultRegistry(format.Options{
		MaxIssues:       a.cfg.Import.MaxIssues,
		SchemaDir:       a.cfg.Import.SchemaDir,
		DatanormCharset: charset,
		Logger:          a.log.Named("format"),
	}), nil
}

func newFormatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the catalog formats this connector can read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tEXTENSIONS")
			for _, info := range reg.All() {
				fmt.Fprintf(w, "%s\t%s\t%v\n", info.ID, info.Name, info.Extensions)
			}
			return w.Flush()
		},
	}
}

func newDetectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detect <file>",
		Short: "Print the detected format of a catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			head, err := readHead(args[0])
			if err != nil {
				return err
			}
			adapter, ok := reg.Detect(head, filepath.Base(args[0]))
			if !ok {
				return catalog.ErrFormatNotDetected
			}
			info := adapter.Info()
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", info.ID, info.Name)
			return nil
		},
	}
}

func newCheckCmd(a *app) *cobra.Command {
	var (
		formatID   string
		supplierID string
		catalogID  string
		lenient    bool
	)
	cmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Parse and validate a catalog file without uploading it",
		Long: `Run a catalog file through the same adapters the server uses and print
the counts and issues. Nothing is written. The command fails when the
import would not succeed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			path := args[0]
			head, err := readHead(path)
			if err != nil {
				return err
			}
			adapter, err := reg.Resolve(formatID, head, filepath.Base(path))
			if err != nil {
				return err
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			tenantID, err := a.tenantID()
			if err != nil {
				tenantID = uuid.Nil
			}
			meta := catalog.NewCatalogMetadata(tenantID, supplierID, catalogID)
			meta.StrictMetadataMatch = !lenient && a.cfg.Import.StrictMetadataMatch

			var accepted int
			result, err := adapter.Parse(cmd.Context(), f, meta, func(_ context.Context, _ catalog.CatalogEntity) error {
				accepted++
				return nil
			})
			if result != nil {
				printResult(cmd.OutOrStdout(), result)
			}
			if err != nil {
				return err
			}
			a.log.Debug("catalog checked",
				zap.String("file", path),
				zap.String("format", result.Format),
				zap.Int("accepted", accepted))
			if !result.Success {
				return fmt.Errorf("%s: import would fail with %d error(s)", path, len(result.Errors()))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&formatID, "format", "", "format id, skips detection (see formats)")
	cmd.Flags().StringVar(&supplierID, "supplier-id", "", "expected supplier id")
	cmd.Flags().StringVar(&catalogID, "catalog-id", "", "expected catalog id")
	cmd.Flags().BoolVar(&lenient, "lenient", false, "report supplier/catalog id mismatches as warnings")
	return cmd
}

func printResult(out io.Writer, r *catalog.ImportResult) {
	fmt.Fprintf(out, "format:  %s", r.FormatName)
	if r.Version != "" {
		fmt.Fprintf(out, " %s", r.Version)
	}
	fmt.Fprintf(out, "\ntotal:   %d\nvalid:   %d\nskipped: %d\nsuccess: %t\n",
		r.TotalCount, r.ValidCount, r.SkippedCount, r.Success)
	if len(r.Issues) == 0 {
		return
	}
	fmt.Fprintln(out)
	for _, issue := range r.Issues {
		fmt.Fprintln(out, issue.String())
	}
	if r.DroppedIssues > 0 {
		fmt.Fprintf(out, "... %d more issue(s) not shown\n", r.DroppedIssues)
	}
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	head, err := bufio.NewReaderSize(f, format.DetectWindow).Peek(format.DetectWindow)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, err
	}
	return head, nil
}
