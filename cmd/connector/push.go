package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/infrastructure/syncclient"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type batchPusher interface {
	PushBatch(ctx context.Context, req erpsync.BatchWriteRequest[json.RawMessage]) (*erpsync.BatchWriteResponse, error)
}

// pushOptions describe one push run
type pushOptions struct {
	tenantID        uuid.UUID
	entityType      erpsync.EntityType
	mode            erpsync.WriteMode
	batchSize       int
	continueOnError bool
	// runID prefixes the per-batch correlation ids. Re-running with the same
	// id replays batches the server already applied.
	runID string
}

// pushResult sums the batch responses of a run
type pushResult struct {
	Batches  int
	Success  int
	Failed   int
	Inserted int
	Updated  int
	Skipped  int
	// Replayed counts batches the server had already applied
	Replayed int
	Errors   []erpsync.BatchItemError
}

func newPushCmd(a *app) *cobra.Command {
	var (
		mode      string
		batchSize int
		stopOnErr bool
		runID     string
	)
	cmd := &cobra.Command{
		Use:   "push <entity-type> <file.jsonl|->",
		Short: "Write items from a JSON-Lines file to the server in batches",
		Long: `Write one item per line to the server in batches.

Every batch carries the correlation id <run-id>:<n>. Repeating a run with
the same --run-id is safe: the server rejects batches it already applied
and they are counted as replayed instead of being written twice.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := parseEntityTypes(args[:1])
			if err != nil {
				return err
			}
			wm := erpsync.WriteMode(mode)
			if !wm.IsValid() {
				return fmt.Errorf("unknown mode %q", mode)
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			tenantID, _ := a.tenantID()

			in, name, err := openInput(cmd, args[1])
			if err != nil {
				return err
			}
			defer in.Close()

			if batchSize <= 0 {
				batchSize = a.cfg.Connector.BatchSize
			}
			if runID == "" {
				runID = "push:" + correlationSafe(name) + ":" + uuid.NewString()[:8]
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			res, err := pushItems(ctx, client, in, pushOptions{
				tenantID:        tenantID,
				entityType:      types[0],
				mode:            wm,
				batchSize:       batchSize,
				continueOnError: !stopOnErr,
				runID:           runID,
			}, a.log.Named("push"))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s: %d batches (%d replayed), %d written (%d inserted, %d updated, %d unchanged), %d failed\n",
				runID, res.Batches, res.Replayed, res.Success, res.Inserted, res.Updated, res.Skipped, res.Failed)
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  item %d %s: %s %s\n", e.Index, e.ID, e.Code, e.Message)
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d items failed", res.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(erpsync.WriteUpsert), "insert, update or upsert")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "items per batch (default: connector.batch_size)")
	cmd.Flags().BoolVar(&stopOnErr, "stop-on-error", false, "abort a batch at its first failing item")
	cmd.Flags().StringVar(&runID, "run-id", "", "correlation id prefix, reuse it to resume a run")
	return cmd
}

func alreadyApplied(err error) bool {
	var apiErr *syncclient.APIError
	return errors.As(err, &apiErr) && apiErr.Code == "ALREADY_EXISTS"
}

// correlationSafe maps s onto the characters a correlation id may carry
func correlationSafe(s string) string {
	out := []rune(s)
	if len(out) > 64 {
		out = out[:64]
	}
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			out[i] = '-'
		}
	}
	return string(out)
}

func openInput(cmd *cobra.Command, path string) (io.ReadCloser, string, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), "stdin", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	return f, filepath.Base(path), nil
}

// pushItems sends the lines of r in batches. Blank lines are skipped.
// Item indexes in the result count items across the whole input.
func pushItems(ctx context.Context, p batchPusher, r io.Reader, opts pushOptions, log *zap.Logger) (*pushResult, error) {
	if opts.batchSize <= 0 {
		opts.batchSize = 100
	}
	res := &pushResult{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	batch := make([]json.RawMessage, 0, opts.batchSize)
	offset := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res.Batches++
		continueOnError := opts.continueOnError
		bctx := syncclient.WithCorrelationID(ctx, fmt.Sprintf("%s:%d", opts.runID, res.Batches))
		resp, err := p.PushBatch(bctx, erpsync.BatchWriteRequest[json.RawMessage]{
			TenantID:        opts.tenantID,
			EntityType:      opts.entityType,
			Items:           batch,
			Mode:            opts.mode,
			ContinueOnError: &continueOnError,
		})
		if alreadyApplied(err) {
			res.Replayed++
			log.Info("Batch already applied", zap.Int("batch", res.Batches))
			offset += len(batch)
			batch = make([]json.RawMessage, 0, opts.batchSize)
			return nil
		}
		if err != nil {
			return fmt.Errorf("batch %d: %w", res.Batches, err)
		}
		res.Success += resp.SuccessCount
		res.Failed += resp.ErrorCount
		res.Inserted += resp.InsertedCount
		res.Updated += resp.UpdatedCount
		res.Skipped += resp.SkippedCount
		for _, e := range resp.Errors {
			e.Index += offset
			res.Errors = append(res.Errors, e)
		}
		log.Debug("Batch pushed",
			zap.Int("batch", res.Batches),
			zap.Int("items", len(batch)),
			zap.Int("errors", resp.ErrorCount))
		offset += len(batch)
		batch = make([]json.RawMessage, 0, opts.batchSize)
		return nil
	}

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return res, fmt.Errorf("line %d is not valid JSON", lineNo)
		}
		batch = append(batch, append(json.RawMessage(nil), line...))
		if len(batch) == opts.batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("read input: %w", err)
	}
	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}
