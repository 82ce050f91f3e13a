package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
)

// MaxLineSize bounds a single line of the stream
const MaxLineSize = 16 * 1024 * 1024

// Summary reports what a Reader has consumed
type Summary struct {
	Chunks   int64 `json:"chunks"`
	Items    int64 `json:"items"`
	Complete bool  `json:"complete"`
}

// ReaderOption configures a Reader
type ReaderOption func(*readerConfig)

type readerConfig struct {
	gzip        bool
	maxLineSize int
}

// WithGzipInput decompresses the stream before reading
func WithGzipInput() ReaderOption {
	return func(c *readerConfig) {
		c.gzip = true
	}
}

// WithMaxLineSize overrides MaxLineSize
func WithMaxLineSize(n int) ReaderOption {
	return func(c *readerConfig) {
		if n > 0 {
			c.maxLineSize = n
		}
	}
}

// Reader consumes a chunked JSON-Lines stream and verifies its framing
type Reader struct {
	sc      *bufio.Scanner
	gz      *gzip.Reader
	line    int64
	current ChunkHeader
	left    int
	inChunk bool
	digest  *xxhash.Digest
	summary Summary
	done    bool
	err     error
}

// NewReader creates a Reader on r
func NewReader(r io.Reader, opts ...ReaderOption) (*Reader, error) {
	cfg := readerConfig{maxLineSize: MaxLineSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	jr := &Reader{digest: xxhash.New()}
	if cfg.gzip {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("jsonl: gzip reader: %w", err)
		}
		jr.gz = gz
		r = gz
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), cfg.maxLineSize)
	jr.sc = sc
	return jr, nil
}

// Next returns the next item. It returns io.EOF once the last chunk has been
// fully read; any other end of input is reported as ErrIncompleteStream.
func (r *Reader) Next(ctx context.Context) (json.RawMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.err != nil {
			return nil, r.err
		}
		if r.done {
			return nil, io.EOF
		}

		if r.inChunk && r.left == 0 {
			if err := r.finishChunk(); err != nil {
				return nil, r.fail(err)
			}
			continue
		}

		line, err := r.readLine()
		if err != nil {
			return nil, r.fail(err)
		}

		if !r.inChunk {
			if err := r.startChunk(line); err != nil {
				return nil, r.fail(err)
			}
			continue
		}

		if _, ok := decodeHeader(line); ok {
			return nil, r.fail(fmt.Errorf("%w: chunk %d ended after %d of %d items at line %d",
				erpsync.ErrIncompleteStream, r.current.Seq, r.current.Count-r.left, r.current.Count, r.line))
		}
		_, _ = r.digest.Write(line)
		_, _ = r.digest.Write([]byte{'\n'})
		r.left--
		r.summary.Items++

		item := make(json.RawMessage, len(line))
		copy(item, line)
		return item, nil
	}
}

// Summary returns the chunks and items consumed so far
func (r *Reader) Summary() Summary {
	return r.summary
}

// Close releases the decompressor, if any
func (r *Reader) Close() error {
	if r.gz != nil {
		return r.gz.Close()
	}
	return nil
}

func (r *Reader) readLine() ([]byte, error) {
	for r.sc.Scan() {
		r.line++
		line := r.sc.Bytes()
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) == 0 && !r.inChunk {
			continue
		}
		return line, nil
	}
	if err := r.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("jsonl: line %d exceeds the maximum line size: %w", r.line+1, err)
		}
		return nil, fmt.Errorf("jsonl: read: %w", err)
	}
	if r.inChunk {
		return nil, fmt.Errorf("%w: chunk %d ended after %d of %d items",
			erpsync.ErrIncompleteStream, r.current.Seq, r.current.Count-r.left, r.current.Count)
	}
	return nil, fmt.Errorf("%w: no final chunk after %d items", erpsync.ErrIncompleteStream, r.summary.Items)
}

func (r *Reader) startChunk(line []byte) error {
	header, ok := decodeHeader(line)
	if !ok {
		return fmt.Errorf("%w: expected chunk header at line %d", erpsync.ErrChunkOutOfOrder, r.line)
	}
	want := r.current.Seq + 1
	if header.Seq != want {
		return fmt.Errorf("%w: got chunk %d, want %d", erpsync.ErrChunkOutOfOrder, header.Seq, want)
	}
	if header.Count < 0 {
		return fmt.Errorf("%w: chunk %d has negative count", erpsync.ErrChunkOutOfOrder, header.Seq)
	}
	if header.Total != r.summary.Items+int64(header.Count) {
		return fmt.Errorf("%w: chunk %d declares total %d, expected %d",
			erpsync.ErrIncompleteStream, header.Seq, header.Total, r.summary.Items+int64(header.Count))
	}
	r.current = header
	r.left = header.Count
	r.inChunk = true
	r.digest.Reset()
	r.summary.Chunks++
	return nil
}

func (r *Reader) finishChunk() error {
	r.inChunk = false
	if r.current.Checksum != "" {
		want, ok := parseSum(r.current.Checksum)
		if !ok {
			return fmt.Errorf("%w: chunk %d has malformed checksum %q",
				erpsync.ErrChecksumMismatch, r.current.Seq, r.current.Checksum)
		}
		if got := r.digest.Sum64(); got != want {
			return fmt.Errorf("%w: chunk %d computed %s, declared %s",
				erpsync.ErrChecksumMismatch, r.current.Seq, formatSum(got), r.current.Checksum)
		}
	}
	if r.current.Last {
		r.done = true
		r.summary.Complete = true
	}
	return nil
}

func (r *Reader) fail(err error) error {
	r.err = err
	return err
}

// Decode reads every item of the stream into T and passes it to fn.
// The stream must end with a last chunk.
func Decode[T any](ctx context.Context, r *Reader, fn func(T) error) (Summary, error) {
	for {
		raw, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return r.Summary(), nil
		}
		if err != nil {
			return r.Summary(), err
		}
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return r.Summary(), fmt.Errorf("jsonl: decode item %d: %w", r.Summary().Items, err)
		}
		if err := fn(item); err != nil {
			return r.Summary(), err
		}
	}
}
