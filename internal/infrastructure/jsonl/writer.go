package jsonl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// ErrWriterClosed is returned when writing to a closed Writer
var ErrWriterClosed = errors.New("jsonl: writer is closed")

// flusher matches http.ResponseWriter and similar buffered sinks
type flusher interface {
	Flush()
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithChunkSize sets the number of items per chunk
func WithChunkSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.chunkSize = n
		}
	}
}

// WithChecksum toggles per-chunk xxhash64 checksums (enabled by default)
func WithChecksum(enabled bool) WriterOption {
	return func(w *Writer) {
		w.checksum = enabled
	}
}

// WithGzip compresses the stream at the given level
func WithGzip(level int) WriterOption {
	return func(w *Writer) {
		w.gzipLevel = level
		w.compress = true
	}
}

// Writer emits items as a chunked JSON-Lines stream. At most one chunk is
// buffered; each completed chunk is written and flushed to the sink.
type Writer struct {
	sink      io.Writer
	out       io.Writer
	gz        *gzip.Writer
	chunkSize int
	checksum  bool
	compress  bool
	gzipLevel int

	buf    bytes.Buffer
	count  int
	seq    int64
	total  int64
	closed bool
	err    error
}

// NewWriter creates a Writer on w
func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	jw := &Writer{
		sink:      w,
		out:       w,
		chunkSize: DefaultChunkSize,
		checksum:  true,
	}
	for _, opt := range opts {
		opt(jw)
	}
	if jw.compress {
		gz, err := gzip.NewWriterLevel(w, jw.gzipLevel)
		if err != nil {
			return nil, fmt.Errorf("jsonl: gzip writer: %w", err)
		}
		jw.gz = gz
		jw.out = gz
	}
	return jw, nil
}

// Write appends one item, emitting a chunk when it is full
func (w *Writer) Write(item any) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.err != nil {
		return w.err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("jsonl: marshal item %d: %w", w.total+int64(w.count)+1, err)
	}
	w.buf.Write(data)
	w.buf.WriteByte('\n')
	w.count++
	if w.count >= w.chunkSize {
		return w.flushChunk(false)
	}
	return nil
}

// Written returns the number of items accepted so far
func (w *Writer) Written() int64 {
	return w.total + int64(w.count)
}

// Close emits the final chunk marked last and closes the compressor.
// It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if w.err != nil {
		w.closed = true
		return w.err
	}
	err := w.flushChunk(true)
	w.closed = true
	if w.gz != nil {
		if cerr := w.gz.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("jsonl: close gzip: %w", cerr)
		}
		w.flushSink()
	}
	return err
}

func (w *Writer) flushChunk(last bool) error {
	w.seq++
	header := ChunkHeader{
		Seq:   w.seq,
		Count: w.count,
		Last:  last,
		Total: w.total + int64(w.count),
	}
	if w.checksum {
		header.Checksum = Checksum(w.buf.Bytes())
	}
	line, err := encodeHeader(header)
	if err != nil {
		w.err = fmt.Errorf("jsonl: encode chunk header: %w", err)
		return w.err
	}
	if _, err := w.out.Write(line); err != nil {
		w.err = fmt.Errorf("jsonl: write chunk %d: %w", header.Seq, err)
		return w.err
	}
	if _, err := w.out.Write(w.buf.Bytes()); err != nil {
		w.err = fmt.Errorf("jsonl: write chunk %d: %w", header.Seq, err)
		return w.err
	}
	w.total = header.Total
	w.count = 0
	w.buf.Reset()

	if w.gz != nil && !last {
		if err := w.gz.Flush(); err != nil {
			w.err = fmt.Errorf("jsonl: flush gzip: %w", err)
			return w.err
		}
	}
	w.flushSink()
	return nil
}

func (w *Writer) flushSink() {
	if f, ok := w.sink.(flusher); ok {
		f.Flush()
	}
}
