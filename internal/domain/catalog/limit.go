package catalog

import "io"

// SizeLimitedReader fails with ErrFileTooLarge once more than Max bytes
// have been read. Reading exactly Max bytes is allowed.
type SizeLimitedReader struct {
	r    io.Reader
	max  int64
	read int64
}

// NewSizeLimitedReader wraps r with a byte ceiling
func NewSizeLimitedReader(r io.Reader, max int64) *SizeLimitedReader {
	return &SizeLimitedReader{r: r, max: max}
}

// Read implements io.Reader
func (s *SizeLimitedReader) Read(p []byte) (int, error) {
	if s.read > s.max {
		return 0, ErrFileTooLarge
	}
	// read one byte past the ceiling so an exact-size input still reaches EOF
	if room := s.max - s.read + 1; int64(len(p)) > room {
		p = p[:room]
	}
	n, err := s.r.Read(p)
	s.read += int64(n)
	if s.read > s.max {
		return n, ErrFileTooLarge
	}
	return n, err
}

// BytesRead returns the number of bytes consumed so far
func (s *SizeLimitedReader) BytesRead() int64 {
	return s.read
}
