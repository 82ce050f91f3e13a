package catalog

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeLimitedReader(t *testing.T) {
	t.Run("exact size is accepted", func(t *testing.T) {
		r := NewSizeLimitedReader(bytes.NewReader(make([]byte, 64)), 64)
		n, err := io.Copy(io.Discard, r)
		assert.NoError(t, err)
		assert.Equal(t, int64(64), n)
		assert.Equal(t, int64(64), r.BytesRead())
	})

	t.Run("one byte over is rejected", func(t *testing.T) {
		r := NewSizeLimitedReader(bytes.NewReader(make([]byte, 65)), 64)
		_, err := io.Copy(io.Discard, r)
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})

	t.Run("small reads", func(t *testing.T) {
		r := NewSizeLimitedReader(bytes.NewReader(make([]byte, 10)), 4)
		buf := make([]byte, 3)
		_, err := r.Read(buf)
		assert.NoError(t, err)
		_, err = r.Read(buf)
		assert.ErrorIs(t, err, ErrFileTooLarge)
		_, err = r.Read(buf)
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})
}
