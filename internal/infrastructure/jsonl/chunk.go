// Package jsonl implements the chunked JSON-Lines stream used for initial
// loads. Every chunk starts with a header line followed by its item lines:
//
//	{"$chunk":{"seq":1,"count":2,"last":false,"total":2,"checksum":"xxh64:..."}}
//	{"id":"A-1",...}
//	{"id":"A-2",...}
//
// A stream is complete only when a chunk with last=true has been read.
package jsonl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ContentType is the media type of a chunked stream
const ContentType = "application/x-ndjson"

// DefaultChunkSize is the number of items per chunk when none is configured
const DefaultChunkSize = 1000

const checksumPrefix = "xxh64:"

// ChunkHeader describes the item lines that follow it
type ChunkHeader struct {
	Seq      int64  `json:"seq"`
	Count    int    `json:"count"`
	Last     bool   `json:"last"`
	Total    int64  `json:"total"`
	Checksum string `json:"checksum,omitempty"`
}

type headerLine struct {
	Chunk *ChunkHeader `json:"$chunk"`
}

var headerMarker = []byte(`{"$chunk"`)

// Checksum formats the xxhash64 of data as carried in a chunk header
func Checksum(data []byte) string {
	return formatSum(xxhash.Sum64(data))
}

func formatSum(sum uint64) string {
	return checksumPrefix + fmt.Sprintf("%016x", sum)
}

func parseSum(s string) (uint64, bool) {
	hex, ok := strings.CutPrefix(s, checksumPrefix)
	if !ok || hex == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func encodeHeader(h ChunkHeader) ([]byte, error) {
	data, err := json.Marshal(headerLine{Chunk: &h})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func decodeHeader(line []byte) (ChunkHeader, bool) {
	if !bytes.HasPrefix(bytes.TrimLeft(line, " \t"), headerMarker) {
		return ChunkHeader{}, false
	}
	var hl headerLine
	if err := json.Unmarshal(line, &hl); err != nil || hl.Chunk == nil {
		return ChunkHeader{}, false
	}
	return *hl.Chunk, true
}
