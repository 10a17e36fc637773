package ingest

import (
	"bufio"
	"errors"
	"io"

	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
)

// chunker frames a raw input stream into bounded chunks that always end on a
// record boundary. Memory is bounded by the chunk ceiling plus one record; a
// single record larger than the ceiling becomes its own oversized chunk,
// since a record can never be split across chunks.
type chunker struct {
	r        *bufio.Reader
	kind     domain.ContentKind
	maxBytes int

	buf []byte
	eof bool
}

func newChunker(r io.Reader, kind domain.ContentKind, maxBytes int) *chunker {
	return &chunker{
		r:        bufio.NewReader(r),
		kind:     kind,
		maxBytes: maxBytes,
	}
}

// Next returns the next chunk, or io.EOF when the stream is drained.
func (c *chunker) Next() (domain.RawChunk, error) {
	if c.eof && len(c.buf) == 0 {
		return domain.RawChunk{}, io.EOF
	}

	for !c.eof {
		line, err := c.r.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return domain.RawChunk{}, err
			}
			c.eof = true
		}

		if len(c.buf) > 0 && len(c.buf)+len(line) > c.maxBytes {
			chunk := c.buf
			c.buf = append([]byte(nil), line...)
			return domain.RawChunk{Data: chunk, Kind: c.kind}, nil
		}
		c.buf = append(c.buf, line...)

		if len(c.buf) >= c.maxBytes {
			chunk := c.buf
			c.buf = nil
			return domain.RawChunk{Data: chunk, Kind: c.kind}, nil
		}
	}

	chunk := c.buf
	c.buf = nil
	if len(chunk) == 0 {
		return domain.RawChunk{}, io.EOF
	}
	return domain.RawChunk{Data: chunk, Kind: c.kind}, nil
}
