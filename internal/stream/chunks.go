package stream

import (
	"errors"
	"io"
	"iter"
)

// ChunkReader splits a response body into fixed-size chunks. Every chunk is
// exactly size bytes long except the last one, which may be shorter.
type ChunkReader struct {
	r    io.Reader
	size int
	err  error
}

// NewChunkReader wraps r. size must be positive.
func NewChunkReader(r io.Reader, size int) *ChunkReader {
	return &ChunkReader{r: r, size: size}
}

// Size returns the nominal chunk size.
func (c *ChunkReader) Size() int { return c.size }

// Chunks returns a single-use iterator over the body. The yielded slice is
// reused and is only valid until the next iteration.
func (c *ChunkReader) Chunks() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if c.size <= 0 {
			c.err = errors.New("stream: chunk size must be positive")
			return
		}
		buf := make([]byte, c.size)
		for {
			n, err := c.fill(buf)
			if n > 0 && !yield(buf[:n]) {
				return
			}
			if err != nil {
				if err != io.EOF {
					c.err = err
				}
				return
			}
		}
	}
}

// fill reads until buf is full or the source fails. Only a clean io.EOF from
// the source ends the stream; any other error, io.ErrUnexpectedEOF included,
// is a truncated body.
func (c *ChunkReader) fill(buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := c.r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Err reports the first read error other than end of stream.
func (c *ChunkReader) Err() error { return c.err }
