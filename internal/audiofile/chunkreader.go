package audiofile

import (
	"context"
	"io"

	"github.com/copperd/copper/internal/dispatch"
)

// ChunkIOReader adapts a dispatch.ChunkReader (the scheduler's lazy,
// context-aware byte-chunk iterator) into an ordinary io.Reader, so FLAC
// block-walking code can use bufio.Reader and friends regardless of whether
// the underlying Bytes source is an inline Array stream or an S3 object.
type ChunkIOReader struct {
	ctx     context.Context
	r       dispatch.ChunkReader
	pending []byte
	done    bool
}

// NewChunkIOReader wraps r, reading under ctx.
func NewChunkIOReader(ctx context.Context, r dispatch.ChunkReader) *ChunkIOReader {
	return &ChunkIOReader{ctx: ctx, r: r}
}

func (c *ChunkIOReader) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		if c.done {
			return 0, io.EOF
		}
		chunk, isLast, err := c.r.Next(c.ctx)
		if err != nil {
			return 0, err
		}
		c.pending = chunk
		c.done = isLast
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}
