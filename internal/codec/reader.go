package codec

import (
	"fmt"
	"io"
)

// chunker produces decoded output one block or frame at a time and returns
// io.EOF once the stream is complete.
type chunker interface {
	next() ([]byte, error)
}

// chunkReader adapts a chunker to io.Reader so every codec is pull-based:
// nothing is decoded until the caller asks for bytes.
type chunkReader struct {
	c       chunker
	pending []byte
	err     error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.pending, r.err = r.c.next()
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// ReadAll drains r, failing with ErrTooLarge once more than limit bytes are
// produced. A limit <= 0 disables the check.
func ReadAll(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return out, err
	}
	if int64(len(out)) > limit {
		return out[:limit], fmt.Errorf("more than %d bytes: %w", limit, ErrTooLarge)
	}
	return out, nil
}
