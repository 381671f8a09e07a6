package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

const (
	mszipHistory  = 32 << 10
	mszipMaxBlock = 32 << 10
)

// mszipDecoder decodes a sequence of MSZIP blocks. Each block is "CK"
// followed by RFC 1951 data ending in a final sub-block; the last 32 KiB of
// output is handed to the next block as its dictionary.
type mszipDecoder struct {
	blocks  [][]byte
	sizes   []int
	i       int
	history []byte
}

// NewMSZIPReader returns a pull-based reader over MSZIP blocks. sizes holds the
// expected uncompressed size of each block; a nil or short sizes slice allows
// any block up to 32 KiB.
func NewMSZIPReader(blocks [][]byte, sizes []int) io.Reader {
	return &chunkReader{c: &mszipDecoder{blocks: blocks, sizes: sizes}}
}

// DecodeMSZIP decodes every block in order.
func DecodeMSZIP(blocks [][]byte, sizes []int, limit int64) ([]byte, error) {
	return ReadAll(NewMSZIPReader(blocks, sizes), limit)
}

func (d *mszipDecoder) next() ([]byte, error) {
	if d.i >= len(d.blocks) {
		return nil, io.EOF
	}
	blk := d.blocks[d.i]
	want := -1
	if d.i < len(d.sizes) {
		want = d.sizes[d.i]
	}
	idx := d.i
	d.i++

	if len(blk) < 2 || blk[0] != 'C' || blk[1] != 'K' {
		return nil, fmt.Errorf("mszip: block %d: missing CK signature: %w", idx, ErrCorrupt)
	}
	fr := flate.NewReaderDict(bytes.NewReader(blk[2:]), d.history)
	defer fr.Close()
	out, err := io.ReadAll(io.LimitReader(fr, mszipMaxBlock+1))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("mszip: block %d: %w", idx, ErrTruncated)
		}
		return nil, fmt.Errorf("mszip: block %d: %v: %w", idx, err, ErrCorrupt)
	}
	if len(out) > mszipMaxBlock {
		return nil, fmt.Errorf("mszip: block %d expands past 32 KiB: %w", idx, ErrCorrupt)
	}
	if want >= 0 && len(out) != want {
		if len(out) < want {
			return nil, fmt.Errorf("mszip: block %d: got %d of %d bytes: %w", idx, len(out), want, ErrTruncated)
		}
		return nil, fmt.Errorf("mszip: block %d: got %d bytes, want %d: %w", idx, len(out), want, ErrCorrupt)
	}

	d.history = append(d.history, out...)
	if len(d.history) > mszipHistory {
		d.history = append(d.history[:0], d.history[len(d.history)-mszipHistory:]...)
	}
	return out, nil
}
