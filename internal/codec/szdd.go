package codec

import (
	"fmt"
	"io"
)

const (
	szddWindowSize = 4096
	szddWindowMask = szddWindowSize - 1
	szddStartPos   = szddWindowSize - 16
	szddChunk      = 16 << 10
)

// szddDecoder expands the LZSS variant used by COMPRESS.EXE ("SZDD"). Each
// control byte is consumed least significant bit first: a set bit is a
// literal, a clear bit a 12-bit window position and a 4-bit length (+3).
type szddDecoder struct {
	src    []byte
	pos    int
	size   int // expected output, -1 if unknown
	done   int
	window [szddWindowSize]byte
	wpos   int

	control  uint8
	bitsLeft int
}

// NewSZDDReader returns a pull-based reader over the compressed payload that
// follows an SZDD header. size is the expanded length from the header, or -1.
func NewSZDDReader(src []byte, size int) io.Reader {
	d := &szddDecoder{src: src, size: size, wpos: szddStartPos}
	for i := range d.window {
		d.window[i] = ' '
	}
	return &chunkReader{c: d}
}

// DecodeSZDD expands src in full.
func DecodeSZDD(src []byte, size int, limit int64) ([]byte, error) {
	return ReadAll(NewSZDDReader(src, size), limit)
}

func (d *szddDecoder) put(out []byte, c byte) []byte {
	d.window[d.wpos] = c
	d.wpos = (d.wpos + 1) & szddWindowMask
	d.done++
	return append(out, c)
}

func (d *szddDecoder) finished() bool {
	return d.size >= 0 && d.done >= d.size
}

func (d *szddDecoder) next() ([]byte, error) {
	if d.finished() {
		return nil, io.EOF
	}
	out := make([]byte, 0, szddChunk+18)
	for len(out) < szddChunk && !d.finished() {
		if d.bitsLeft == 0 {
			if d.pos >= len(d.src) {
				break
			}
			d.control = d.src[d.pos]
			d.pos++
			d.bitsLeft = 8
		}
		literal := d.control&1 != 0
		d.control >>= 1
		d.bitsLeft--

		if literal {
			if d.pos >= len(d.src) {
				break
			}
			out = d.put(out, d.src[d.pos])
			d.pos++
			continue
		}
		if d.pos+2 > len(d.src) {
			if d.pos == len(d.src) {
				break
			}
			return nil, fmt.Errorf("szdd: match token at %d: %w", d.pos, ErrTruncated)
		}
		b1, b2 := int(d.src[d.pos]), int(d.src[d.pos+1])
		d.pos += 2
		off := b1 | (b2&0xf0)<<4
		n := b2&0x0f + 3
		for i := 0; i < n && !d.finished(); i++ {
			out = d.put(out, d.window[(off+i)&szddWindowMask])
		}
	}
	if len(out) == 0 {
		if d.size >= 0 && d.done < d.size {
			return nil, fmt.Errorf("szdd: expanded %d of %d bytes: %w", d.done, d.size, ErrTruncated)
		}
		return nil, io.EOF
	}
	return out, nil
}
