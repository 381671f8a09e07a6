package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// inflateErr classifies errors from the klauspost readers.
func inflateErr(name string, err error) error {
	var ce flate.CorruptInputError
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%s: %w", name, ErrTruncated)
	case errors.As(err, &ce), errors.Is(err, zlib.ErrHeader), errors.Is(err, zlib.ErrChecksum),
		errors.Is(err, gzip.ErrHeader), errors.Is(err, gzip.ErrChecksum):
		return fmt.Errorf("%s: %v: %w", name, err, ErrCorrupt)
	default:
		return fmt.Errorf("%s: %w", name, err)
	}
}

// DecodeDeflate inflates a raw RFC 1951 stream.
func DecodeDeflate(src []byte, limit int64) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(src))
	defer fr.Close()
	out, err := ReadAll(fr, limit)
	if err != nil {
		return out, inflateErr("deflate", err)
	}
	return out, nil
}

// DecodeZlib inflates an RFC 1950 stream and checks its Adler-32.
func DecodeZlib(src []byte, limit int64) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, inflateErr("zlib", err)
	}
	defer zr.Close()
	out, err := ReadAll(zr, limit)
	if err != nil {
		return out, inflateErr("zlib", err)
	}
	return out, nil
}

// DecodeGzip decodes every member of a gzip stream.
func DecodeGzip(src []byte, limit int64) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, inflateErr("gzip", err)
	}
	defer gr.Close()
	out, err := ReadAll(gr, limit)
	if err != nil {
		return out, inflateErr("gzip", err)
	}
	return out, nil
}

// isChunkDecoder decodes InstallShield compressed file data: a sequence of
// u16 little-endian lengths, each followed by a complete raw deflate stream.
type isChunkDecoder struct {
	src []byte
	pos int
	n   int
}

// NewISChunksReader returns a pull-based reader over InstallShield chunks.
func NewISChunksReader(src []byte) io.Reader {
	return &chunkReader{c: &isChunkDecoder{src: src}}
}

// DecodeISChunks decodes every chunk of src.
func DecodeISChunks(src []byte, limit int64) ([]byte, error) {
	return ReadAll(NewISChunksReader(src), limit)
}

func (d *isChunkDecoder) next() ([]byte, error) {
	if d.pos == len(d.src) {
		return nil, io.EOF
	}
	if len(d.src)-d.pos < 2 {
		return nil, fmt.Errorf("iscab chunk %d: length: %w", d.n, ErrTruncated)
	}
	size := int(binary.LittleEndian.Uint16(d.src[d.pos:]))
	d.pos += 2
	if size > len(d.src)-d.pos {
		return nil, fmt.Errorf("iscab chunk %d: %d bytes: %w", d.n, size, ErrTruncated)
	}
	chunk := d.src[d.pos : d.pos+size]
	d.pos += size
	idx := d.n
	d.n++

	fr := flate.NewReader(bytes.NewReader(chunk))
	defer fr.Close()
	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, inflateErr(fmt.Sprintf("iscab chunk %d", idx), err)
	}
	return out, nil
}
