package extract

import (
	"fmt"

	"github.com/joshuapare/protscan/internal/codec"
	"github.com/joshuapare/protscan/pkg/format"
)

// quantumTrailer is appended after every Quantum block so the decoder can
// realign at frame boundaries.
const quantumTrailer = 0xff

// Decode returns the decoded form of s, whose spans and blocks index b.
// limit bounds the output of compressed streams (<= 0 for none); stored
// streams are views of b and ignore it.
func Decode(b []byte, s format.Stream, limit int64) ([]byte, error) {
	switch s.Method {
	case format.MethodStored:
		return gather(b, s.Spans)
	case format.MethodDeflate:
		return withSpans(b, s, limit, codec.DecodeDeflate)
	case format.MethodZlib:
		return withSpans(b, s, limit, codec.DecodeZlib)
	case format.MethodGzip:
		return withSpans(b, s, limit, codec.DecodeGzip)
	case format.MethodBZip2:
		return withSpans(b, s, limit, codec.DecodeBZip2)
	case format.MethodISChunks:
		return withSpans(b, s, limit, codec.DecodeISChunks)
	case format.MethodSZDD:
		src, err := gather(b, s.Spans)
		if err != nil {
			return nil, err
		}
		return codec.DecodeSZDD(src, s.Size, limit)
	case format.MethodMSZIP:
		blocks, sizes, err := blocksOf(b, s.Blocks)
		if err != nil {
			return nil, err
		}
		return codec.DecodeMSZIP(blocks, sizes, limit)
	case format.MethodQuantum:
		src, err := joinBlocks(b, s.Blocks, true)
		if err != nil {
			return nil, err
		}
		return codec.DecodeQuantum(src, s.Window, s.Size, limit)
	case format.MethodLZX:
		src, err := joinBlocks(b, s.Blocks, false)
		if err != nil {
			return nil, err
		}
		return codec.DecodeLZX(src, s.Window, s.Size, limit)
	default:
		return nil, fmt.Errorf("method %s: %w", s.Method, codec.ErrUnsupported)
	}
}

func withSpans(b []byte, s format.Stream, limit int64, fn func([]byte, int64) ([]byte, error)) ([]byte, error) {
	src, err := gather(b, s.Spans)
	if err != nil {
		return nil, err
	}
	return fn(src, limit)
}

func check(b []byte, sp format.Span) error {
	if sp.Off < 0 || sp.Len < 0 || sp.Off > len(b) || sp.Len > len(b)-sp.Off {
		return fmt.Errorf("span %d+%d beyond %d bytes: %w", sp.Off, sp.Len, len(b), format.ErrOutOfRange)
	}
	return nil
}

// gather concatenates spans. A single span is returned without copying.
func gather(b []byte, spans []format.Span) ([]byte, error) {
	for _, sp := range spans {
		if err := check(b, sp); err != nil {
			return nil, err
		}
	}
	switch len(spans) {
	case 0:
		return nil, nil
	case 1:
		return b[spans[0].Off:spans[0].End():spans[0].End()], nil
	}
	n := 0
	for _, sp := range spans {
		n += sp.Len
	}
	out := make([]byte, 0, n)
	for _, sp := range spans {
		out = append(out, b[sp.Off:sp.End()]...)
	}
	return out, nil
}

func blocksOf(b []byte, blocks []format.Block) ([][]byte, []int, error) {
	data := make([][]byte, len(blocks))
	sizes := make([]int, len(blocks))
	for i, blk := range blocks {
		if err := check(b, blk.Span); err != nil {
			return nil, nil, err
		}
		data[i] = b[blk.Off:blk.End()]
		sizes[i] = blk.USize
	}
	return data, sizes, nil
}

func joinBlocks(b []byte, blocks []format.Block, trailer bool) ([]byte, error) {
	n := 0
	for _, blk := range blocks {
		if err := check(b, blk.Span); err != nil {
			return nil, err
		}
		n += blk.Len + 1
	}
	out := make([]byte, 0, n)
	for _, blk := range blocks {
		out = append(out, b[blk.Off:blk.End()]...)
		if trailer {
			out = append(out, quantumTrailer)
		}
	}
	return out, nil
}
