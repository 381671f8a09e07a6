package codec

import (
	"fmt"
	"io"
)

const (
	qtmFrameSize  = 32 << 10
	qtmFreqLimit  = 3800
	qtmFreqStep   = 8
	qtmReorderGap = 50
)

var qtmPositionBase = [42]uint32{
	0, 1, 2, 3, 4, 6, 8, 12, 16, 24, 32, 48, 64, 96, 128, 192,
	256, 384, 512, 768, 1024, 1536, 2048, 3072, 4096, 6144, 8192, 12288,
	16384, 24576, 32768, 49152, 65536, 98304, 131072, 196608,
	262144, 393216, 524288, 786432, 1048576, 1572864,
}

var qtmExtraBits = [42]uint8{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
	7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13, 14, 14,
	15, 15, 16, 16, 17, 17, 18, 18, 19, 19,
}

var qtmLengthBase = [27]uint8{
	0, 1, 2, 3, 4, 5, 6, 8, 10, 12, 14, 18, 22, 26,
	30, 38, 46, 54, 62, 78, 94, 110, 126, 158, 190, 222, 254,
}

var qtmLengthExtra = [27]uint8{
	0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
	3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0,
}

type qtmSymbol struct {
	sym     uint16
	cumfreq uint16
}

// qtmModel is an adaptive cumulative-frequency table. syms[0].cumfreq is
// the total; syms[entries] is a zero sentinel.
type qtmModel struct {
	timeToReorder int
	entries       int
	syms          []qtmSymbol
}

func newQtmModel(start, n int) *qtmModel {
	m := &qtmModel{timeToReorder: 4, entries: n, syms: make([]qtmSymbol, n+1)}
	for i := 0; i <= n; i++ {
		m.syms[i] = qtmSymbol{sym: uint16(start + i), cumfreq: uint16(n - i)}
	}
	return m
}

// update rescales the model once the total passes qtmFreqLimit. Most of the
// time the cumulative counts are halved in place; every qtmReorderGap-th time
// they are converted to frequencies, sorted descending and re-accumulated.
func (m *qtmModel) update() {
	m.timeToReorder--
	if m.timeToReorder != 0 {
		for i := m.entries - 1; i >= 0; i-- {
			m.syms[i].cumfreq >>= 1
			if m.syms[i].cumfreq <= m.syms[i+1].cumfreq {
				m.syms[i].cumfreq = m.syms[i+1].cumfreq + 1
			}
		}
		return
	}
	m.timeToReorder = qtmReorderGap
	for i := 0; i < m.entries; i++ {
		m.syms[i].cumfreq -= m.syms[i+1].cumfreq
		m.syms[i].cumfreq++
		m.syms[i].cumfreq >>= 1
	}
	// Selection-style exchange sort; its (in)stability is part of the format.
	for i := 0; i < m.entries-1; i++ {
		for j := i + 1; j < m.entries; j++ {
			if m.syms[i].cumfreq < m.syms[j].cumfreq {
				m.syms[i], m.syms[j] = m.syms[j], m.syms[i]
			}
		}
	}
	for i := m.entries - 1; i >= 0; i-- {
		m.syms[i].cumfreq += m.syms[i+1].cumfreq
	}
}

// quantumDecoder is one Quantum stream: seven selector models, the match
// length model, the arithmetic coder registers and the history window.
type quantumDecoder struct {
	br   msbBits
	size int

	window     []byte
	windowMask int
	windowPos  int
	produced   int

	literal  [4]*qtmModel
	model4   *qtmModel
	model5   *qtmModel
	model6   *qtmModel
	model6ln *qtmModel
	model7   *qtmModel

	h, l, c    uint16
	headerRead bool
}

// NewQuantumReader returns a pull-based Quantum reader. windowBits is 10..21
// and size is the total decoded length. Frames are 32 KiB; between frames the
// input must carry the 0xFF trailer byte that cabinet readers append.
func NewQuantumReader(src []byte, windowBits uint, size int) (io.Reader, error) {
	if windowBits < 10 || windowBits > 21 {
		return nil, fmt.Errorf("quantum: window bits %d: %w", windowBits, ErrUnsupported)
	}
	if size < 0 {
		return nil, fmt.Errorf("quantum: output size required: %w", ErrUnsupported)
	}
	ws := 1 << windowBits
	n := int(windowBits) * 2
	d := &quantumDecoder{
		br:         msbBits{src: src, maxPad: 2},
		size:       size,
		window:     make([]byte, ws),
		windowMask: ws - 1,
		model4:     newQtmModel(0, min(n, 24)),
		model5:     newQtmModel(0, min(n, 36)),
		model6:     newQtmModel(0, n),
		model6ln:   newQtmModel(0, 27),
		model7:     newQtmModel(0, 7),
	}
	for i := range d.literal {
		d.literal[i] = newQtmModel(i*64, 64)
	}
	return &chunkReader{c: d}, nil
}

// DecodeQuantum decodes src in full.
func DecodeQuantum(src []byte, windowBits uint, size int, limit int64) ([]byte, error) {
	r, err := NewQuantumReader(src, windowBits, size)
	if err != nil {
		return nil, err
	}
	return ReadAll(r, limit)
}

func (d *quantumDecoder) symbol(m *qtmModel) (int, error) {
	rng := uint32(d.h-d.l) + 1
	symf := ((uint32(d.c-d.l)+1)*uint32(m.syms[0].cumfreq) - 1) / rng
	symf &= 0xffff

	i := 1
	for ; i < m.entries; i++ {
		if uint32(m.syms[i].cumfreq) <= symf {
			break
		}
	}
	sym := int(m.syms[i-1].sym)

	total := uint32(m.syms[0].cumfreq)
	h := uint32(d.l) + uint32(m.syms[i-1].cumfreq)*rng/total - 1
	l := uint32(d.l) + uint32(m.syms[i].cumfreq)*rng/total
	d.h, d.l = uint16(h), uint16(l)

	for j := i - 1; j >= 0; j-- {
		m.syms[j].cumfreq += qtmFreqStep
	}
	if m.syms[0].cumfreq > qtmFreqLimit {
		m.update()
	}

	for {
		if d.h&0x8000 != d.l&0x8000 {
			if d.l&0x4000 == 0 || d.h&0x4000 != 0 {
				break
			}
			// Underflow: the interval straddles the midpoint.
			d.c ^= 0x4000
			d.l &= 0x3fff
			d.h |= 0x4000
		}
		d.l <<= 1
		d.h = d.h<<1 | 1
		b, err := d.br.bit()
		if err != nil {
			return 0, err
		}
		d.c = d.c<<1 | uint16(b)
	}
	return sym, nil
}

func (d *quantumDecoder) next() ([]byte, error) {
	if d.produced >= d.size {
		return nil, io.EOF
	}
	if !d.headerRead {
		c, err := d.br.bits(16)
		if err != nil {
			return nil, fmt.Errorf("quantum: frame header: %w", err)
		}
		d.h, d.l, d.c = 0xffff, 0, uint16(c)
		d.headerRead = true
	}

	frameSize := min(qtmFrameSize, d.size-d.produced)
	out := make([]byte, 0, frameSize)
	for len(out) < frameSize {
		sel, err := d.symbol(d.model7)
		if err != nil {
			return nil, fmt.Errorf("quantum: %w", err)
		}
		if sel < 4 {
			sym, err := d.symbol(d.literal[sel])
			if err != nil {
				return nil, fmt.Errorf("quantum: %w", err)
			}
			out = d.put(out, byte(sym))
			continue
		}

		var length int
		var offset uint32
		switch sel {
		case 4, 5:
			m := d.model4
			length = 3
			if sel == 5 {
				m, length = d.model5, 4
			}
			if offset, err = d.position(m); err != nil {
				return nil, err
			}
		case 6:
			sym, err := d.symbol(d.model6ln)
			if err != nil {
				return nil, fmt.Errorf("quantum: %w", err)
			}
			extra, err := d.br.bits(uint(qtmLengthExtra[sym]))
			if err != nil {
				return nil, fmt.Errorf("quantum: %w", err)
			}
			length = int(qtmLengthBase[sym]) + int(extra) + 5
			if offset, err = d.position(d.model6); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("quantum: selector %d: %w", sel, ErrCorrupt)
		}

		if len(out)+length > frameSize {
			return nil, fmt.Errorf("quantum: match crosses frame boundary: %w", ErrCorrupt)
		}
		if int(offset) > d.produced+len(out) || int(offset) > len(d.window) {
			return nil, fmt.Errorf("quantum: match offset %d before stream start: %w", offset, ErrCorrupt)
		}
		src := (d.windowPos - int(offset)) & d.windowMask
		for range length {
			out = d.put(out, d.window[src])
			src = (src + 1) & d.windowMask
		}
	}
	d.produced += frameSize

	if d.produced < d.size {
		// Realign to a byte and skip to the 0xFF frame trailer.
		d.br.alignByte()
		for {
			v, err := d.br.bits(8)
			if err != nil {
				return nil, fmt.Errorf("quantum: frame trailer: %w", err)
			}
			if v == 0xff {
				break
			}
		}
		d.headerRead = false
	}
	return out, nil
}

// put appends b to the frame and the history window. Windows may be smaller
// than a frame, so the window position wraps freely.
func (d *quantumDecoder) put(out []byte, b byte) []byte {
	d.window[d.windowPos] = b
	d.windowPos = (d.windowPos + 1) & d.windowMask
	return append(out, b)
}

func (d *quantumDecoder) position(m *qtmModel) (uint32, error) {
	sym, err := d.symbol(m)
	if err != nil {
		return 0, fmt.Errorf("quantum: %w", err)
	}
	if sym >= len(qtmPositionBase) {
		return 0, fmt.Errorf("quantum: position slot %d: %w", sym, ErrCorrupt)
	}
	extra, err := d.br.bits(uint(qtmExtraBits[sym]))
	if err != nil {
		return 0, fmt.Errorf("quantum: %w", err)
	}
	return qtmPositionBase[sym] + extra + 1, nil
}
