package codec

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	lzxFrameSize     = 32 << 10
	lzxNumChars      = 256
	lzxMinMatch      = 2
	lzxPrimaryLens   = 7
	lzxSecondaryLens = 249
	lzxPretreeSyms   = 20
	lzxAlignedSyms   = 8
	lzxMaxCodeLen    = 16

	lzxBlockVerbatim     = 1
	lzxBlockAligned      = 2
	lzxBlockUncompressed = 3
)

// Position slots by window size, 2^15 .. 2^21.
var lzxPositionSlots = [...]int{30, 32, 34, 36, 38, 42, 50}

var lzxExtraBits, lzxPositionBase = func() (extra [51]uint8, base [51]uint32) {
	j := uint8(0)
	for i := 0; i < 51; i += 2 {
		extra[i] = j
		if i+1 < 51 {
			extra[i+1] = j
		}
		if i != 0 && j < 17 {
			j++
		}
	}
	var b uint32
	for i := range base {
		base[i] = b
		b += 1 << extra[i]
	}
	return extra, base
}()

// lzxDecoder holds the state of one LZX stream: the history window, the
// code lengths that persist between blocks and the repeated-offset queue.
type lzxDecoder struct {
	br   lzxBits
	size int // total expected output

	window     []byte
	windowMask int
	windowPos  int
	produced   int
	slots      int

	mainLens   []uint8
	lengthLens []uint8
	mainTree   *huffman
	lengthTree *huffman
	alignTree  *huffman

	r0, r1, r2 uint32

	headerRead     bool
	intelFileSize  int32
	intelStarted   bool
	intelCurPos    int32
	blockType      int
	blockLength    int
	blockRemaining int
	frame          int
}

// NewLZXReader returns a pull-based LZX reader. windowBits must be 15..21 and
// size is the total decoded length (LZX streams do not record it).
func NewLZXReader(src []byte, windowBits uint, size int) (io.Reader, error) {
	if windowBits < 15 || windowBits > 21 {
		return nil, fmt.Errorf("lzx: window bits %d: %w", windowBits, ErrUnsupported)
	}
	if size < 0 {
		return nil, fmt.Errorf("lzx: output size required: %w", ErrUnsupported)
	}
	ws := 1 << windowBits
	slots := lzxPositionSlots[windowBits-15]
	d := &lzxDecoder{
		br:         lzxBits{src: src},
		size:       size,
		window:     make([]byte, ws),
		windowMask: ws - 1,
		slots:      slots,
		mainLens:   make([]uint8, lzxNumChars+slots*8),
		lengthLens: make([]uint8, lzxSecondaryLens),
		r0:         1,
		r1:         1,
		r2:         1,
	}
	return &chunkReader{c: d}, nil
}

// DecodeLZX decodes src in full.
func DecodeLZX(src []byte, windowBits uint, size int, limit int64) ([]byte, error) {
	r, err := NewLZXReader(src, windowBits, size)
	if err != nil {
		return nil, err
	}
	return ReadAll(r, limit)
}

func (d *lzxDecoder) next() ([]byte, error) {
	if d.produced >= d.size {
		return nil, io.EOF
	}
	br := &d.br
	if !d.headerRead {
		flag, err := br.bit()
		if err != nil {
			return nil, fmt.Errorf("lzx: header: %w", err)
		}
		if flag != 0 {
			hi, err := br.bits(16)
			if err != nil {
				return nil, err
			}
			lo, err := br.bits(16)
			if err != nil {
				return nil, err
			}
			d.intelFileSize = int32(hi<<16 | lo)
		}
		d.headerRead = true
	}

	frameSize := min(lzxFrameSize, d.size-d.produced)
	frameStart := d.windowPos
	todo := frameSize
	for todo > 0 {
		if d.blockRemaining == 0 {
			if err := d.readBlockHeader(); err != nil {
				return nil, err
			}
		}
		run := min(d.blockRemaining, todo)
		var err error
		switch d.blockType {
		case lzxBlockVerbatim, lzxBlockAligned:
			run, err = d.decodeMatches(run)
		case lzxBlockUncompressed:
			err = d.copyRaw(run)
		}
		if err != nil {
			return nil, err
		}
		todo -= run
		d.blockRemaining -= run
		if d.blockRemaining < 0 {
			return nil, fmt.Errorf("lzx: match overran block: %w", ErrCorrupt)
		}
	}
	if todo < 0 {
		return nil, fmt.Errorf("lzx: match crossed frame boundary: %w", ErrCorrupt)
	}
	br.alignWord()

	out := make([]byte, frameSize)
	copy(out, d.window[frameStart:frameStart+frameSize])
	if d.windowPos == len(d.window) {
		d.windowPos = 0
	}
	if d.intelStarted && d.intelFileSize != 0 && d.frame < 32768 && frameSize > 10 {
		d.translateE8(out)
	}
	d.intelCurPos += int32(frameSize)
	d.frame++
	d.produced += frameSize
	return out, nil
}

func (d *lzxDecoder) readBlockHeader() error {
	br := &d.br
	if d.blockType == lzxBlockUncompressed && d.blockLength&1 != 0 {
		if _, err := br.rawBytes(1); err != nil {
			return fmt.Errorf("lzx: pad byte: %w", err)
		}
	}
	bt, err := br.bits(3)
	if err != nil {
		return err
	}
	hi, err := br.bits(16)
	if err != nil {
		return err
	}
	lo, err := br.bits(8)
	if err != nil {
		return err
	}
	d.blockType = int(bt)
	d.blockLength = int(hi<<8 | lo)
	d.blockRemaining = d.blockLength

	switch d.blockType {
	case lzxBlockAligned:
		lens := make([]uint8, lzxAlignedSyms)
		for i := range lens {
			v, err := br.bits(3)
			if err != nil {
				return err
			}
			lens[i] = uint8(v)
		}
		if d.alignTree, err = newHuffman(lens, 7); err != nil {
			return fmt.Errorf("lzx: aligned tree: %w", err)
		}
		fallthrough
	case lzxBlockVerbatim:
		if err := d.readLengths(d.mainLens, 0, lzxNumChars); err != nil {
			return err
		}
		if err := d.readLengths(d.mainLens, lzxNumChars, len(d.mainLens)); err != nil {
			return err
		}
		if d.mainTree, err = newHuffman(d.mainLens, lzxMaxCodeLen); err != nil {
			return fmt.Errorf("lzx: main tree: %w", err)
		}
		if d.mainTree.empty {
			return fmt.Errorf("lzx: empty main tree: %w", ErrCorrupt)
		}
		if d.mainLens[0xe8] != 0 {
			d.intelStarted = true
		}
		if err := d.readLengths(d.lengthLens, 0, lzxSecondaryLens); err != nil {
			return err
		}
		// The length tree may legitimately be empty.
		if d.lengthTree, err = newHuffman(d.lengthLens, lzxMaxCodeLen); err != nil {
			return fmt.Errorf("lzx: length tree: %w", err)
		}
	case lzxBlockUncompressed:
		d.intelStarted = true
		if err := br.enterRaw(); err != nil {
			return err
		}
		hdr, err := br.rawBytes(12)
		if err != nil {
			return fmt.Errorf("lzx: repeated offsets: %w", err)
		}
		d.r0 = binary.LittleEndian.Uint32(hdr[0:])
		d.r1 = binary.LittleEndian.Uint32(hdr[4:])
		d.r2 = binary.LittleEndian.Uint32(hdr[8:])
	default:
		return fmt.Errorf("lzx: block type %d: %w", d.blockType, ErrCorrupt)
	}
	return nil
}

// readLengths reads a pretree and uses it to delta-code lens[first:last]
// against the lengths of the previous block.
func (d *lzxDecoder) readLengths(lens []uint8, first, last int) error {
	br := &d.br
	pre := make([]uint8, lzxPretreeSyms)
	for i := range pre {
		v, err := br.bits(4)
		if err != nil {
			return err
		}
		pre[i] = uint8(v)
	}
	pretree, err := newHuffman(pre, lzxMaxCodeLen)
	if err != nil {
		return fmt.Errorf("lzx: pretree: %w", err)
	}
	for x := first; x < last; {
		z, err := pretree.decode(br)
		if err != nil {
			return fmt.Errorf("lzx: pretree: %w", err)
		}
		switch z {
		case 17, 18:
			nb, add := uint(4), 4
			if z == 18 {
				nb, add = 5, 20
			}
			y, err := br.bits(nb)
			if err != nil {
				return err
			}
			n := int(y) + add
			if x+n > last {
				return fmt.Errorf("lzx: zero run past table end: %w", ErrCorrupt)
			}
			for ; n > 0; n-- {
				lens[x] = 0
				x++
			}
		case 19:
			y, err := br.bits(1)
			if err != nil {
				return err
			}
			n := int(y) + 4
			if x+n > last {
				return fmt.Errorf("lzx: length run past table end: %w", ErrCorrupt)
			}
			z, err = pretree.decode(br)
			if err != nil {
				return fmt.Errorf("lzx: pretree: %w", err)
			}
			if z > 16 {
				return fmt.Errorf("lzx: run delta %d: %w", z, ErrCorrupt)
			}
			v := uint8((int(lens[x]) - z + 17) % 17)
			for ; n > 0; n-- {
				lens[x] = v
				x++
			}
		default:
			lens[x] = uint8((int(lens[x]) - z + 17) % 17)
			x++
		}
	}
	return nil
}

// decodeMatches decodes at least want bytes of a verbatim or aligned block
// and returns how many were produced (a final match may overshoot).
func (d *lzxDecoder) decodeMatches(want int) (int, error) {
	br := &d.br
	done := 0
	for done < want {
		sym, err := d.mainTree.decode(br)
		if err != nil {
			return 0, fmt.Errorf("lzx: main tree: %w", err)
		}
		if sym < lzxNumChars {
			d.window[d.windowPos] = byte(sym)
			d.windowPos++
			done++
			continue
		}
		sym -= lzxNumChars

		length := sym & lzxPrimaryLens
		if length == lzxPrimaryLens {
			if d.lengthTree.empty {
				return 0, fmt.Errorf("lzx: length symbol needed but tree is empty: %w", ErrCorrupt)
			}
			extra, err := d.lengthTree.decode(br)
			if err != nil {
				return 0, fmt.Errorf("lzx: length tree: %w", err)
			}
			length += extra
		}
		length += lzxMinMatch

		var offset uint32
		switch slot := sym >> 3; slot {
		case 0:
			offset = d.r0
		case 1:
			offset = d.r1
			d.r1, d.r0 = d.r0, offset
		case 2:
			offset = d.r2
			d.r2, d.r0 = d.r0, offset
		case 3:
			offset = 1
			d.r2, d.r1, d.r0 = d.r1, d.r0, offset
		default:
			if offset, err = d.slotOffset(slot); err != nil {
				return 0, err
			}
			d.r2, d.r1, d.r0 = d.r1, d.r0, offset
		}

		if d.windowPos+length > len(d.window) {
			return 0, fmt.Errorf("lzx: match runs over window wrap: %w", ErrCorrupt)
		}
		if offset == 0 || int(offset) > len(d.window) || int(offset) > d.produced+d.windowPos-d.frameBase() {
			return 0, fmt.Errorf("lzx: match offset %d before stream start: %w", offset, ErrCorrupt)
		}
		src := (d.windowPos - int(offset)) & d.windowMask
		for i := 0; i < length; i++ {
			d.window[d.windowPos] = d.window[src]
			d.windowPos++
			src = (src + 1) & d.windowMask
		}
		done += length
	}
	return done, nil
}

// frameBase is the window position of the current frame's first byte.
func (d *lzxDecoder) frameBase() int {
	return d.produced & d.windowMask
}

func (d *lzxDecoder) slotOffset(slot int) (uint32, error) {
	br := &d.br
	if slot >= len(lzxPositionBase) {
		return 0, fmt.Errorf("lzx: position slot %d: %w", slot, ErrCorrupt)
	}
	extra := uint(lzxExtraBits[slot])
	offset := lzxPositionBase[slot] - 2
	if d.blockType != lzxBlockAligned {
		v, err := br.bits(extra)
		if err != nil {
			return 0, err
		}
		return offset + v, nil
	}
	switch {
	case extra > 3:
		v, err := br.bits(extra - 3)
		if err != nil {
			return 0, err
		}
		a, err := d.alignTree.decode(br)
		if err != nil {
			return 0, fmt.Errorf("lzx: aligned tree: %w", err)
		}
		return offset + v<<3 + uint32(a), nil
	case extra == 3:
		a, err := d.alignTree.decode(br)
		if err != nil {
			return 0, fmt.Errorf("lzx: aligned tree: %w", err)
		}
		return offset + uint32(a), nil
	case extra > 0:
		v, err := br.bits(extra)
		if err != nil {
			return 0, err
		}
		return offset + v, nil
	default:
		return 1, nil
	}
}

func (d *lzxDecoder) copyRaw(n int) error {
	raw, err := d.br.rawBytes(n)
	if err != nil {
		return fmt.Errorf("lzx: uncompressed block: %w", err)
	}
	if d.windowPos+n > len(d.window) {
		return fmt.Errorf("lzx: uncompressed run over window wrap: %w", ErrCorrupt)
	}
	copy(d.window[d.windowPos:], raw)
	d.windowPos += n
	return nil
}

// translateE8 undoes the x86 CALL preprocessing on one output frame.
func (d *lzxDecoder) translateE8(data []byte) {
	curPos := d.intelCurPos
	fileSize := d.intelFileSize
	end := len(data) - 10
	for i := 0; i < end; {
		if data[i] != 0xe8 {
			i++
			curPos++
			continue
		}
		abs := int32(binary.LittleEndian.Uint32(data[i+1:]))
		if abs >= -curPos && abs < fileSize {
			var rel int32
			if abs >= 0 {
				rel = abs - curPos
			} else {
				rel = abs + fileSize
			}
			binary.LittleEndian.PutUint32(data[i+1:], uint32(rel))
		}
		i += 5
		curPos += 5
	}
}
