package codec

import (
	"fmt"
	"io"
)

const (
	bzBlockMagic = 0x314159265359
	bzEndMagic   = 0x177245385090

	bzMaxGroups    = 6
	bzMaxSelectors = 18002
	bzGroupSize    = 50
	bzMaxCodeLen   = 20
)

var bzCRCTable = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for range 8 {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04c11db7
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

func bzCRCUpdate(crc uint32, b byte) uint32 {
	return crc<<8 ^ bzCRCTable[byte(crc>>24)^b]
}

// bzip2Decoder decodes one or more concatenated bzip2 streams, one block per
// call to next.
type bzip2Decoder struct {
	br       msbBits
	inStream bool
	blockMax int
	combined uint32
	tt       []uint32 // BWT vector: low byte = symbol, high 24 bits = next index
}

// NewBZip2Reader returns a pull-based reader that decodes src block by block.
// Block and stream CRCs are verified.
func NewBZip2Reader(src []byte) io.Reader {
	return &chunkReader{c: &bzip2Decoder{br: msbBits{src: src}}}
}

// DecodeBZip2 decodes src in full. limit bounds the output size (<= 0 for none).
func DecodeBZip2(src []byte, limit int64) ([]byte, error) {
	return ReadAll(NewBZip2Reader(src), limit)
}

func (d *bzip2Decoder) next() ([]byte, error) {
	for {
		if !d.inStream {
			if err := d.streamHeader(); err != nil {
				return nil, err
			}
		}
		hi, err := d.br.bits(24)
		if err != nil {
			return nil, err
		}
		lo, err := d.br.bits(24)
		if err != nil {
			return nil, err
		}
		switch uint64(hi)<<24 | uint64(lo) {
		case bzBlockMagic:
			return d.block()
		case bzEndMagic:
			want, err := d.br.bits(32)
			if err != nil {
				return nil, err
			}
			if want != d.combined {
				return nil, fmt.Errorf("bzip2: stream crc %08x, computed %08x: %w", want, d.combined, ErrChecksum)
			}
			d.br.alignByte()
			d.inStream = false
		default:
			return nil, fmt.Errorf("bzip2: bad block magic: %w", ErrCorrupt)
		}
	}
}

// streamHeader reads "BZh1".."BZh9". Once at least one stream has been
// decoded, trailing bytes that do not start another stream end decoding.
func (d *bzip2Decoder) streamHeader() error {
	first := d.br.pos == 0
	rest := d.br.src[d.br.pos:]
	if len(rest) < 4 || rest[0] != 'B' || rest[1] != 'Z' || rest[2] != 'h' || rest[3] < '1' || rest[3] > '9' {
		if first {
			return fmt.Errorf("bzip2: bad stream header: %w", ErrCorrupt)
		}
		return io.EOF
	}
	d.br.pos += 4
	d.blockMax = int(rest[3]-'0') * 100000
	if cap(d.tt) < d.blockMax {
		d.tt = make([]uint32, 0, d.blockMax)
	}
	d.combined = 0
	d.inStream = true
	return nil
}

func (d *bzip2Decoder) block() ([]byte, error) {
	br := &d.br
	wantCRC, err := br.bits(32)
	if err != nil {
		return nil, err
	}
	randomised, err := br.bit()
	if err != nil {
		return nil, err
	}
	if randomised != 0 {
		return nil, fmt.Errorf("bzip2: randomised blocks: %w", ErrUnsupported)
	}
	origPtr, err := br.bits(24)
	if err != nil {
		return nil, err
	}

	// Symbol map: 16 groups of 16 byte values.
	var seqToUnseq [256]byte
	nInUse := 0
	groups, err := br.bits(16)
	if err != nil {
		return nil, err
	}
	for i := range 16 {
		if groups&(0x8000>>i) == 0 {
			continue
		}
		w, err := br.bits(16)
		if err != nil {
			return nil, err
		}
		for j := range 16 {
			if w&(0x8000>>j) != 0 {
				seqToUnseq[nInUse] = byte(i*16 + j)
				nInUse++
			}
		}
	}
	if nInUse == 0 {
		return nil, fmt.Errorf("bzip2: empty symbol map: %w", ErrCorrupt)
	}
	alphaSize := nInUse + 2

	nGroups, err := br.bits(3)
	if err != nil {
		return nil, err
	}
	if nGroups < 2 || nGroups > bzMaxGroups {
		return nil, fmt.Errorf("bzip2: %d huffman groups: %w", nGroups, ErrCorrupt)
	}
	nSelectors, err := br.bits(15)
	if err != nil {
		return nil, err
	}
	if nSelectors == 0 {
		return nil, fmt.Errorf("bzip2: no selectors: %w", ErrCorrupt)
	}
	mtfGroups := [bzMaxGroups]uint8{0, 1, 2, 3, 4, 5}
	selectors := make([]uint8, 0, min(int(nSelectors), bzMaxSelectors))
	for i := 0; i < int(nSelectors); i++ {
		j := 0
		for {
			b, err := br.bit()
			if err != nil {
				return nil, err
			}
			if b == 0 {
				break
			}
			j++
			if j >= int(nGroups) {
				return nil, fmt.Errorf("bzip2: selector out of range: %w", ErrCorrupt)
			}
		}
		v := mtfGroups[j]
		copy(mtfGroups[1:j+1], mtfGroups[:j])
		mtfGroups[0] = v
		// Encoders since 1.0.8 may emit more selectors than can be used.
		if len(selectors) < bzMaxSelectors {
			selectors = append(selectors, v)
		}
	}

	trees := make([]*huffman, nGroups)
	lens := make([]uint8, alphaSize)
	for t := range trees {
		curr, err := br.bits(5)
		if err != nil {
			return nil, err
		}
		for s := range lens {
			for {
				if curr < 1 || curr > bzMaxCodeLen {
					return nil, fmt.Errorf("bzip2: code length %d: %w", curr, ErrCorrupt)
				}
				b, err := br.bit()
				if err != nil {
					return nil, err
				}
				if b == 0 {
					break
				}
				if b, err = br.bit(); err != nil {
					return nil, err
				}
				if b == 0 {
					curr++
				} else {
					curr--
				}
			}
			lens[s] = uint8(curr)
		}
		if trees[t], err = newHuffman(lens, bzMaxCodeLen); err != nil {
			return nil, fmt.Errorf("bzip2: table %d: %w", t, err)
		}
	}

	// MTF + RUNA/RUNB decode into the BWT vector.
	tt := d.tt[:0]
	var counts [256]int
	var mtf [256]uint8
	for i := range mtf {
		mtf[i] = uint8(i)
	}
	eob := nInUse + 1
	group, groupLeft := -1, 0
	run, runWeight := 0, 1
	for {
		if groupLeft == 0 {
			group++
			if group >= len(selectors) {
				return nil, fmt.Errorf("bzip2: ran out of selectors: %w", ErrCorrupt)
			}
			groupLeft = bzGroupSize
		}
		groupLeft--
		sym, err := trees[selectors[group]].decode(br)
		if err != nil {
			return nil, fmt.Errorf("bzip2: %w", err)
		}
		if sym <= 1 {
			if runWeight > d.blockMax {
				return nil, fmt.Errorf("bzip2: run too long: %w", ErrCorrupt)
			}
			run += runWeight << sym
			runWeight <<= 1
			continue
		}
		if run > 0 {
			if len(tt)+run > d.blockMax {
				return nil, fmt.Errorf("bzip2: block exceeds %d bytes: %w", d.blockMax, ErrCorrupt)
			}
			b := seqToUnseq[mtf[0]]
			counts[b] += run
			for ; run > 0; run-- {
				tt = append(tt, uint32(b))
			}
			runWeight = 1
		}
		if sym == eob {
			break
		}
		idx := sym - 1
		v := mtf[idx]
		copy(mtf[1:idx+1], mtf[:idx])
		mtf[0] = v
		if len(tt) >= d.blockMax {
			return nil, fmt.Errorf("bzip2: block exceeds %d bytes: %w", d.blockMax, ErrCorrupt)
		}
		b := seqToUnseq[v]
		tt = append(tt, uint32(b))
		counts[b]++
	}
	d.tt = tt
	if int(origPtr) >= len(tt) {
		return nil, fmt.Errorf("bzip2: origin pointer %d outside block of %d: %w", origPtr, len(tt), ErrCorrupt)
	}

	// Inverse BWT: link each position to its successor.
	sum := 0
	for i := range counts {
		sum, counts[i] = sum+counts[i], sum
	}
	for i := range tt {
		b := tt[i] & 0xff
		tt[counts[b]] |= uint32(i) << 8
		counts[b]++
	}

	// Walk the chain and undo the initial run-length pass (4 equal bytes
	// followed by a repeat count).
	out := make([]byte, 0, len(tt)+len(tt)/4)
	crc := ^uint32(0)
	tPos := tt[origPtr] >> 8
	last, repeat := -1, 0
	for range tt {
		v := tt[tPos]
		b := byte(v)
		tPos = v >> 8
		if repeat == 4 {
			for range int(b) {
				out = append(out, byte(last))
				crc = bzCRCUpdate(crc, byte(last))
			}
			last, repeat = -1, 0
			continue
		}
		if int(b) == last {
			repeat++
		} else {
			last, repeat = int(b), 1
		}
		out = append(out, b)
		crc = bzCRCUpdate(crc, b)
	}
	crc = ^crc
	if crc != wantCRC {
		return nil, fmt.Errorf("bzip2: block crc %08x, computed %08x: %w", wantCRC, crc, ErrChecksum)
	}
	d.combined = (d.combined<<1 | d.combined>>31) ^ crc
	return out, nil
}
