package codec

import "fmt"

// msbBits reads bits most-significant first from a byte stream. bzip2 and
// Quantum use it directly.
type msbBits struct {
	src []byte
	pos int    // next unread byte
	acc uint64 // pending bits, right-aligned
	n   uint   // number of valid bits in acc
	pad int    // zero bytes synthesised past the end of src
	// maxPad bounds how far a decoder may read into synthesised zeros.
	maxPad int
}

func (b *msbBits) fill(k uint) error {
	for b.n < k {
		var c byte
		if b.pos < len(b.src) {
			c = b.src[b.pos]
			b.pos++
		} else {
			if b.pad >= b.maxPad {
				return fmt.Errorf("read past end of input at byte %d: %w", len(b.src), ErrTruncated)
			}
			b.pad++
		}
		b.acc = b.acc<<8 | uint64(c)
		b.n += 8
	}
	return nil
}

// bits returns the next k (<= 32) bits.
func (b *msbBits) bits(k uint) (uint32, error) {
	if k == 0 {
		return 0, nil
	}
	if err := b.fill(k); err != nil {
		return 0, err
	}
	b.n -= k
	return uint32(b.acc>>b.n) & (1<<k - 1), nil
}

func (b *msbBits) bit() (uint32, error) { return b.bits(1) }

// alignByte discards bits up to the next byte boundary.
func (b *msbBits) alignByte() { b.n -= b.n % 8 }

// lzxBits reads bits most-significant first from a stream of little-endian
// 16-bit words. Raw bytes (uncompressed LZX blocks) are read with rawByte
// after alignWord.
type lzxBits struct {
	src []byte
	pos int
	acc uint64
	n   uint
}

func (b *lzxBits) fill(k uint) error {
	for b.n < k {
		if b.pos >= len(b.src) {
			return fmt.Errorf("read past end of input at byte %d: %w", len(b.src), ErrTruncated)
		}
		w := uint64(b.src[b.pos])
		if b.pos+1 < len(b.src) {
			w |= uint64(b.src[b.pos+1]) << 8
		}
		b.pos += 2
		b.acc = b.acc<<16 | w
		b.n += 16
	}
	return nil
}

func (b *lzxBits) bits(k uint) (uint32, error) {
	if k == 0 {
		return 0, nil
	}
	if err := b.fill(k); err != nil {
		return 0, err
	}
	b.n -= k
	return uint32(b.acc>>b.n) & (1<<k - 1), nil
}

func (b *lzxBits) bit() (uint32, error) { return b.bits(1) }

// alignWord drops buffered bits down to a 16-bit boundary. Whole buffered
// words are kept.
func (b *lzxBits) alignWord() { b.n -= b.n % 16 }

// enterRaw switches to byte-level reads. Reads never leave more than 15
// bits buffered, so the buffered bits are the tail of the last word read;
// they are dropped. When the stream is already word aligned a whole padding
// word is skipped instead.
func (b *lzxBits) enterRaw() error {
	if b.n == 0 {
		if b.pos+2 > len(b.src) {
			return fmt.Errorf("alignment word at %d: %w", b.pos, ErrTruncated)
		}
		b.pos += 2
	}
	b.acc, b.n = 0, 0
	return nil
}

func (b *lzxBits) rawBytes(n int) ([]byte, error) {
	if n < 0 || b.pos+n > len(b.src) || b.pos+n < b.pos {
		return nil, fmt.Errorf("raw read of %d bytes at %d: %w", n, b.pos, ErrTruncated)
	}
	s := b.src[b.pos : b.pos+n]
	b.pos += n
	return s, nil
}
