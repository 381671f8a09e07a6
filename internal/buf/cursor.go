package buf

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is matched (via errors.Is) by every Cursor overrun.
var ErrTruncated = errors.New("truncated buffer")

// OverrunError describes a read that would have crossed the end of the
// underlying buffer (or started at an impossible offset).
type OverrunError struct {
	Off  int // cursor offset when the read was attempted
	Need int // bytes requested
	Len  int // total buffer length
}

func (e *OverrunError) Error() string {
	return fmt.Sprintf("read of %d bytes at offset %d overruns buffer of %d bytes", e.Need, e.Off, e.Len)
}

// Is reports ErrTruncated equivalence.
func (e *OverrunError) Is(target error) bool { return target == ErrTruncated }

// Cursor is a forward reader over a finite byte slice. Integer reads are
// little-endian unless the method name says otherwise.
//
// Errors are sticky: the first failed read records an *OverrunError, every
// later read returns a zero value without advancing, and Err reports the
// first failure. Callers read a whole fixed-layout record and then check Err
// once, the same way bufio.Scanner is used.
type Cursor struct {
	b   []byte
	off int
	err error
}

// NewCursor returns a cursor positioned at offset 0 of b.
func NewCursor(b []byte) *Cursor { return &Cursor{b: b} }

// At returns a cursor positioned at off. An out-of-range off yields a cursor
// whose Err is already set.
func At(b []byte, off int) *Cursor {
	c := &Cursor{b: b}
	c.Seek(off)
	return c
}

// Err returns the first overrun encountered, or nil.
func (c *Cursor) Err() error { return c.err }

// Offset returns the current read position.
func (c *Cursor) Offset() int { return c.off }

// Len returns the length of the underlying buffer.
func (c *Cursor) Len() int { return len(c.b) }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	if c.off >= len(c.b) {
		return 0
	}
	return len(c.b) - c.off
}

// Seek moves the cursor to an absolute offset. Seeking to len(b) is allowed.
func (c *Cursor) Seek(off int) {
	if c.err != nil {
		return
	}
	if off < 0 || off > len(c.b) {
		c.err = &OverrunError{Off: off, Need: 0, Len: len(c.b)}
		return
	}
	c.off = off
}

// Skip advances the cursor by n bytes.
func (c *Cursor) Skip(n int) { c.take(n) }

func (c *Cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	s, ok := Slice(c.b, c.off, n)
	if !ok {
		c.err = &OverrunError{Off: c.off, Need: n, Len: len(c.b)}
		return nil
	}
	c.off += n
	return s
}

// U8 reads one byte.
func (c *Cursor) U8() uint8 {
	if s := c.take(1); s != nil {
		return s[0]
	}
	return 0
}

// U16 reads a little-endian uint16.
func (c *Cursor) U16() uint16 {
	if s := c.take(2); s != nil {
		return binary.LittleEndian.Uint16(s)
	}
	return 0
}

// U32 reads a little-endian uint32.
func (c *Cursor) U32() uint32 {
	if s := c.take(4); s != nil {
		return binary.LittleEndian.Uint32(s)
	}
	return 0
}

// I32 reads a little-endian int32.
func (c *Cursor) I32() int32 { return int32(c.U32()) }

// U64 reads a little-endian uint64.
func (c *Cursor) U64() uint64 {
	if s := c.take(8); s != nil {
		return binary.LittleEndian.Uint64(s)
	}
	return 0
}

// U24BE reads a big-endian 24-bit value.
func (c *Cursor) U24BE() uint32 {
	if s := c.take(3); s != nil {
		return U24BE(s)
	}
	return 0
}

// U32BE reads a big-endian uint32.
func (c *Cursor) U32BE() uint32 {
	if s := c.take(4); s != nil {
		return binary.BigEndian.Uint32(s)
	}
	return 0
}

// Bytes returns the next n bytes without copying. The result aliases the
// underlying buffer and must be treated as read-only.
func (c *Cursor) Bytes(n int) []byte {
	return c.take(n)
}

// Copy reads n bytes into a fresh slice.
func (c *Cursor) Copy(n int) []byte {
	s := c.take(n)
	if s == nil {
		if n == 0 && c.err == nil {
			return []byte{}
		}
		return nil
	}
	out := make([]byte, n)
	copy(out, s)
	return out
}

// Read fills p from the buffer. It exists so fixed arrays can be read with
// c.Read(h.Name[:]).
func (c *Cursor) Read(p []byte) {
	if s := c.take(len(p)); s != nil {
		copy(p, s)
	}
}

// Fixed reads an n-byte, NUL-padded field and returns the bytes before the
// first NUL.
func (c *Cursor) Fixed(n int) []byte {
	return CString(c.take(n))
}

// CString reads a NUL-terminated string and consumes the terminator. A
// missing terminator before the end of the buffer is an overrun.
func (c *Cursor) CString() []byte {
	if c.err != nil {
		return nil
	}
	for i := c.off; i < len(c.b); i++ {
		if c.b[i] == 0 {
			s := c.b[c.off:i]
			c.off = i + 1
			return s
		}
	}
	c.err = &OverrunError{Off: c.off, Need: len(c.b) - c.off + 1, Len: len(c.b)}
	return nil
}

// Decode fills v, a pointer to a fixed-size value such as a struct of
// fixed-width fields, from the next binary.Size(v) bytes in little-endian
// order.
func (c *Cursor) Decode(v any) {
	n := binary.Size(v)
	if n < 0 {
		if c.err == nil {
			c.err = fmt.Errorf("cursor: %T is not fixed-size", v)
		}
		return
	}
	if s := c.take(n); s != nil {
		_, _ = binary.Decode(s, binary.LittleEndian, v)
	}
}
