package buf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorReads(t *testing.T) {
	data := []byte{
		0x01,
		0x02, 0x03,
		0x04, 0x05, 0x06, 0x07,
		0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
		0x12, 0x34,
		0x56, 0x78, 0x9a,
		'a', 'b', 0, 'z',
		'h', 'i', 0,
	}
	c := NewCursor(data)
	require.Equal(t, uint8(0x01), c.U8())
	require.Equal(t, uint16(0x0302), c.U16())
	require.Equal(t, uint32(0x07060504), c.U32())
	require.Equal(t, uint64(0x0f0e0d0c0b0a0908), c.U64())
	require.Equal(t, []byte{0x12, 0x34}, c.Bytes(2))
	require.Equal(t, uint32(0x56789a), c.U24BE())
	require.Equal(t, "ab", string(c.Fixed(4)))
	require.Equal(t, "hi", string(c.CString()))
	require.NoError(t, c.Err())
	require.Equal(t, 0, c.Remaining())
}

func TestCursorOverrunIsSticky(t *testing.T) {
	c := NewCursor([]byte{1, 2, 3})
	require.Equal(t, uint16(0x0201), c.U16())
	require.Zero(t, c.U32(), "short read must not return partial data")
	require.Equal(t, 2, c.Offset(), "failed read must not advance")

	// Later reads that would fit still fail once the cursor is poisoned.
	require.Zero(t, c.U8())
	err := c.Err()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrTruncated))

	var oe *OverrunError
	require.ErrorAs(t, err, &oe)
	require.Equal(t, 2, oe.Off)
	require.Equal(t, 4, oe.Need)
	require.Equal(t, 3, oe.Len)
}

func TestCursorSeek(t *testing.T) {
	data := make([]byte, 16)
	c := At(data, 12)
	require.Equal(t, 4, c.Remaining())

	c.Seek(16)
	require.NoError(t, c.Err())
	c.Seek(17)
	require.ErrorIs(t, c.Err(), ErrTruncated)

	bad := At(data, -1)
	require.ErrorIs(t, bad.Err(), ErrTruncated)
}

func TestCursorCStringUnterminated(t *testing.T) {
	c := NewCursor([]byte("abc"))
	require.Nil(t, c.CString())
	require.ErrorIs(t, c.Err(), ErrTruncated)
}

func TestCursorCopyDetaches(t *testing.T) {
	data := []byte{9, 8, 7}
	c := NewCursor(data)
	got := c.Copy(2)
	data[0] = 0
	require.Equal(t, []byte{9, 8}, got)
}

func TestCursorDecode(t *testing.T) {
	type rec struct {
		Magic [4]byte
		Count uint32
		Flags uint16
	}
	data := []byte{'P', 'A', 'C', 'K', 3, 0, 0, 0, 0x34, 0x12, 0xff}
	c := NewCursor(data)
	var r rec
	c.Decode(&r)
	require.NoError(t, c.Err())
	require.Equal(t, "PACK", string(r.Magic[:]))
	require.Equal(t, uint32(3), r.Count)
	require.Equal(t, uint16(0x1234), r.Flags)
	require.Equal(t, 10, c.Offset())

	c.Decode(&r)
	require.ErrorIs(t, c.Err(), ErrTruncated)

	var s []int
	bad := NewCursor(data)
	bad.Decode(&s)
	require.Error(t, bad.Err())
}
