package format

import (
	"encoding/binary"
	"fmt"

	"github.com/joshuapare/protscan/internal/buf"
)

const wadLumpSize = 32

// WADHeader is the Half-Life texture WAD header.
//
//	Offset  Size  Description
//	------  ----  ----------------------------
//	 0x00    4    'W' 'A' 'D' '3'
//	 0x04    4    lump count
//	 0x08    4    lump directory offset
type WADHeader struct {
	Signature  [4]byte
	LumpCount  uint32
	LumpOffset uint32
}

// MarshalBinary re-encodes the header.
func (h WADHeader) MarshalBinary() ([]byte, error) {
	return binary.Append(nil, binary.LittleEndian, h)
}

// WADLump is one 32-byte lump directory record.
type WADLump struct {
	Offset      uint32
	DiskLength  uint32
	Length      uint32
	Type        uint8
	Compression uint8
	Padding     uint16
	Name        [16]byte
}

// WAD is a parsed WAD3 file.
type WAD struct {
	Header WADHeader
	Lumps  []WADLump

	size int
}

func (*WAD) Tag() Tag { return TagWAD }

func (w *WAD) Streams() []Stream { return []Stream{Stored(Span{Len: w.size})} }

func (w *WAD) Entries() []Entry {
	out := make([]Entry, len(w.Lumps))
	for i, l := range w.Lumps {
		name := decodeName(buf.CString(l.Name[:]))
		if l.Compression != 0 {
			out[i] = unresolved(name, fmt.Errorf("wad lump compression %d: %w", l.Compression, ErrUnsupported))
			continue
		}
		out[i] = sliceEntry(name, w.size, int(l.Offset), int(l.DiskLength))
	}
	return out
}

// ParseWAD parses a WAD3 header and lump directory.
func ParseWAD(b []byte) (*WAD, error) {
	c := buf.NewCursor(b)
	w := &WAD{size: len(b)}
	c.Decode(&w.Header)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("wad header: %w", err)
	}
	if string(w.Header.Signature[:]) != "WAD3" {
		return nil, fmt.Errorf("wad header: %w", ErrSignatureMismatch)
	}
	off, n := int(w.Header.LumpOffset), int(w.Header.LumpCount)
	if _, err := buf.CheckListBounds(len(b), off, n, wadLumpSize); err != nil {
		return nil, fmt.Errorf("wad lumps: %w", err)
	}
	c.Seek(off)
	w.Lumps = make([]WADLump, n)
	for i := range w.Lumps {
		c.Decode(&w.Lumps[i])
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("wad lumps: %w", err)
	}
	return w, nil
}
