package format

import (
	"encoding/binary"
	"fmt"

	"github.com/joshuapare/protscan/internal/buf"
)

const (
	pakHeaderSize = 12
	pakItemSize   = 64
)

// PAKHeader is the Quake/Half-Life package header.
//
//	Offset  Size  Description
//	------  ----  ----------------------------
//	 0x00    4    'P' 'A' 'C' 'K'
//	 0x04    4    directory offset
//	 0x08    4    directory length in bytes
type PAKHeader struct {
	Signature       [4]byte
	DirectoryOffset uint32
	DirectoryLength uint32
}

// MarshalBinary re-encodes the header.
func (h PAKHeader) MarshalBinary() ([]byte, error) {
	return binary.Append(nil, binary.LittleEndian, h)
}

// PAKItem is one 64-byte directory record.
type PAKItem struct {
	Name       [56]byte
	ItemOffset uint32
	ItemLength uint32
}

// PAK is a parsed package file.
type PAK struct {
	Header PAKHeader
	Items  []PAKItem

	size int
}

func (*PAK) Tag() Tag { return TagPAK }

func (p *PAK) Streams() []Stream { return []Stream{Stored(Span{Len: p.size})} }

func (p *PAK) Entries() []Entry {
	out := make([]Entry, len(p.Items))
	for i, it := range p.Items {
		out[i] = sliceEntry(decodeName(buf.CString(it.Name[:])), p.size, int(it.ItemOffset), int(it.ItemLength))
	}
	return out
}

// ParsePAK parses a PAK header and directory. A directory that does not
// fit in b is a structural error.
func ParsePAK(b []byte) (*PAK, error) {
	c := buf.NewCursor(b)
	p := &PAK{size: len(b)}
	c.Decode(&p.Header)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("pak header: %w", err)
	}
	if string(p.Header.Signature[:]) != "PACK" {
		return nil, fmt.Errorf("pak header: %w", ErrSignatureMismatch)
	}

	off, n := int(p.Header.DirectoryOffset), int(p.Header.DirectoryLength)
	if _, err := span(len(b), off, n); err != nil {
		return nil, fmt.Errorf("pak directory: %w", err)
	}
	count := n / pakItemSize
	if _, err := buf.CheckListBounds(len(b), off, count, pakItemSize); err != nil {
		return nil, fmt.Errorf("pak directory: %w", err)
	}
	c.Seek(off)
	p.Items = make([]PAKItem, count)
	for i := range p.Items {
		c.Decode(&p.Items[i])
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("pak directory: %w", err)
	}
	return p, nil
}
