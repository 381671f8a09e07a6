package format

import (
	"encoding/binary"
	"fmt"

	"github.com/joshuapare/protscan/internal/buf"
)

const (
	xzpVersion        = 6
	xzpEntrySize      = 12
	xzpItemSize       = 12
	xzpFooterSize     = 8
	xzpPreloadMapSize = 2
)

// XZPHeader is the Xbox pack (version 6) header.
//
//	Offset  Size  Description
//	------  ----  ----------------------------
//	 0x00    4    'p' 'i' 'Z' 'x'
//	 0x04    4    version (6)
//	 0x08   28    entry counts, preload size, directory item table
type XZPHeader struct {
	Signature                  [4]byte
	Version                    uint32
	PreloadDirectoryEntryCount uint32
	DirectoryEntryCount        uint32
	PreloadBytes               uint32
	HeaderLength               uint32
	DirectoryItemCount         uint32
	DirectoryItemOffset        uint32
	DirectoryItemLength        uint32
}

// MarshalBinary re-encodes the header.
func (h XZPHeader) MarshalBinary() ([]byte, error) {
	return binary.Append(nil, binary.LittleEndian, h)
}

// XZPDirectoryEntry locates one file by the CRC of its name.
type XZPDirectoryEntry struct {
	FileNameCRC uint32
	EntryLength uint32
	EntryOffset uint32
}

// XZPDirectoryItem maps a name CRC to its name.
type XZPDirectoryItem struct {
	FileNameCRC uint32
	NameOffset  uint32
	TimeCreated uint32
}

// XZPFooter closes the file.
type XZPFooter struct {
	FileLength uint32
	Signature  [4]byte
}

// XZP is a parsed Xbox pack.
type XZP struct {
	Integrity
	Header         XZPHeader
	Directory      []XZPDirectoryEntry
	PreloadEntries []XZPDirectoryEntry
	PreloadMap     []uint16
	Items          []XZPDirectoryItem
	Names          map[uint32]string
	Footer         XZPFooter

	size int
}

func (*XZP) Tag() Tag { return TagXZP }

func (x *XZP) Streams() []Stream { return []Stream{Stored(Span{Len: x.size})} }

func (x *XZP) Entries() []Entry {
	out := make([]Entry, len(x.Directory))
	for i, e := range x.Directory {
		name, ok := x.Names[e.FileNameCRC]
		if !ok {
			name = fmt.Sprintf("%08x.bin", e.FileNameCRC)
		}
		out[i] = sliceEntry(name, x.size, int(e.EntryOffset), int(e.EntryLength))
	}
	return out
}

// ParseXZP parses the header, directory and preload tables, directory items
// and footer. A bad footer is flagged rather than rejected.
func ParseXZP(b []byte) (*XZP, error) {
	c := buf.NewCursor(b)
	x := &XZP{size: len(b)}
	h := &x.Header
	c.Decode(h)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("xzp header: %w", err)
	}
	if string(h.Signature[:]) != "piZx" {
		return nil, fmt.Errorf("xzp header: %w", ErrSignatureMismatch)
	}
	if h.Version != xzpVersion {
		return nil, fmt.Errorf("xzp version %d: %w", h.Version, ErrUnsupported)
	}

	var err error
	if x.Directory, err = xzpEntries(c, int(h.DirectoryEntryCount)); err != nil {
		return nil, fmt.Errorf("xzp directory: %w", err)
	}
	if x.PreloadEntries, err = xzpEntries(c, int(h.PreloadDirectoryEntryCount)); err != nil {
		return nil, fmt.Errorf("xzp preload directory: %w", err)
	}
	if h.PreloadBytes != 0 {
		n := int(h.PreloadDirectoryEntryCount)
		if _, err := buf.CheckListBounds(len(b), c.Offset(), n, xzpPreloadMapSize); err != nil {
			return nil, fmt.Errorf("xzp preload map: %w", err)
		}
		x.PreloadMap = make([]uint16, n)
		for i := range x.PreloadMap {
			x.PreloadMap[i] = c.U16()
		}
	}

	if h.DirectoryItemCount != 0 {
		n := int(h.DirectoryItemCount)
		if _, err := buf.CheckListBounds(len(b), int(h.DirectoryItemOffset), n, xzpItemSize); err != nil {
			return nil, fmt.Errorf("xzp directory items: %w", err)
		}
		ic := buf.At(b, int(h.DirectoryItemOffset))
		x.Items = make([]XZPDirectoryItem, n)
		x.Names = make(map[uint32]string, n)
		for i := range x.Items {
			ic.Decode(&x.Items[i])
			it := x.Items[i]
			if int(it.NameOffset) < len(b) {
				x.Names[it.FileNameCRC] = decodeName(buf.CString(b[it.NameOffset:]))
			}
		}
	}

	fc := buf.At(b, len(b)-xzpFooterSize)
	fc.Decode(&x.Footer)
	if fc.Err() != nil || string(x.Footer.Signature[:]) != "tFzX" {
		x.flag("xzp footer signature")
	} else if int(x.Footer.FileLength) != len(b) {
		x.flag("xzp footer length %d, file is %d bytes", x.Footer.FileLength, len(b))
	}
	return x, c.Err()
}

func xzpEntries(c *buf.Cursor, n int) ([]XZPDirectoryEntry, error) {
	if _, err := buf.CheckListBounds(c.Len(), c.Offset(), n, xzpEntrySize); err != nil {
		return nil, err
	}
	out := make([]XZPDirectoryEntry, n)
	for i := range out {
		c.Decode(&out[i])
	}
	return out, c.Err()
}
