package format

import (
	"encoding/binary"
	"fmt"

	"github.com/joshuapare/protscan/internal/buf"
)

const (
	pffSegmentSize2 = 0x20
	pffSegmentSize3 = 0x24
	pffSegmentSize4 = 0x28
	pffFooterSize   = 12
)

// PFFHeader is the NovaLogic packed file header. The signature at offset 4
// selects the segment layout.
//
//	Offset  Size  Description
//	------  ----  ----------------------------
//	 0x00    4    header size
//	 0x04    4    'P' 'F' 'F' '2' | '3' | '4'
//	 0x08    4    number of files
//	 0x0C    4    file segment size
//	 0x10    4    file list offset
type PFFHeader struct {
	HeaderSize      uint32
	Signature       [4]byte
	NumberOfFiles   uint32
	FileSegmentSize uint32
	FileListOffset  uint32
}

// MarshalBinary re-encodes the header.
func (h PFFHeader) MarshalBinary() ([]byte, error) {
	return binary.Append(nil, binary.LittleEndian, h)
}

// Version returns 2, 3 or 4, or 0 for an unknown signature.
func (h PFFHeader) Version() int {
	if string(h.Signature[:3]) != "PFF" {
		return 0
	}
	switch h.Signature[3] {
	case '2':
		return 2
	case '3':
		return 3
	case '4':
		return 4
	}
	return 0
}

// PFFSegment is one file record. ModifiedDate exists from PFF3 and
// CompressionLevel from PFF4.
type PFFSegment struct {
	Deleted          uint32
	FileLocation     uint32
	FileSize         uint32
	PackedDate       uint32
	FileName         [16]byte
	ModifiedDate     uint32
	CompressionLevel uint32
}

// PFFFooter closes the archive.
type PFFFooter struct {
	SystemIP uint32
	Reserved uint32
	KingTag  [4]byte
}

// PFF is a parsed packed file.
type PFF struct {
	Integrity
	Header   PFFHeader
	Segments []PFFSegment
	Footer   PFFFooter

	size int
}

func (*PFF) Tag() Tag { return TagPFF }

func (p *PFF) Streams() []Stream { return []Stream{Stored(Span{Len: p.size})} }

// Entries skips deleted segments. Compressed PFF4 segments are unresolved.
func (p *PFF) Entries() []Entry {
	var out []Entry
	for _, s := range p.Segments {
		if s.Deleted != 0 {
			continue
		}
		name := decodeName(buf.CString(s.FileName[:]))
		if s.CompressionLevel != 0 {
			out = append(out, unresolved(name, fmt.Errorf("pff compression level %d: %w", s.CompressionLevel, ErrUnsupported)))
			continue
		}
		out = append(out, sliceEntry(name, p.size, int(s.FileLocation), int(s.FileSize)))
	}
	return out
}

// ParsePFF parses a PFF2, PFF3 or PFF4 archive. The footer tag is checked
// and flagged when missing.
func ParsePFF(b []byte) (*PFF, error) {
	c := buf.NewCursor(b)
	p := &PFF{size: len(b)}
	h := &p.Header
	c.Decode(h)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("pff header: %w", err)
	}
	var segSize int
	switch h.Version() {
	case 2:
		segSize = pffSegmentSize2
	case 3:
		segSize = pffSegmentSize3
	case 4:
		segSize = pffSegmentSize4
	default:
		return nil, fmt.Errorf("pff header: %w", ErrSignatureMismatch)
	}
	stride := int(h.FileSegmentSize)
	if stride < segSize {
		return nil, fmt.Errorf("pff segment size %d below %d: %w", stride, segSize, ErrUnsupported)
	}

	n := int(h.NumberOfFiles)
	if _, err := buf.CheckListBounds(len(b), int(h.FileListOffset), n, stride); err != nil {
		return nil, fmt.Errorf("pff file list: %w", err)
	}
	p.Segments = make([]PFFSegment, n)
	for i := range p.Segments {
		s := &p.Segments[i]
		sc := buf.At(b, int(h.FileListOffset)+i*stride)
		s.Deleted = sc.U32()
		s.FileLocation = sc.U32()
		s.FileSize = sc.U32()
		s.PackedDate = sc.U32()
		sc.Read(s.FileName[:])
		if segSize >= pffSegmentSize3 {
			s.ModifiedDate = sc.U32()
		}
		if segSize >= pffSegmentSize4 {
			s.CompressionLevel = sc.U32()
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("pff segment %d: %w", i, err)
		}
	}

	fc := buf.At(b, len(b)-pffFooterSize)
	fc.Decode(&p.Footer)
	if fc.Err() != nil || string(p.Footer.KingTag[:]) != "KING" {
		p.flag("pff footer tag")
	}
	return p, nil
}
