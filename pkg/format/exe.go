package format

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/joshuapare/protscan/internal/buf"
)

const (
	dosHeaderSize     = 64
	coffHeaderSize    = 20
	peSectionSize     = 40
	maxPESections     = 96
	peMagic64         = 0x20b
	peOptFieldsSize   = 70
	overlayEntryName  = "overlay.bin"
	newHeaderMinBytes = 2
)

// ExeKind is the layout that follows the MS-DOS stub.
type ExeKind uint8

const (
	ExeDOS ExeKind = iota
	ExePE
	ExeNE
	ExeLE
	ExeLX
)

func (k ExeKind) String() string {
	switch k {
	case ExePE:
		return "PE"
	case ExeNE:
		return "NE"
	case ExeLE:
		return "LE"
	case ExeLX:
		return "LX"
	default:
		return "MZ"
	}
}

// DOSHeader is the 64-byte MS-DOS header.
//
//	Offset  Size  Description
//	------  ----  -----------------------------------------
//	 0x00    2    'M' 'Z'
//	 0x02   26    load parameters (pages, relocations, registers)
//	 0x1C   32    reserved, OEM id/info
//	 0x3C    4    e_lfanew, offset of the new-style header
type DOSHeader struct {
	Magic            [2]byte
	LastPageBytes    uint16
	Pages            uint16
	Relocations      uint16
	HeaderParagraphs uint16
	MinAlloc         uint16
	MaxAlloc         uint16
	InitialSS        uint16
	InitialSP        uint16
	Checksum         uint16
	InitialIP        uint16
	InitialCS        uint16
	RelocTableOffset uint16
	OverlayNumber    uint16
	Reserved1        [4]uint16
	OEMID            uint16
	OEMInfo          uint16
	Reserved2        [10]uint16
	NewHeaderOffset  uint32
}

// MarshalBinary re-encodes the header.
func (h DOSHeader) MarshalBinary() ([]byte, error) {
	return binary.Append(nil, binary.LittleEndian, h)
}

// COFFHeader follows the "PE\0\0" signature.
type COFFHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// PEHeader carries the COFF header and the optional-header fields the
// detectors use. PE32 and PE32+ differ only in the width of ImageBase here.
type PEHeader struct {
	COFF             COFFHeader
	Magic            uint16
	EntryPoint       uint32
	ImageBase        uint64
	SectionAlignment uint32
	FileAlignment    uint32
	SizeOfImage      uint32
	Subsystem        uint16
}

// Section is one entry of the PE section table.
type Section struct {
	Name                 string
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

// Executable is an MZ image and whatever new-style header follows it.
type Executable struct {
	DOS      DOSHeader
	Kind     ExeKind
	PE       *PEHeader
	Sections []Section
	// Linear holds the NE or LE/LX structures.
	Linear *LinearExecutable
	// Overlay is the data appended after the last PE section, if any.
	Overlay Span

	size int
}

func (*Executable) Tag() Tag { return TagExecutable }

// Streams exposes the whole image so the overlay can be carved out of it.
func (e *Executable) Streams() []Stream {
	if e.Overlay.Len == 0 {
		return nil
	}
	return []Stream{Stored(Span{Off: 0, Len: e.size})}
}

// Entries returns the overlay, when present.
func (e *Executable) Entries() []Entry {
	if e.Overlay.Len == 0 {
		return nil
	}
	return []Entry{{Name: overlayEntryName, Stream: 0, Off: e.Overlay.Off, Size: e.Overlay.Len}}
}

// ParseExecutable decodes the MS-DOS header and the PE, NE or LE/LX header
// it points at. A missing or unrecognized new-style header leaves a plain
// MZ model.
func ParseExecutable(b []byte) (*Executable, error) {
	c := buf.NewCursor(b)
	e := &Executable{size: len(b)}
	c.Decode(&e.DOS)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("mz header: %w", err)
	}
	if e.DOS.Magic != [2]byte{'M', 'Z'} {
		return nil, fmt.Errorf("mz header: %w", ErrSignatureMismatch)
	}

	off := int(e.DOS.NewHeaderOffset)
	if off < dosHeaderSize || !buf.Has(b, off, newHeaderMinBytes) {
		return e, nil
	}
	switch sig := b[off : off+2]; {
	case bytes.Equal(sig, []byte("PE")):
		if !buf.Has(b, off, 4) || b[off+2] != 0 || b[off+3] != 0 {
			return e, nil
		}
		e.Kind = ExePE
		if err := e.parsePE(b, off+4); err != nil {
			return nil, err
		}
	case bytes.Equal(sig, []byte("NE")):
		e.Kind = ExeNE
		le, err := parseNE(b, off)
		if err != nil {
			return nil, err
		}
		e.Linear = le
	case bytes.Equal(sig, []byte("LE")), bytes.Equal(sig, []byte("LX")):
		e.Kind = ExeLE
		if sig[1] == 'X' {
			e.Kind = ExeLX
		}
		le, err := parseLE(b, off)
		if err != nil {
			return nil, err
		}
		e.Linear = le
	}
	return e, nil
}

func (e *Executable) parsePE(b []byte, off int) error {
	c := buf.At(b, off)
	pe := &PEHeader{}
	c.Decode(&pe.COFF)
	optStart := c.Offset()
	if pe.COFF.SizeOfOptionalHeader >= peOptFieldsSize {
		pe.Magic = c.U16()
		c.Skip(14)
		pe.EntryPoint = c.U32()
		if pe.Magic == peMagic64 {
			c.Skip(4)
			pe.ImageBase = c.U64()
		} else {
			c.Skip(8)
			pe.ImageBase = uint64(c.U32())
		}
		pe.SectionAlignment = c.U32()
		pe.FileAlignment = c.U32()
		c.Skip(16)
		pe.SizeOfImage = c.U32()
		c.Skip(8)
		pe.Subsystem = c.U16()
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("pe header: %w", err)
	}

	n := int(pe.COFF.NumberOfSections)
	if n > maxPESections {
		return fmt.Errorf("pe header: %d sections: %w", n, ErrUnsupported)
	}
	tbl := optStart + int(pe.COFF.SizeOfOptionalHeader)
	if _, err := buf.CheckListBounds(len(b), tbl, n, peSectionSize); err != nil {
		return fmt.Errorf("pe section table: %w", err)
	}
	c.Seek(tbl)
	e.Sections = make([]Section, n)
	end := 0
	for i := range e.Sections {
		s := &e.Sections[i]
		s.Name = decodeName(c.Fixed(8))
		s.VirtualSize = c.U32()
		s.VirtualAddress = c.U32()
		s.SizeOfRawData = c.U32()
		s.PointerToRawData = c.U32()
		s.PointerToRelocations = c.U32()
		s.PointerToLinenumbers = c.U32()
		s.NumberOfRelocations = c.U16()
		s.NumberOfLinenumbers = c.U16()
		s.Characteristics = c.U32()
		if s.SizeOfRawData > 0 {
			end = max(end, int(s.PointerToRawData)+int(s.SizeOfRawData))
		}
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("pe section table: %w", err)
	}
	e.PE = pe
	if end > 0 && end < len(b) {
		e.Overlay = Span{Off: end, Len: len(b) - end}
	}
	return nil
}

// SectionNames returns the raw PE section names of b without parsing
// anything else. Only the section table is read, so the cost is bounded by
// the section count regardless of file size. Non-PE input yields nil.
func SectionNames(b []byte) [][]byte {
	if !buf.Has(b, 0, dosHeaderSize) || b[0] != 'M' || b[1] != 'Z' {
		return nil
	}
	off := int(buf.U32LE(b[0x3c:]))
	if off < dosHeaderSize || !buf.Has(b, off, 4+coffHeaderSize) || !bytes.Equal(b[off:off+4], []byte("PE\x00\x00")) {
		return nil
	}
	n := int(buf.U16LE(b[off+6:]))
	if n > maxPESections {
		return nil
	}
	tbl := off + 4 + coffHeaderSize + int(buf.U16LE(b[off+20:]))
	if _, err := buf.CheckListBounds(len(b), tbl, n, peSectionSize); err != nil {
		return nil
	}
	names := make([][]byte, n)
	for i := range names {
		names[i] = buf.CString(b[tbl+i*peSectionSize : tbl+i*peSectionSize+8])
	}
	return names
}
