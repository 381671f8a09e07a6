package format

import (
	"fmt"

	"github.com/joshuapare/protscan/internal/buf"
)

const (
	neSegmentSize    = 8
	leObjectSize     = 24
	maxResidentNames = 4096
)

// NEHeader is the 16-bit New Executable header.
//
//	Offset  Size  Description
//	------  ----  -----------------------------------------
//	 0x00    2    'N' 'E'
//	 0x1C    2    segment count
//	 0x22    2    segment table offset (from the NE header)
//	 0x26    2    resident-name table offset (from the NE header)
//	 0x36    1    target operating system
type NEHeader struct {
	Magic                   [2]byte
	LinkerVersion           uint8
	LinkerRevision          uint8
	EntryTableOffset        uint16
	EntryTableLength        uint16
	FileCRC                 uint32
	Flags                   uint16
	AutoDataSegment         uint16
	HeapSize                uint16
	StackSize               uint16
	InitialCSIP             uint32
	InitialSSSP             uint32
	SegmentCount            uint16
	ModuleReferenceCount    uint16
	NonResidentNamesSize    uint16
	SegmentTableOffset      uint16
	ResourceTableOffset     uint16
	ResidentNameTableOffset uint16
	ModuleReferenceOffset   uint16
	ImportedNamesOffset     uint16
	NonResidentNamesOffset  uint32
	MovableEntryCount       uint16
	SegmentAlignmentShift   uint16
	ResourceSegmentCount    uint16
	TargetOS                uint8
	AdditionalFlags         uint8
	ReturnThunksOffset      uint16
	SegmentReferenceOffset  uint16
	MinCodeSwapArea         uint16
	WindowsVersion          uint16
}

// LEHeader is the fixed part of the LE/LX linear executable header. Table
// offsets are relative to the start of this header.
type LEHeader struct {
	Magic                    [2]byte
	ByteOrder                uint8
	WordOrder                uint8
	FormatLevel              uint32
	CPUType                  uint16
	OSType                   uint16
	ModuleVersion            uint32
	ModuleFlags              uint32
	PageCount                uint32
	EIPObject                uint32
	EIP                      uint32
	ESPObject                uint32
	ESP                      uint32
	PageSize                 uint32
	LastPageSize             uint32
	FixupSectionSize         uint32
	FixupSectionChecksum     uint32
	LoaderSectionSize        uint32
	LoaderSectionChecksum    uint32
	ObjectTableOffset        uint32
	ObjectCount              uint32
	ObjectPageTableOffset    uint32
	ObjectIterPagesOffset    uint32
	ResourceTableOffset      uint32
	ResourceCount            uint32
	ResidentNameTableOffset  uint32
	EntryTableOffset         uint32
	ModuleDirectivesOffset   uint32
	ModuleDirectivesCount    uint32
	FixupPageTableOffset     uint32
	FixupRecordTableOffset   uint32
	ImportModuleTableOffset  uint32
	ImportModuleCount        uint32
	ImportProcTableOffset    uint32
	PerPageChecksumOffset    uint32
	DataPagesOffset          uint32
	PreloadPageCount         uint32
	NonResidentNamesOffset   uint32
	NonResidentNamesLength   uint32
	NonResidentNamesChecksum uint32
	AutoDataObject           uint32
	DebugInfoOffset          uint32
	DebugInfoLength          uint32
	InstancePreloadCount     uint32
	InstanceDemandCount      uint32
	HeapSize                 uint32
}

// NESegment is one entry of the NE segment table.
type NESegment struct {
	Sector   uint16
	Length   uint16
	Flags    uint16
	MinAlloc uint16
}

// LEObject is one entry of the LE/LX object table.
type LEObject struct {
	VirtualSize    uint32
	RelocationBase uint32
	Flags          uint32
	PageTableIndex uint32
	PageCount      uint32
	Reserved       uint32
}

// ResidentName is an exported name and its ordinal.
type ResidentName struct {
	Name    string
	Ordinal uint16
}

// LinearExecutable gathers the structures of NE and LE/LX images. Exactly
// one of NE and LE is set. ModuleName is the first resident name.
type LinearExecutable struct {
	NE            *NEHeader
	LE            *LEHeader
	ModuleName    string
	ResidentNames []ResidentName
	Segments      []NESegment
	Objects       []LEObject
}

func parseNE(b []byte, off int) (*LinearExecutable, error) {
	c := buf.At(b, off)
	h := &NEHeader{}
	c.Decode(h)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("ne header: %w", err)
	}
	le := &LinearExecutable{NE: h}

	segs := off + int(h.SegmentTableOffset)
	if _, err := buf.CheckListBounds(len(b), segs, int(h.SegmentCount), neSegmentSize); err != nil {
		return nil, fmt.Errorf("ne segment table: %w", err)
	}
	c.Seek(segs)
	le.Segments = make([]NESegment, h.SegmentCount)
	for i := range le.Segments {
		c.Decode(&le.Segments[i])
	}

	names, err := residentNames(b, off+int(h.ResidentNameTableOffset))
	if err != nil {
		return nil, fmt.Errorf("ne resident names: %w", err)
	}
	le.setNames(names)
	return le, c.Err()
}

func parseLE(b []byte, off int) (*LinearExecutable, error) {
	c := buf.At(b, off)
	h := &LEHeader{}
	c.Decode(h)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("le header: %w", err)
	}
	if h.ByteOrder != 0 || h.WordOrder != 0 {
		return nil, fmt.Errorf("le header: big-endian image: %w", ErrUnsupported)
	}
	le := &LinearExecutable{LE: h}

	objs := off + int(h.ObjectTableOffset)
	if _, err := buf.CheckListBounds(len(b), objs, int(h.ObjectCount), leObjectSize); err != nil {
		return nil, fmt.Errorf("le object table: %w", err)
	}
	c.Seek(objs)
	le.Objects = make([]LEObject, h.ObjectCount)
	for i := range le.Objects {
		c.Decode(&le.Objects[i])
	}

	if h.ResidentNameTableOffset != 0 {
		names, err := residentNames(b, off+int(h.ResidentNameTableOffset))
		if err != nil {
			return nil, fmt.Errorf("le resident names: %w", err)
		}
		le.setNames(names)
	}
	return le, c.Err()
}

func (le *LinearExecutable) setNames(names []ResidentName) {
	if len(names) == 0 {
		return
	}
	le.ModuleName = names[0].Name
	le.ResidentNames = names[1:]
}

// residentNames reads length-prefixed names, each followed by an ordinal,
// up to the zero-length terminator.
func residentNames(b []byte, off int) ([]ResidentName, error) {
	c := buf.At(b, off)
	var out []ResidentName
	for range maxResidentNames {
		n := int(c.U8())
		if err := c.Err(); err != nil {
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
		name := decodeName(c.Bytes(n))
		ord := c.U16()
		if err := c.Err(); err != nil {
			return nil, err
		}
		out = append(out, ResidentName{Name: name, Ordinal: ord})
	}
	return out, nil
}
