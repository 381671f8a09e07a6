package format

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/joshuapare/protscan/internal/buf"
)

const (
	cabFlagPrevCabinet    = 0x0001
	cabFlagNextCabinet    = 0x0002
	cabFlagReservePresent = 0x0004

	cabAttribNameUTF = 0x80

	cabFolderContinuedFromPrev    = 0xfffd
	cabFolderContinuedToNext      = 0xfffe
	cabFolderContinuedPrevAndNext = 0xffff

	cabMaxDataBlocks = 1 << 16
)

// CAB folder compression types (low nibble of TypeCompress).
const (
	CabCompressNone    = 0
	CabCompressMSZIP   = 1
	CabCompressQuantum = 2
	CabCompressLZX     = 3
)

// CabHeader is the Microsoft cabinet CFHEADER.
//
//	Offset  Size  Description
//	------  ----  ----------------------------
//	 0x00    4    "MSCF"
//	 0x08    4    cabinet size
//	 0x10    4    offset of the first CFFILE
//	 0x18    2    version (minor, major)
//	 0x1A    2    folder count
//	 0x1C    2    file count
//	 0x1E    2    flags
//	 0x20    2    set ID
//	 0x22    2    cabinet index within the set
type CabHeader struct {
	Signature    [4]byte
	Reserved1    uint32
	CabinetSize  uint32
	Reserved2    uint32
	FilesOffset  uint32
	Reserved3    uint32
	VersionMinor uint8
	VersionMajor uint8
	FolderCount  uint16
	FileCount    uint16
	Flags        uint16
	SetID        uint16
	Cabinet      uint16
}

// MarshalBinary re-encodes the fixed header.
func (h CabHeader) MarshalBinary() ([]byte, error) {
	return binary.Append(nil, binary.LittleEndian, h)
}

// CabFolder is a CFFOLDER record with its data blocks.
type CabFolder struct {
	DataOffset   uint32
	DataCount    uint16
	TypeCompress uint16
	Blocks       []Block
}

// Compression returns the low nibble of TypeCompress.
func (f CabFolder) Compression() int { return int(f.TypeCompress & 0x0f) }

// Window returns the codec window bits for Quantum and LZX folders.
func (f CabFolder) Window() uint { return uint(f.TypeCompress>>8) & 0x1f }

// CabFile is a CFFILE record.
type CabFile struct {
	Size        uint32
	FolderStart uint32
	Folder      uint16
	Date        uint16
	Time        uint16
	Attribs     uint16
	Name        string
}

// Cabinet is a parsed cabinet file.
type Cabinet struct {
	Integrity
	Header        CabHeader
	HeaderReserve []byte
	FolderReserve int
	DataReserve   int
	PrevCabinet   string
	PrevDisk      string
	NextCabinet   string
	NextDisk      string
	Folders       []CabFolder
	Files         []CabFile
}

func (*Cabinet) Tag() Tag { return TagMSCAB }

// Streams returns one stream per folder.
func (cab *Cabinet) Streams() []Stream {
	out := make([]Stream, len(cab.Folders))
	for i, f := range cab.Folders {
		size := 0
		for _, blk := range f.Blocks {
			size += blk.USize
		}
		s := Stream{Blocks: f.Blocks, Size: size, Window: f.Window()}
		switch f.Compression() {
		case CabCompressNone:
			s.Method = MethodStored
			for _, blk := range f.Blocks {
				s.Spans = append(s.Spans, blk.Span)
			}
		case CabCompressMSZIP:
			s.Method = MethodMSZIP
		case CabCompressQuantum:
			s.Method = MethodQuantum
		case CabCompressLZX:
			s.Method = MethodLZX
		}
		out[i] = s
	}
	return out
}

func (cab *Cabinet) Entries() []Entry {
	streams := cab.Streams()
	out := make([]Entry, len(cab.Files))
	for i, f := range cab.Files {
		switch f.Folder {
		case cabFolderContinuedFromPrev, cabFolderContinuedToNext, cabFolderContinuedPrevAndNext:
			out[i] = unresolved(f.Name, fmt.Errorf("cab file spans cabinets: %w", ErrUnsupported))
			continue
		}
		if int(f.Folder) >= len(cab.Folders) {
			out[i] = unresolved(f.Name, fmt.Errorf("cab folder %d: %w", f.Folder, ErrOutOfRange))
			continue
		}
		folder := cab.Folders[f.Folder]
		if c := folder.Compression(); c > CabCompressLZX {
			out[i] = unresolved(f.Name, fmt.Errorf("cab compression type %d: %w", c, ErrUnsupported))
			continue
		}
		if _, err := span(streams[f.Folder].Size, int(f.FolderStart), int(f.Size)); err != nil {
			out[i] = unresolved(f.Name, err)
			continue
		}
		out[i] = Entry{Name: f.Name, Stream: int(f.Folder), Off: int(f.FolderStart), Size: int(f.Size)}
	}
	return out
}

// ParseCabinet parses the header, folder and file tables and walks every
// folder's CFDATA chain. Non-zero data block checksums are verified.
func ParseCabinet(b []byte) (*Cabinet, error) {
	c := buf.NewCursor(b)
	cab := &Cabinet{}
	h := &cab.Header
	c.Decode(h)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("cab header: %w", err)
	}
	if string(h.Signature[:]) != "MSCF" {
		return nil, fmt.Errorf("cab header: %w", ErrSignatureMismatch)
	}
	if h.VersionMajor != 1 || h.VersionMinor != 3 {
		return nil, fmt.Errorf("cab version %d.%d: %w", h.VersionMajor, h.VersionMinor, ErrUnsupported)
	}
	if h.Flags&cabFlagReservePresent != 0 {
		n := int(c.U16())
		cab.FolderReserve = int(c.U8())
		cab.DataReserve = int(c.U8())
		cab.HeaderReserve = c.Copy(n)
	}
	if h.Flags&cabFlagPrevCabinet != 0 {
		cab.PrevCabinet = decodeName(c.CString())
		cab.PrevDisk = decodeName(c.CString())
	}
	if h.Flags&cabFlagNextCabinet != 0 {
		cab.NextCabinet = decodeName(c.CString())
		cab.NextDisk = decodeName(c.CString())
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("cab header extension: %w", err)
	}

	if _, err := buf.CheckListBounds(len(b), c.Offset(), int(h.FolderCount), 8+cab.FolderReserve); err != nil {
		return nil, fmt.Errorf("cab folders: %w", err)
	}
	cab.Folders = make([]CabFolder, h.FolderCount)
	for i := range cab.Folders {
		f := &cab.Folders[i]
		f.DataOffset = c.U32()
		f.DataCount = c.U16()
		f.TypeCompress = c.U16()
		c.Skip(cab.FolderReserve)
	}

	c.Seek(int(h.FilesOffset))
	cab.Files = make([]CabFile, 0, min(int(h.FileCount), len(b)/16))
	for range int(h.FileCount) {
		var f CabFile
		f.Size = c.U32()
		f.FolderStart = c.U32()
		f.Folder = c.U16()
		f.Date = c.U16()
		f.Time = c.U16()
		f.Attribs = c.U16()
		name := c.CString()
		if f.Attribs&cabAttribNameUTF != 0 {
			f.Name = strings.ToValidUTF8(string(name), "_")
		} else {
			f.Name = decodeName(name)
		}
		f.Name = strings.ReplaceAll(f.Name, `\`, "/")
		if err := c.Err(); err != nil {
			return nil, fmt.Errorf("cab file %d: %w", len(cab.Files), err)
		}
		cab.Files = append(cab.Files, f)
	}

	for i := range cab.Folders {
		if err := cab.readBlocks(b, i); err != nil {
			return nil, err
		}
	}
	return cab, nil
}

func (cab *Cabinet) readBlocks(b []byte, folder int) error {
	f := &cab.Folders[folder]
	c := buf.At(b, int(f.DataOffset))
	f.Blocks = make([]Block, 0, min(int(f.DataCount), cabMaxDataBlocks))
	for j := range int(f.DataCount) {
		start := c.Offset()
		sum := c.U32()
		n := int(c.U16())
		usize := int(c.U16())
		c.Skip(cab.DataReserve)
		data := c.Offset()
		c.Skip(n)
		if err := c.Err(); err != nil {
			return fmt.Errorf("cab folder %d data block %d: %w", folder, j, err)
		}
		if sum != 0 && cabChecksum(b[start+4:start+8], cabChecksum(b[data:data+n], 0)) != sum {
			cab.flag("cab folder %d data block %d checksum", folder, j)
		}
		f.Blocks = append(f.Blocks, Block{Span: Span{Off: data, Len: n}, USize: usize})
	}
	return nil
}

// cabChecksum folds b into seed as little-endian words; a trailing partial
// word is taken most significant byte first.
func cabChecksum(b []byte, seed uint32) uint32 {
	for len(b) >= 4 {
		seed ^= binary.LittleEndian.Uint32(b)
		b = b[4:]
	}
	var ul uint32
	for _, x := range b {
		ul = ul<<8 | uint32(x)
	}
	return seed ^ ul
}
