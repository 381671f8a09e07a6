package format

import (
	"encoding/binary"
	"fmt"
	"path"
	"strings"

	"github.com/joshuapare/protscan/internal/buf"
)

const (
	isCabSignature      = 0x28635349 // "ISc("
	isCommonHeaderSize  = 20
	isVolumeHeaderV5    = 40
	isVolumeHeaderV6    = 64
	isFileDescriptorV6  = 0x57
	isMaxGroups         = 71
	isMaxFiles          = 1 << 20
	isMaxChainLength    = 4096
	isComponentOpaqueV5 = 0x6c
	isComponentOpaqueV6 = 0x6b
	isFileGroupOpaqueV5 = 0x48
	isFileGroupOpaqueV6 = 0x12
)

// InstallShield file descriptor flags.
const (
	ISFileSplit      = 0x1
	ISFileObfuscated = 0x2
	ISFileCompressed = 0x4
	ISFileInvalid    = 0x8
)

// ISCommonHeader opens both header and data volumes.
//
//	Offset  Size  Description
//	------  ----  ----------------------------
//	 0x00    4    "ISc("
//	 0x04    4    version word
//	 0x08    4    volume info
//	 0x0C    4    cab descriptor offset
//	 0x10    4    cab descriptor size
type ISCommonHeader struct {
	Signature           uint32
	Version             uint32
	VolumeInfo          uint32
	CabDescriptorOffset uint32
	CabDescriptorSize   uint32
}

// MarshalBinary re-encodes the header.
func (h ISCommonHeader) MarshalBinary() ([]byte, error) {
	return binary.Append(nil, binary.LittleEndian, h)
}

// MajorVersion decodes the packed version word.
func (h ISCommonHeader) MajorVersion() int {
	switch h.Version >> 24 {
	case 1:
		return int(h.Version>>12) & 0xf
	case 2, 4:
		return int(h.Version&0xffff) / 100
	}
	return 0
}

// ISVolumeHeader follows the common header in data volumes. Versions up to
// 5 store 32-bit fields; later versions split each value into low and high
// words, folded together here.
type ISVolumeHeader struct {
	DataOffset              uint32
	Unknown                 uint32
	FirstFileIndex          uint32
	LastFileIndex           uint32
	FirstFileOffset         uint64
	FirstFileSizeExpanded   uint64
	FirstFileSizeCompressed uint64
	LastFileOffset          uint64
	LastFileSizeExpanded    uint64
	LastFileSizeCompressed  uint64
}

// ISCabDescriptor lists the file table and the heads of the file-group and
// component chains. Offsets are relative to the descriptor.
type ISCabDescriptor struct {
	Reserved0        [12]byte
	FileTableOffset  uint32
	Reserved1        uint32
	FileTableSize    uint32
	FileTableSize2   uint32
	DirectoryCount   uint32
	Reserved2        [8]byte
	FileCount        uint32
	FileTableOffset2 uint32
	Reserved3        [14]byte
	FileGroupOffsets [isMaxGroups]uint32
	ComponentOffsets [isMaxGroups]uint32
}

// ISFile is a file descriptor normalised across layout versions.
type ISFile struct {
	Name           string
	DirectoryIndex uint32
	Flags          uint16
	ExpandedSize   uint64
	CompressedSize uint64
	DataOffset     uint64
	MD5            [16]byte
	LinkPrevious   uint32
	LinkNext       uint32
	LinkFlags      uint8
	Volume         uint16
}

// ISComponent is a named component and its file groups. The fields between
// the name and the group table are not understood and kept verbatim.
type ISComponent struct {
	Name       string
	Opaque     []byte
	FileGroups []string
}

// ISFileGroup names a contiguous file index range.
type ISFileGroup struct {
	Name      string
	Opaque    []byte
	FirstFile uint32
	LastFile  uint32
}

// InstallShieldCAB is a parsed header or data volume.
type InstallShieldCAB struct {
	Common      ISCommonHeader
	Major       int
	Volume      *ISVolumeHeader
	Descriptor  *ISCabDescriptor
	Directories []string
	Files       []ISFile
	Components  []ISComponent
	FileGroups  []ISFileGroup

	size int
}

func (*InstallShieldCAB) Tag() Tag { return TagInstallShieldCAB }

func (cab *InstallShieldCAB) filePath(f ISFile) string {
	name := strings.ReplaceAll(f.Name, `\`, "/")
	if int(f.DirectoryIndex) < len(cab.Directories) {
		return path.Join(strings.ReplaceAll(cab.Directories[f.DirectoryIndex], `\`, "/"), name)
	}
	return name
}

func isFileSpan(f ISFile) Span {
	n := f.ExpandedSize
	if f.Flags&ISFileCompressed != 0 {
		n = f.CompressedSize
	}
	return Span{Off: int(f.DataOffset), Len: int(n)}
}

func (cab *InstallShieldCAB) Streams() []Stream {
	out := make([]Stream, len(cab.Files))
	for i, f := range cab.Files {
		sp := isFileSpan(f)
		if f.Flags&ISFileCompressed != 0 {
			out[i] = Stream{Method: MethodISChunks, Spans: []Span{sp}, Size: int(f.ExpandedSize)}
		} else {
			out[i] = Stored(sp)
		}
	}
	return out
}

// Entries resolves files stored in this volume. Obfuscated and split files
// and files of other volumes are unresolved.
func (cab *InstallShieldCAB) Entries() []Entry {
	var out []Entry
	for i, f := range cab.Files {
		if f.Flags&ISFileInvalid != 0 || f.Name == "" {
			continue
		}
		name := cab.filePath(f)
		switch {
		case f.Flags&ISFileObfuscated != 0:
			out = append(out, unresolved(name, fmt.Errorf("iscab obfuscated file: %w", ErrUnsupported)))
			continue
		case f.Flags&ISFileSplit != 0:
			out = append(out, unresolved(name, fmt.Errorf("iscab split file: %w", ErrUnsupported)))
			continue
		case !cab.inVolume(i):
			out = append(out, unresolved(name, fmt.Errorf("iscab file %d in another volume: %w", i, ErrUnsupported)))
			continue
		}
		sp := isFileSpan(f)
		if _, err := span(cab.size, sp.Off, sp.Len); err != nil {
			out = append(out, unresolved(name, err))
			continue
		}
		out = append(out, Entry{Name: name, Stream: i, Size: int(f.ExpandedSize)})
	}
	return out
}

func (cab *InstallShieldCAB) inVolume(i int) bool {
	v := cab.Volume
	if v == nil || v.DataOffset == 0 {
		return false
	}
	if v.LastFileIndex < v.FirstFileIndex {
		return true
	}
	return uint32(i) >= v.FirstFileIndex && uint32(i) <= v.LastFileIndex
}

// ParseInstallShieldCAB parses a header file (dataN.hdr) or a data volume
// that embeds its header. The volume header is read when the descriptor does
// not overlap it.
func ParseInstallShieldCAB(b []byte) (*InstallShieldCAB, error) {
	c := buf.NewCursor(b)
	cab := &InstallShieldCAB{size: len(b)}
	c.Decode(&cab.Common)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("iscab header: %w", err)
	}
	if cab.Common.Signature != isCabSignature {
		return nil, fmt.Errorf("iscab header: %w", ErrSignatureMismatch)
	}
	cab.Major = cab.Common.MajorVersion()
	if cab.Major == 0 {
		return nil, fmt.Errorf("iscab version %#x: %w", cab.Common.Version, ErrUnsupported)
	}

	volSize := isVolumeHeaderV5
	if cab.Major >= 6 {
		volSize = isVolumeHeaderV6
	}
	desc := int(cab.Common.CabDescriptorOffset)
	if desc == 0 || desc >= isCommonHeaderSize+volSize {
		if v, err := parseISVolume(c, cab.Major); err == nil {
			cab.Volume = v
		}
	}
	if desc == 0 {
		return cab, nil
	}
	if err := cab.parseDescriptor(b, desc); err != nil {
		return nil, err
	}
	return cab, nil
}

func parseISVolume(c *buf.Cursor, major int) (*ISVolumeHeader, error) {
	v := &ISVolumeHeader{}
	v.DataOffset = c.U32()
	v.Unknown = c.U32()
	v.FirstFileIndex = c.U32()
	v.LastFileIndex = c.U32()
	wide := func() uint64 {
		if major >= 6 {
			lo := uint64(c.U32())
			return lo | uint64(c.U32())<<32
		}
		return uint64(c.U32())
	}
	for _, dst := range []*uint64{
		&v.FirstFileOffset, &v.FirstFileSizeExpanded, &v.FirstFileSizeCompressed,
		&v.LastFileOffset, &v.LastFileSizeExpanded, &v.LastFileSizeCompressed,
	} {
		*dst = wide()
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("iscab volume header: %w", err)
	}
	return v, nil
}

func (cab *InstallShieldCAB) parseDescriptor(b []byte, base int) error {
	c := buf.At(b, base)
	d := &ISCabDescriptor{}
	c.Decode(d)
	if err := c.Err(); err != nil {
		return fmt.Errorf("iscab cab descriptor: %w", err)
	}
	cab.Descriptor = d
	if d.DirectoryCount > isMaxFiles || d.FileCount > isMaxFiles {
		return fmt.Errorf("iscab descriptor counts: %w", ErrUnsupported)
	}

	// Strings and tables are relative to the descriptor; file names to the
	// file table.
	str := func(rel int) string {
		if rel < 0 || base+rel >= len(b) {
			return ""
		}
		return decodeName(buf.CString(b[base+rel:]))
	}
	table := int(d.FileTableOffset)

	slots := int(d.DirectoryCount)
	if cab.Major <= 5 {
		slots += int(d.FileCount)
	}
	if _, err := buf.CheckListBounds(len(b), base+table, slots, 4); err != nil {
		return fmt.Errorf("iscab file table: %w", err)
	}
	c.Seek(base + table)
	offsets := make([]uint32, slots)
	for i := range offsets {
		offsets[i] = c.U32()
	}
	cab.Directories = make([]string, d.DirectoryCount)
	for i := range cab.Directories {
		cab.Directories[i] = str(table + int(offsets[i]))
	}

	cab.Files = make([]ISFile, d.FileCount)
	for i := range cab.Files {
		f := &cab.Files[i]
		if cab.Major <= 5 {
			if offsets[int(d.DirectoryCount)+i] == 0 {
				f.Flags = ISFileInvalid
				continue
			}
			c.Seek(base + table + int(offsets[int(d.DirectoryCount)+i]))
			nameOff := c.U32()
			f.DirectoryIndex = c.U32()
			f.Flags = c.U16()
			f.ExpandedSize = uint64(c.U32())
			f.CompressedSize = uint64(c.U32())
			c.Skip(0x14)
			f.DataOffset = uint64(c.U32())
			if cab.Major == 5 {
				c.Read(f.MD5[:])
			}
			f.Name = str(table + int(nameOff))
		} else {
			c.Seek(base + table + int(d.FileTableOffset2) + i*isFileDescriptorV6)
			f.Flags = c.U16()
			f.ExpandedSize = c.U64()
			f.CompressedSize = c.U64()
			f.DataOffset = c.U64()
			c.Read(f.MD5[:])
			c.Skip(0x10)
			nameOff := c.U32()
			f.DirectoryIndex = uint32(c.U16())
			c.Skip(0xc)
			f.LinkPrevious = c.U32()
			f.LinkNext = c.U32()
			f.LinkFlags = c.U8()
			f.Volume = c.U16()
			f.Name = str(table + int(nameOff))
		}
		if err := c.Err(); err != nil {
			return fmt.Errorf("iscab file descriptor %d: %w", i, err)
		}
	}

	for _, head := range d.FileGroupOffsets {
		err := isChain(b, base, head, func(desc int) error {
			g, err := cab.parseFileGroup(b, base, desc, str)
			if err == nil {
				cab.FileGroups = append(cab.FileGroups, g)
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("iscab file groups: %w", err)
		}
	}
	for _, head := range d.ComponentOffsets {
		err := isChain(b, base, head, func(desc int) error {
			comp, err := cab.parseComponent(b, base, desc, str)
			if err == nil {
				cab.Components = append(cab.Components, comp)
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("iscab components: %w", err)
		}
	}
	return nil
}

// isChain walks an offset list {name, descriptor, next} from head.
func isChain(b []byte, base int, head uint32, visit func(desc int) error) error {
	seen := make(map[uint32]bool)
	for off := head; off != 0; {
		if seen[off] || len(seen) >= isMaxChainLength {
			return fmt.Errorf("offset list loop at %#x: %w", off, ErrUnsupported)
		}
		seen[off] = true
		c := buf.At(b, base+int(off))
		_ = c.U32()
		desc := c.U32()
		next := c.U32()
		if err := c.Err(); err != nil {
			return err
		}
		if err := visit(int(desc)); err != nil {
			return err
		}
		off = next
	}
	return nil
}

func (cab *InstallShieldCAB) parseFileGroup(b []byte, base, desc int, str func(int) string) (ISFileGroup, error) {
	c := buf.At(b, base+desc)
	g := ISFileGroup{Name: str(int(c.U32()))}
	n := isFileGroupOpaqueV6
	if cab.Major <= 5 {
		n = isFileGroupOpaqueV5
	}
	g.Opaque = c.Copy(n)
	g.FirstFile = c.U32()
	g.LastFile = c.U32()
	return g, c.Err()
}

func (cab *InstallShieldCAB) parseComponent(b []byte, base, desc int, str func(int) string) (ISComponent, error) {
	c := buf.At(b, base+desc)
	comp := ISComponent{Name: str(int(c.U32()))}
	n := isComponentOpaqueV6
	if cab.Major <= 5 {
		n = isComponentOpaqueV5
	}
	comp.Opaque = c.Copy(n)
	count := int(c.U16())
	table := int(c.U32())
	if err := c.Err(); err != nil {
		return comp, err
	}
	if _, err := buf.CheckListBounds(len(b), base+table, count, 4); err != nil {
		return comp, err
	}
	c.Seek(base + table)
	for range count {
		comp.FileGroups = append(comp.FileGroups, str(int(c.U32())))
	}
	return comp, c.Err()
}
