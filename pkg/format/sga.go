package format

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"path"
	"strings"

	"github.com/joshuapare/protscan/internal/buf"
)

const (
	sgaNameBytes = 128
	sgaMaxItems  = 1 << 20
)

// sgaHeaderKey is mixed into the version 4/5 header digest.
var sgaHeaderKey = []byte("DFC9AF62-FC1B-4180-BC27-11CCE87D3EFF")

// SGAHeader is the archive header. Versions 4 and 5 carry the file and
// header digests; versions 6 and 7 drop them.
//
//	Offset  Size  Description
//	------  ----  ----------------------------
//	 0x00    8    "_ARCHIVE"
//	 0x08    2    major version
//	 0x0A    2    minor version
//	 0x0C   16    v4/v5: file MD5
//	  ..   128    archive name, UTF-16LE
//	  ..    16    v4/v5: header MD5
//	  ..     4    header length
//	  ..     4    file data offset
//	  ..     4    reserved
type SGAHeader struct {
	Signature      [8]byte
	MajorVersion   uint16
	MinorVersion   uint16
	FileMD5        [16]byte
	Name           string
	HeaderMD5      [16]byte
	HeaderLength   uint32
	FileDataOffset uint32
	Dummy0         uint32
}

// SGADirectoryHeader locates the directory tables, relative to the
// directory header itself. Version 4 stores the counts as uint16.
type SGADirectoryHeader struct {
	SectionOffset     uint32
	SectionCount      uint32
	FolderOffset      uint32
	FolderCount       uint32
	FileOffset        uint32
	FileCount         uint32
	StringTableOffset uint32
	StringTableCount  uint32
}

// SGASection groups folders under an alias.
type SGASection struct {
	Alias            string
	Name             string
	FolderStartIndex uint32
	FolderEndIndex   uint32
	FileStartIndex   uint32
	FileEndIndex     uint32
	FolderRootIndex  uint32
}

// SGAFolder is a directory and the index ranges of its children.
type SGAFolder struct {
	Name             string
	FolderStartIndex uint32
	FolderEndIndex   uint32
	FileStartIndex   uint32
	FileEndIndex     uint32
}

// SGAFile is a file record. CRC exists from version 6 and HashOffset from
// version 7. A non-zero Type marks a zlib-compressed file.
type SGAFile struct {
	Name         string
	Offset       uint32
	SizeOnDisk   uint32
	Size         uint32
	TimeModified uint32
	Dummy0       uint8
	Type         uint8
	CRC          uint32
	HashOffset   uint32
}

// SGA is a parsed Relic archive.
type SGA struct {
	Integrity
	Header    SGAHeader
	Directory SGADirectoryHeader
	Sections  []SGASection
	Folders   []SGAFolder
	Files     []SGAFile
	// Paths holds each file's folder-qualified name.
	Paths []string

	size int
}

func (*SGA) Tag() Tag { return TagSGA }

func (s *SGA) Streams() []Stream {
	out := make([]Stream, len(s.Files))
	for i, f := range s.Files {
		sp := Span{Off: int(s.Header.FileDataOffset) + int(f.Offset), Len: int(f.SizeOnDisk)}
		if f.Type != 0 {
			out[i] = Stream{Method: MethodZlib, Spans: []Span{sp}, Size: int(f.Size)}
		} else {
			out[i] = Stored(sp)
		}
	}
	return out
}

func (s *SGA) Entries() []Entry {
	out := make([]Entry, len(s.Files))
	for i, f := range s.Files {
		if _, err := span(s.size, int(s.Header.FileDataOffset)+int(f.Offset), int(f.SizeOnDisk)); err != nil {
			out[i] = unresolved(s.Paths[i], err)
			continue
		}
		out[i] = Entry{Name: s.Paths[i], Stream: i, Size: int(f.Size)}
	}
	return out
}

// ParseSGA parses versions 4 through 7. The layout of each table is chosen
// from MajorVersion; the version 4/5 header digest is verified.
func ParseSGA(b []byte) (*SGA, error) {
	c := buf.NewCursor(b)
	s := &SGA{size: len(b)}
	h := &s.Header
	c.Read(h.Signature[:])
	h.MajorVersion = c.U16()
	h.MinorVersion = c.U16()
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("sga header: %w", err)
	}
	if string(h.Signature[:]) != "_ARCHIVE" {
		return nil, fmt.Errorf("sga header: %w", ErrSignatureMismatch)
	}
	v := h.MajorVersion
	switch v {
	case 4, 5:
		c.Read(h.FileMD5[:])
		h.Name = decodeUTF16Name(c.Bytes(sgaNameBytes))
		c.Read(h.HeaderMD5[:])
	case 6, 7:
		h.Name = decodeUTF16Name(c.Bytes(sgaNameBytes))
	default:
		return nil, fmt.Errorf("sga version %d: %w", v, ErrUnsupported)
	}
	h.HeaderLength = c.U32()
	h.FileDataOffset = c.U32()
	h.Dummy0 = c.U32()
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("sga header: %w", err)
	}

	dirStart := c.Offset()
	dir, err := span(len(b), dirStart, int(h.HeaderLength))
	if err != nil {
		return nil, fmt.Errorf("sga directory: %w", err)
	}
	if v <= 5 {
		d := md5.New()
		d.Write(sgaHeaderKey)
		d.Write(b[dir.Off:dir.End()])
		if !bytes.Equal(d.Sum(nil), h.HeaderMD5[:]) {
			s.flag("sga header md5")
		}
	}
	if err := s.parseDirectory(b[:dir.End()], dirStart); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SGA) parseDirectory(b []byte, base int) error {
	v := s.Header.MajorVersion
	c := buf.At(b, base)
	d := &s.Directory
	if v == 4 {
		d.SectionOffset, d.SectionCount = c.U32(), uint32(c.U16())
		d.FolderOffset, d.FolderCount = c.U32(), uint32(c.U16())
		d.FileOffset, d.FileCount = c.U32(), uint32(c.U16())
		d.StringTableOffset, d.StringTableCount = c.U32(), uint32(c.U16())
	} else {
		c.Decode(d)
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("sga directory header: %w", err)
	}
	if d.SectionCount > sgaMaxItems || d.FolderCount > sgaMaxItems || d.FileCount > sgaMaxItems {
		return fmt.Errorf("sga directory counts: %w", ErrUnsupported)
	}

	table, ok := buf.Slice(b, base+int(d.StringTableOffset), len(b)-base-int(d.StringTableOffset))
	if !ok {
		return fmt.Errorf("sga string table: %w", ErrOutOfRange)
	}
	name := func(off uint32) string {
		if int(off) >= len(table) {
			return ""
		}
		return decodeName(buf.CString(table[off:]))
	}
	idx := func(c *buf.Cursor) uint32 {
		if v == 4 {
			return uint32(c.U16())
		}
		return c.U32()
	}

	sectSize, folderSize := 138, 12
	if v >= 5 {
		sectSize, folderSize = 148, 20
	}
	fileSize := 22
	switch v {
	case 6:
		fileSize = 26
	case 7:
		fileSize = 30
	}

	if _, err := buf.CheckListBounds(len(b), base+int(d.SectionOffset), int(d.SectionCount), sectSize); err != nil {
		return fmt.Errorf("sga sections: %w", err)
	}
	c.Seek(base + int(d.SectionOffset))
	s.Sections = make([]SGASection, d.SectionCount)
	for i := range s.Sections {
		sec := &s.Sections[i]
		sec.Alias = decodeName(c.Fixed(64))
		sec.Name = decodeName(c.Fixed(64))
		sec.FolderStartIndex, sec.FolderEndIndex = idx(c), idx(c)
		sec.FileStartIndex, sec.FileEndIndex = idx(c), idx(c)
		sec.FolderRootIndex = idx(c)
	}

	if _, err := buf.CheckListBounds(len(b), base+int(d.FolderOffset), int(d.FolderCount), folderSize); err != nil {
		return fmt.Errorf("sga folders: %w", err)
	}
	c.Seek(base + int(d.FolderOffset))
	s.Folders = make([]SGAFolder, d.FolderCount)
	for i := range s.Folders {
		f := &s.Folders[i]
		f.Name = name(c.U32())
		f.FolderStartIndex, f.FolderEndIndex = idx(c), idx(c)
		f.FileStartIndex, f.FileEndIndex = idx(c), idx(c)
	}

	if _, err := buf.CheckListBounds(len(b), base+int(d.FileOffset), int(d.FileCount), fileSize); err != nil {
		return fmt.Errorf("sga files: %w", err)
	}
	c.Seek(base + int(d.FileOffset))
	s.Files = make([]SGAFile, d.FileCount)
	for i := range s.Files {
		f := &s.Files[i]
		f.Name = name(c.U32())
		f.Offset = c.U32()
		f.SizeOnDisk = c.U32()
		f.Size = c.U32()
		f.TimeModified = c.U32()
		f.Dummy0 = c.U8()
		f.Type = c.U8()
		if v >= 6 {
			f.CRC = c.U32()
		}
		if v >= 7 {
			f.HashOffset = c.U32()
		}
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("sga directory: %w", err)
	}

	s.Paths = make([]string, len(s.Files))
	for i, f := range s.Files {
		s.Paths[i] = f.Name
	}
	for _, fo := range s.Folders {
		if fo.Name == "" {
			continue
		}
		dir := strings.ReplaceAll(fo.Name, `\`, "/")
		for j := fo.FileStartIndex; j < fo.FileEndIndex && int(j) < len(s.Files); j++ {
			s.Paths[j] = path.Join(dir, s.Files[j].Name)
		}
	}
	return nil
}
