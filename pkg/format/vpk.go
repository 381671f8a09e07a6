package format

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/joshuapare/protscan/internal/buf"
)

const (
	vpkSignature     = 0x55aa1234
	vpkHeaderV1Size  = 12
	vpkHeaderV2Size  = 28
	vpkInlineArchive = 0x7fff
	vpkTerminator    = 0xffff
	vpkMaxEntries    = 1 << 20
)

// VPKHeader is the Valve pack header. Version 1 ends after TreeSize;
// version 2 adds the section sizes.
//
//	Offset  Size  Description
//	------  ----  ----------------------------
//	 0x00    4    0x55AA1234
//	 0x04    4    version (1 or 2)
//	 0x08    4    directory tree size
//	 0x0C   16    v2: data, archive MD5, other MD5, signature section sizes
type VPKHeader struct {
	Signature             uint32
	Version               uint32
	TreeSize              uint32
	FileDataSectionSize   uint32
	ArchiveMD5SectionSize uint32
	OtherMD5SectionSize   uint32
	SignatureSectionSize  uint32
}

// Size returns the encoded header length for the header's version.
func (h VPKHeader) Size() int {
	if h.Version >= 2 {
		return vpkHeaderV2Size
	}
	return vpkHeaderV1Size
}

// MarshalBinary re-encodes the header in its versioned length.
func (h VPKHeader) MarshalBinary() ([]byte, error) {
	out, err := binary.Append(nil, binary.LittleEndian, h)
	if err != nil {
		return nil, err
	}
	return out[:h.Size()], nil
}

// VPKEntry is one file of the directory tree.
type VPKEntry struct {
	Path         string
	CRC          uint32
	PreloadBytes uint16
	ArchiveIndex uint16
	EntryOffset  uint32
	EntryLength  uint32
	// Preload locates the inline preload bytes in the directory file.
	Preload Span
}

// VPK is a parsed directory file.
type VPK struct {
	Integrity
	Header VPKHeader
	Files  []VPKEntry

	size int
}

func (*VPK) Tag() Tag { return TagVPK }

func (v *VPK) dataStart() int { return v.Header.Size() + int(v.Header.TreeSize) }

func (v *VPK) Streams() []Stream {
	out := make([]Stream, 0, len(v.Files))
	for _, f := range v.Files {
		s := Stored(f.Preload)
		if f.ArchiveIndex == vpkInlineArchive && f.EntryLength > 0 {
			s = Stored(f.Preload, Span{Off: v.dataStart() + int(f.EntryOffset), Len: int(f.EntryLength)})
		}
		out = append(out, s)
	}
	return out
}

// Entries resolves files whose data is preloaded or stored in this file.
// Data in numbered sibling volumes is reported unresolved.
func (v *VPK) Entries() []Entry {
	out := make([]Entry, len(v.Files))
	for i, f := range v.Files {
		switch {
		case f.ArchiveIndex == vpkInlineArchive || f.EntryLength == 0:
			if _, err := span(v.size, v.dataStart()+int(f.EntryOffset), int(f.EntryLength)); err != nil && f.EntryLength > 0 {
				out[i] = unresolved(f.Path, err)
				continue
			}
			out[i] = Entry{Name: f.Path, Stream: i, Size: int(f.PreloadBytes) + int(f.EntryLength)}
		default:
			out[i] = unresolved(f.Path, fmt.Errorf("vpk data in volume %03d: %w", f.ArchiveIndex, ErrUnsupported))
		}
	}
	return out
}

// ParseVPK parses the header and the extension/path/name directory tree.
// Version 2 tree and archive-MD5 checksums are verified.
func ParseVPK(b []byte) (*VPK, error) {
	c := buf.NewCursor(b)
	v := &VPK{size: len(b)}
	h := &v.Header
	h.Signature = c.U32()
	h.Version = c.U32()
	h.TreeSize = c.U32()
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("vpk header: %w", err)
	}
	if h.Signature != vpkSignature {
		return nil, fmt.Errorf("vpk header: %w", ErrSignatureMismatch)
	}
	switch h.Version {
	case 1:
	case 2:
		h.FileDataSectionSize = c.U32()
		h.ArchiveMD5SectionSize = c.U32()
		h.OtherMD5SectionSize = c.U32()
		h.SignatureSectionSize = c.U32()
		if err := c.Err(); err != nil {
			return nil, fmt.Errorf("vpk v2 header: %w", err)
		}
	default:
		return nil, fmt.Errorf("vpk version %d: %w", h.Version, ErrUnsupported)
	}

	tree, err := span(len(b), c.Offset(), int(h.TreeSize))
	if err != nil {
		return nil, fmt.Errorf("vpk tree: %w", err)
	}
	if err := v.parseTree(b[:tree.End()], tree.Off); err != nil {
		return nil, err
	}
	if h.Version == 2 {
		v.verify(b, tree)
	}
	return v, nil
}

func (v *VPK) parseTree(b []byte, off int) error {
	c := buf.At(b, off)
	for {
		ext := string(c.CString())
		if c.Err() != nil || ext == "" {
			break
		}
		for {
			dir := string(c.CString())
			if c.Err() != nil || dir == "" {
				break
			}
			for {
				name := string(c.CString())
				if c.Err() != nil || name == "" {
					break
				}
				if len(v.Files) >= vpkMaxEntries {
					return fmt.Errorf("vpk tree: more than %d entries: %w", vpkMaxEntries, ErrUnsupported)
				}
				e := VPKEntry{Path: vpkPath(dir, name, ext)}
				e.CRC = c.U32()
				e.PreloadBytes = c.U16()
				e.ArchiveIndex = c.U16()
				e.EntryOffset = c.U32()
				e.EntryLength = c.U32()
				if t := c.U16(); c.Err() == nil && t != vpkTerminator {
					return fmt.Errorf("vpk entry %q: terminator %#04x: %w", e.Path, t, ErrSignatureMismatch)
				}
				e.Preload = Span{Off: c.Offset(), Len: int(e.PreloadBytes)}
				c.Skip(int(e.PreloadBytes))
				v.Files = append(v.Files, e)
			}
		}
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("vpk tree: %w", err)
	}
	return nil
}

func vpkPath(dir, name, ext string) string {
	var sb strings.Builder
	if dir = strings.TrimSpace(dir); dir != "" {
		sb.WriteString(dir)
		sb.WriteByte('/')
	}
	sb.WriteString(name)
	if ext = strings.TrimSpace(ext); ext != "" {
		sb.WriteByte('.')
		sb.WriteString(ext)
	}
	return decodeName([]byte(sb.String()))
}

// verify checks the tree and archive-MD5 digests stored in the "other MD5"
// section of a version 2 directory.
func (v *VPK) verify(b []byte, tree Span) {
	h := v.Header
	if h.OtherMD5SectionSize < 2*md5.Size {
		return
	}
	archiveMD5 := tree.End() + int(h.FileDataSectionSize)
	other := archiveMD5 + int(h.ArchiveMD5SectionSize)
	sums, ok := buf.Slice(b, other, 2*md5.Size)
	if !ok {
		v.flag("vpk other md5 section out of range")
		return
	}
	treeSum := md5.Sum(b[tree.Off:tree.End()])
	if !bytes.Equal(treeSum[:], sums[:md5.Size]) {
		v.flag("vpk tree md5")
	}
	if sect, ok := buf.Slice(b, archiveMD5, int(h.ArchiveMD5SectionSize)); ok {
		sum := md5.Sum(sect)
		if !bytes.Equal(sum[:], sums[md5.Size:]) {
			v.flag("vpk archive md5 section md5")
		}
	}
}
