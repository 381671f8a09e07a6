package format

import (
	"encoding/binary"
	"fmt"

	"github.com/joshuapare/protscan/internal/buf"
)

const (
	bspVersion      = 30
	bspLumpCount    = 15
	bspTextureLump  = 2
	bspMipTexSize   = 40
	vbspLumpCount   = 64
	vbspPakfileLump = 40
)

// BSPLump locates one lump of a Half-Life level.
type BSPLump struct {
	Offset uint32
	Length uint32
}

// BSPHeader is the version field followed by the fixed lump directory.
type BSPHeader struct {
	Version uint32
	Lumps   [bspLumpCount]BSPLump
}

// MarshalBinary re-encodes the header.
func (h BSPHeader) MarshalBinary() ([]byte, error) {
	return binary.Append(nil, binary.LittleEndian, h)
}

// MipTexture is the header of a texture embedded in the texture lump.
type MipTexture struct {
	Name    [16]byte
	Width   uint32
	Height  uint32
	Offsets [4]uint32
}

// BSP is a parsed Half-Life (version 30) level.
type BSP struct {
	Header   BSPHeader
	Textures []MipTexture

	size int
}

func (*BSP) Tag() Tag { return TagBSP }

func (m *BSP) Streams() []Stream { return []Stream{Stored(Span{Len: m.size})} }

// Entries exposes each non-empty lump as lumps/NN.lmp.
func (m *BSP) Entries() []Entry {
	var out []Entry
	for i, l := range m.Header.Lumps {
		if l.Length == 0 {
			continue
		}
		out = append(out, sliceEntry(fmt.Sprintf("lumps/%02d.lmp", i), m.size, int(l.Offset), int(l.Length)))
	}
	return out
}

// ParseBSP parses the lump directory and the texture lump headers.
func ParseBSP(b []byte) (*BSP, error) {
	c := buf.NewCursor(b)
	m := &BSP{size: len(b)}
	c.Decode(&m.Header)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("bsp header: %w", err)
	}
	if m.Header.Version != bspVersion {
		return nil, fmt.Errorf("bsp version %d: %w", m.Header.Version, ErrSignatureMismatch)
	}

	tex := m.Header.Lumps[bspTextureLump]
	if tex.Length == 0 {
		return m, nil
	}
	lump, err := span(len(b), int(tex.Offset), int(tex.Length))
	if err != nil {
		return nil, fmt.Errorf("bsp texture lump: %w", err)
	}
	lc := buf.At(b[:lump.End()], lump.Off)
	n := int(lc.U32())
	if _, err := buf.CheckListBounds(lump.End(), lc.Offset(), n, 4); err != nil {
		return nil, fmt.Errorf("bsp texture offsets: %w", err)
	}
	offsets := make([]int32, n)
	for i := range offsets {
		offsets[i] = lc.I32()
	}
	for _, o := range offsets {
		if o < 0 {
			continue
		}
		tc := buf.At(b[:lump.End()], lump.Off+int(o))
		var mt MipTexture
		tc.Decode(&mt)
		if err := tc.Err(); err != nil {
			return nil, fmt.Errorf("bsp miptex at %d: %w", o, err)
		}
		m.Textures = append(m.Textures, mt)
	}
	return m, lc.Err()
}

// VBSPLump is one of the 64 Source level lumps.
type VBSPLump struct {
	Offset  uint32
	Length  uint32
	Version uint32
	FourCC  [4]byte
}

// VBSPHeader is the Source engine level header.
//
//	Offset  Size  Description
//	------  ----  ----------------------------
//	 0x000   4    'V' 'B' 'S' 'P'
//	 0x004   4    version
//	 0x008  1024  64 lumps of 16 bytes
//	 0x408   4    map revision
type VBSPHeader struct {
	Signature   [4]byte
	Version     int32
	Lumps       [vbspLumpCount]VBSPLump
	MapRevision int32
}

// MarshalBinary re-encodes the header.
func (h VBSPHeader) MarshalBinary() ([]byte, error) {
	return binary.Append(nil, binary.LittleEndian, h)
}

// VBSP is a parsed Source engine level.
type VBSP struct {
	Header VBSPHeader

	size int
}

func (*VBSP) Tag() Tag { return TagVBSP }

func (m *VBSP) Streams() []Stream { return []Stream{Stored(Span{Len: m.size})} }

// Entries exposes the non-empty lumps. The pakfile lump is a ZIP archive.
func (m *VBSP) Entries() []Entry {
	var out []Entry
	for i, l := range m.Header.Lumps {
		if l.Length == 0 {
			continue
		}
		name := fmt.Sprintf("lumps/%02d.lmp", i)
		if i == vbspPakfileLump {
			name = "pakfile.zip"
		}
		out = append(out, sliceEntry(name, m.size, int(l.Offset), int(l.Length)))
	}
	return out
}

// ParseVBSP parses a Source level header.
func ParseVBSP(b []byte) (*VBSP, error) {
	c := buf.NewCursor(b)
	m := &VBSP{size: len(b)}
	c.Decode(&m.Header)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("vbsp header: %w", err)
	}
	if string(m.Header.Signature[:]) != "VBSP" {
		return nil, fmt.Errorf("vbsp header: %w", ErrSignatureMismatch)
	}
	return m, nil
}
