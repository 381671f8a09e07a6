package format

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zip"
)

const zipFlagEncrypted = 0x1

// ZIPFile is one member of a ZIP archive.
type ZIPFile struct {
	Name             string
	Method           uint16
	Flags            uint16
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
	DataOffset       int64
}

// ZIP is a parsed ZIP central directory. VBSP pakfile lumps and many game
// patches are ZIPs.
type ZIP struct {
	Comment string
	Files   []ZIPFile

	size int
}

func (*ZIP) Tag() Tag { return TagZIP }

func (z *ZIP) Streams() []Stream {
	out := make([]Stream, len(z.Files))
	for i, f := range z.Files {
		sp := Span{Off: int(f.DataOffset), Len: int(f.CompressedSize)}
		if f.Method == zip.Deflate {
			out[i] = Stream{Method: MethodDeflate, Spans: []Span{sp}, Size: int(f.UncompressedSize)}
		} else {
			out[i] = Stored(sp)
		}
	}
	return out
}

// Entries resolves stored and deflated members. Encrypted members and other
// methods are unresolved.
func (z *ZIP) Entries() []Entry {
	var out []Entry
	for i, f := range z.Files {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		switch {
		case f.Flags&zipFlagEncrypted != 0:
			out = append(out, unresolved(f.Name, fmt.Errorf("zip encrypted member: %w", ErrUnsupported)))
			continue
		case f.Method != zip.Store && f.Method != zip.Deflate:
			out = append(out, unresolved(f.Name, fmt.Errorf("zip method %d: %w", f.Method, ErrUnsupported)))
			continue
		}
		if _, err := span(z.size, int(f.DataOffset), int(f.CompressedSize)); err != nil {
			out = append(out, unresolved(f.Name, err))
			continue
		}
		out = append(out, Entry{Name: f.Name, Stream: i, Size: int(f.UncompressedSize)})
	}
	return out
}

// ParseZIP reads the central directory and locates each member's data.
func ParseZIP(b []byte) (*ZIP, error) {
	r, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	// r is still usable when only a member name is insecure.
	if r == nil {
		return nil, fmt.Errorf("zip directory: %w: %w", ErrSignatureMismatch, err)
	}
	z := &ZIP{Comment: r.Comment, size: len(b)}
	for _, f := range r.File {
		off, err := f.DataOffset()
		if err != nil {
			off = -1
		}
		name := f.Name
		if f.NonUTF8 {
			name = decodeName([]byte(name))
		}
		z.Files = append(z.Files, ZIPFile{
			Name:             strings.ReplaceAll(name, `\`, "/"),
			Method:           f.Method,
			Flags:            f.Flags,
			CRC32:            f.CRC32,
			CompressedSize:   f.CompressedSize64,
			UncompressedSize: f.UncompressedSize64,
			DataOffset:       off,
		})
	}
	return z, nil
}
