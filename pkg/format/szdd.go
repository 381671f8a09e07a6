package format

import (
	"encoding/binary"
	"fmt"
	"path"
	"strings"

	"github.com/joshuapare/protscan/internal/buf"
)

const szddHeaderSize = 14

var szddMagic = [8]byte{'S', 'Z', 'D', 'D', 0x88, 0xf0, 0x27, 0x33}

// SZDDHeader is the header of a file compressed with COMPRESS.EXE.
//
//	Offset  Size  Description
//	------  ----  ----------------------------
//	 0x00    8    "SZDD" 88 F0 27 33
//	 0x08    1    mode, 'A'
//	 0x09    1    last character of the original name, or 0
//	 0x0A    4    expanded size
type SZDDHeader struct {
	Magic        [8]byte
	Mode         uint8
	MissingChar  uint8
	ExpandedSize uint32
}

// MarshalBinary re-encodes the header.
func (h SZDDHeader) MarshalBinary() ([]byte, error) {
	return binary.Append(nil, binary.LittleEndian, h)
}

// SZDD is a single SZDD-compressed payload.
type SZDD struct {
	Header SZDDHeader

	size int
}

func (*SZDD) Tag() Tag { return TagSZDD }

func (s *SZDD) Streams() []Stream {
	return []Stream{{
		Method: MethodSZDD,
		Spans:  []Span{{Off: szddHeaderSize, Len: s.size - szddHeaderSize}},
		Size:   int(s.Header.ExpandedSize),
	}}
}

func (s *SZDD) Entries() []Entry {
	return []Entry{{Name: "", Stream: 0, Size: int(s.Header.ExpandedSize)}}
}

// DerivedName restores the character COMPRESS.EXE replaced with '_'.
func (s *SZDD) DerivedName(parent string) string {
	base := path.Base(parent)
	if !strings.HasSuffix(base, "_") {
		return base + ".out"
	}
	base = strings.TrimSuffix(base, "_")
	if ch := s.Header.MissingChar; ch != 0 {
		r := string(rune(ch))
		if strings.ToLower(base) == base {
			r = strings.ToLower(r)
		}
		base += r
	}
	return base
}

// ParseSZDD parses the header; the payload is the rest of the file.
func ParseSZDD(b []byte) (*SZDD, error) {
	c := buf.NewCursor(b)
	s := &SZDD{size: len(b)}
	c.Decode(&s.Header)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("szdd header: %w", err)
	}
	if s.Header.Magic != szddMagic {
		return nil, fmt.Errorf("szdd header: %w", ErrSignatureMismatch)
	}
	if s.Header.Mode != 'A' {
		return nil, fmt.Errorf("szdd mode %q: %w", s.Header.Mode, ErrUnsupported)
	}
	return s, nil
}
