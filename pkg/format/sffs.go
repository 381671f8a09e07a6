package format

import (
	"fmt"

	"github.com/joshuapare/protscan/internal/buf"
)

const (
	sffsHeaderSize = 16
	sffsEntrySize  = 32
)

// SFFSHeader opens a StarForce filesystem container.
type SFFSHeader struct {
	Magic     [4]byte
	Version   uint32
	FileCount uint64
}

// SFFSEntry indexes one encrypted file by the MD5 of its name.
type SFFSEntry struct {
	FilenameMD5     [16]byte
	FileHeaderIndex uint64
	// FileHeaderKey decrypts the file header. It is kept verbatim.
	FileHeaderKey uint64
}

// SFFSFileHeader is the plaintext part of a file header. FileInfo is
// undocumented and kept as raw bytes.
type SFFSFileHeader struct {
	FileContentStart uint64
	FileInfo         [8]byte
}

// SFFS is a parsed StarForce filesystem index. Contents are encrypted, so
// the model is not extractable.
type SFFS struct {
	Header      SFFSHeader
	Files       []SFFSEntry
	FileHeaders []SFFSFileHeader
}

func (*SFFS) Tag() Tag { return TagSFFS }

// ParseSFFS parses the header, the file index and the file headers the
// index points at. Headers outside the artifact are left zero.
func ParseSFFS(b []byte) (*SFFS, error) {
	c := buf.NewCursor(b)
	s := &SFFS{}
	c.Decode(&s.Header)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("sffs header: %w", err)
	}
	if string(s.Header.Magic[:]) != "SFFS" {
		return nil, fmt.Errorf("sffs header: %w", ErrSignatureMismatch)
	}
	if s.Header.FileCount > uint64(len(b)/sffsEntrySize) {
		return nil, fmt.Errorf("sffs file count %d: %w", s.Header.FileCount, ErrTruncated)
	}
	n := int(s.Header.FileCount)
	if _, err := buf.CheckListBounds(len(b), sffsHeaderSize, n, sffsEntrySize); err != nil {
		return nil, fmt.Errorf("sffs index: %w", err)
	}
	s.Files = make([]SFFSEntry, n)
	s.FileHeaders = make([]SFFSFileHeader, n)
	for i := range s.Files {
		c.Decode(&s.Files[i])
		idx := s.Files[i].FileHeaderIndex
		if idx > uint64(len(b)) {
			continue
		}
		hc := buf.At(b, int(idx))
		var fh SFFSFileHeader
		hc.Decode(&fh)
		if hc.Err() == nil {
			s.FileHeaders[i] = fh
		}
	}
	return s, c.Err()
}
