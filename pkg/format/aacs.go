package format

import (
	"fmt"

	"github.com/joshuapare/protscan/internal/buf"
)

// MKB record types.
const (
	MKBEndOfMKB                 = 0x02
	MKBExplicitSubsetDifference = 0x04
	MKBSubsetDifferenceIndex    = 0x05
	MKBMediaKeyData             = 0x07
	MKBTypeAndVersion           = 0x10
	MKBDriveRevocationList      = 0x20
	MKBHostRevocationList       = 0x21
	MKBVerifyMediaKey           = 0x81
)

const mkbRecordHeaderSize = 4

// MKBRecord is one type-length-value record of a Media Key Block. Length
// includes the 4-byte header. Payload aliases the artifact and is never
// decrypted.
type MKBRecord struct {
	Type    uint8
	Length  uint32
	Payload []byte
}

// MediaKeyBlock is a parsed AACS MKB. Fields are filled from the records
// that carry them.
type MediaKeyBlock struct {
	Records []MKBRecord

	MKBType       uint32
	Version       uint32
	HostEntries   uint32
	DriveEntries  uint32
	VerifyData    []byte
	MediaKeyCount int
}

func (*MediaKeyBlock) Tag() Tag { return TagAACS }

// ParseMKB walks the big-endian record sequence up to the End of MKB record
// or the end of b.
func ParseMKB(b []byte) (*MediaKeyBlock, error) {
	c := buf.NewCursor(b)
	m := &MediaKeyBlock{}
	for c.Remaining() >= mkbRecordHeaderSize {
		start := c.Offset()
		r := MKBRecord{Type: c.U8(), Length: c.U24BE()}
		if r.Length < mkbRecordHeaderSize {
			return nil, fmt.Errorf("mkb record %#02x at %d: length %d: %w", r.Type, start, r.Length, ErrOutOfRange)
		}
		r.Payload = c.Bytes(int(r.Length) - mkbRecordHeaderSize)
		if err := c.Err(); err != nil {
			return nil, fmt.Errorf("mkb record %#02x at %d: %w", r.Type, start, err)
		}
		m.Records = append(m.Records, r)
		m.apply(r)
		if r.Type == MKBEndOfMKB {
			break
		}
	}
	if len(m.Records) == 0 || m.Records[0].Type != MKBTypeAndVersion {
		return nil, fmt.Errorf("mkb: first record is not Type and Version: %w", ErrSignatureMismatch)
	}
	return m, nil
}

func (m *MediaKeyBlock) apply(r MKBRecord) {
	p := r.Payload
	switch r.Type {
	case MKBTypeAndVersion:
		m.MKBType = buf.U32BE(p)
		if len(p) >= 8 {
			m.Version = buf.U32BE(p[4:])
		}
	case MKBHostRevocationList:
		m.HostEntries = buf.U32BE(p)
	case MKBDriveRevocationList:
		m.DriveEntries = buf.U32BE(p)
	case MKBVerifyMediaKey:
		m.VerifyData = p
	case MKBMediaKeyData:
		m.MediaKeyCount = len(p) / 16
	}
}
