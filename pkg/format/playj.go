package format

import (
	"fmt"

	"github.com/joshuapare/protscan/internal/buf"
)

const (
	playJSignature      = 0x4b539dff
	playJVersion1       = 0x00
	playJVersion2       = 0x0a
	playJPlaylistHeader = 56
	playJMaxTracks      = 1024
)

// PlayJFields are the fixed fields shared by both audio header versions.
// The three offsets and two words after TrackID are undocumented.
type PlayJFields struct {
	TrackID        uint32
	UnknownOffset1 uint32
	UnknownOffset2 uint32
	UnknownOffset3 uint32
	Unknown1       uint32
	Unknown2       uint32
	Year           uint32
	TrackNumber    uint8
	Subgenre       uint8
	Duration       uint32
}

// PlayJAudio is one PlayJ audio file: header, metadata strings and data.
type PlayJAudio struct {
	Signature uint32
	Version   uint32
	// Prefix is the undocumented word version 2 inserts before the fields.
	Prefix [4]byte
	Fields PlayJFields

	Track     string
	Artist    string
	Album     string
	Writer    string
	Publisher string
	Label     string
	Comments  string

	// Extension is the opaque version 2 extension block.
	Extension []byte
	// Data is the encoded audio.
	Data Span
	// Span covers the whole audio file within its container.
	Span Span
}

func (*PlayJAudio) Tag() Tag { return TagPlayJAudio }

// ParsePlayJAudio parses an audio file at the start of b.
func ParsePlayJAudio(b []byte) (*PlayJAudio, error) {
	return parsePlayJAudio(b, 0)
}

func parsePlayJAudio(b []byte, off int) (*PlayJAudio, error) {
	c := buf.At(b, off)
	a := &PlayJAudio{Signature: c.U32(), Version: c.U32()}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("playj header: %w", err)
	}
	if a.Signature != playJSignature {
		return nil, fmt.Errorf("playj header: %w", ErrSignatureMismatch)
	}
	switch a.Version {
	case playJVersion1:
	case playJVersion2:
		c.Read(a.Prefix[:])
	default:
		return nil, fmt.Errorf("playj version %#x: %w", a.Version, ErrUnsupported)
	}
	c.Decode(&a.Fields)
	for _, dst := range []*string{&a.Track, &a.Artist, &a.Album, &a.Writer, &a.Publisher, &a.Label, &a.Comments} {
		n := int(c.U16())
		*dst = decodeName(c.Bytes(n))
	}
	if a.Version == playJVersion2 {
		a.Extension = c.Bytes(int(c.U32()))
	}
	n := int(c.U32())
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("playj metadata: %w", err)
	}
	data, err := span(len(b), c.Offset(), n)
	if err != nil {
		return nil, fmt.Errorf("playj data: %w", err)
	}
	a.Data = data
	a.Span = Span{Off: off, Len: data.End() - off}
	return a, nil
}

// PlayJPlaylist is a track count, an opaque block, and concatenated audio
// files.
type PlayJPlaylist struct {
	TrackCount uint32
	Reserved   [52]byte
	Tracks     []*PlayJAudio

	size int
}

func (*PlayJPlaylist) Tag() Tag { return TagPlayJPlaylist }

func (p *PlayJPlaylist) Streams() []Stream { return []Stream{Stored(Span{Len: p.size})} }

// Entries exposes each track as track_NN.pj.
func (p *PlayJPlaylist) Entries() []Entry {
	out := make([]Entry, len(p.Tracks))
	for i, t := range p.Tracks {
		out[i] = Entry{Name: fmt.Sprintf("track_%02d.pj", i+1), Stream: 0, Off: t.Span.Off, Size: t.Span.Len}
	}
	return out
}

// ParsePlayJPlaylist parses a playlist and every track it declares.
func ParsePlayJPlaylist(b []byte) (*PlayJPlaylist, error) {
	c := buf.NewCursor(b)
	p := &PlayJPlaylist{size: len(b)}
	p.TrackCount = c.U32()
	c.Read(p.Reserved[:])
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("playj playlist header: %w", err)
	}
	if p.TrackCount > playJMaxTracks {
		return nil, fmt.Errorf("playj playlist: %d tracks: %w", p.TrackCount, ErrUnsupported)
	}
	off := playJPlaylistHeader
	for i := range int(p.TrackCount) {
		t, err := parsePlayJAudio(b, off)
		if err != nil {
			return nil, fmt.Errorf("playj track %d: %w", i+1, err)
		}
		p.Tracks = append(p.Tracks, t)
		off = t.Span.End()
	}
	return p, nil
}
