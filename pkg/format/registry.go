package format

import (
	"bytes"
	"fmt"
)

// Policy selects how a signature pattern is compared.
type Policy uint8

const (
	// PolicyExact compares the pattern at a fixed offset.
	PolicyExact Policy = iota
	// PolicySection matches when a PE section name contains the pattern.
	// Only the section table is read.
	PolicySection
)

func (p Policy) String() string {
	if p == PolicySection {
		return "section"
	}
	return "exact"
}

// Signature is one row of the registry table.
type Signature struct {
	Tag     Tag
	Pattern []byte
	Offset  int
	Policy  Policy
}

func (s Signature) String() string {
	if s.Policy == PolicySection {
		return fmt.Sprintf("%s: section %q", s.Tag, s.Pattern)
	}
	return fmt.Sprintf("%s: % x @%d", s.Tag, s.Pattern, s.Offset)
}

// Match is a recognized tag and the signature that produced it.
type Match struct {
	Tag       Tag
	Signature Signature
}

// ParseFunc parses an artifact into a model.
type ParseFunc func(b []byte) (Model, error)

// Registry maps signatures to tags and tags to parsers. A Registry must not
// be modified while Identify or Parse run.
type Registry struct {
	sigs    []Signature
	parsers map[Tag]ParseFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[Tag]ParseFunc)}
}

// Register appends signatures to the table.
func (r *Registry) Register(sigs ...Signature) {
	r.sigs = append(r.sigs, sigs...)
}

// RegisterParser installs the parser for t, replacing any previous one.
func (r *Registry) RegisterParser(t Tag, fn ParseFunc) {
	r.parsers[t] = fn
}

// Signatures returns a copy of the table.
func (r *Registry) Signatures() []Signature {
	return append([]Signature(nil), r.sigs...)
}

// Identify returns the tags whose signatures match b, at most one match per
// tag, in table order. The result depends only on b and the table.
func (r *Registry) Identify(b []byte) []Match {
	var (
		out      []Match
		seen     = make(map[Tag]bool)
		sections [][]byte
		loaded   bool
	)
	for _, s := range r.sigs {
		if seen[s.Tag] {
			continue
		}
		var ok bool
		switch s.Policy {
		case PolicyExact:
			ok = s.Offset >= 0 && len(b) >= s.Offset+len(s.Pattern) &&
				bytes.Equal(b[s.Offset:s.Offset+len(s.Pattern)], s.Pattern)
		case PolicySection:
			if !loaded {
				sections, loaded = SectionNames(b), true
			}
			for _, name := range sections {
				if bytes.Contains(name, s.Pattern) {
					ok = true
					break
				}
			}
		}
		if ok {
			seen[s.Tag] = true
			out = append(out, Match{Tag: s.Tag, Signature: s})
		}
	}
	return out
}

// Parsable reports whether t has a parser.
func (r *Registry) Parsable(t Tag) bool {
	_, ok := r.parsers[t]
	return ok
}

// Parse runs the parser registered for t.
func (r *Registry) Parse(t Tag, b []byte) (Model, error) {
	fn, ok := r.parsers[t]
	if !ok {
		return nil, fmt.Errorf("%s: %w", t, ErrNoParser)
	}
	return fn(b)
}

// parser adapts a typed Parse function, keeping a failed parse from
// returning a typed nil.
func parser[T Model](fn func([]byte) (T, error)) ParseFunc {
	return func(b []byte) (Model, error) {
		m, err := fn(b)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

func exact(t Tag, off int, pattern string) Signature {
	return Signature{Tag: t, Pattern: []byte(pattern), Offset: off, Policy: PolicyExact}
}

func section(t Tag, pattern string) Signature {
	return Signature{Tag: t, Pattern: []byte(pattern), Policy: PolicySection}
}

// DefaultRegistry returns the built-in signature table and parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(
		exact(TagExecutable, 0, "MZ"),
		exact(TagPAK, 0, "PACK"),
		exact(TagWAD, 0, "WAD3"),
		exact(TagBSP, 0, "\x1e\x00\x00\x00"),
		exact(TagVBSP, 0, "VBSP"),
		exact(TagGCF, 0, "\x01\x00\x00\x00\x01\x00\x00\x00"),
		exact(TagNCF, 0, "\x01\x00\x00\x00\x02\x00\x00\x00"),
		exact(TagVPK, 0, "\x34\x12\xaa\x55"),
		exact(TagXZP, 0, "piZx"),
		exact(TagInstallShieldCAB, 0, "ISc("),
		exact(TagSGA, 0, "_ARCHIVE"),
		exact(TagPlayJAudio, 0, "\xff\x9d\x53\x4b"),
		exact(TagPlayJPlaylist, playJPlaylistHeader, "\xff\x9d\x53\x4b"),
		exact(TagPFF, 4, "PFF2"),
		exact(TagPFF, 4, "PFF3"),
		exact(TagPFF, 4, "PFF4"),
		exact(TagSFFS, 0, "SFFS"),
		exact(TagAACS, 0, "\x10\x00\x00\x0c"),
		exact(TagMSCAB, 0, "MSCF"),
		exact(TagSZDD, 0, string(szddMagic[:])),
		exact(TagBZip2, 0, "BZh"),
		exact(TagGZip, 0, "\x1f\x8b\x08"),
		exact(TagZIP, 0, "PK\x03\x04"),

		section(TagRenderWare, "_rwcseg"),
		section(TagUPX, "UPX0"),
		section(TagUPX, "UPX1"),
		section(TagSecuROM, ".securom"),
		section(TagSafeDisc, "stxt774"),
		section(TagSafeDisc, "stxt371"),
		section(TagStarForce, ".sforce"),
		section(TagThemida, ".themida"),
	)

	r.RegisterParser(TagExecutable, parser(ParseExecutable))
	r.RegisterParser(TagPAK, parser(ParsePAK))
	r.RegisterParser(TagWAD, parser(ParseWAD))
	r.RegisterParser(TagBSP, parser(ParseBSP))
	r.RegisterParser(TagVBSP, parser(ParseVBSP))
	r.RegisterParser(TagGCF, parser(ParseCacheFile))
	r.RegisterParser(TagNCF, parser(ParseCacheFile))
	r.RegisterParser(TagVPK, parser(ParseVPK))
	r.RegisterParser(TagXZP, parser(ParseXZP))
	r.RegisterParser(TagInstallShieldCAB, parser(ParseInstallShieldCAB))
	r.RegisterParser(TagSGA, parser(ParseSGA))
	r.RegisterParser(TagPlayJAudio, parser(ParsePlayJAudio))
	r.RegisterParser(TagPlayJPlaylist, parser(ParsePlayJPlaylist))
	r.RegisterParser(TagPFF, parser(ParsePFF))
	r.RegisterParser(TagSFFS, parser(ParseSFFS))
	r.RegisterParser(TagAACS, parser(ParseMKB))
	r.RegisterParser(TagMSCAB, parser(ParseCabinet))
	r.RegisterParser(TagSZDD, parser(ParseSZDD))
	r.RegisterParser(TagBZip2, parser(ParseBZip2))
	r.RegisterParser(TagGZip, parser(ParseGZip))
	r.RegisterParser(TagZIP, parser(ParseZIP))
	return r
}

var defaultRegistry = DefaultRegistry()

// Identify matches b against the default table.
func Identify(b []byte) []Match { return defaultRegistry.Identify(b) }

// Parse parses b with the default parser for t.
func Parse(t Tag, b []byte) (Model, error) { return defaultRegistry.Parse(t, b) }
