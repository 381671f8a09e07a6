package format

import (
	"fmt"

	"github.com/joshuapare/protscan/internal/buf"
)

// Model is a parsed container.
type Model interface {
	Tag() Tag
}

// Archive is implemented by models whose entries can be extracted. Entries
// slice the decoded form of one of the model's streams.
type Archive interface {
	Model
	Streams() []Stream
	Entries() []Entry
}

// Namer is implemented by single-stream archives whose payload carries no
// name of its own. DerivedName maps the container's name to the child's.
type Namer interface {
	DerivedName(parent string) string
}

// Span is a byte range of the artifact.
type Span struct {
	Off int
	Len int
}

// End returns the offset one past the span.
func (s Span) End() int { return s.Off + s.Len }

// Block is one independently framed unit of a block-coded stream (a CFDATA
// record) together with its decoded size.
type Block struct {
	Span
	USize int
}

// Stream is an encoded payload. Stored, deflate, zlib, gzip, bzip2, SZDD and
// InstallShield streams are the concatenation of Spans; MSZIP, Quantum and
// LZX streams are framed by Blocks.
type Stream struct {
	Method Method
	Spans  []Span
	Blocks []Block
	// Size is the decoded length, or -1 when the encoding does not record it.
	Size int
	// Window is the codec window in bits (Quantum and LZX).
	Window uint
}

// Stored returns a stream of raw artifact bytes.
func Stored(spans ...Span) Stream {
	n := 0
	for _, s := range spans {
		n += s.Len
	}
	return Stream{Method: MethodStored, Spans: spans, Size: n}
}

// Entry is a named slice of a decoded stream. An entry whose payload cannot
// be located has Stream == -1 and Err set.
type Entry struct {
	Name   string
	Stream int
	Off    int
	Size   int
	Err    error
}

// Resolved reports whether the entry can be extracted.
func (e Entry) Resolved() bool { return e.Stream >= 0 && e.Err == nil }

func unresolved(name string, err error) Entry {
	return Entry{Name: name, Stream: -1, Err: err}
}

// Integrity collects checksum mismatches. Parsers record a mismatch and
// keep going; the scanner surfaces the list as issues.
type Integrity struct {
	Mismatches []string
}

// ChecksumMismatches lists the checksums that failed verification.
func (i *Integrity) ChecksumMismatches() []string { return i.Mismatches }

func (i *Integrity) flag(format string, args ...any) {
	i.Mismatches = append(i.Mismatches, fmt.Sprintf(format, args...))
}

// Checked is implemented by models that verify checksums.
type Checked interface {
	ChecksumMismatches() []string
}

// span validates [off, off+n) against an artifact of length size.
func span(size, off, n int) (Span, error) {
	if off < 0 || n < 0 {
		return Span{}, fmt.Errorf("range %d+%d: %w", off, n, ErrOutOfRange)
	}
	end, ok := buf.AddOverflowSafe(off, n)
	if !ok || end > size {
		return Span{}, fmt.Errorf("range %d+%d beyond %d bytes: %w", off, n, size, ErrOutOfRange)
	}
	return Span{Off: off, Len: n}, nil
}

// sliceEntry resolves an entry stored verbatim at [off, off+n) of the
// artifact, which must be modelled as stream 0 covering the whole file.
func sliceEntry(name string, size, off, n int) Entry {
	if _, err := span(size, off, n); err != nil {
		return unresolved(name, err)
	}
	return Entry{Name: name, Stream: 0, Off: off, Size: n}
}
