package format

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// BZip2 is a bzip2 stream. Block size is the digit of the "BZh" header.
type BZip2 struct {
	BlockSize int

	size int
}

func (*BZip2) Tag() Tag { return TagBZip2 }

func (z *BZip2) Streams() []Stream {
	return []Stream{{Method: MethodBZip2, Spans: []Span{{Len: z.size}}, Size: -1}}
}

func (z *BZip2) Entries() []Entry { return []Entry{{Stream: 0, Size: -1}} }

func (z *BZip2) DerivedName(parent string) string {
	return trimCompressedExt(parent, map[string]string{".bz2": "", ".bz": "", ".tbz2": ".tar", ".tbz": ".tar"})
}

// ParseBZip2 checks the stream header. Blocks are validated when decoded.
func ParseBZip2(b []byte) (*BZip2, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("bzip2 header: %w", ErrTruncated)
	}
	if string(b[:3]) != "BZh" || b[3] < '1' || b[3] > '9' {
		return nil, fmt.Errorf("bzip2 header: %w", ErrSignatureMismatch)
	}
	return &BZip2{BlockSize: int(b[3]-'0') * 100_000, size: len(b)}, nil
}

// GZip is a gzip member and the metadata of its header.
type GZip struct {
	Name    string
	Comment string
	ModTime time.Time
	OS      byte

	size int
}

func (*GZip) Tag() Tag { return TagGZip }

func (z *GZip) Streams() []Stream {
	return []Stream{{Method: MethodGzip, Spans: []Span{{Len: z.size}}, Size: -1}}
}

func (z *GZip) Entries() []Entry { return []Entry{{Stream: 0, Size: -1}} }

// DerivedName prefers the name stored in the gzip header.
func (z *GZip) DerivedName(parent string) string {
	if z.Name != "" {
		return path.Base(strings.ReplaceAll(z.Name, `\`, "/"))
	}
	return trimCompressedExt(parent, map[string]string{".gz": "", ".tgz": ".tar", ".z": ""})
}

// ParseGZip reads the member header.
func ParseGZip(b []byte) (*GZip, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w: %w", ErrSignatureMismatch, err)
	}
	defer r.Close()
	return &GZip{
		Name:    decodeName([]byte(r.Name)),
		Comment: r.Comment,
		ModTime: r.ModTime,
		OS:      r.OS,
		size:    len(b),
	}, nil
}

func trimCompressedExt(parent string, exts map[string]string) string {
	base := path.Base(parent)
	ext := strings.ToLower(path.Ext(base))
	if repl, ok := exts[ext]; ok && len(base) > len(ext) {
		return base[:len(base)-len(ext)] + repl
	}
	return base + ".out"
}
