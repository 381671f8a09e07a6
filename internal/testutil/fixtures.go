// Package testutil builds small synthetic artifacts for tests outside
// pkg/format.
package testutil

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/joshuapare/protscan/pkg/format"
)

// File is a named payload for archive builders.
type File struct {
	Name string
	Data []byte
}

func le(t *testing.T, vals ...any) []byte {
	t.Helper()
	var out []byte
	for _, v := range vals {
		var err error
		out, err = binary.Append(out, binary.LittleEndian, v)
		if err != nil {
			t.Fatalf("encode %T: %v", v, err)
		}
	}
	return out
}

// PAK returns a PACK archive holding files in order.
func PAK(t *testing.T, files ...File) []byte {
	t.Helper()
	const headerSize = 12
	var data, dir []byte
	off := uint32(headerSize)
	for _, f := range files {
		var name [56]byte
		copy(name[:], f.Name)
		dir = append(dir, le(t, name, off, uint32(len(f.Data)))...)
		data = append(data, f.Data...)
		off += uint32(len(f.Data))
	}
	out := le(t, format.PAKHeader{
		Signature:       [4]byte{'P', 'A', 'C', 'K'},
		DirectoryOffset: off,
		DirectoryLength: uint32(len(dir)),
	})
	out = append(out, data...)
	return append(out, dir...)
}

const (
	peOffset  = 0x40
	peOptSize = 0xe0
	peRawSize = 0x200
	peData    = 0x400
)

type sectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

// PE returns a PE32 image with one 0x200-byte section per name, each filled
// with fill, followed by overlay.
func PE(t *testing.T, sections []string, fill, overlay []byte) []byte {
	t.Helper()
	b := le(t, format.DOSHeader{Magic: [2]byte{'M', 'Z'}, NewHeaderOffset: peOffset})
	b = append(b, "PE\x00\x00"...)
	b = append(b, le(t, format.COFFHeader{
		Machine:              0x14c,
		NumberOfSections:     uint16(len(sections)),
		SizeOfOptionalHeader: peOptSize,
	})...)
	opt := make([]byte, peOptSize)
	opt[0], opt[1] = 0x0b, 0x01
	b = append(b, opt...)
	for i, n := range sections {
		h := sectionHeader{
			VirtualSize:      peRawSize,
			VirtualAddress:   uint32(0x1000 * (i + 1)),
			SizeOfRawData:    peRawSize,
			PointerToRawData: uint32(peData + i*peRawSize),
			Characteristics:  0x60000020,
		}
		copy(h.Name[:], n)
		b = append(b, le(t, h)...)
	}
	if len(b) > peData {
		t.Fatalf("section table overlaps data")
	}
	b = append(b, make([]byte, peData-len(b))...)
	for range sections {
		sec := make([]byte, peRawSize)
		copy(sec, fill)
		b = append(b, sec...)
	}
	return append(b, overlay...)
}

// ZIP returns a ZIP archive with every file deflated.
func ZIP(t *testing.T, files ...File) []byte {
	t.Helper()
	var b bytes.Buffer
	zw := zip.NewWriter(&b)
	for _, f := range files {
		w, err := zw.Create(f.Name)
		if err != nil {
			t.Fatalf("zip create %s: %v", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			t.Fatalf("zip write %s: %v", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return b.Bytes()
}

// Gzip returns data as a single gzip member recording name.
func Gzip(t *testing.T, name string, data []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	zw := gzip.NewWriter(&b)
	zw.Name = name
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return b.Bytes()
}

// SZDD returns data compressed with literal-only SZDD groups.
func SZDD(t *testing.T, data []byte, missing byte) []byte {
	t.Helper()
	out := le(t, format.SZDDHeader{
		Magic:        [8]byte{'S', 'Z', 'D', 'D', 0x88, 0xf0, 0x27, 0x33},
		Mode:         'A',
		MissingChar:  missing,
		ExpandedSize: uint32(len(data)),
	})
	for i := 0; i < len(data); i += 8 {
		out = append(out, 0xff)
		out = append(out, data[i:min(i+8, len(data))]...)
	}
	return out
}

// MSZIP compresses each part as one "CK" block, carrying history across
// blocks as a cabinet writer would.
func MSZIP(t *testing.T, parts ...[]byte) [][]byte {
	t.Helper()
	var (
		history []byte
		blocks  [][]byte
	)
	for _, p := range parts {
		var b bytes.Buffer
		b.WriteString("CK")
		fw, err := flate.NewWriterDict(&b, flate.BestCompression, history)
		if err != nil {
			t.Fatalf("flate writer: %v", err)
		}
		if _, err := fw.Write(p); err != nil {
			t.Fatalf("flate write: %v", err)
		}
		if err := fw.Close(); err != nil {
			t.Fatalf("flate close: %v", err)
		}
		blocks = append(blocks, b.Bytes())
		history = append(history, p...)
		if len(history) > 32<<10 {
			history = history[len(history)-32<<10:]
		}
	}
	return blocks
}

// WriteFile writes data to name under dir and returns the path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}
