package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

func cabFile(t *testing.T, size, start uint32, folder uint16, name string) []byte {
	t.Helper()
	b := le(t, size, start, folder, uint16(0), uint16(0), uint16(0x20))
	return append(append(b, name...), 0)
}

// buildCabinet assembles a one-folder stored cabinet whose single CFDATA
// block holds "abcdefg".
func buildCabinet(t *testing.T, sum uint32) []byte {
	t.Helper()
	files := cabFile(t, 3, 0, 0, `dir\a.txt`)
	files = append(files, cabFile(t, 4, 3, 0, "b.txt")...)
	files = append(files, cabFile(t, 9, 0, cabFolderContinuedFromPrev, "c.txt")...)
	dataOff := uint32(36 + 8 + len(files))

	b := le(t, CabHeader{
		Signature:    [4]byte{'M', 'S', 'C', 'F'},
		FilesOffset:  44,
		VersionMinor: 3,
		VersionMajor: 1,
		FolderCount:  1,
		FileCount:    3,
	})
	b = append(b, le(t, dataOff, uint16(1), uint16(CabCompressNone))...)
	b = append(b, files...)
	b = append(b, le(t, sum, uint16(7), uint16(7))...)
	b = append(b, "abcdefg"...)
	binary.LittleEndian.PutUint32(b[8:], uint32(len(b)))
	return b
}

func TestParseCabinet(t *testing.T) {
	b := buildCabinet(t, 0x64010401)
	cab, err := ParseCabinet(b)
	if err != nil {
		t.Fatalf("ParseCabinet: %v", err)
	}
	if len(cab.ChecksumMismatches()) != 0 {
		t.Fatalf("mismatches %v", cab.ChecksumMismatches())
	}
	if len(cab.Folders) != 1 || len(cab.Folders[0].Blocks) != 1 {
		t.Fatalf("folders %+v", cab.Folders)
	}
	e := cab.Entries()
	if e[0].Name != "dir/a.txt" || string(payload(t, b, cab, e[0])) != "abc" {
		t.Fatalf("entry 0 %+v", e[0])
	}
	if string(payload(t, b, cab, e[1])) != "defg" {
		t.Fatalf("entry 1 %+v", e[1])
	}
	if e[2].Resolved() || !errors.Is(e[2].Err, ErrUnsupported) {
		t.Fatalf("continued file resolved: %+v", e[2])
	}
}

func TestParseCabinetChecksum(t *testing.T) {
	cab, err := ParseCabinet(buildCabinet(t, 0x12345678))
	if err != nil {
		t.Fatalf("ParseCabinet: %v", err)
	}
	if len(cab.ChecksumMismatches()) != 1 {
		t.Fatalf("bad checksum not flagged")
	}

	cab, err = ParseCabinet(buildCabinet(t, 0))
	if err != nil {
		t.Fatalf("ParseCabinet: %v", err)
	}
	if len(cab.ChecksumMismatches()) != 0 {
		t.Fatalf("zero checksum must not be verified")
	}
}

func TestCabinetFolderMethods(t *testing.T) {
	tests := []struct {
		typ    uint16
		method Method
		window uint
	}{
		{CabCompressNone, MethodStored, 0},
		{CabCompressMSZIP, MethodMSZIP, 0},
		{CabCompressQuantum | 4<<4 | 18<<8, MethodQuantum, 18},
		{CabCompressLZX | 21<<8, MethodLZX, 21},
	}
	for _, tt := range tests {
		cab := &Cabinet{Folders: []CabFolder{{TypeCompress: tt.typ, Blocks: []Block{{Span: Span{Off: 0, Len: 10}, USize: 32768}}}}}
		s := cab.Streams()[0]
		if s.Method != tt.method || s.Window != tt.window || s.Size != 32768 {
			t.Fatalf("type %#x: stream %+v", tt.typ, s)
		}
	}
}

func TestParseCabinetTruncatedData(t *testing.T) {
	b := buildCabinet(t, 0)
	if _, err := ParseCabinet(b[:len(b)-2]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v", err)
	}
}

func put32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }

// buildISCab assembles a version 5 data volume with an embedded header: one
// directory, one stored file, one file group and one component.
func buildISCab(t *testing.T, flags uint16) []byte {
	t.Helper()
	const (
		desc    = 0x40
		table   = 0x276
		dataOff = 0x400
	)
	content := "key=value"
	b := make([]byte, dataOff+len(content))
	copy(b, le(t, ISCommonHeader{Signature: isCabSignature, Version: 0x01005000, CabDescriptorOffset: desc, CabDescriptorSize: 0x3c0}))
	// Volume header: data offset, files 0..0.
	put32(b, 20, dataOff)

	put32(b, desc+0x0c, table)
	put32(b, desc+0x1c, 1)
	put32(b, desc+0x28, 1)

	ft := desc + table
	put32(b, ft, 8)
	put32(b, ft+4, 22)
	copy(b[ft+8:], "app\x00")
	copy(b[ft+12:], "setup.ini\x00")
	fd := ft + 22
	put32(b, fd, 12)
	put32(b, fd+4, 0)
	binary.LittleEndian.PutUint16(b[fd+8:], flags)
	put32(b, fd+10, uint32(len(content)))
	put32(b, fd+14, uint32(len(content)))
	put32(b, fd+38, dataOff)

	// File group chain at 710, group record at 722, its name at 806.
	put32(b, desc+0x3e, 710)
	put32(b, desc+710+4, 722)
	put32(b, desc+722, 806)
	copy(b[desc+806:], "Group1\x00")

	// Component chain at 813, record at 825, group table at 943, name at 947.
	put32(b, desc+0x15a, 813)
	put32(b, desc+813+4, 825)
	put32(b, desc+825, 947)
	binary.LittleEndian.PutUint16(b[desc+825+4+0x6c:], 1)
	put32(b, desc+825+4+0x6c+2, 943)
	put32(b, desc+943, 806)
	copy(b[desc+947:], "Main\x00")

	copy(b[dataOff:], content)
	return b
}

func TestParseInstallShieldCAB(t *testing.T) {
	b := buildISCab(t, 0)
	cab, err := ParseInstallShieldCAB(b)
	if err != nil {
		t.Fatalf("ParseInstallShieldCAB: %v", err)
	}
	if cab.Major != 5 || cab.Volume == nil || cab.Volume.DataOffset != 0x400 {
		t.Fatalf("major %d volume %+v", cab.Major, cab.Volume)
	}
	if len(cab.Directories) != 1 || cab.Directories[0] != "app" {
		t.Fatalf("directories %q", cab.Directories)
	}
	e := cab.Entries()
	if len(e) != 1 || e[0].Name != "app/setup.ini" {
		t.Fatalf("entries %+v", e)
	}
	if got := string(payload(t, b, cab, e[0])); got != "key=value" {
		t.Fatalf("payload %q", got)
	}
	if len(cab.FileGroups) != 1 || cab.FileGroups[0].Name != "Group1" || len(cab.FileGroups[0].Opaque) != isFileGroupOpaqueV5 {
		t.Fatalf("file groups %+v", cab.FileGroups)
	}
	if len(cab.Components) != 1 || cab.Components[0].Name != "Main" || len(cab.Components[0].Opaque) != isComponentOpaqueV5 {
		t.Fatalf("components %+v", cab.Components)
	}
	if g := cab.Components[0].FileGroups; len(g) != 1 || g[0] != "Group1" {
		t.Fatalf("component groups %q", g)
	}
}

func TestInstallShieldCABFlags(t *testing.T) {
	cab, err := ParseInstallShieldCAB(buildISCab(t, ISFileCompressed))
	if err != nil {
		t.Fatalf("ParseInstallShieldCAB: %v", err)
	}
	if s := cab.Streams()[0]; s.Method != MethodISChunks || s.Size != 9 {
		t.Fatalf("stream %+v", s)
	}

	cab, err = ParseInstallShieldCAB(buildISCab(t, ISFileObfuscated))
	if err != nil {
		t.Fatalf("ParseInstallShieldCAB: %v", err)
	}
	if e := cab.Entries(); e[0].Resolved() {
		t.Fatalf("obfuscated file resolved")
	}

	cab, err = ParseInstallShieldCAB(buildISCab(t, ISFileInvalid))
	if err != nil {
		t.Fatalf("ParseInstallShieldCAB: %v", err)
	}
	if e := cab.Entries(); len(e) != 0 {
		t.Fatalf("invalid file listed: %+v", e)
	}
}

func TestInstallShieldCABChainLoop(t *testing.T) {
	b := buildISCab(t, 0)
	// Point the file group list back at itself.
	put32(b, 0x40+710+8, 710)
	if _, err := ParseInstallShieldCAB(b); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v", err)
	}
}

func TestISCommonHeaderMajorVersion(t *testing.T) {
	tests := []struct {
		version uint32
		want    int
	}{
		{0x01005000, 5},
		{0x01006000, 6},
		{0x020004b0, 12},
		{0x04000258, 6},
		{0x03000000, 0},
	}
	for _, tt := range tests {
		if got := (ISCommonHeader{Version: tt.version}).MajorVersion(); got != tt.want {
			t.Fatalf("MajorVersion(%#x) = %d, want %d", tt.version, got, tt.want)
		}
	}
}

func TestParseSZDD(t *testing.T) {
	b := le(t, SZDDHeader{Magic: szddMagic, Mode: 'A', MissingChar: 'E', ExpandedSize: 42})
	b = append(b, 0xff, 'h', 'i')
	s, err := ParseSZDD(b)
	if err != nil {
		t.Fatalf("ParseSZDD: %v", err)
	}
	st := s.Streams()[0]
	if st.Method != MethodSZDD || st.Size != 42 || st.Spans[0] != (Span{Off: szddHeaderSize, Len: 3}) {
		t.Fatalf("stream %+v", st)
	}
	for parent, want := range map[string]string{
		"disk1/SETUP.EX_": "SETUP.EXE",
		"readme.tx_":      "readme.txe",
		"plain.bin":       "plain.bin.out",
	} {
		if got := s.DerivedName(parent); got != want {
			t.Fatalf("DerivedName(%q) = %q, want %q", parent, got, want)
		}
	}

	b[8] = 'B'
	if _, err := ParseSZDD(b); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("mode B err = %v", err)
	}
}

func TestParseZIP(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("maps/a.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	io.WriteString(w, "hello hello hello hello")
	if _, err := zw.Create("maps/"); err != nil {
		t.Fatalf("Create dir: %v", err)
	}
	w, err = zw.CreateHeader(&zip.FileHeader{Name: "raw.bin", Method: zip.Store})
	if err != nil {
		t.Fatalf("CreateHeader: %v", err)
	}
	io.WriteString(w, "stored")
	if err := zw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	b := buf.Bytes()

	z, err := ParseZIP(b)
	if err != nil {
		t.Fatalf("ParseZIP: %v", err)
	}
	e := z.Entries()
	if len(e) != 2 || e[0].Name != "maps/a.txt" || e[1].Name != "raw.bin" {
		t.Fatalf("entries %+v", e)
	}
	if got := string(payload(t, b, z, e[1])); got != "stored" {
		t.Fatalf("stored payload %q", got)
	}
	s := z.Streams()[e[0].Stream]
	if s.Method != MethodDeflate {
		t.Fatalf("method %s", s.Method)
	}
	sp := s.Spans[0]
	out, err := io.ReadAll(flate.NewReader(bytes.NewReader(b[sp.Off:sp.End()])))
	if err != nil || string(out) != "hello hello hello hello" {
		t.Fatalf("inflate = %q, %v", out, err)
	}

	if _, err := ParseZIP([]byte("PK\x03\x04 not really")); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseGZip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Name = "inner.pak"
	io.WriteString(zw, "PACK")
	if err := zw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	z, err := ParseGZip(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseGZip: %v", err)
	}
	if got := z.DerivedName("dl/archive.gz"); got != "inner.pak" {
		t.Fatalf("DerivedName = %q", got)
	}
	z.Name = ""
	if got := z.DerivedName("dl/archive.TGZ"); got != "archive.tar" {
		t.Fatalf("DerivedName = %q", got)
	}
}

func TestParseBZip2Header(t *testing.T) {
	z, err := ParseBZip2([]byte("BZh91AY&SY"))
	if err != nil {
		t.Fatalf("ParseBZip2: %v", err)
	}
	if z.BlockSize != 900_000 || z.DerivedName("x/data.tar.bz2") != "data.tar" {
		t.Fatalf("bzip2 %+v %q", z, z.DerivedName("x/data.tar.bz2"))
	}
	if _, err := ParseBZip2([]byte("BZh0")); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("err = %v", err)
	}
	if _, err := ParseBZip2([]byte("BZ")); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v", err)
	}
}
