package detect

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/joshuapare/protscan/pkg/format"
)

// Builtin returns the detectors shipped with protscan.
func Builtin() *Set {
	return NewSet(
		RenderWare{},
		UPX{},
		SecuROM{},
		SafeDisc{},
		StarForce{},
		Themida{},
		AACS{},
		CDCops{},
		SafeDiscDriver{},
	)
}

// hasSection reports whether any section name contains one of markers, the
// rule format.PolicySection signatures match with.
func hasSection(exe *format.Executable, markers ...string) (string, bool) {
	if exe == nil {
		return "", false
	}
	for _, s := range exe.Sections {
		for _, m := range markers {
			if strings.Contains(s.Name, m) {
				return s.Name, true
			}
		}
	}
	return "", false
}

func withSection(label, section string, debug bool) string {
	if debug {
		return fmt.Sprintf("%s (section %s)", label, section)
	}
	return label
}

// RenderWare flags executables linked against the RenderWare engine.
type RenderWare struct{}

func (RenderWare) Name() string { return "RenderWare" }

func (RenderWare) CheckSections(_ string, exe *format.Executable, debug bool) (string, bool) {
	s, ok := hasSection(exe, "_rwcseg")
	return withSection("RenderWare", s, debug), ok
}

// UPX flags UPX-packed executables.
type UPX struct{}

func (UPX) Name() string { return "UPX" }

func (UPX) CheckSections(_ string, exe *format.Executable, debug bool) (string, bool) {
	s, ok := hasSection(exe, "UPX0", "UPX1")
	return withSection("UPX", s, debug), ok
}

// securomAddD is the SecuROM data block marker; a version string follows it.
var securomAddD = []byte("AddD\x03\x00\x00\x00")

// SecuROM flags the .securom section and the AddD data block.
type SecuROM struct{}

func (SecuROM) Name() string { return "SecuROM" }

func (SecuROM) CheckSections(_ string, exe *format.Executable, debug bool) (string, bool) {
	s, ok := hasSection(exe, ".securom")
	return withSection("SecuROM", s, debug), ok
}

func (SecuROM) CheckContent(_ string, b []byte, debug bool) (string, bool) {
	i := bytes.Index(b, securomAddD)
	if i < 0 {
		return "", false
	}
	if v := printable(b[i+len(securomAddD):], 12); v != "" {
		return "SecuROM " + v, true
	}
	if debug {
		return fmt.Sprintf("SecuROM (AddD at %#x)", i), true
	}
	return "SecuROM", true
}

// printable returns the leading run of digits and dots in b, at most n
// bytes, or "" when it does not look like a version.
func printable(b []byte, n int) string {
	end := 0
	for end < len(b) && end < n && (b[end] == '.' || b[end] >= '0' && b[end] <= '9') {
		end++
	}
	v := string(b[:end])
	if !strings.Contains(v, ".") || strings.HasPrefix(v, ".") {
		return ""
	}
	return strings.TrimRight(v, ".")
}

// safeDiscMarker precedes the SafeDisc version triple in the loader.
var safeDiscMarker = []byte("BoG_ *90.0&!!  Yy>")

// SafeDisc flags the SafeDisc loader sections and version marker.
type SafeDisc struct{}

func (SafeDisc) Name() string { return "SafeDisc" }

func (SafeDisc) CheckSections(_ string, exe *format.Executable, debug bool) (string, bool) {
	s, ok := hasSection(exe, "stxt774", "stxt371")
	return withSection("SafeDisc", s, debug), ok
}

func (SafeDisc) CheckContent(_ string, b []byte, debug bool) (string, bool) {
	i := bytes.Index(b, safeDiscMarker)
	if i < 0 {
		return "", false
	}
	v := b[i+len(safeDiscMarker):]
	if len(v) >= 12 {
		major := binary.LittleEndian.Uint32(v)
		minor := binary.LittleEndian.Uint32(v[4:])
		build := binary.LittleEndian.Uint32(v[8:])
		if major >= 1 && major <= 4 && minor < 100 && build < 1000 {
			return fmt.Sprintf("SafeDisc %d.%02d.%03d", major, minor, build), true
		}
	}
	if debug {
		return fmt.Sprintf("SafeDisc (marker at %#x)", i), true
	}
	return "SafeDisc", true
}

// StarForce flags .sforce sections and StarForce filesystem containers.
type StarForce struct{}

func (StarForce) Name() string { return "StarForce" }

func (StarForce) CheckSections(_ string, exe *format.Executable, debug bool) (string, bool) {
	s, ok := hasSection(exe, ".sforce")
	return withSection("StarForce", s, debug), ok
}

func (StarForce) CheckContent(_ string, b []byte, debug bool) (string, bool) {
	if !bytes.HasPrefix(b, []byte("SFFS")) {
		return "", false
	}
	if debug {
		if fs, err := format.ParseSFFS(b); err == nil {
			return fmt.Sprintf("StarForce Filesystem (%d files)", len(fs.Files)), true
		}
	}
	return "StarForce Filesystem", true
}

// Themida flags Themida/WinLicense protected executables.
type Themida struct{}

func (Themida) Name() string { return "Themida" }

func (Themida) CheckSections(_ string, exe *format.Executable, debug bool) (string, bool) {
	s, ok := hasSection(exe, ".themida", ".winlice")
	return withSection("Themida", s, debug), ok
}

// AACS flags AACS Media Key Blocks. The block is parsed, never decrypted.
type AACS struct{}

func (AACS) Name() string { return "AACS" }

func (AACS) CheckContent(_ string, b []byte, debug bool) (string, bool) {
	if len(b) < 4 || b[0] != format.MKBTypeAndVersion || b[1] != 0 || b[2] != 0 || b[3] != 0x0c {
		return "", false
	}
	m, err := format.ParseMKB(b)
	if err != nil {
		return "", false
	}
	if debug {
		return fmt.Sprintf("AACS (MKB version %d)", m.Version), true
	}
	return "AACS", true
}

// CDCops flags 16-bit CD-Cops loaders by their exported names.
type CDCops struct{}

func (CDCops) Name() string { return "CD-Cops" }

func (CDCops) CheckLinear(_ string, le *format.LinearExecutable, debug bool) (string, bool) {
	if le == nil || le.NE == nil {
		return "", false
	}
	if strings.EqualFold(le.ModuleName, "CDCOPS") {
		return "CD-Cops", true
	}
	for _, n := range le.ResidentNames {
		if strings.EqualFold(n.Name, "CDCOPS") {
			if debug {
				return fmt.Sprintf("CD-Cops (export ordinal %d)", n.Ordinal), true
			}
			return "CD-Cops", true
		}
	}
	return "", false
}

// SafeDiscDriver flags the SafeDisc VxD, whose LE module name is SECDRV.
type SafeDiscDriver struct{}

func (SafeDiscDriver) Name() string { return "SafeDisc driver" }

func (SafeDiscDriver) CheckLinear(_ string, le *format.LinearExecutable, _ bool) (string, bool) {
	if le == nil || le.LE == nil || !strings.EqualFold(le.ModuleName, "SECDRV") {
		return "", false
	}
	return "SafeDisc (SECDRV)", true
}
