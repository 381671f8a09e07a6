package detect

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/protscan/internal/testutil"
	"github.com/joshuapare/protscan/pkg/format"
)

func labels(hits []Hit) []string {
	var out []string
	for _, h := range hits {
		out = append(out, h.Label)
	}
	return out
}

func exeWith(sections ...string) *format.Executable {
	e := &format.Executable{Kind: format.ExePE}
	for _, s := range sections {
		e.Sections = append(e.Sections, format.Section{Name: s})
	}
	return e
}

func TestSections(t *testing.T) {
	s := Builtin()
	tests := []struct {
		sections []string
		want     []string
	}{
		{[]string{".text", "_rwcseg"}, []string{"RenderWare"}},
		{[]string{"UPX0", "UPX1", ".rsrc"}, []string{"UPX"}},
		{[]string{".text", ".securom"}, []string{"SecuROM"}},
		{[]string{"stxt774", "stxt371"}, []string{"SafeDisc"}},
		{[]string{".sforce3"}, []string{"StarForce"}},
		{[]string{"x_rwcseg"}, []string{"RenderWare"}},
		{[]string{".themida"}, []string{"Themida"}},
		{[]string{".text", ".data"}, nil},
	}
	for _, tt := range tests {
		hits, errs := s.Sections("a.exe", exeWith(tt.sections...), false)
		require.Empty(t, errs)
		require.Equal(t, tt.want, labels(hits), "sections %v", tt.sections)
	}

	hits, _ := s.Sections("a.exe", exeWith("_rwcseg"), true)
	require.Equal(t, []string{"RenderWare (section _rwcseg)"}, labels(hits))
}

func TestSectionsFromParsedImage(t *testing.T) {
	b := testutil.PE(t, []string{".text", "_rwcseg", ".sforce3"}, nil, nil)
	exe, err := format.ParseExecutable(b)
	require.NoError(t, err)

	hits, errs := Builtin().Sections("game.exe", exe, false)
	require.Empty(t, errs)
	require.Equal(t, []string{"RenderWare", "StarForce"}, labels(hits))
	require.Equal(t, "RenderWare", hits[0].Detector)
}

// Every section signature of the default registry must lead to a finding
// when the marker is embedded in a longer section name.
func TestSectionsAgreeWithRegistry(t *testing.T) {
	for _, sig := range format.DefaultRegistry().Signatures() {
		if sig.Policy != format.PolicySection {
			continue
		}
		name := string(sig.Pattern)
		if len(name) < 8 {
			name = "x" + name
		}
		b := testutil.PE(t, []string{".text", name}, nil, nil)

		var tags []format.Tag
		for _, m := range format.Identify(b) {
			tags = append(tags, m.Tag)
		}
		require.Contains(t, tags, sig.Tag, "section %q", name)

		exe, err := format.ParseExecutable(b)
		require.NoError(t, err)
		hits, errs := Builtin().Sections("a.exe", exe, false)
		require.Empty(t, errs)
		require.NotEmpty(t, hits, "section %q tagged %s but not detected", name, sig.Tag)
	}
}

func TestContent(t *testing.T) {
	s := Builtin()

	sd := append([]byte("....loader...."), safeDiscMarker...)
	sd = binary.LittleEndian.AppendUint32(sd, 2)
	sd = binary.LittleEndian.AppendUint32(sd, 5)
	sd = binary.LittleEndian.AppendUint32(sd, 30)
	hits, errs := s.Content("game.icd", sd, false)
	require.Empty(t, errs)
	require.Equal(t, []string{"SafeDisc 2.05.030"}, labels(hits))

	bare := append([]byte("x"), safeDiscMarker...)
	hits, _ = s.Content("x", bare, true)
	require.Equal(t, []string{"SafeDisc (marker at 0x1)"}, labels(hits))

	sr := append(append([]byte("junk"), securomAddD...), "4.84.69\x00"...)
	hits, _ = s.Content("x", sr, false)
	require.Equal(t, []string{"SecuROM 4.84.69"}, labels(hits))

	sr = append(append([]byte("junk"), securomAddD...), 0, 1, 2)
	hits, _ = s.Content("x", sr, false)
	require.Equal(t, []string{"SecuROM"}, labels(hits))

	hits, _ = s.Content("fs.sffs", []byte("SFFS\x01\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"), false)
	require.Equal(t, []string{"StarForce Filesystem"}, labels(hits))

	hits, _ = s.Content("plain.txt", []byte("nothing to see"), true)
	require.Empty(t, hits)
}

func mkb() []byte {
	b := []byte{format.MKBTypeAndVersion, 0, 0, 0x0c}
	b = binary.BigEndian.AppendUint32(b, 0x00031003)
	b = binary.BigEndian.AppendUint32(b, 42)
	return append(b, format.MKBEndOfMKB, 0, 0, 4)
}

func TestAACS(t *testing.T) {
	s := NewSet(AACS{})
	hits, _ := s.Content("AACS/MKB_RO.inf", mkb(), false)
	require.Equal(t, []string{"AACS"}, labels(hits))

	hits, _ = s.Content("AACS/MKB_RO.inf", mkb(), true)
	require.Equal(t, []string{"AACS (MKB version 42)"}, labels(hits))

	bad := mkb()[:6]
	hits, _ = s.Content("x", bad, false)
	require.Empty(t, hits)
}

func TestLinear(t *testing.T) {
	s := Builtin()

	ne := &format.LinearExecutable{
		NE:            &format.NEHeader{Magic: [2]byte{'N', 'E'}},
		ModuleName:    "LOADER",
		ResidentNames: []format.ResidentName{{Name: "CDCOPS", Ordinal: 3}},
	}
	hits, errs := s.Linear("cdcops.dll", ne, false)
	require.Empty(t, errs)
	require.Equal(t, []string{"CD-Cops"}, labels(hits))
	hits, _ = s.Linear("cdcops.dll", ne, true)
	require.Equal(t, []string{"CD-Cops (export ordinal 3)"}, labels(hits))

	le := &format.LinearExecutable{LE: &format.LEHeader{Magic: [2]byte{'L', 'E'}}, ModuleName: "secdrv"}
	hits, _ = s.Linear("secdrv.vxd", le, false)
	require.Equal(t, []string{"SafeDisc (SECDRV)"}, labels(hits))

	// Module names only count for the matching image kind.
	swapped := &format.LinearExecutable{NE: &format.NEHeader{}, ModuleName: "SECDRV"}
	hits, _ = s.Linear("x", swapped, false)
	require.Empty(t, hits)
}

// Running a detector twice on the same input yields the same labels.
func TestIdempotent(t *testing.T) {
	s := Builtin()
	exe := exeWith("UPX0", ".securom", "stxt774", ".sforce", ".themida", "_rwcseg")
	content := append(append([]byte("SFFS...."), safeDiscMarker...), securomAddD...)
	le := &format.LinearExecutable{LE: &format.LEHeader{}, ModuleName: "SECDRV"}

	for _, debug := range []bool{false, true} {
		h1, _ := s.Sections("a", exe, debug)
		h2, _ := s.Sections("a", exe, debug)
		require.Equal(t, h1, h2)
		require.Len(t, h1, 6)

		c1, _ := s.Content("a", content, debug)
		c2, _ := s.Content("a", content, debug)
		require.Equal(t, c1, c2)
		require.NotEmpty(t, c1)

		l1, _ := s.Linear("a", le, debug)
		l2, _ := s.Linear("a", le, debug)
		require.Equal(t, l1, l2)
	}
}

type panicky struct{}

func (panicky) Name() string { return "panicky" }

func (panicky) CheckContent(string, []byte, bool) (string, bool) { panic("boom") }

func TestPanicIsContained(t *testing.T) {
	s := NewSet(panicky{}, StarForce{})
	hits, errs := s.Content("x", []byte("SFFS"), false)
	require.Equal(t, []string{"StarForce Filesystem"}, labels(hits))
	require.Len(t, errs, 1)

	var pe *PanicError
	require.ErrorAs(t, errs[0], &pe)
	require.Equal(t, "panicky", pe.Detector)
}

func TestSetAdd(t *testing.T) {
	s := NewSet()
	require.Empty(t, s.Detectors())
	s.Add(UPX{}, AACS{})
	require.Len(t, s.Detectors(), 2)

	// Detectors without the capability are skipped.
	hits, errs := s.Linear("x", &format.LinearExecutable{}, false)
	require.Empty(t, hits)
	require.Empty(t, errs)
}
