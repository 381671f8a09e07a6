package scan

import (
	"bytes"
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joshuapare/protscan/internal/testutil"
	"github.com/joshuapare/protscan/pkg/detect"
	"github.com/joshuapare/protscan/pkg/format"
	"github.com/joshuapare/protscan/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var safeDiscMarker = []byte("BoG_ *90.0&!!  Yy>")

func newScanner(t *testing.T, opts ...Option) *Scanner {
	t.Helper()
	s, err := New(opts...)
	require.NoError(t, err)
	return s
}

func TestScanPAK(t *testing.T) {
	game := testutil.PE(t, []string{".text", "_rwcseg"}, nil, nil)
	b := testutil.PAK(t,
		testutil.File{Name: "bin/game.exe", Data: game},
		testutil.File{Name: "readme.txt", Data: []byte("hello")},
	)
	rep, err := newScanner(t).ScanBytes(context.Background(), "pak0.pak", b)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"pak0.pak/bin/game.exe": {"RenderWare"}}, rep.Map())
	require.Equal(t, 3, rep.Artifacts())
	require.Empty(t, rep.Issues())
}

// A PAK whose directory lies past the end of the file is scanned as raw
// content.
func TestScanPAKDirectoryPastEOF(t *testing.T) {
	hdr, err := format.PAKHeader{
		Signature:       [4]byte{'P', 'A', 'C', 'K'},
		DirectoryOffset: 1 << 20,
		DirectoryLength: 64,
	}.MarshalBinary()
	require.NoError(t, err)
	b := append(hdr, "loader "...)
	b = append(b, safeDiscMarker...)

	rep, err := newScanner(t).ScanBytes(context.Background(), "broken.pak", b)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"broken.pak": {"SafeDisc"}}, rep.Map())

	raw := rep.IssuesOf(types.IssueRawOnly)
	require.Len(t, raw, 1)
	require.Equal(t, "broken.pak", raw[0].Path)
	require.Equal(t, "pak", raw[0].Tag)
}

func TestScanRenderWare(t *testing.T) {
	s := newScanner(t)

	rep, err := s.ScanBytes(context.Background(), "gta3.exe", testutil.PE(t, []string{".text", "_rwcseg", ".data"}, nil, nil))
	require.NoError(t, err)
	require.Equal(t, []string{"RenderWare"}, rep.Labels("gta3.exe"))

	rep, err = s.ScanBytes(context.Background(), "other.exe", testutil.PE(t, []string{".text", ".data"}, nil, nil))
	require.NoError(t, err)
	require.Empty(t, rep.Map())
}

// The overlay of an executable is scanned as a child.
func TestScanOverlay(t *testing.T) {
	inner := testutil.PE(t, []string{"UPX0", "UPX1"}, nil, nil)
	setup := testutil.PE(t, []string{".text"}, nil, testutil.ZIP(t, testutil.File{Name: "app/run.exe", Data: inner}))

	rep, err := newScanner(t).ScanBytes(context.Background(), "setup.exe", setup)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"setup.exe/overlay.bin/app/run.exe": {"UPX"}}, rep.Map())
}

// Source levels carry a ZIP in their pakfile lump.
func TestScanVBSPPakfile(t *testing.T) {
	client := testutil.PE(t, []string{".text", "_rwcseg"}, nil, nil)
	pak := testutil.ZIP(t, testutil.File{Name: "bin/client.exe", Data: client})

	const dataOff = 1036
	h := format.VBSPHeader{Signature: [4]byte{'V', 'B', 'S', 'P'}, Version: 20}
	h.Lumps[40] = format.VBSPLump{Offset: dataOff, Length: uint32(len(pak))}
	b, err := h.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, dataOff)
	b = append(b, pak...)

	rep, err := newScanner(t).ScanBytes(context.Background(), "map.bsp", b)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"map.bsp/pakfile.zip/bin/client.exe": {"RenderWare"}}, rep.Map())
	require.Empty(t, rep.Issues())
}

// loopArchive holds a single entry spanning the whole artifact.
type loopArchive int

func (loopArchive) Tag() format.Tag { return format.TagPAK }

func (a loopArchive) Streams() []format.Stream {
	return []format.Stream{format.Stored(format.Span{Len: int(a)})}
}

func (loopArchive) Entries() []format.Entry {
	return []format.Entry{{Name: "again.bin", Stream: 0, Size: -1}}
}

func TestSelfCopyTerminates(t *testing.T) {
	reg := format.NewRegistry()
	reg.Register(format.Signature{Tag: format.TagPAK, Pattern: []byte("LOOP"), Policy: format.PolicyExact})
	reg.RegisterParser(format.TagPAK, func(b []byte) (format.Model, error) { return loopArchive(len(b)), nil })

	rep, err := newScanner(t, WithRegistry(reg)).ScanBytes(context.Background(), "loop.bin", []byte("LOOP forever"))
	require.NoError(t, err)
	require.Equal(t, 1, rep.Artifacts())

	cycles := rep.IssuesOf(types.IssueCycle)
	require.Len(t, cycles, 1)
	require.Equal(t, "loop.bin/again.bin", cycles[0].Path)
}

func nested(t *testing.T) []byte {
	t.Helper()
	payload := append([]byte("payload "), safeDiscMarker...)
	payload = append(payload, bytes.Repeat([]byte{0}, 4096)...)
	l2 := testutil.Gzip(t, "payload.bin", payload)
	l1 := testutil.Gzip(t, "level2.gz", l2)
	return testutil.Gzip(t, "level1.gz", l1)
}

func TestDepthLimit(t *testing.T) {
	b := nested(t)

	rep, err := newScanner(t, WithMaxDepth(3)).ScanBytes(context.Background(), "deep.gz", b)
	require.NoError(t, err)
	require.Equal(t, []string{"SafeDisc"}, rep.Labels("deep.gz/level1.gz/level2.gz/payload.bin"))
	require.Empty(t, rep.IssuesOf(types.IssueDepth))

	rep, err = newScanner(t, WithMaxDepth(2)).ScanBytes(context.Background(), "deep.gz", b)
	require.NoError(t, err)
	require.Empty(t, rep.Labels("deep.gz/level1.gz/level2.gz/payload.bin"))
	depth := rep.IssuesOf(types.IssueDepth)
	require.Len(t, depth, 1)
	require.Equal(t, "deep.gz/level1.gz/level2.gz", depth[0].Path)
}

func TestArtifactBudget(t *testing.T) {
	rep, err := newScanner(t, WithMaxArtifacts(2), WithWorkers(1)).ScanBytes(context.Background(), "deep.gz", nested(t))
	require.NoError(t, err)
	require.Equal(t, 2, rep.Artifacts())
	require.Len(t, rep.IssuesOf(types.IssueBudget), 1)
}

func TestExclude(t *testing.T) {
	b := testutil.PAK(t,
		testutil.File{Name: "docs/readme.txt", Data: append([]byte("see "), safeDiscMarker...)},
		testutil.File{Name: "maps/c1a0.bsp", Data: []byte("level")},
	)

	rep, err := newScanner(t).ScanBytes(context.Background(), "pak0.pak", b)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{
		"pak0.pak":                 {"SafeDisc"},
		"pak0.pak/docs/readme.txt": {"SafeDisc"},
	}, rep.Map())

	rep, err = newScanner(t, WithExclude("**/*.txt")).ScanBytes(context.Background(), "pak0.pak", b)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"pak0.pak": {"SafeDisc"}}, rep.Map())
	require.Equal(t, 2, rep.Artifacts())
}

// Damaged entries are reported while their siblings are still scanned.
func TestExtractionProblems(t *testing.T) {
	good := testutil.PE(t, []string{".themida"}, nil, nil)
	b := testutil.PAK(t,
		testutil.File{Name: "good.exe", Data: good},
		testutil.File{Name: "big.bin", Data: bytes.Repeat([]byte{1}, 9000)},
	)
	rep, err := newScanner(t, WithLimits(8192, 0, 0)).ScanBytes(context.Background(), "p.pak", b)
	require.NoError(t, err)
	require.Equal(t, []string{"Themida"}, rep.Labels("p.pak/good.exe"))

	issues := rep.IssuesOf(types.IssueExtraction)
	require.Len(t, issues, 1)
	require.Equal(t, "p.pak/big.bin", issues[0].Path)
	require.Equal(t, "pak", issues[0].Tag)
}

type counting struct{ n atomic.Int32 }

func (*counting) Name() string { return "counting" }

func (c *counting) CheckContent(string, []byte, bool) (string, bool) {
	c.n.Add(1)
	return "counted", true
}

func TestLabelCache(t *testing.T) {
	b := testutil.PAK(t,
		testutil.File{Name: "a.dll", Data: []byte("same bytes")},
		testutil.File{Name: "b.dll", Data: []byte("same bytes")},
	)
	c := &counting{}
	rep, err := newScanner(t, WithWorkers(1), WithDetectors(detect.NewSet(c))).ScanBytes(context.Background(), "p.pak", b)
	require.NoError(t, err)
	require.Equal(t, []string{"counted"}, rep.Labels("p.pak/a.dll"))
	require.Equal(t, []string{"counted"}, rep.Labels("p.pak/b.dll"))
	require.EqualValues(t, 2, c.n.Load())

	c = &counting{}
	_, err = newScanner(t, WithCacheSize(0), WithDetectors(detect.NewSet(c))).ScanBytes(context.Background(), "p.pak", b)
	require.NoError(t, err)
	require.EqualValues(t, 3, c.n.Load())
}

type exploding struct{}

func (exploding) Name() string { return "exploding" }

func (exploding) CheckSections(string, *format.Executable, bool) (string, bool) { panic("bad table") }

func TestDetectorPanic(t *testing.T) {
	set := detect.Builtin()
	set.Add(exploding{})
	rep, err := newScanner(t, WithDetectors(set)).ScanBytes(context.Background(), "x.exe", testutil.PE(t, []string{"UPX0"}, nil, nil))
	require.NoError(t, err)
	require.Equal(t, []string{"UPX"}, rep.Labels("x.exe"))

	panics := rep.IssuesOf(types.IssuePanic)
	require.Len(t, panics, 1)
	require.Contains(t, panics[0].Msg, "exploding")
}

// canceling cancels the scan when it sees the artifact at path.
type canceling struct {
	path   string
	cancel context.CancelFunc
}

func (*canceling) Name() string { return "canceling" }

func (c *canceling) CheckContent(p string, _ []byte, _ bool) (string, bool) {
	if p == c.path {
		c.cancel()
	}
	return "seen", true
}

func TestCancel(t *testing.T) {
	b := testutil.PAK(t,
		testutil.File{Name: "a", Data: []byte("first")},
		testutil.File{Name: "b", Data: []byte("second")},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := newScanner(t).ScanBytes(ctx, "p.pak", b)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, types.ErrCanceled)
	require.Zero(t, rep.Artifacts())

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	set := detect.NewSet(&canceling{path: "p.pak", cancel: cancel})
	rep, err = newScanner(t, WithWorkers(1), WithDetectors(set)).ScanBytes(ctx, "p.pak", b)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, map[string][]string{"p.pak": {"seen"}}, rep.Map())
}

func TestScanPath(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "disc/setup.exe", testutil.PE(t, []string{".text", ".securom"}, nil, nil))
	testutil.WriteFile(t, dir, "disc/data/pak0.pak", testutil.PAK(t,
		testutil.File{Name: "game.exe", Data: testutil.PE(t, []string{"_rwcseg"}, nil, nil)},
	))
	testutil.WriteFile(t, dir, "empty.dat", nil)

	s := newScanner(t, WithStagingDir(t.TempDir()))
	rep, err := s.ScanPath(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{
		"disc/setup.exe":              {"SecuROM"},
		"disc/data/pak0.pak/game.exe": {"RenderWare"},
	}, rep.Map())
	require.Equal(t, 4, rep.Artifacts())

	rep, err = s.ScanPath(context.Background(), filepath.Join(dir, "disc", "setup.exe"))
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"setup.exe": {"SecuROM"}}, rep.Map())

	_, err = s.ScanPath(context.Background(), filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, types.ErrIO)
}

func TestScanReader(t *testing.T) {
	rep, err := newScanner(t).ScanReader(context.Background(), `D:\SETUP\game.exe`, bytes.NewReader(testutil.PE(t, []string{".winlice"}, nil, nil)))
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"SETUP/game.exe": {"Themida"}}, rep.Map())
}
