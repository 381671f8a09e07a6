package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/joshuapare/protscan/internal/testutil"
	"github.com/joshuapare/protscan/pkg/format"
	"github.com/joshuapare/protscan/pkg/types"
)

func discDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "game/gta3.exe", testutil.PE(t, []string{".text", "_rwcseg"}, nil, nil))
	testutil.WriteFile(t, dir, "game/readme.txt", []byte("thanks for playing"))
	return dir
}

func TestScanCommand(t *testing.T) {
	dir := discDir(t)
	tests := []struct {
		name           string
		jsonOut        bool
		wantContain    []string
		wantNotContain []string
		wantJSON       bool
	}{
		{
			name:           "text",
			wantContain:    []string{"game/gta3.exe: RenderWare", "2 artifacts scanned", "1 with findings"},
			wantNotContain: []string{"readme.txt", "Issues:"},
		},
		{
			name:        "json",
			jsonOut:     true,
			wantContain: []string{`"game/gta3.exe"`, `"RenderWare"`, `"artifacts": 2`},
			wantJSON:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			jsonOut = tt.jsonOut
			defer resetFlags()

			output, err := captureOutput(t, func() error {
				return runScan(newScanCmd(), []string{dir})
			})
			if err != nil {
				t.Fatalf("runScan: %v", err)
			}
			if tt.wantJSON {
				assertJSON(t, output)
			}
			assertContains(t, output, tt.wantContain)
			assertNotContains(t, output, tt.wantNotContain)
		})
	}
}

func TestScanCommandCBOR(t *testing.T) {
	resetFlags()
	outFormat = "cbor"
	defer resetFlags()

	output, err := captureOutput(t, func() error {
		return runScan(newScanCmd(), []string{discDir(t)})
	})
	if err != nil {
		t.Fatalf("runScan: %v", err)
	}
	var sum types.Summary
	if err := cbor.Unmarshal([]byte(output), &sum); err != nil {
		t.Fatalf("decode cbor: %v", err)
	}
	if sum.Artifacts != 2 {
		t.Errorf("artifacts = %d, want 2", sum.Artifacts)
	}
	if got := sum.Findings["game/gta3.exe"]; len(got) != 1 || got[0] != "RenderWare" {
		t.Errorf("findings = %v", sum.Findings)
	}
}

func TestScanCommandConfig(t *testing.T) {
	resetFlags()
	defer resetFlags()
	dir := discDir(t)
	scanConfig = testutil.WriteFile(t, t.TempDir(), "protscan.yaml", []byte("exclude: ['**/*.exe']\nworkers: 1\n"))

	output, err := captureOutput(t, func() error {
		return runScan(newScanCmd(), []string{dir})
	})
	if err != nil {
		t.Fatalf("runScan: %v", err)
	}
	assertContains(t, output, []string{"1 artifacts scanned", "0 with findings"})
	assertNotContains(t, output, []string{"RenderWare"})
}

func TestScanCommandIssues(t *testing.T) {
	resetFlags()
	scanIssues = true
	defer resetFlags()

	hdr, _ := format.PAKHeader{Signature: [4]byte{'P', 'A', 'C', 'K'}, DirectoryOffset: 4096}.MarshalBinary()
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "pak0.pak", hdr)

	output, err := captureOutput(t, func() error {
		return runScan(newScanCmd(), []string{dir})
	})
	if err != nil {
		t.Fatalf("runScan: %v", err)
	}
	assertContains(t, output, []string{"Issues:", "pak0.pak: raw-only [pak]"})
}

func TestScanCommandIssueKind(t *testing.T) {
	resetFlags()
	defer resetFlags()

	hdr, _ := format.PAKHeader{Signature: [4]byte{'P', 'A', 'C', 'K'}, DirectoryOffset: 4096}.MarshalBinary()
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "pak0.pak", hdr)
	testutil.WriteFile(t, dir, "data.gz", testutil.Gzip(t, "data.bin", []byte("payload")))
	scanConfig = testutil.WriteFile(t, t.TempDir(), "protscan.yaml", []byte("max_depth: 0\n"))
	scanIssueKinds = []string{"depth-limit"}

	output, err := captureOutput(t, func() error {
		return runScan(newScanCmd(), []string{dir})
	})
	if err != nil {
		t.Fatalf("runScan: %v", err)
	}
	assertContains(t, output, []string{"Issues:", "data.gz: depth-limit", "2 issues"})
	assertNotContains(t, output, []string{"raw-only"})
}

func TestScanCommandInterrupted(t *testing.T) {
	resetFlags()
	defer resetFlags()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cmd := newScanCmd()
	cmd.SetContext(ctx)

	_, err := captureOutput(t, func() error {
		return runScan(cmd, []string{discDir(t)})
	})
	if err == nil || !strings.Contains(err.Error(), "interrupted") {
		t.Fatalf("err = %v, want interrupted", err)
	}
}

func TestScanCommandErrors(t *testing.T) {
	resetFlags()
	defer resetFlags()

	if _, err := captureOutput(t, func() error {
		return runScan(newScanCmd(), []string{filepath.Join(t.TempDir(), "missing")})
	}); err == nil {
		t.Error("expected error for a missing path")
	}

	outFormat = "xml"
	if _, err := captureOutput(t, func() error {
		return runScan(newScanCmd(), []string{discDir(t)})
	}); err == nil {
		t.Error("expected error for an unknown format")
	}
}

func TestIdentifyCommand(t *testing.T) {
	dir := t.TempDir()
	exe := testutil.WriteFile(t, dir, "gta3.exe", testutil.PE(t, []string{".text", "_rwcseg"}, nil, nil))
	hdr, _ := format.PAKHeader{Signature: [4]byte{'P', 'A', 'C', 'K'}, DirectoryOffset: 4096}.MarshalBinary()
	pak := testutil.WriteFile(t, dir, "pak0.pak", hdr)
	txt := testutil.WriteFile(t, dir, "readme.txt", []byte("hello"))

	tests := []struct {
		name        string
		path        string
		jsonOut     bool
		wantContain []string
		wantJSON    bool
	}{
		{name: "executable", path: exe, wantContain: []string{"executable", "renderware"}},
		{name: "broken pak", path: pak, wantContain: []string{"pak", "raw only"}},
		{name: "unknown", path: txt, wantContain: []string{"no known format"}},
		{name: "json", path: exe, jsonOut: true, wantJSON: true, wantContain: []string{`"tag": "executable"`, `"parsed": true`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			jsonOut = tt.jsonOut
			defer resetFlags()

			output, err := captureOutput(t, func() error { return runIdentify([]string{tt.path}) })
			if err != nil {
				t.Fatalf("runIdentify: %v", err)
			}
			if tt.wantJSON {
				assertJSON(t, output)
			}
			assertContains(t, output, tt.wantContain)
		})
	}
}

func TestFormatsCommand(t *testing.T) {
	resetFlags()
	defer resetFlags()

	output, err := captureOutput(t, runFormats)
	if err != nil {
		t.Fatalf("runFormats: %v", err)
	}
	assertContains(t, output, []string{"Signatures:", "renderware", `"_rwcseg"`, "exact@0", "Detectors:", "CD-Cops", "linear"})

	jsonOut = true
	output, err = captureOutput(t, runFormats)
	if err != nil {
		t.Fatalf("runFormats --json: %v", err)
	}
	assertJSON(t, output)
	assertContains(t, output, []string{`"policy": "section"`, `"name": "RenderWare"`, `"sections"`})
}
