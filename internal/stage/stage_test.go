package stage

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"readme.txt", "readme.txt"},
		{`data\maps\e1m1.bsp`, "data/maps/e1m1.bsp"},
		{"../../etc/passwd", "etc/passwd"},
		{`..\..\windows\system32`, "windows/system32"},
		{"/abs/path", "abs/path"},
		{`C:\Games\setup.exe`, "Games/setup.exe"},
		{`\\server\share\file`, "server/share/file"},
		{"a/./b//c", "a/b/c"},
		{"bad\x01name\x7f", "bad_name_"},
		{"stream:ads", "stream_ads"},
		{"trailing /x", "trailing/x"},
		{"..", unnamed},
		{"", unnamed},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Sanitize(tt.in), "Sanitize(%q)", tt.in)
	}
}

func TestScopePutOpen(t *testing.T) {
	a := NewMemory()
	defer a.Close()

	s, err := a.Scope()
	require.NoError(t, err)

	rel, err := s.Put(`dir\file.bin`, []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, "dir/file.bin", rel)

	got, err := s.Open(rel)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)

	dup, err := s.Put("dir/file.bin", []byte("second"))
	require.NoError(t, err)
	require.Equal(t, "dir/file.bin~1", dup)

	escaped, err := s.Put("../../outside", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "outside", escaped)
}

func TestScopesAreIsolated(t *testing.T) {
	a := NewMemory()
	defer a.Close()

	s1, err := a.Scope()
	require.NoError(t, err)
	s2, err := a.Scope()
	require.NoError(t, err)

	_, err = s1.Put("same", []byte("one"))
	require.NoError(t, err)
	_, err = s2.Put("same", []byte("two"))
	require.NoError(t, err)

	b, err := s1.Open("same")
	require.NoError(t, err)
	require.Equal(t, "one", string(b))

	_, err = s2.Open("missing")
	require.Error(t, err)
}

func TestScopeRelease(t *testing.T) {
	a := NewMemory()
	defer a.Close()

	s, err := a.Scope()
	require.NoError(t, err)
	_, err = s.Put("x", []byte("y"))
	require.NoError(t, err)

	require.NoError(t, s.Release())
	require.NoError(t, s.Release())

	_, err = s.Open("x")
	require.ErrorIs(t, err, ErrReleased)
	_, err = s.Put("z", nil)
	require.ErrorIs(t, err, ErrReleased)
}

func TestDiskArea(t *testing.T) {
	dir := t.TempDir()
	a, err := NewDisk(dir)
	require.NoError(t, err)

	s, err := a.Scope()
	require.NoError(t, err)
	rel, err := s.Put("nested/child.pak", []byte("PACK"))
	require.NoError(t, err)

	b, err := s.Open(rel)
	require.NoError(t, err)
	require.Equal(t, "PACK", string(b))
	require.NoError(t, s.Release())

	require.NoError(t, a.Close())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
