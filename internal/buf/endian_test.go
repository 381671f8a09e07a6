package buf

import "testing"

func TestEndianHelpers(t *testing.T) {
	data := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}

	if got := U16LE(data); got != 0x2301 {
		t.Fatalf("U16LE = 0x%x, want 0x2301", got)
	}
	if got := U24BE(data); got != 0x012345 {
		t.Fatalf("U24BE = 0x%x, want 0x012345", got)
	}
	if got := U32LE(data); got != 0x67452301 {
		t.Fatalf("U32LE = 0x%x, want 0x67452301", got)
	}
	if got := U32BE(data); got != 0x01234567 {
		t.Fatalf("U32BE = 0x%x, want 0x01234567", got)
	}

	short := []byte{0xAA}
	if U16LE(short) != 0 || U24BE(short) != 0 {
		t.Fatalf("short 16/24-bit reads should be 0")
	}
	if U32LE(short) != 0 || U32BE(short) != 0 {
		t.Fatalf("short reads should return 0")
	}
}

func TestCString(t *testing.T) {
	if got := string(CString([]byte("maps/c1a0.bsp\x00junk"))); got != "maps/c1a0.bsp" {
		t.Fatalf("CString = %q", got)
	}
	if got := string(CString([]byte("noterm"))); got != "noterm" {
		t.Fatalf("CString without NUL = %q", got)
	}
}
