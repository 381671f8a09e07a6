package format

import (
	"encoding/binary"
	"testing"

	"github.com/joshuapare/protscan/internal/buf"
)

// le encodes fixed-size values little-endian, back to back.
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

func decodeInto(t *testing.T, b []byte, v any) {
	t.Helper()
	c := buf.NewCursor(b)
	c.Decode(v)
	if err := c.Err(); err != nil {
		t.Fatalf("decode %T: %v", v, err)
	}
}

func name16(s string) [16]byte {
	var b [16]byte
	copy(b[:], s)
	return b
}

func name56(s string) [56]byte {
	var b [56]byte
	copy(b[:], s)
	return b
}

// payload returns the bytes an entry of a stored, single-stream model
// refers to.
func payload(t *testing.T, b []byte, a Archive, e Entry) []byte {
	t.Helper()
	if !e.Resolved() {
		t.Fatalf("entry %q unresolved: %v", e.Name, e.Err)
	}
	s := a.Streams()[e.Stream]
	if s.Method != MethodStored {
		t.Fatalf("entry %q: stream method %s", e.Name, s.Method)
	}
	var data []byte
	for _, sp := range s.Spans {
		data = append(data, b[sp.Off:sp.End()]...)
	}
	return data[e.Off : e.Off+e.Size]
}
