package stage

import (
	"strings"
)

// unnamed replaces names that sanitize to nothing.
const unnamed = "unnamed"

// Sanitize turns an archive member name into a relative slash path that
// stays inside a scope. Backslashes become separators; drive letters, UNC
// prefixes and leading separators are dropped; "." and ".." components are
// removed; control characters and ':' are replaced with '_'.
func Sanitize(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if len(name) >= 2 && name[1] == ':' && isDriveLetter(name[0]) {
		name = name[2:]
	}

	parts := strings.Split(name, "/")
	out := parts[:0]
	for _, p := range parts {
		p = strings.Map(func(r rune) rune {
			if r < 0x20 || r == 0x7f || r == ':' {
				return '_'
			}
			return r
		}, p)
		p = strings.TrimRight(p, " ")
		switch p {
		case "", ".", "..":
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return unnamed
	}
	return strings.Join(out, "/")
}

func isDriveLetter(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z'
}
