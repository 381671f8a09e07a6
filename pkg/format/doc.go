// Package format recognizes and parses the binary layouts found on game
// distribution media: executables, Half-Life/Source containers, installer
// cabinets and a handful of DRM records.
//
// Parsers take the whole artifact as a []byte and return a typed model.
// Every offset and length read from the artifact is validated before it is
// used; out-of-range tables fail with ErrTruncated or ErrOutOfRange, while a
// single out-of-range directory entry is kept but marked unresolved. Models
// whose format supports extraction implement Archive.
package format
