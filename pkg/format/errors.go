package format

import (
	"errors"

	"github.com/joshuapare/protscan/internal/buf"
)

var (
	// ErrSignatureMismatch indicates a structure had an unexpected magic.
	ErrSignatureMismatch = errors.New("format: signature mismatch")
	// ErrTruncated indicates the buffer lacked the bytes required for a
	// structure. Cursor overruns match it via errors.Is.
	ErrTruncated = buf.ErrTruncated
	// ErrOutOfRange indicates an offset or length field points outside the
	// artifact.
	ErrOutOfRange = errors.New("format: offset out of range")
	// ErrUnsupported indicates the structure or variant is not supported.
	ErrUnsupported = errors.New("format: unsupported feature")
	// ErrNoParser indicates the tag is a marker with no structural parser.
	ErrNoParser = errors.New("format: no parser for tag")
)
