package types

import (
	"errors"
)

// ErrKind classifies errors so callers can branch on intent rather than text.
type ErrKind int

const (
	ErrKindStructural  ErrKind = iota // malformed header, checksum or offset
	ErrKindDecode                     // corrupt or truncated compressed stream
	ErrKindIO                         // artifact unreadable
	ErrKindExtraction                 // entry bounds unresolved or staging failed
	ErrKindUnsupported                // recognized variant we don't handle
	ErrKindCanceled                   // scan canceled by the caller
)

var errKindNames = [...]string{
	ErrKindStructural:  "structural",
	ErrKindDecode:      "decode",
	ErrKindIO:          "io",
	ErrKindExtraction:  "extraction",
	ErrKindUnsupported: "unsupported",
	ErrKindCanceled:    "canceled",
}

func (k ErrKind) String() string {
	if k >= 0 && int(k) < len(errKindNames) {
		return errKindNames[k]
	}
	return "unknown"
}

// Error is a typed error with an optional artifact path and cause.
type Error struct {
	Kind ErrKind
	Path string
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := e.Msg
	if e.Path != "" {
		s = e.Path + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrDecode) holds for
// any decode error regardless of path or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Path == "" && t.Err == nil && e.Kind == t.Kind
}

// Sentinels, one per kind.
var (
	ErrStructural  = &Error{Kind: ErrKindStructural, Msg: "structural error"}
	ErrDecode      = &Error{Kind: ErrKindDecode, Msg: "decode error"}
	ErrIO          = &Error{Kind: ErrKindIO, Msg: "io error"}
	ErrExtraction  = &Error{Kind: ErrKindExtraction, Msg: "extraction error"}
	ErrUnsupported = &Error{Kind: ErrKindUnsupported, Msg: "unsupported variant"}
	ErrCanceled    = &Error{Kind: ErrKindCanceled, Msg: "scan canceled"}
)

// Wrap returns err as a typed error of the given kind.
func Wrap(kind ErrKind, path, msg string, err error) *Error {
	return &Error{Kind: kind, Path: path, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
