// Package types defines the public result and error types of a scan.
//
// A Report maps each artifact path to the labels detectors attached to it
// and lists the issues raised while processing it. Error carries a stable
// ErrKind so callers can branch on intent rather than text.
//
// This package has no dependencies beyond the standard library.
package types
