// Package detect defines the contracts protection detectors implement and
// runs a set of them against a parsed artifact.
//
// A detector declares what it can inspect by implementing one or more of
// SectionChecker, ContentChecker and LinearChecker. Each check returns a
// label and whether it matched; detectors never see each other's results
// and must give the same answer for the same input.
package detect

import (
	"fmt"

	"github.com/joshuapare/protscan/pkg/format"
)

// Detector is implemented by every detector.
type Detector interface {
	Name() string
}

// SectionChecker inspects the section table of a PE image.
type SectionChecker interface {
	CheckSections(path string, exe *format.Executable, debug bool) (string, bool)
}

// ContentChecker inspects raw artifact bytes.
type ContentChecker interface {
	CheckContent(path string, b []byte, debug bool) (string, bool)
}

// LinearChecker inspects an NE or LE/LX image.
type LinearChecker interface {
	CheckLinear(path string, le *format.LinearExecutable, debug bool) (string, bool)
}

// Hit is a label produced by one detector.
type Hit struct {
	Detector string
	Label    string
}

// PanicError reports a detector that panicked. The other detectors still
// run.
type PanicError struct {
	Detector string
	Value    any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("detector %s panicked: %v", e.Detector, e.Value)
}

// Set is an ordered collection of detectors. It is safe for concurrent use
// once built.
type Set struct {
	detectors []Detector
}

// NewSet returns a set of the given detectors, run in order.
func NewSet(ds ...Detector) *Set {
	return &Set{detectors: append([]Detector(nil), ds...)}
}

// Add appends detectors.
func (s *Set) Add(ds ...Detector) { s.detectors = append(s.detectors, ds...) }

// Detectors returns the detectors in run order.
func (s *Set) Detectors() []Detector { return append([]Detector(nil), s.detectors...) }

// Sections runs every SectionChecker.
func (s *Set) Sections(path string, exe *format.Executable, debug bool) ([]Hit, []error) {
	return s.run(func(d Detector) (string, bool) {
		c, ok := d.(SectionChecker)
		if !ok {
			return "", false
		}
		return c.CheckSections(path, exe, debug)
	})
}

// Content runs every ContentChecker.
func (s *Set) Content(path string, b []byte, debug bool) ([]Hit, []error) {
	return s.run(func(d Detector) (string, bool) {
		c, ok := d.(ContentChecker)
		if !ok {
			return "", false
		}
		return c.CheckContent(path, b, debug)
	})
}

// Linear runs every LinearChecker.
func (s *Set) Linear(path string, le *format.LinearExecutable, debug bool) ([]Hit, []error) {
	return s.run(func(d Detector) (string, bool) {
		c, ok := d.(LinearChecker)
		if !ok {
			return "", false
		}
		return c.CheckLinear(path, le, debug)
	})
}

func (s *Set) run(check func(Detector) (string, bool)) (hits []Hit, errs []error) {
	for _, d := range s.detectors {
		label, ok, err := guard(d, check)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok && label != "" {
			hits = append(hits, Hit{Detector: d.Name(), Label: label})
		}
	}
	return hits, errs
}

func guard(d Detector, check func(Detector) (string, bool)) (label string, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Detector: d.Name(), Value: r}
		}
	}()
	label, ok = check(d)
	return label, ok, nil
}
