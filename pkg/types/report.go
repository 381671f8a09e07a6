package types

import (
	"cmp"
	"slices"
	"sync"
)

// Finding is one label attached to one artifact path.
type Finding struct {
	Path  string `json:"path" cbor:"path"`
	Label string `json:"label" cbor:"label"`
}

// IssueKind names why an artifact was only partly processed.
type IssueKind string

const (
	// IssueRawOnly marks a recognized format that failed to parse; the
	// artifact was still content-checked.
	IssueRawOnly IssueKind = "raw-only"
	// IssueChecksum marks a model whose stored checksums disagree.
	IssueChecksum    IssueKind = "checksum-mismatch"
	IssueDecode      IssueKind = "decode"
	IssueIO          IssueKind = "io"
	IssueExtraction  IssueKind = "extraction"
	IssueUnsupported IssueKind = "unsupported"
	// IssueCycle marks a child identical to one of its ancestors.
	IssueCycle  IssueKind = "cycle"
	IssueDepth  IssueKind = "depth-limit"
	IssueBudget IssueKind = "artifact-limit"
	IssuePanic  IssueKind = "panic"
)

// IssueFor maps an error kind to the issue kind recorded for it.
func IssueFor(k ErrKind) IssueKind {
	switch k {
	case ErrKindStructural:
		return IssueRawOnly
	case ErrKindDecode:
		return IssueDecode
	case ErrKindIO:
		return IssueIO
	case ErrKindUnsupported:
		return IssueUnsupported
	default:
		return IssueExtraction
	}
}

// Issue records a degraded outcome for one artifact, or for one entry of it
// when Path names the entry.
type Issue struct {
	Path string    `json:"path" cbor:"path"`
	Kind IssueKind `json:"kind" cbor:"kind"`
	Tag  string    `json:"tag,omitempty" cbor:"tag,omitempty"`
	Msg  string    `json:"msg" cbor:"msg"`
}

// Report is the result of a scan. All methods are safe for concurrent use.
type Report struct {
	mu        sync.Mutex
	labels    map[string][]string
	issues    []Issue
	artifacts int
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{labels: make(map[string][]string)}
}

// Visit counts one processed artifact.
func (r *Report) Visit() {
	r.mu.Lock()
	r.artifacts++
	r.mu.Unlock()
}

// Add appends labels to path, ignoring labels already present.
func (r *Report) Add(path string, labels ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.labels[path]
	for _, l := range labels {
		if l != "" && !slices.Contains(cur, l) {
			cur = append(cur, l)
		}
	}
	if len(cur) > 0 {
		r.labels[path] = cur
	}
}

// AddIssue records an issue.
func (r *Report) AddIssue(is Issue) {
	r.mu.Lock()
	r.issues = append(r.issues, is)
	r.mu.Unlock()
}

// Labels returns a copy of the labels recorded for path.
func (r *Report) Labels(path string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.labels[path])
}

// Map returns path -> labels for every path that received a label. Labels
// are sorted so equal scans compare equal.
func (r *Report) Map() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string, len(r.labels))
	for p, ls := range r.labels {
		ls = slices.Clone(ls)
		slices.Sort(ls)
		out[p] = ls
	}
	return out
}

// Findings flattens the report, ordered by path then label.
func (r *Report) Findings() []Finding {
	var out []Finding
	for p, ls := range r.Map() {
		for _, l := range ls {
			out = append(out, Finding{Path: p, Label: l})
		}
	}
	slices.SortFunc(out, func(a, b Finding) int {
		return cmp.Or(cmp.Compare(a.Path, b.Path), cmp.Compare(a.Label, b.Label))
	})
	return out
}

// Issues returns the recorded issues ordered by path.
func (r *Report) Issues() []Issue {
	r.mu.Lock()
	out := slices.Clone(r.issues)
	r.mu.Unlock()
	slices.SortStableFunc(out, func(a, b Issue) int { return cmp.Compare(a.Path, b.Path) })
	return out
}

// IssuesOf returns the issues of one kind.
func (r *Report) IssuesOf(kind IssueKind) []Issue {
	var out []Issue
	for _, is := range r.Issues() {
		if is.Kind == kind {
			out = append(out, is)
		}
	}
	return out
}

// Artifacts is the number of artifacts processed.
func (r *Report) Artifacts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.artifacts
}

// Summary is a serializable snapshot of a report.
type Summary struct {
	Artifacts int                 `json:"artifacts" cbor:"artifacts"`
	Findings  map[string][]string `json:"findings" cbor:"findings"`
	Issues    []Issue             `json:"issues,omitempty" cbor:"issues,omitempty"`
}

// Summary snapshots the report.
func (r *Report) Summary() Summary {
	return Summary{Artifacts: r.Artifacts(), Findings: r.Map(), Issues: r.Issues()}
}
