package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/protscan/internal/extract"
	"github.com/joshuapare/protscan/internal/mmfile"
	"github.com/joshuapare/protscan/internal/stage"
	"github.com/joshuapare/protscan/pkg/format"
	"github.com/joshuapare/protscan/pkg/types"
)

// artifact is one byte source under scan. data is never modified.
type artifact struct {
	path  string
	data  []byte
	depth int
	// id is the BLAKE3 digest of data.
	id digest
	// ancestors holds the digests of every enclosing artifact.
	ancestors []digest
}

// visit scans a and, after it, its children. It returns once the whole
// subtree is done and its staging scope released.
func (r *run) visit(ctx context.Context, a *artifact) {
	if ctx.Err() != nil {
		return
	}
	if n := r.count.Add(1); r.opts.MaxArtifacts > 0 && n > int64(r.opts.MaxArtifacts) {
		r.issue(a.path, types.IssueBudget, "", fmt.Errorf("more than %d artifacts", r.opts.MaxArtifacts))
		return
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return
	}
	children, scope := r.process(ctx, a)
	r.sem.Release(1)
	if scope == nil {
		return
	}
	defer r.release(scope)

	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for _, c := range children {
		if ctx.Err() != nil {
			break
		}
		p := a.path + "/" + c.Name
		if r.excluded(p) {
			continue
		}
		g.Go(func() error {
			r.child(ctx, a, scope, c.Name, p)
			return nil
		})
	}
	_ = g.Wait()
}

// child reads a staged child back and scans it unless it repeats an
// enclosing artifact.
func (r *run) child(ctx context.Context, parent *artifact, scope *stage.Scope, name, p string) {
	data, err := scope.Open(name)
	if err != nil {
		r.issue(p, types.IssueIO, "", err)
		return
	}
	id := blake3.Sum256(data)
	if id == parent.id || slices.Contains(parent.ancestors, id) {
		r.issue(p, types.IssueCycle, "", errors.New("content repeats an enclosing artifact"))
		return
	}
	r.visit(ctx, &artifact{
		path:      p,
		data:      data,
		depth:     parent.depth + 1,
		id:        id,
		ancestors: append(slices.Clip(parent.ancestors), parent.id),
	})
}

// process identifies, parses, checks and extracts one artifact. The
// returned scope holds the staged children and belongs to the caller. A
// panic anywhere below, including a fault on a mapped file that shrank, is
// recorded against a and ends its processing.
func (r *run) process(ctx context.Context, a *artifact) (children []extract.Child, scope *stage.Scope) {
	defer mmfile.Protect()()
	defer func() {
		if v := recover(); v != nil {
			if err := mmfile.Fault(v); err != nil {
				r.issue(a.path, types.IssueIO, "", err)
			} else {
				r.issue(a.path, types.IssuePanic, "", fmt.Errorf("panic: %v", v))
				r.log.Error("artifact panicked", "path", a.path, "panic", v, "stack", string(debug.Stack()))
			}
			if scope != nil {
				r.release(scope)
			}
			children, scope = nil, nil
		}
	}()

	r.report.Visit()
	if a.depth == 0 {
		// Top-level artifacts may be mapped; hash them under Protect.
		a.id = blake3.Sum256(a.data)
	}
	matches := r.reg.Identify(a.data)
	r.log.Debug("artifact", "path", a.path, "size", len(a.data), "depth", a.depth, "tags", tagNames(matches))

	models := r.parse(a, matches)
	r.check(a, models)

	var archives []format.Archive
	for _, m := range models {
		if arc, ok := m.(format.Archive); ok && len(arc.Entries()) > 0 {
			archives = append(archives, arc)
		}
	}
	if len(archives) == 0 {
		return nil, nil
	}
	if a.depth >= r.opts.MaxDepth {
		r.issue(a.path, types.IssueDepth, "", fmt.Errorf("not extracted: nesting limit %d reached", r.opts.MaxDepth))
		return nil, nil
	}

	var err error
	scope, err = r.area.Scope()
	if err != nil {
		r.issue(a.path, types.IssueIO, "", err)
		return nil, nil
	}
	for _, arc := range archives {
		got, problems := extract.Run(ctx, a.path, a.data, arc, scope, r.limits)
		for _, p := range problems {
			r.issue(a.path+"/"+stage.Sanitize(p.Entry), types.IssueFor(p.Err.Kind), arc.Tag().String(), p.Err)
		}
		r.log.Debug("extracted", "path", a.path, "format", arc.Tag(), "children", len(got), "problems", len(problems))
		children = append(children, got...)
	}
	return children, scope
}

// parse runs the parser of every matched tag. A tag whose parse fails is
// recorded as raw-only; the others are unaffected.
func (r *run) parse(a *artifact, matches []format.Match) []format.Model {
	var models []format.Model
	for _, m := range matches {
		if m.Tag.Marker() || !r.reg.Parsable(m.Tag) {
			continue
		}
		model, err := r.reg.Parse(m.Tag, a.data)
		if err != nil {
			r.issue(a.path, types.IssueRawOnly, m.Tag.String(), err)
			continue
		}
		if c, ok := model.(format.Checked); ok {
			for _, msg := range c.ChecksumMismatches() {
				r.issue(a.path, types.IssueChecksum, m.Tag.String(), errors.New(msg))
			}
		}
		models = append(models, model)
	}
	return models
}

// check runs the detectors: content checks always, section and linear
// checks for every parsed executable.
func (r *run) check(a *artifact, models []format.Model) {
	if r.cache != nil {
		if labels, ok := r.cache.Get(a.id); ok {
			r.report.Add(a.path, labels...)
			return
		}
	}

	dbg := r.opts.Debug
	hits, errs := r.detectors.Content(a.path, a.data, dbg)
	for _, m := range models {
		exe, ok := m.(*format.Executable)
		if !ok {
			continue
		}
		if len(exe.Sections) > 0 {
			h, e := r.detectors.Sections(a.path, exe, dbg)
			hits, errs = append(hits, h...), append(errs, e...)
		}
		if exe.Linear != nil {
			h, e := r.detectors.Linear(a.path, exe.Linear, dbg)
			hits, errs = append(hits, h...), append(errs, e...)
		}
	}
	for _, err := range errs {
		r.issue(a.path, types.IssuePanic, "", err)
	}

	labels := make([]string, 0, len(hits))
	for _, h := range hits {
		labels = append(labels, h.Label)
	}
	r.report.Add(a.path, labels...)
	if r.cache != nil && len(errs) == 0 {
		r.cache.Add(a.id, labels)
	}
}

func (r *run) release(s *stage.Scope) {
	if err := s.Release(); err != nil {
		r.log.Warn("release staging scope", "err", err)
	}
}

func tagNames(ms []format.Match) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Tag.String()
	}
	return out
}
