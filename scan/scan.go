// Package scan walks artifacts through identification, parsing, detection
// and recursive extraction, collecting labels per path into a types.Report.
//
// Each artifact is handled by one task. The children of an archive are
// staged in a scope owned by the parent's task and scanned concurrently;
// the scope is released once every child has finished. A worker slot is
// held only while an artifact itself is processed, never while its children
// run, so nesting cannot exhaust the pool.
//
// Paths in the report are slash-separated. Top-level artifacts use the name
// given to ScanBytes or the path relative to the directory given to
// ScanPath; a child appends its staged name to its parent's path.
package scan

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/joshuapare/protscan/internal/extract"
	"github.com/joshuapare/protscan/internal/mmfile"
	"github.com/joshuapare/protscan/internal/stage"
	"github.com/joshuapare/protscan/pkg/detect"
	"github.com/joshuapare/protscan/pkg/format"
	"github.com/joshuapare/protscan/pkg/types"
)

// digest identifies artifact content.
type digest [32]byte

// Scanner scans artifacts. It is safe for concurrent use; every call gets
// its own report and staging area.
type Scanner struct {
	opts      Options
	log       *slog.Logger
	reg       *format.Registry
	detectors *detect.Set

	// cache maps content digests to the detector labels they produced.
	cache *lru.Cache[digest, []string]
}

// New returns a scanner configured by opts, applied over DefaultOptions.
func New(opts ...Option) (*Scanner, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if o.Workers == 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}

	s := &Scanner{opts: o, log: o.Logger, reg: o.Registry, detectors: o.Detectors}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.reg == nil {
		s.reg = format.DefaultRegistry()
	}
	if s.detectors == nil {
		s.detectors = detect.Builtin()
	}
	if o.CacheSize > 0 {
		c, err := lru.New[digest, []string](o.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("scan: label cache: %w", err)
		}
		s.cache = c
	}
	return s, nil
}

// Options returns the effective options.
func (s *Scanner) Options() Options { return s.opts }

// ScanBytes scans b as a top-level artifact called name.
//
// On cancellation the report holds everything collected so far and the
// error matches both types.ErrCanceled and the context's error.
func (s *Scanner) ScanBytes(ctx context.Context, name string, b []byte) (*types.Report, error) {
	r, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer r.end()

	name = stage.Sanitize(name)
	if !r.excluded(name) {
		r.root(ctx, name, b)
	}
	return r.finish(ctx)
}

// ScanReader reads r fully and scans it as a top-level artifact.
func (s *Scanner) ScanReader(ctx context.Context, name string, rd io.Reader) (*types.Report, error) {
	b, err := io.ReadAll(rd)
	if err != nil {
		return nil, types.Wrap(types.ErrKindIO, name, "read", err)
	}
	return s.ScanBytes(ctx, name, b)
}

// ScanPath scans a file, or every regular file below a directory. Files are
// memory-mapped for the duration of their subtree. A file that cannot be
// read is recorded as an io issue and the scan goes on.
func (s *Scanner) ScanPath(ctx context.Context, p string) (*types.Report, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, types.Wrap(types.ErrKindIO, p, "stat", err)
	}
	r, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer r.end()

	if info.IsDir() {
		r.walk(ctx, p)
	} else {
		r.file(ctx, p, info.Name())
	}
	return r.finish(ctx)
}

// run is the state of one Scan call.
type run struct {
	*Scanner
	report *types.Report
	area   *stage.Area
	sem    *semaphore.Weighted
	limits extract.Limits
	count  atomic.Int64
}

func (s *Scanner) begin() (*run, error) {
	area := stage.NewMemory()
	if s.opts.StagingDir != "" {
		a, err := stage.NewDisk(s.opts.StagingDir)
		if err != nil {
			return nil, types.Wrap(types.ErrKindIO, s.opts.StagingDir, "staging area", err)
		}
		area = a
	}
	return &run{
		Scanner: s,
		report:  types.NewReport(),
		area:    area,
		sem:     semaphore.NewWeighted(int64(s.opts.Workers)),
		limits:  s.opts.limits(),
	}, nil
}

func (r *run) end() {
	if err := r.area.Close(); err != nil {
		r.log.Warn("release staging area", "err", err)
	}
}

func (r *run) finish(ctx context.Context) (*types.Report, error) {
	r.log.Info("scan finished",
		"artifacts", r.report.Artifacts(),
		"findings", len(r.report.Findings()),
		"issues", len(r.report.Issues()))
	if err := ctx.Err(); err != nil {
		return r.report, types.Wrap(types.ErrKindCanceled, "", "scan", err)
	}
	return r.report, nil
}

// walk scans the regular files below root, at most Workers at a time.
func (r *run) walk(ctx context.Context, root string) {
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	err := doublestar.GlobWalk(os.DirFS(root), "**", func(rel string, _ fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.Go(func() error {
			r.file(ctx, filepath.Join(root, filepath.FromSlash(rel)), rel)
			return nil
		})
		return nil
	}, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
	_ = g.Wait()
	if err != nil && ctx.Err() == nil {
		r.issue(".", types.IssueIO, "", err)
	}
}

func (r *run) file(ctx context.Context, full, rel string) {
	if r.excluded(rel) || ctx.Err() != nil {
		return
	}
	data, release, err := mmfile.Map(full)
	if err != nil {
		r.issue(rel, types.IssueIO, "", err)
		return
	}
	defer func() {
		if err := release(); err != nil {
			r.log.Warn("unmap artifact", "path", rel, "err", err)
		}
	}()
	r.root(ctx, rel, data)
}

func (r *run) root(ctx context.Context, name string, data []byte) {
	r.visit(ctx, &artifact{path: name, data: data})
}

func (r *run) issue(p string, kind types.IssueKind, tag string, err error) {
	r.report.AddIssue(types.Issue{Path: p, Kind: kind, Tag: tag, Msg: err.Error()})
	r.log.Debug("issue", "path", p, "kind", kind, "tag", tag, "err", err)
}

func (r *run) excluded(p string) bool {
	for _, pat := range r.opts.Exclude {
		if ok, _ := doublestar.Match(pat, p); ok {
			r.log.Debug("excluded", "path", p, "pattern", pat)
			return true
		}
	}
	return false
}
