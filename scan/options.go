package scan

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/joshuapare/protscan/internal/extract"
	"github.com/joshuapare/protscan/pkg/detect"
	"github.com/joshuapare/protscan/pkg/format"
)

const (
	// defaultMaxDepth bounds nesting. Real discs rarely go past an
	// installer inside a cabinet inside an image.
	defaultMaxDepth = 16

	// defaultMaxArtifacts bounds the artifacts of one scan.
	defaultMaxArtifacts = 250_000

	// defaultCacheSize is the number of artifact digests whose labels are
	// remembered.
	defaultCacheSize = 4096
)

// Options configures a Scanner.
//
// Use DefaultOptions() and override fields, or load a YAML file with
// LoadOptions.
type Options struct {
	// Workers is the number of artifacts processed at once.
	// Default: GOMAXPROCS
	Workers int `yaml:"workers"`

	// MaxDepth is the deepest nesting level scanned. Top-level artifacts
	// are depth 0. Deeper children are recorded as depth-limit issues.
	// Default: 16
	MaxDepth int `yaml:"max_depth"`

	// MaxArtifacts caps the artifacts of one scan (0 = unlimited).
	// Default: 250000
	MaxArtifacts int `yaml:"max_artifacts"`

	// MaxEntrySize, MaxTotalSize and MaxEntries bound what one archive may
	// expand to (0 = unlimited).
	// Default: 1GiB, 4GiB, 100000
	MaxEntrySize int64 `yaml:"max_entry_size"`
	MaxTotalSize int64 `yaml:"max_total_size"`
	MaxEntries   int   `yaml:"max_entries"`

	// Exclude lists doublestar patterns matched against artifact paths.
	// Matching artifacts are neither scanned nor extracted.
	// Example: ["**/*.wav", "sound/**"]
	Exclude []string `yaml:"exclude"`

	// Debug asks detectors for verbose labels.
	Debug bool `yaml:"debug"`

	// StagingDir holds extracted children on disk. Empty keeps them in
	// memory.
	StagingDir string `yaml:"staging_dir"`

	// CacheSize is the number of artifact digests whose detector labels
	// are reused for identical content (0 disables the cache).
	// Default: 4096
	CacheSize int `yaml:"cache_size"`

	// Registry identifies and parses formats. Default: format.DefaultRegistry()
	Registry *format.Registry `yaml:"-"`

	// Detectors run against every artifact. Default: detect.Builtin()
	Detectors *detect.Set `yaml:"-"`

	// Logger receives scan progress. Default: discards everything.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultOptions returns defaults suited to scanning disc images.
func DefaultOptions() Options {
	lim := extract.DefaultLimits()
	return Options{
		Workers:      runtime.GOMAXPROCS(0),
		MaxDepth:     defaultMaxDepth,
		MaxArtifacts: defaultMaxArtifacts,
		MaxEntrySize: lim.MaxEntrySize,
		MaxTotalSize: lim.MaxTotalSize,
		MaxEntries:   lim.MaxEntries,
		CacheSize:    defaultCacheSize,
	}
}

// Option adjusts Options.
type Option func(*Options)

// WithOptions replaces all options.
func WithOptions(o Options) Option { return func(dst *Options) { *dst = o } }

// WithWorkers sets the number of concurrent artifacts.
func WithWorkers(n int) Option { return func(o *Options) { o.Workers = n } }

// WithMaxDepth sets the nesting bound.
func WithMaxDepth(n int) Option { return func(o *Options) { o.MaxDepth = n } }

// WithMaxArtifacts sets the artifact budget.
func WithMaxArtifacts(n int) Option { return func(o *Options) { o.MaxArtifacts = n } }

// WithLimits sets the per-archive expansion bounds.
func WithLimits(entrySize, totalSize int64, entries int) Option {
	return func(o *Options) {
		o.MaxEntrySize, o.MaxTotalSize, o.MaxEntries = entrySize, totalSize, entries
	}
}

// WithExclude adds exclusion patterns.
func WithExclude(patterns ...string) Option {
	return func(o *Options) { o.Exclude = append(o.Exclude, patterns...) }
}

// WithDebug enables verbose detector labels.
func WithDebug(on bool) Option { return func(o *Options) { o.Debug = on } }

// WithStagingDir stages extracted children under dir.
func WithStagingDir(dir string) Option { return func(o *Options) { o.StagingDir = dir } }

// WithCacheSize sets the label cache size.
func WithCacheSize(n int) Option { return func(o *Options) { o.CacheSize = n } }

// WithRegistry replaces the format registry.
func WithRegistry(r *format.Registry) Option { return func(o *Options) { o.Registry = r } }

// WithDetectors replaces the detector set.
func WithDetectors(s *detect.Set) Option { return func(o *Options) { o.Detectors = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

// LoadOptions reads a YAML config file over DefaultOptions. Unknown keys
// are rejected.
func LoadOptions(path string) (Options, error) {
	o := DefaultOptions()
	f, err := os.Open(path)
	if err != nil {
		return o, fmt.Errorf("scan: load config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return o, fmt.Errorf("scan: parse config %s: %w", path, err)
	}
	if err := o.Validate(); err != nil {
		return o, fmt.Errorf("scan: config %s: %w", path, err)
	}
	return o, nil
}

// Validate checks option values.
func (o Options) Validate() error {
	if o.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", o.Workers)
	}
	if o.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative, got %d", o.MaxDepth)
	}
	if o.MaxArtifacts < 0 || o.MaxEntries < 0 || o.MaxEntrySize < 0 || o.MaxTotalSize < 0 || o.CacheSize < 0 {
		return errors.New("limits must not be negative")
	}
	for _, p := range o.Exclude {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return nil
}

func (o Options) limits() extract.Limits {
	return extract.Limits{
		MaxEntrySize: o.MaxEntrySize,
		MaxTotalSize: o.MaxTotalSize,
		MaxEntries:   o.MaxEntries,
	}
}
