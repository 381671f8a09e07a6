// Package extract materializes the entries of a parsed archive into a
// staging scope.
//
// Each stream an entry refers to is decoded at most once per Run. Entries
// that cannot be resolved, fail to decode or exceed a limit are reported as
// problems; the remaining entries are still extracted.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/joshuapare/protscan/internal/codec"
	"github.com/joshuapare/protscan/internal/stage"
	"github.com/joshuapare/protscan/pkg/format"
	"github.com/joshuapare/protscan/pkg/types"
)

// Limits bound what one archive may expand to. A zero field disables that
// check.
type Limits struct {
	MaxEntrySize int64 // decoded bytes of one entry
	MaxTotalSize int64 // decoded bytes staged for one archive
	MaxEntries   int   // entries staged for one archive
}

// DefaultLimits returns limits suited to disc images and installers.
func DefaultLimits() Limits {
	return Limits{
		MaxEntrySize: 1 << 30,
		MaxTotalSize: 4 << 30,
		MaxEntries:   100_000,
	}
}

// Child is an entry staged for scanning.
type Child struct {
	// Name is the sanitized name the payload was staged under.
	Name string
	// Entry is the name recorded in the archive.
	Entry string
	Size  int
}

// Problem is an entry that was not staged.
type Problem struct {
	Entry string
	Err   *types.Error
}

// decoded caches the outcome of decoding one stream.
type decoded struct {
	data []byte
	err  error
}

// Run stages every resolvable entry of a. name is the artifact's own name,
// used for single-stream payloads that carry none. It stops early, without
// a problem, when ctx is done.
func Run(ctx context.Context, name string, b []byte, a format.Archive, scope *stage.Scope, lim Limits) ([]Child, []Problem) {
	var (
		children []Child
		problems []Problem
		streams  = a.Streams()
		cache    = make(map[int]*decoded)
		total    int64
	)
	fail := func(entry string, kind types.ErrKind, err error) {
		problems = append(problems, Problem{
			Entry: entry,
			Err:   types.Wrap(kind, entry, "extract", err),
		})
	}

	for i, e := range a.Entries() {
		if ctx.Err() != nil {
			break
		}
		entryName := nameOf(a, name, e, i)
		if !e.Resolved() {
			fail(entryName, unresolvedKind(e.Err), e.Err)
			continue
		}
		if lim.MaxEntries > 0 && len(children) >= lim.MaxEntries {
			fail(entryName, types.ErrKindExtraction, fmt.Errorf("more than %d entries", lim.MaxEntries))
			break
		}
		if e.Stream >= len(streams) {
			fail(entryName, types.ErrKindExtraction, fmt.Errorf("stream %d of %d: %w", e.Stream, len(streams), format.ErrOutOfRange))
			continue
		}
		if lim.MaxEntrySize > 0 && int64(e.Size) > lim.MaxEntrySize {
			fail(entryName, types.ErrKindExtraction, fmt.Errorf("entry size %d exceeds %d", e.Size, lim.MaxEntrySize))
			continue
		}

		d, ok := cache[e.Stream]
		if !ok {
			limit := int64(0)
			if lim.MaxTotalSize > 0 {
				limit = max(lim.MaxTotalSize-total, 1)
			}
			data, err := Decode(b, streams[e.Stream], limit)
			d = &decoded{data: data, err: err}
			cache[e.Stream] = d
		}
		payload, err := slice(d.data, e)
		if d.err != nil && (err != nil || e.Size < 0) {
			// Entries wholly inside the prefix decoded before the failure
			// are still staged.
			fail(entryName, decodeKind(d.err), d.err)
			continue
		}
		if err != nil {
			fail(entryName, types.ErrKindExtraction, err)
			continue
		}
		if lim.MaxEntrySize > 0 && int64(len(payload)) > lim.MaxEntrySize {
			fail(entryName, types.ErrKindExtraction, fmt.Errorf("entry size %d exceeds %d", len(payload), lim.MaxEntrySize))
			continue
		}
		if lim.MaxTotalSize > 0 && total+int64(len(payload)) > lim.MaxTotalSize {
			fail(entryName, types.ErrKindExtraction, fmt.Errorf("archive expands beyond %d bytes", lim.MaxTotalSize))
			break
		}

		rel, err := scope.Put(entryName, payload)
		if err != nil {
			fail(entryName, types.ErrKindIO, err)
			continue
		}
		total += int64(len(payload))
		children = append(children, Child{Name: rel, Entry: entryName, Size: len(payload)})
	}
	return children, problems
}

// nameOf picks the name an entry is staged under.
func nameOf(a format.Archive, parent string, e format.Entry, i int) string {
	if e.Name != "" {
		return e.Name
	}
	if n, ok := a.(format.Namer); ok {
		return n.DerivedName(path.Base(parent))
	}
	return "entry_" + strconv.Itoa(i)
}

// slice cuts an entry out of its decoded stream. A negative size means the
// rest of the stream.
func slice(data []byte, e format.Entry) ([]byte, error) {
	if e.Off < 0 || e.Off > len(data) {
		return nil, fmt.Errorf("offset %d beyond %d decoded bytes: %w", e.Off, len(data), format.ErrOutOfRange)
	}
	if e.Size < 0 {
		return data[e.Off:], nil
	}
	if e.Size > len(data)-e.Off {
		return nil, fmt.Errorf("range %d+%d beyond %d decoded bytes: %w", e.Off, e.Size, len(data), format.ErrOutOfRange)
	}
	return data[e.Off : e.Off+e.Size], nil
}

func unresolvedKind(err error) types.ErrKind {
	if errors.Is(err, format.ErrUnsupported) {
		return types.ErrKindUnsupported
	}
	return types.ErrKindExtraction
}

func decodeKind(err error) types.ErrKind {
	switch {
	case errors.Is(err, codec.ErrTooLarge), errors.Is(err, format.ErrOutOfRange):
		return types.ErrKindExtraction
	case errors.Is(err, codec.ErrUnsupported):
		return types.ErrKindUnsupported
	default:
		return types.ErrKindDecode
	}
}
