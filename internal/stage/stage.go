// Package stage holds extracted payloads between the extraction engine and
// the recursive scan of each child.
//
// An Area is backed by a go-billy filesystem: memfs by default, or osfs
// rooted at a private temporary directory when payloads should spill to
// disk. Each parent artifact gets its own Scope; the scope is released once
// every child has been scanned.
package stage

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"sync"
	"sync/atomic"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// ErrReleased is returned by operations on a released scope.
var ErrReleased = errors.New("stage: scope released")

// Area is a staging filesystem shared by all scopes of one scan.
type Area struct {
	// mu serializes filesystem access; memfs is not safe for concurrent use.
	mu    sync.Mutex
	fs    billy.Filesystem
	seq   atomic.Uint64
	close func() error
}

// NewMemory returns an in-memory staging area.
func NewMemory() *Area {
	return &Area{fs: memfs.New(), close: func() error { return nil }}
}

// NewDisk returns a staging area in a fresh temporary directory under dir.
// Close removes the directory.
func NewDisk(dir string) (*Area, error) {
	root, err := os.MkdirTemp(dir, "protscan-stage-")
	if err != nil {
		return nil, fmt.Errorf("stage: %w", err)
	}
	return &Area{
		fs:    osfs.New(root),
		close: func() error { return os.RemoveAll(root) },
	}, nil
}

// Close releases the backing storage. Scopes must not be used afterwards.
func (a *Area) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.close()
}

// Scope creates an empty, uniquely named directory for one parent artifact.
func (a *Area) Scope() (*Scope, error) {
	dir := "/s" + strconv.FormatUint(a.seq.Add(1), 10)
	a.mu.Lock()
	err := a.fs.MkdirAll(dir, 0o700)
	a.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("stage: create scope: %w", err)
	}
	return &Scope{area: a, dir: dir, names: make(map[string]int)}, nil
}

// Scope is the staging directory of one parent artifact.
type Scope struct {
	area     *Area
	dir      string
	names    map[string]int
	released bool
}

// Put stores data under a sanitized form of name and returns the relative
// name it was stored as. Repeated names get a "~N" suffix.
func (s *Scope) Put(name string, data []byte) (string, error) {
	rel := s.unique(Sanitize(name))

	s.area.mu.Lock()
	defer s.area.mu.Unlock()
	if s.released {
		return "", ErrReleased
	}
	full, err := securejoin.SecureJoinVFS(s.dir, rel, s.area.fs)
	if err != nil {
		return "", fmt.Errorf("stage: join %q: %w", rel, err)
	}
	if err := s.area.fs.MkdirAll(path.Dir(full), 0o700); err != nil {
		return "", fmt.Errorf("stage: %q: %w", rel, err)
	}
	if err := util.WriteFile(s.area.fs, full, data, 0o600); err != nil {
		return "", fmt.Errorf("stage: write %q: %w", rel, err)
	}
	return rel, nil
}

// unique reserves rel within the scope, suffixing duplicates.
func (s *Scope) unique(rel string) string {
	s.area.mu.Lock()
	defer s.area.mu.Unlock()
	n := s.names[rel]
	s.names[rel] = n + 1
	if n == 0 {
		return rel
	}
	for {
		cand := rel + "~" + strconv.Itoa(n)
		if _, taken := s.names[cand]; !taken {
			s.names[cand] = 1
			return cand
		}
		n++
	}
}

// Open returns the bytes staged under rel.
func (s *Scope) Open(rel string) ([]byte, error) {
	s.area.mu.Lock()
	defer s.area.mu.Unlock()
	if s.released {
		return nil, ErrReleased
	}
	full, err := securejoin.SecureJoinVFS(s.dir, rel, s.area.fs)
	if err != nil {
		return nil, fmt.Errorf("stage: join %q: %w", rel, err)
	}
	data, err := util.ReadFile(s.area.fs, full)
	if err != nil {
		return nil, fmt.Errorf("stage: read %q: %w", rel, err)
	}
	return data, nil
}

// Release removes the scope and everything staged in it. It is safe to call
// more than once.
func (s *Scope) Release() error {
	s.area.mu.Lock()
	defer s.area.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	if err := util.RemoveAll(s.area.fs, s.dir); err != nil {
		return fmt.Errorf("stage: release %s: %w", s.dir, err)
	}
	return nil
}
