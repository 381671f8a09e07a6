//go:build unix

// Package mmfile exposes artifact files as read-only byte slices.
package mmfile

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Map maps the file at path read-only. The returned slice stays valid until
// the release func is called; release is idempotent.
func Map(path string) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("mmfile: %w", err)
	}
	defer f.Close() // the mapping outlives the descriptor

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("mmfile: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, nil, fmt.Errorf("mmfile: %s: not a regular file", path)
	}
	size := info.Size()
	if size == 0 {
		return []byte{}, func() error { return nil }, nil
	}
	if size > int64(^uint(0)>>1) {
		return nil, nil, fmt.Errorf("mmfile: %s too large to map (%d bytes)", path, size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("mmfile: mmap %s: %w", path, err)
	}
	// Signature checks jump between header, directory and section tables.
	_ = unix.Madvise(data, unix.MADV_RANDOM)

	var once sync.Once
	release := func() error {
		var err error
		once.Do(func() {
			err = unix.Munmap(data)
			if errors.Is(err, unix.EINVAL) {
				err = nil
			}
		})
		return err
	}
	return data, release, nil
}
