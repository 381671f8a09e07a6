//go:build !unix

// Package mmfile exposes artifact files as read-only byte slices.
package mmfile

import (
	"fmt"
	"os"
)

// Map reads the whole file where mmap is unavailable. The release func is a
// no-op.
func Map(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("mmfile: %w", err)
	}
	return data, func() error { return nil }, nil
}
