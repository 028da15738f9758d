package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
)

// Source lists and opens batch documents.
type Source interface {
	// List returns the keys of all batch documents in a stable order.
	List(ctx context.Context) ([]string, error)
	// Open returns the content of the document stored under key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Compile-time check
var _ Source = Dir("")

// Dir is a Source reading batch files from a local directory.
// Subdirectories and files with unknown extensions are ignored.
type Dir string

// List returns the batch file names in lexical order.
func (d Dir) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(string(d))
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !IsBatchName(e.Name()) {
			continue
		}
		keys = append(keys, e.Name())
	}
	slices.Sort(keys)
	return keys, nil
}

// Open opens the named batch file.
func (d Dir) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if !filepath.IsLocal(key) {
		return nil, fmt.Errorf("invalid batch key %q", key)
	}
	return os.Open(filepath.Join(string(d), key))
}
