package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File reads attachments from the local filesystem.
type File struct {
	// root is joined in front of relative references. Empty means the
	// process working directory.
	root string
}

// NewFile creates a File source. Relative references are resolved against root.
func NewFile(root string) *File {
	return &File{root: root}
}

// Fetch reads the whole file named by ref.
func (f *File) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := ref
	if f.root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(f.root, path)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%q: %w", ref, ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%q: %w", ref, ErrDenied)
	default:
		return nil, fmt.Errorf("failed to read %q: %w", ref, err)
	}
}
