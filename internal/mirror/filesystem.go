package mirror

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileSystemMirror stores blobs as flat files under a root directory,
// writing atomically (temp file + rename) so a crashed push never
// leaves a half-written object behind.
type FileSystemMirror struct {
	root string
}

var _ Mirror = (*FileSystemMirror)(nil)

func NewFileSystemMirror(root string) (*FileSystemMirror, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating mirror directory: %w", err)
	}
	return &FileSystemMirror{root: root}, nil
}

func (m *FileSystemMirror) Put(ctx context.Context, name string, r io.Reader) error {
	dest := filepath.Join(m.root, name)

	tmp, err := os.CreateTemp(m.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("writing mirror object %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("storing mirror object %q: %w", name, err)
	}
	success = true
	return nil
}

func (m *FileSystemMirror) Get(ctx context.Context, name string, w io.Writer) error {
	f, err := os.Open(filepath.Join(m.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%q: %w", name, ErrNotFound)
		}
		return fmt.Errorf("opening mirror object %q: %w", name, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading mirror object %q: %w", name, err)
	}
	return nil
}

func (m *FileSystemMirror) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("listing mirror directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (m *FileSystemMirror) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(m.root)
	if err != nil {
		return fmt.Errorf("mirror root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mirror root is not a directory: %s", m.root)
	}
	return nil
}
