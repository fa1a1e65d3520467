package mirror

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// backendTests exercises the Mirror contract against every backend that
// can run without external services.
func backends(t *testing.T) map[string]Mirror {
	t.Helper()
	fs, err := NewFileSystemMirror(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemMirror() error: %v", err)
	}
	return map[string]Mirror{
		"memory":     NewMemoryMirror(),
		"filesystem": fs,
	}
}

func TestMirrorPutGet(t *testing.T) {
	for name, m := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			content := []byte(`{"version": "0"}`)

			if err := m.Put(ctx, "o.team--general.meta.json", bytes.NewReader(content)); err != nil {
				t.Fatalf("Put() error: %v", err)
			}
			var out bytes.Buffer
			if err := m.Get(ctx, "o.team--general.meta.json", &out); err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if !bytes.Equal(out.Bytes(), content) {
				t.Errorf("Get() = %q, want %q", out.Bytes(), content)
			}
		})
	}
}

func TestMirrorPutOverwrites(t *testing.T) {
	for name, m := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := m.Put(ctx, "a.data.json", strings.NewReader("old")); err != nil {
				t.Fatalf("Put() error: %v", err)
			}
			if err := m.Put(ctx, "a.data.json", strings.NewReader("new and longer")); err != nil {
				t.Fatalf("second Put() error: %v", err)
			}
			var out bytes.Buffer
			if err := m.Get(ctx, "a.data.json", &out); err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if out.String() != "new and longer" {
				t.Errorf("Get() = %q, want the overwritten content", out.String())
			}
		})
	}
}

func TestMirrorGetMissing(t *testing.T) {
	for name, m := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			err := m.Get(context.Background(), "nope", &out)
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestMirrorList(t *testing.T) {
	for name, m := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, obj := range []string{"b.data.json", "a.meta.json", "a.data.json"} {
				if err := m.Put(ctx, obj, strings.NewReader("x")); err != nil {
					t.Fatalf("Put(%s) error: %v", obj, err)
				}
			}
			names, err := m.List(ctx)
			if err != nil {
				t.Fatalf("List() error: %v", err)
			}
			if len(names) != 3 {
				t.Errorf("List() = %v, want 3 objects", names)
			}
		})
	}
}

func TestMirrorValidateSetup(t *testing.T) {
	for name, m := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := m.ValidateSetup(context.Background()); err != nil {
				t.Errorf("ValidateSetup() error: %v", err)
			}
		})
	}
}

func TestFileSystemMirrorSkipsTempFiles(t *testing.T) {
	root := t.TempDir()
	m, err := NewFileSystemMirror(root)
	if err != nil {
		t.Fatalf("NewFileSystemMirror() error: %v", err)
	}
	if err := m.Put(context.Background(), "a.data.json", strings.NewReader("x")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	// A leftover from a crashed push must not show up as an object.
	if err := os.WriteFile(filepath.Join(root, ".tmp-123"), []byte("partial"), 0644); err != nil {
		t.Fatalf("writing stray temp file: %v", err)
	}

	names, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(names) != 1 || names[0] != "a.data.json" {
		t.Errorf("List() = %v, want only a.data.json", names)
	}
}
