// Package store owns the on-disk representation of one channel's
// archive: a header file describing the content and a data file holding
// one compact JSON post record per line.
//
// The format looks like
//
//	<name>.meta.json — JSON serialization of Header
//	<name>.data.json — newline separated compact JSON posts, ordered
//	                   per the header's declared organization
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mmdump/internal/model"
)

const (
	headerSuffix = ".meta.json"
	dataSuffix   = ".data.json"
	lockSuffix   = ".lock"
)

// ErrNotFound is returned by Open when no archive exists under the name.
var ErrNotFound = errors.New("archive not found")

// DesyncError reports a mismatch between the header's recorded byte
// size and the data file's actual size: a truncated write, a crash
// mid-append, or concurrent external modification. Appending is blocked
// until an explicit rebuild decision resolves it.
type DesyncError struct {
	Name     string
	Expected int64
	Actual   int64
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("archive %q desynchronized: header claims %d bytes, data file has %d", e.Name, e.Expected, e.Actual)
}

// Store manages archive file pairs under a single directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// SetNowFunc overrides the clock used for backup suffixes. For tests.
func (s *Store) SetNowFunc(now func() time.Time) { s.now = now }

// Dir returns the directory the store manages.
func (s *Store) Dir() string { return s.dir }

func (s *Store) headerPath(name string) string { return filepath.Join(s.dir, name+headerSuffix) }
func (s *Store) dataPath(name string) string   { return filepath.Join(s.dir, name+dataSuffix) }
func (s *Store) lockPath(name string) string   { return filepath.Join(s.dir, name+lockSuffix) }

// Archive is an open header+data pair. A lock file enforces
// single-writer-per-channel for the archive's lifetime; Close releases it.
type Archive struct {
	store  *Store
	name   string
	header Header
	data   *os.File
	locked bool
}

// Exists reports whether an archive header exists under the name.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.headerPath(name))
	return err == nil
}

// Open reads an existing archive and validates the header's byte size
// against the data file's actual size. Returns ErrNotFound if no header
// exists and a *DesyncError on mismatch; in the desync case no lock is
// held and the archive must not be appended to.
func (s *Store) Open(name string) (*Archive, error) {
	raw, err := os.ReadFile(s.headerPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	var header Header
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("parsing header for %q: %w", name, err)
	}

	var actualSize int64
	info, err := os.Stat(s.dataPath(name))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat data file: %w", err)
		}
		// Missing data file counts as zero bytes; a non-empty header
		// over a missing file is a desync like any other.
	} else {
		actualSize = info.Size()
	}

	if actualSize != header.Storage.ByteSize {
		return nil, &DesyncError{Name: name, Expected: header.Storage.ByteSize, Actual: actualSize}
	}

	a := &Archive{store: s, name: name, header: header}
	if err := a.acquireLock(); err != nil {
		return nil, err
	}
	return a, nil
}

// Create makes a fresh archive pair, truncating any existing files.
// The header is written immediately with an empty data file, so an
// empty channel still gets a valid archive.
func (s *Store) Create(name string, header *Header) (*Archive, error) {
	a := &Archive{store: s, name: name, header: *header}
	if err := a.acquireLock(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(s.dataPath(name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		a.releaseLock()
		return nil, fmt.Errorf("creating data file: %w", err)
	}
	a.data = f
	a.header.Storage.ByteSize = 0

	if err := a.writeHeader(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Backup renames an existing archive pair with a timestamped backup
// suffix, leaving the old files byte-for-byte unchanged for manual
// cleanup. Returns the suffix used.
func (s *Store) Backup(name string) (string, error) {
	suffix := ".bak-" + s.now().UTC().Format("20060102T150405Z")
	for _, path := range []string{s.headerPath(name), s.dataPath(name)} {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
		if err := os.Rename(path, path+suffix); err != nil {
			return "", fmt.Errorf("backing up %s: %w", path, err)
		}
	}
	return suffix, nil
}

// Discard deletes an existing archive pair.
func (s *Store) Discard(name string) error {
	for _, path := range []string{s.headerPath(name), s.dataPath(name)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return nil
}

// List returns the names of all archives in the store, backups excluded.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing archive directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), headerSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), headerSuffix))
	}
	return names, nil
}

// Verify re-checks the byte-size invariant for a named archive without
// opening it for writing. Returns nil, ErrNotFound or a *DesyncError.
func (s *Store) Verify(name string) error {
	raw, err := os.ReadFile(s.headerPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("reading header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(raw, &header); err != nil {
		return fmt.Errorf("parsing header for %q: %w", name, err)
	}
	var actualSize int64
	if info, err := os.Stat(s.dataPath(name)); err == nil {
		actualSize = info.Size()
	}
	if actualSize != header.Storage.ByteSize {
		return &DesyncError{Name: name, Expected: header.Storage.ByteSize, Actual: actualSize}
	}
	return nil
}

// ReadHeader loads just the header of a named archive.
func (s *Store) ReadHeader(name string) (*Header, error) {
	raw, err := os.ReadFile(s.headerPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("parsing header for %q: %w", name, err)
	}
	return &header, nil
}

func (a *Archive) acquireLock() error {
	f, err := os.OpenFile(a.store.lockPath(a.name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("archive %q is locked by another writer", a.name)
		}
		return fmt.Errorf("acquiring archive lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	a.locked = true
	return nil
}

func (a *Archive) releaseLock() {
	if a.locked {
		os.Remove(a.store.lockPath(a.name))
		a.locked = false
	}
}

// Name returns the archive's name within the store.
func (a *Archive) Name() string { return a.name }

// Header returns the in-memory header. Mutations become durable on the
// next Append or WriteHeader.
func (a *Archive) Header() *Header { return &a.header }

// Append writes posts to the end of the data file in the given order,
// syncs them, and only then atomically rewrites the header with the
// caller-updated metadata. ByteSize is re-derived from the file itself
// so the header never claims more data than is durably present.
func (a *Archive) Append(posts []model.Post, header *Header) error {
	if err := a.ensureDataOpen(); err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, p := range posts {
		line, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding post %s: %w", p.Id, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	if _, err := a.data.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("appending posts: %w", err)
	}
	if err := a.data.Sync(); err != nil {
		return fmt.Errorf("syncing data file: %w", err)
	}

	info, err := a.data.Stat()
	if err != nil {
		return fmt.Errorf("stat data file: %w", err)
	}

	a.header = *header
	a.header.Storage.ByteSize = info.Size()
	return a.writeHeader()
}

// WriteHeader persists header metadata without touching the data file.
// Used for the zero-post case and for late header enrichment (user and
// emoji tables resolved after the post stream ended).
func (a *Archive) WriteHeader(header *Header) error {
	byteSize := a.header.Storage.ByteSize
	a.header = *header
	a.header.Storage.ByteSize = byteSize
	return a.writeHeader()
}

// writeHeader rewrites the header file atomically (temp file + rename).
func (a *Archive) writeHeader() error {
	raw, err := json.MarshalIndent(&a.header, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}

	dest := a.store.headerPath(a.name)
	tmp, err := os.CreateTemp(a.store.dir, ".tmp-meta-*")
	if err != nil {
		return fmt.Errorf("creating temp header: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp header: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("replacing header: %w", err)
	}
	success = true
	return nil
}

func (a *Archive) ensureDataOpen() error {
	if a.data != nil {
		return nil
	}
	f, err := os.OpenFile(a.store.dataPath(a.name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening data file for append: %w", err)
	}
	a.data = f
	return nil
}

// ReadPosts streams every stored post to fn in on-disk order.
// Unparseable lines abort with an error rather than being skipped:
// we wrote this file, so damage means the archive needs attention.
func (a *Archive) ReadPosts(fn func(model.Post) error) error {
	f, err := os.Open(a.store.dataPath(a.name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening data file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var p model.Post
			if jsonErr := json.Unmarshal(line, &p); jsonErr != nil {
				return fmt.Errorf("parsing stored post: %w", jsonErr)
			}
			if fnErr := fn(p); fnErr != nil {
				return fnErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading data file: %w", err)
		}
	}
}

// Close releases the data file handle and the writer lock. Safe to call
// multiple times and on partially-initialized archives.
func (a *Archive) Close() error {
	var firstErr error
	if a.data != nil {
		if err := a.data.Close(); err != nil {
			firstErr = fmt.Errorf("closing data file: %w", err)
		}
		a.data = nil
	}
	a.releaseLock()
	return firstErr
}
