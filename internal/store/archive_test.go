package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"mmdump/internal/model"
	"mmdump/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	return s
}

func testChannel() model.Channel {
	return model.Channel{
		Id:           "chan-1",
		InternalName: "town-square",
		Type:         model.ChannelOpen,
	}
}

func testPosts(ids ...string) []model.Post {
	posts := make([]model.Post, 0, len(ids))
	for i, id := range ids {
		posts = append(posts, model.Post{
			Id:         model.Id(id),
			UserId:     "user-1",
			CreateTime: model.Time(1000 + i*100),
			Message:    "message " + id,
		})
	}
	return posts
}

func TestCreateEmptyArchive(t *testing.T) {
	s := newTestStore(t)

	header := NewHeader(testChannel(), nil)
	header.Storage.Organization = AscendingContinuous
	a, err := s.Create("o.team--town-square", header)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	got, err := s.ReadHeader("o.team--town-square")
	if err != nil {
		t.Fatalf("ReadHeader() error: %v", err)
	}
	if got.Storage.Count != 0 {
		t.Errorf("Count = %d, want 0", got.Storage.Count)
	}
	if got.Storage.ByteSize != 0 {
		t.Errorf("ByteSize = %d, want 0", got.Storage.ByteSize)
	}
	if got.Storage.Organization != AscendingContinuous {
		t.Errorf("Organization = %q, want %q", got.Storage.Organization, AscendingContinuous)
	}
	if err := s.Verify("o.team--town-square"); err != nil {
		t.Errorf("Verify() error on empty archive: %v", err)
	}
}

func TestAppendKeepsHeaderAndDataInSync(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Create("d.alice--bob", NewHeader(testChannel(), nil))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	posts := testPosts("p1", "p2", "p3")
	header := *a.Header()
	header.Storage.Count = len(posts)
	header.Storage.FirstPostId = posts[0].Id
	header.Storage.LastPostId = posts[2].Id
	if err := a.Append(posts, &header); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	info, err := os.Stat(filepath.Join(s.Dir(), "d.alice--bob.data.json"))
	if err != nil {
		t.Fatalf("stat data file: %v", err)
	}
	got, err := s.ReadHeader("d.alice--bob")
	if err != nil {
		t.Fatalf("ReadHeader() error: %v", err)
	}
	if got.Storage.ByteSize != info.Size() {
		t.Errorf("header ByteSize = %d, data file has %d", got.Storage.ByteSize, info.Size())
	}
	if err := s.Verify("d.alice--bob"); err != nil {
		t.Errorf("Verify() error: %v", err)
	}

	// Posts come back in append order.
	a2, err := s.Open("d.alice--bob")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer a2.Close()
	var ids []model.Id
	err = a2.ReadPosts(func(p model.Post) error {
		ids = append(ids, p.Id)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadPosts() error: %v", err)
	}
	want := []model.Id{"p1", "p2", "p3"}
	if len(ids) != len(want) {
		t.Fatalf("got %d posts, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("post[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestOpenDetectsTruncatedData(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Create("g.group", NewHeader(testChannel(), nil))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	header := *a.Header()
	header.Storage.Count = 3
	if err := a.Append(testPosts("p1", "p2", "p3"), &header); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	a.Close()

	// Simulate a torn write by truncating the data file.
	dataPath := filepath.Join(s.Dir(), "g.group.data.json")
	if err := os.Truncate(dataPath, 10); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	_, err = s.Open("g.group")
	var desync *DesyncError
	if !errors.As(err, &desync) {
		t.Fatalf("Open() error = %v, want *DesyncError", err)
	}
	if desync.Actual != 10 {
		t.Errorf("DesyncError.Actual = %d, want 10", desync.Actual)
	}
	if verr := s.Verify("g.group"); !errors.As(verr, &desync) {
		t.Errorf("Verify() error = %v, want *DesyncError", verr)
	}

	// A desynchronized archive must not be left locked.
	if _, err := os.Stat(filepath.Join(s.Dir(), "g.group.lock")); !os.IsNotExist(err) {
		t.Errorf("lock file present after failed Open")
	}
}

func TestOpenMissingArchive(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Open("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open() error = %v, want ErrNotFound", err)
	}
	if _, err := s.ReadHeader("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadHeader() error = %v, want ErrNotFound", err)
	}
	if err := s.Verify("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Verify() error = %v, want ErrNotFound", err)
	}
}

func TestBackupRenamesPair(t *testing.T) {
	s := newTestStore(t)
	s.SetNowFunc(testutil.FixedClock().Now)

	a, err := s.Create("o.team--general", NewHeader(testChannel(), nil))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	header := *a.Header()
	header.Storage.Count = 1
	if err := a.Append(testPosts("p1"), &header); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	a.Close()

	suffix, err := s.Backup("o.team--general")
	if err != nil {
		t.Fatalf("Backup() error: %v", err)
	}
	if want := ".bak-20260301T103000Z"; suffix != want {
		t.Errorf("Backup() suffix = %q, want %q", suffix, want)
	}

	if s.Exists("o.team--general") {
		t.Error("archive still exists under original name after backup")
	}
	for _, f := range []string{"o.team--general.meta.json" + suffix, "o.team--general.data.json" + suffix} {
		if _, err := os.Stat(filepath.Join(s.Dir(), f)); err != nil {
			t.Errorf("backup file %s missing: %v", f, err)
		}
	}
}

func TestDiscardRemovesPair(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Create("p.team--secret", NewHeader(testChannel(), nil))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	a.Close()

	if err := s.Discard("p.team--secret"); err != nil {
		t.Fatalf("Discard() error: %v", err)
	}
	if s.Exists("p.team--secret") {
		t.Error("archive still exists after Discard")
	}
	// Discarding again is not an error.
	if err := s.Discard("p.team--secret"); err != nil {
		t.Errorf("second Discard() error: %v", err)
	}
}

func TestListExcludesBackups(t *testing.T) {
	s := newTestStore(t)
	s.SetNowFunc(testutil.FixedClock().Now)

	for _, name := range []string{"d.alice--bob", "o.team--general"} {
		a, err := s.Create(name, NewHeader(testChannel(), nil))
		if err != nil {
			t.Fatalf("Create(%q) error: %v", name, err)
		}
		a.Close()
	}
	if _, err := s.Backup("d.alice--bob"); err != nil {
		t.Fatalf("Backup() error: %v", err)
	}

	names, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(names) != 1 || names[0] != "o.team--general" {
		t.Errorf("List() = %v, want [o.team--general]", names)
	}
}

func TestLockEnforcesSingleWriter(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Create("d.alice--bob", NewHeader(testChannel(), nil))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if _, err := s.Open("d.alice--bob"); err == nil {
		t.Error("Open() succeeded while archive is locked by another writer")
	}

	a.Close()
	a2, err := s.Open("d.alice--bob")
	if err != nil {
		t.Fatalf("Open() after Close error: %v", err)
	}
	a2.Close()
}

func TestWriteHeaderPreservesByteSize(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Create("g.trio", NewHeader(testChannel(), nil))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	header := *a.Header()
	header.Storage.Count = 2
	if err := a.Append(testPosts("p1", "p2"), &header); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	byteSize := a.Header().Storage.ByteSize
	if byteSize == 0 {
		t.Fatal("ByteSize is zero after append")
	}

	// Late enrichment rewrites the header; the recorded size must not move.
	enriched := *a.Header()
	enriched.Users = []model.User{{Id: "user-1", Name: "alice"}}
	enriched.Storage.ByteSize = 999999
	if err := a.WriteHeader(&enriched); err != nil {
		t.Fatalf("WriteHeader() error: %v", err)
	}
	a.Close()

	got, err := s.ReadHeader("g.trio")
	if err != nil {
		t.Fatalf("ReadHeader() error: %v", err)
	}
	if got.Storage.ByteSize != byteSize {
		t.Errorf("ByteSize = %d, want %d", got.Storage.ByteSize, byteSize)
	}
	if len(got.Users) != 1 || got.Users[0].Name != "alice" {
		t.Errorf("Users = %v, want the enriched table", got.Users)
	}
	if err := s.Verify("g.trio"); err != nil {
		t.Errorf("Verify() error: %v", err)
	}
}
