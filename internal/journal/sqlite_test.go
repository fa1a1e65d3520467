package journal

import (
	"context"
	"testing"
	"time"

	"mmdump/internal/testutil"
)

func newTestJournal(t *testing.T) Journal {
	t.Helper()
	j, err := NewJournalFromConfig("memory", "")
	if err != nil {
		t.Fatalf("NewJournalFromConfig() error: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRoundTrip(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	started := testutil.FixedClock().Now()

	run := Run{Id: "run-1", ServerURL: "https://chat.example.com", StartedAt: started, Status: StatusRunning}
	if err := j.BeginRun(ctx, run); err != nil {
		t.Fatalf("BeginRun() error: %v", err)
	}

	recs := []ChannelRecord{
		{RunId: "run-1", ArchiveName: "o.team--general", ChannelId: "c1",
			Action: "fresh", StopReason: "NoMorePosts", Written: 12, PostCount: 12},
		{RunId: "run-1", ArchiveName: "d.alice--bob", ChannelId: "c2",
			Action: "skip", Reason: "no new posts since last run", PostCount: 40},
		{RunId: "run-1", ArchiveName: "o.team--random", ChannelId: "c3",
			Action: "append", StopReason: "ConnectionTimeout", Written: 3, PostCount: 8,
			Error: "channels/c3/posts: server returned 503"},
	}
	for _, rec := range recs {
		if err := j.RecordChannel(ctx, rec); err != nil {
			t.Fatalf("RecordChannel(%s) error: %v", rec.ArchiveName, err)
		}
	}

	finished := started.Add(2 * time.Minute)
	if err := j.FinishRun(ctx, "run-1", StatusCompleted, finished); err != nil {
		t.Fatalf("FinishRun() error: %v", err)
	}

	runs, err := j.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs() error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Runs() returned %d runs, want 1", len(runs))
	}
	got := runs[0]
	if got.Id != "run-1" || got.Status != StatusCompleted {
		t.Errorf("run = %+v", got)
	}
	if !got.StartedAt.Equal(started) || !got.FinishedAt.Equal(finished) {
		t.Errorf("times = %v/%v, want %v/%v", got.StartedAt, got.FinishedAt, started, finished)
	}

	channels, err := j.Channels(ctx, "run-1")
	if err != nil {
		t.Fatalf("Channels() error: %v", err)
	}
	if len(channels) != 3 {
		t.Fatalf("Channels() returned %d records, want 3", len(channels))
	}
	// Insertion order is preserved.
	for i, rec := range recs {
		if channels[i] != rec {
			t.Errorf("channel[%d] = %+v, want %+v", i, channels[i], rec)
		}
	}
}

func TestJournalRunsNewestFirst(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	clock := testutil.FixedClock()
	idgen := testutil.NewStubIDGenerator()

	for i := 0; i < 3; i++ {
		run := Run{Id: idgen.New(), ServerURL: "https://chat.example.com", StartedAt: clock.Now()}
		clock.Advance(time.Hour)
		if err := j.BeginRun(ctx, run); err != nil {
			t.Fatalf("BeginRun(%s) error: %v", run.Id, err)
		}
	}

	runs, err := j.Runs(ctx, 2)
	if err != nil {
		t.Fatalf("Runs() error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Runs(2) returned %d runs", len(runs))
	}
	if runs[0].Id != "id-3" || runs[1].Id != "id-2" {
		t.Errorf("order = %s, %s, want id-3, id-2", runs[0].Id, runs[1].Id)
	}
	// Unfinished runs report a zero finish time.
	if !runs[0].FinishedAt.IsZero() {
		t.Errorf("FinishedAt = %v, want zero while running", runs[0].FinishedAt)
	}
	if runs[0].Status != StatusRunning {
		t.Errorf("Status = %q, want %q", runs[0].Status, StatusRunning)
	}
}

func TestJournalChannelsOfUnknownRun(t *testing.T) {
	j := newTestJournal(t)
	channels, err := j.Channels(context.Background(), "no-such-run")
	if err != nil {
		t.Fatalf("Channels() error: %v", err)
	}
	if len(channels) != 0 {
		t.Errorf("Channels() = %v, want none", channels)
	}
}

func TestNewJournalFromConfig(t *testing.T) {
	if _, err := NewJournalFromConfig("sqlite", ""); err == nil {
		t.Error("sqlite journal accepted an empty data dir")
	}
	if _, err := NewJournalFromConfig("bogus", ""); err == nil {
		t.Error("unknown journal type accepted")
	}
	j, err := NewJournalFromConfig("none", "")
	if err != nil {
		t.Fatalf("NewJournalFromConfig(none) error: %v", err)
	}
	if _, ok := j.(Nop); !ok {
		t.Errorf("journal type = %T, want Nop", j)
	}

	dir := t.TempDir()
	j, err = NewJournalFromConfig("sqlite", dir)
	if err != nil {
		t.Fatalf("NewJournalFromConfig(sqlite) error: %v", err)
	}
	defer j.Close()
	if err := j.BeginRun(context.Background(), Run{Id: "r", StartedAt: time.Now()}); err != nil {
		t.Errorf("BeginRun() on file-backed journal error: %v", err)
	}
}
