package engine

import (
	"context"
	"errors"
	"testing"

	"mmdump/internal/model"
)

func ascendingRequest() Request {
	return Request{
		MaximumPostCount:       Unlimited,
		SessionPostLimit:       Unlimited,
		DownloadFromOldest:     true,
		OnExistingCompatible:   ExistingUpdate,
		OnExistingIncompatible: ExistingBackup,
	}
}

func descendingRequest() Request {
	req := ascendingRequest()
	req.DownloadFromOldest = false
	return req
}

func collectBatches(t *testing.T, p *Planner, plan Plan) ([]Batch, Progress) {
	t.Helper()
	var batches []Batch
	prog, err := p.Run(context.Background(), plan, func(b Batch) error {
		batches = append(batches, b)
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	return batches, prog
}

func flattenIds(batches []Batch) []model.Id {
	var ids []model.Id
	for _, b := range batches {
		for _, p := range b.Posts {
			ids = append(ids, p.Id)
		}
	}
	return ids
}

func TestPlannerAscendingWalksToChannelStart(t *testing.T) {
	f := &fakeFetcher{posts: ascPosts(25)}
	p := NewPlanner(f, NewNopLogger(), PlannerOptions{BatchSize: 10})

	batches, prog := collectBatches(t, p, Plan{ChannelId: "c", Request: ascendingRequest()})

	if prog.StopReason != StopNoMorePosts {
		t.Errorf("StopReason = %q, want %q", prog.StopReason, StopNoMorePosts)
	}
	if prog.Accepted != 25 {
		t.Errorf("Accepted = %d, want 25", prog.Accepted)
	}
	ids := flattenIds(batches)
	if len(ids) != 25 {
		t.Fatalf("emitted %d posts, want 25", len(ids))
	}
	// Oldest first, no duplicates, no gaps.
	for i, id := range ids {
		want := ascPosts(25)[i].Id
		if id != want {
			t.Fatalf("post[%d] = %s, want %s", i, id, want)
		}
	}
	// The walk keeps only the final page, so the first emitted batch is
	// the channel's oldest posts.
	if batches[0].Posts[0].Id != "p01" {
		t.Errorf("first batch starts at %s, want p01", batches[0].Posts[0].Id)
	}
}

func TestPlannerDescendingStartsAtNewest(t *testing.T) {
	f := &fakeFetcher{posts: ascPosts(25)}
	p := NewPlanner(f, NewNopLogger(), PlannerOptions{BatchSize: 10})

	batches, prog := collectBatches(t, p, Plan{ChannelId: "c", Request: descendingRequest()})

	if prog.StopReason != StopNoMorePosts {
		t.Errorf("StopReason = %q, want %q", prog.StopReason, StopNoMorePosts)
	}
	ids := flattenIds(batches)
	if len(ids) != 25 {
		t.Fatalf("emitted %d posts, want 25", len(ids))
	}
	if ids[0] != "p25" || ids[24] != "p01" {
		t.Errorf("order = %s..%s, want p25..p01", ids[0], ids[24])
	}
	// No walk needed when fetching into history.
	if f.pages != 3 {
		t.Errorf("fetched %d pages, want 3", f.pages)
	}
}

func TestPlannerEmptyChannel(t *testing.T) {
	f := &fakeFetcher{}
	p := NewPlanner(f, NewNopLogger(), PlannerOptions{BatchSize: 10})

	batches, prog := collectBatches(t, p, Plan{ChannelId: "c", Request: ascendingRequest()})

	if prog.StopReason != StopNoMorePosts {
		t.Errorf("StopReason = %q, want %q", prog.StopReason, StopNoMorePosts)
	}
	if prog.Accepted != 0 || len(batches) != 0 {
		t.Errorf("Accepted = %d, batches = %d, want none", prog.Accepted, len(batches))
	}
}

func TestPlannerTotalLimit(t *testing.T) {
	f := &fakeFetcher{posts: ascPosts(25)}
	p := NewPlanner(f, NewNopLogger(), PlannerOptions{BatchSize: 10})

	req := ascendingRequest()
	req.MaximumPostCount = 7
	batches, prog := collectBatches(t, p, Plan{ChannelId: "c", Request: req})

	if prog.StopReason != StopTotalLimitHit {
		t.Errorf("StopReason = %q, want %q", prog.StopReason, StopTotalLimitHit)
	}
	ids := flattenIds(batches)
	if len(ids) != 7 {
		t.Fatalf("emitted %d posts, want 7", len(ids))
	}
	if ids[6] != "p07" {
		t.Errorf("last post = %s, want p07", ids[6])
	}
}

func TestPlannerTotalLimitCountsExistingPosts(t *testing.T) {
	f := &fakeFetcher{posts: ascPosts(25)}
	p := NewPlanner(f, NewNopLogger(), PlannerOptions{BatchSize: 10})

	req := ascendingRequest()
	req.MaximumPostCount = 10
	batches, prog := collectBatches(t, p, Plan{ChannelId: "c", Request: req, ExistingCount: 10})

	if prog.StopReason != StopTotalLimitHit {
		t.Errorf("StopReason = %q, want %q", prog.StopReason, StopTotalLimitHit)
	}
	if len(batches) != 0 {
		t.Errorf("emitted %d batches, want 0", len(batches))
	}
	if f.pages != 0 {
		t.Errorf("fetched %d pages, want 0", f.pages)
	}
}

func TestPlannerSessionLimit(t *testing.T) {
	f := &fakeFetcher{posts: ascPosts(25)}
	p := NewPlanner(f, NewNopLogger(), PlannerOptions{BatchSize: 10})

	req := ascendingRequest()
	req.SessionPostLimit = 12
	batches, prog := collectBatches(t, p, Plan{ChannelId: "c", Request: req})

	if prog.StopReason != StopSessionLimitHit {
		t.Errorf("StopReason = %q, want %q", prog.StopReason, StopSessionLimitHit)
	}
	if got := len(flattenIds(batches)); got != 12 {
		t.Errorf("emitted %d posts, want 12", got)
	}
}

func TestPlannerUpperBoundStopsAscendingFetch(t *testing.T) {
	f := &fakeFetcher{posts: ascPosts(25)}
	p := NewPlanner(f, NewNopLogger(), PlannerOptions{BatchSize: 10})

	req := ascendingRequest()
	req.BeforeTime = 9000 // post p09's create time
	batches, prog := collectBatches(t, p, Plan{ChannelId: "c", Request: req})

	if prog.StopReason != StopConditionHit {
		t.Errorf("StopReason = %q, want %q", prog.StopReason, StopConditionHit)
	}
	ids := flattenIds(batches)
	if len(ids) != 8 || ids[len(ids)-1] != "p08" {
		t.Errorf("emitted %v, want p01..p08", ids)
	}
}

func TestPlannerLowerBoundSkipsOlderPosts(t *testing.T) {
	f := &fakeFetcher{posts: ascPosts(25)}
	p := NewPlanner(f, NewNopLogger(), PlannerOptions{BatchSize: 10})

	req := ascendingRequest()
	req.AfterTime = 3000 // posts at or before this are outside the range
	batches, prog := collectBatches(t, p, Plan{ChannelId: "c", Request: req})

	if prog.StopReason != StopNoMorePosts {
		t.Errorf("StopReason = %q, want %q", prog.StopReason, StopNoMorePosts)
	}
	if prog.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3", prog.Skipped)
	}
	ids := flattenIds(batches)
	if len(ids) != 22 || ids[0] != "p04" {
		t.Errorf("emitted %d posts starting at %s, want 22 starting at p04", len(ids), ids[0])
	}
	// The neighbor hint tightens to the accepted span.
	if batches[0].OlderNeighbor != "p03" {
		t.Errorf("OlderNeighbor = %s, want p03", batches[0].OlderNeighbor)
	}
}

func TestPlannerStopAtBoundPost(t *testing.T) {
	f := &fakeFetcher{posts: ascPosts(25)}
	p := NewPlanner(f, NewNopLogger(), PlannerOptions{BatchSize: 10})

	req := ascendingRequest()
	req.BeforePost = "p12"
	batches, prog := collectBatches(t, p, Plan{ChannelId: "c", Request: req})

	if prog.StopReason != StopConditionHit {
		t.Errorf("StopReason = %q, want %q", prog.StopReason, StopConditionHit)
	}
	ids := flattenIds(batches)
	if len(ids) != 11 || ids[len(ids)-1] != "p11" {
		t.Errorf("emitted %d posts ending at %v, want 11 ending at p11", len(ids), ids[len(ids)-1])
	}
}

func TestPlannerRetriesTransientFailures(t *testing.T) {
	f := &fakeFetcher{posts: ascPosts(5), failures: 2}
	p := NewPlanner(f, NewNopLogger(), PlannerOptions{BatchSize: 10, RetryAttempts: 3})

	_, prog := collectBatches(t, p, Plan{ChannelId: "c", Request: descendingRequest()})

	if prog.StopReason != StopNoMorePosts {
		t.Errorf("StopReason = %q, want %q", prog.StopReason, StopNoMorePosts)
	}
	if prog.Accepted != 5 {
		t.Errorf("Accepted = %d, want 5", prog.Accepted)
	}
}

func TestPlannerGivesUpAfterRetriesExhausted(t *testing.T) {
	f := &fakeFetcher{posts: ascPosts(5), failures: 10}
	p := NewPlanner(f, NewNopLogger(), PlannerOptions{BatchSize: 10, RetryAttempts: 1})

	prog, err := p.Run(context.Background(), Plan{ChannelId: "c", Request: descendingRequest()}, func(Batch) error {
		t.Fatal("emit called despite fetch failure")
		return nil
	})
	if err == nil {
		t.Fatal("Run() returned nil error, want transport failure")
	}
	if prog.StopReason != StopConnectionTimeout {
		t.Errorf("StopReason = %q, want %q", prog.StopReason, StopConnectionTimeout)
	}
}

func TestPlannerInterrupted(t *testing.T) {
	f := &fakeFetcher{posts: ascPosts(5)}
	p := NewPlanner(f, NewNopLogger(), PlannerOptions{BatchSize: 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	prog, err := p.Run(ctx, Plan{ChannelId: "c", Request: descendingRequest()}, func(Batch) error {
		t.Fatal("emit called after cancellation")
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for plain cancellation", err)
	}
	if prog.StopReason != StopInterrupted {
		t.Errorf("StopReason = %q, want %q", prog.StopReason, StopInterrupted)
	}
}

func TestPlannerEmitErrorAborts(t *testing.T) {
	f := &fakeFetcher{posts: ascPosts(5)}
	p := NewPlanner(f, NewNopLogger(), PlannerOptions{BatchSize: 10})

	boom := errors.New("disk full")
	_, err := p.Run(context.Background(), Plan{ChannelId: "c", Request: descendingRequest()}, func(Batch) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Run() error = %v, want %v", err, boom)
	}
}
