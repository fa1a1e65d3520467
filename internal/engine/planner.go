package engine

import (
	"context"
	"errors"
	"time"

	"mmdump/internal/model"
)

// StopReason classifies why a channel's fetch loop ended. Every run ends
// with exactly one of these; they are recorded in the run journal.
type StopReason string

const (
	// StopNoMorePosts means the remote reported the end of the channel.
	StopNoMorePosts StopReason = "NoMorePosts"
	// StopConditionHit means a request bound (post id or time) was reached.
	StopConditionHit StopReason = "ConditionHit"
	// StopSessionLimitHit means this session's post quota ran out.
	StopSessionLimitHit StopReason = "SessionLimitHit"
	// StopTotalLimitHit means the archive reached its total post cap,
	// counting posts stored by earlier runs.
	StopTotalLimitHit StopReason = "TotalLimitHit"
	// StopConnectionTimeout means the remote stayed unreachable through
	// all retries. Batches fetched before the failure are kept.
	StopConnectionTimeout StopReason = "ConnectionTimeout"
	// StopInterrupted means cancellation was observed between batches.
	StopInterrupted StopReason = "Interrupted"
)

// Plan is one channel's fetch assignment.
type Plan struct {
	ChannelId model.Id
	Request   Request
	// Cursor seeds pagination: the id of the last already-stored post
	// for continuations, a request bound post, or empty to start from
	// the channel edge the direction implies.
	Cursor model.Id
	// ExistingCount is how many posts the archive already holds; it
	// counts against MaximumPostCount.
	ExistingCount int
}

// Progress is what one planner run produced.
type Progress struct {
	StopReason StopReason
	// Accepted posts were handed to the consumer; Skipped posts were
	// fetched but fell outside the requested bounds.
	Accepted int
	Skipped  int
	Batches  int
}

// PlannerOptions tune throttling and retry behavior. Zero values mean
// no throttle delay and no retries.
type PlannerOptions struct {
	// BatchSize is the page size hint passed to the fetcher.
	BatchSize int
	// Throttle is slept after every fetched page.
	Throttle time.Duration
	// RetryAttempts is how many extra tries a transient fetch failure
	// gets; RetryBackoff is slept between tries.
	RetryAttempts int
	RetryBackoff  time.Duration
}

const defaultBatchSize = 100

// Planner drives pagination for one channel: it fetches pages, filters
// them against the request bounds, enforces limits and hands accepted
// batches to a consumer. It never touches disk itself.
type Planner struct {
	fetcher Fetcher
	logger  Logger
	opts    PlannerOptions
}

func NewPlanner(fetcher Fetcher, logger Logger, opts PlannerOptions) *Planner {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Planner{fetcher: fetcher, logger: logger, opts: opts}
}

// Run executes the plan, calling emit once per accepted batch. Emit
// errors abort the run immediately. Cancellation is honored between
// batches only, so a batch handed to emit is never partially consumed.
func (p *Planner) Run(ctx context.Context, plan Plan, emit func(Batch) error) (Progress, error) {
	var prog Progress
	req := plan.Request
	dir := req.Direction()

	totalRemaining := Unlimited
	if req.MaximumPostCount != Unlimited {
		totalRemaining = req.MaximumPostCount - plan.ExistingCount
		if totalRemaining <= 0 {
			prog.StopReason = StopTotalLimitHit
			return prog, nil
		}
	}
	sessionRemaining := req.SessionPostLimit

	cursor := plan.Cursor
	var pending *Batch
	if dir == TowardNewer && cursor == "" && !p.fetcher.Capabilities().SupportsReverseCursor {
		// The remote cannot start at the channel's oldest post, so walk
		// into history first and keep the final page as the first batch.
		b, err := p.walkToOldest(ctx, plan.ChannelId)
		if err != nil {
			return prog, p.classify(&prog, err)
		}
		pending = &b
	}

	for {
		if err := ctx.Err(); err != nil {
			prog.StopReason = StopInterrupted
			return prog, nil
		}

		var batch Batch
		if pending != nil {
			batch, pending = *pending, nil
		} else {
			var err error
			batch, err = p.fetchPage(ctx, plan.ChannelId, cursor, dir)
			if err != nil {
				return prog, p.classify(&prog, err)
			}
		}
		prog.Batches++
		if n := len(batch.Posts); n > 0 {
			cursor = batch.Posts[n-1].Id
		}

		out, stop := p.filter(batch, req, dir, &prog, totalRemaining, sessionRemaining)
		if totalRemaining != Unlimited {
			totalRemaining -= len(out.Posts)
		}
		if sessionRemaining != Unlimited {
			sessionRemaining -= len(out.Posts)
		}
		if len(out.Posts) > 0 {
			if err := emit(out); err != nil {
				return prog, err
			}
		}
		if stop != "" {
			prog.StopReason = stop
			return prog, nil
		}
		if !batch.More {
			prog.StopReason = StopNoMorePosts
			return prog, nil
		}
		if err := p.wait(ctx, p.opts.Throttle); err != nil {
			prog.StopReason = StopInterrupted
			return prog, nil
		}
	}
}

// filter applies the request bounds to one fetched page and trims to the
// remaining quotas. It returns the accepted slice of the batch with its
// neighbor hints adjusted to the accepted span, plus a stop reason if a
// bound or limit was hit inside this page.
func (p *Planner) filter(batch Batch, req Request, dir Direction, prog *Progress, totalRemaining, sessionRemaining int) (Batch, StopReason) {
	out := batch
	out.Posts = nil
	var stop StopReason
	firstIdx, lastIdx := -1, -1

	for i, post := range batch.Posts {
		if dir == TowardNewer {
			if !req.AfterTime.IsZero() && !post.CreateTime.After(req.AfterTime) {
				prog.Skipped++
				continue
			}
			if req.BeforePost != "" && post.Id == req.BeforePost {
				stop = StopConditionHit
				break
			}
			if !req.BeforeTime.IsZero() && !post.CreateTime.Before(req.BeforeTime) {
				stop = StopConditionHit
				break
			}
		} else {
			if !req.BeforeTime.IsZero() && !post.CreateTime.Before(req.BeforeTime) {
				prog.Skipped++
				continue
			}
			if req.AfterPost != "" && post.Id == req.AfterPost {
				stop = StopConditionHit
				break
			}
			if !req.AfterTime.IsZero() && !post.CreateTime.After(req.AfterTime) {
				stop = StopConditionHit
				break
			}
		}

		out.Posts = append(out.Posts, post)
		prog.Accepted++
		if firstIdx < 0 {
			firstIdx = i
		}
		lastIdx = i

		if totalRemaining != Unlimited && len(out.Posts) >= totalRemaining {
			stop = StopTotalLimitHit
			break
		}
		if sessionRemaining != Unlimited && len(out.Posts) >= sessionRemaining {
			stop = StopSessionLimitHit
			break
		}
	}

	if firstIdx >= 0 {
		// Tighten the neighbor hints to the accepted span. Posts are in
		// fetch direction order: index 0 is the span's oldest when
		// walking toward newer, its newest otherwise.
		older, newer := batch.OlderNeighbor, batch.NewerNeighbor
		if dir == TowardNewer {
			if firstIdx > 0 {
				older = batch.Posts[firstIdx-1].Id
			}
			if lastIdx < len(batch.Posts)-1 {
				newer = batch.Posts[lastIdx+1].Id
			}
		} else {
			if firstIdx > 0 {
				newer = batch.Posts[firstIdx-1].Id
			}
			if lastIdx < len(batch.Posts)-1 {
				older = batch.Posts[lastIdx+1].Id
			}
		}
		out.OlderNeighbor, out.NewerNeighbor = older, newer
	}
	return out, stop
}

// walkToOldest pages into history discarding content until the remote
// reports the channel start, then returns the final page reordered
// oldest first. Its More flag reports whether newer pages exist beyond it.
func (p *Planner) walkToOldest(ctx context.Context, channelID model.Id) (Batch, error) {
	var cursor model.Id
	var last Batch
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		b, err := p.fetchPage(ctx, channelID, cursor, TowardOlder)
		if err != nil {
			return Batch{}, err
		}
		if len(b.Posts) > 0 {
			last = b
			cursor = b.Posts[len(b.Posts)-1].Id
			pages++
		}
		if !b.More || len(b.Posts) == 0 {
			break
		}
		if err := p.wait(ctx, p.opts.Throttle); err != nil {
			return Batch{}, err
		}
	}
	p.logger.Debug("walked to channel start", "channel", channelID, "pages", pages)

	// Reverse into ascending order in place.
	for i, j := 0, len(last.Posts)-1; i < j; i, j = i+1, j-1 {
		last.Posts[i], last.Posts[j] = last.Posts[j], last.Posts[i]
	}
	last.More = pages > 1
	return last, nil
}

func (p *Planner) fetchPage(ctx context.Context, channelID model.Id, cursor model.Id, dir Direction) (Batch, error) {
	var lastErr error
	for attempt := 0; attempt <= p.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			p.logger.Warn("retrying page fetch", "channel", channelID, "attempt", attempt, "error", lastErr)
			if err := p.wait(ctx, p.opts.RetryBackoff); err != nil {
				return Batch{}, err
			}
		}
		b, err := p.fetcher.FetchPage(ctx, channelID, cursor, dir, p.opts.BatchSize)
		if err == nil {
			return b, nil
		}
		if !IsTransient(err) {
			return Batch{}, err
		}
		lastErr = err
	}
	return Batch{}, lastErr
}

// classify maps a fetch loop error onto the run's stop reason. The error
// is still returned for anything other than plain cancellation.
func (p *Planner) classify(prog *Progress, err error) error {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		prog.StopReason = StopInterrupted
		return nil
	case IsTransient(err):
		prog.StopReason = StopConnectionTimeout
		return err
	}
	return err
}

func (p *Planner) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
