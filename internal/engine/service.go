package engine

import (
	"context"
	"errors"
	"fmt"

	"mmdump/internal/model"
	"mmdump/internal/store"
)

// ChannelRun is one channel's sync assignment: fresh channel metadata
// from the remote plus the fully resolved request.
type ChannelRun struct {
	// Name is the archive's base name within the store.
	Name    string
	Channel model.Channel
	// Team is nil for direct and group channels.
	Team    *model.Team
	Request Request
}

// Summary reports what one channel sync did. It feeds the run journal
// and the post-processing stages (attachment and avatar downloads).
type Summary struct {
	Name      string
	ChannelId model.Id

	Action Action
	// Reason explains skips and rebuilds in human terms.
	Reason     string
	StopReason StopReason

	Written int
	Skipped int
	Storage store.StorageInfo

	// Users and Emojis are the archive's final header tables.
	Users  []model.User
	Emojis []model.Emoji
	// Attachments passed the request's filters and await download.
	Attachments []model.Attachment

	// BackupSuffix is set when the previous archive was moved aside.
	BackupSuffix string
	// Err carries a fetch failure that ended the channel early without
	// invalidating what was stored before it.
	Err error
}

// Engine ties the resolver, planner and merger together and owns the
// per-channel sync lifecycle against one archive store.
type Engine struct {
	store    *store.Store
	fetcher  Fetcher
	users    UserResolver
	resolver *Resolver
	planner  *Planner
	logger   Logger
}

func New(st *store.Store, fetcher Fetcher, users UserResolver, logger Logger, opts PlannerOptions) *Engine {
	return &Engine{
		store:    st,
		fetcher:  fetcher,
		users:    users,
		resolver: NewResolver(fetcher, logger),
		planner:  NewPlanner(fetcher, logger, opts),
		logger:   logger,
	}
}

// SyncChannel brings one channel's archive up to date with its request.
// Channels are independent: an error here never affects other channels,
// and transport failures mid-run keep everything persisted so far.
func (e *Engine) SyncChannel(ctx context.Context, run ChannelRun) (*Summary, error) {
	summary := &Summary{Name: run.Name, ChannelId: run.Channel.Id}

	if run.Request.WantsNothing() {
		summary.Action = ActionSkip
		summary.Reason = "request asks for zero posts"
		return summary, nil
	}

	decision, err := e.decide(ctx, run)
	if err != nil {
		return nil, err
	}
	summary.Action = decision.Action
	summary.Reason = decision.Reason

	if decision.Action == ActionSkip {
		e.logger.Info("skipping channel", "channel", run.Channel.Id, "reason", decision.Reason)
		if h, err := e.store.ReadHeader(run.Name); err == nil {
			summary.Storage = h.Storage
		}
		return summary, nil
	}

	archive, existingCount, err := e.openArchive(run, decision, summary)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	// Channel and team metadata are refreshed opportunistically on every
	// run; the stored posts are untouched by this.
	archive.Header().Channel = run.Channel
	archive.Header().Team = run.Team

	merger := NewMerger(archive, decision.Request, e.users, e.logger, decision.Action == ActionAppend)
	plan := Plan{
		ChannelId:     run.Channel.Id,
		Request:       decision.Request,
		Cursor:        e.seedCursor(decision.Request),
		ExistingCount: existingCount,
	}

	prog, err := e.planner.Run(ctx, plan, func(b Batch) error {
		return merger.Consume(ctx, b)
	})
	if err != nil {
		if prog.StopReason != StopConnectionTimeout {
			return nil, fmt.Errorf("syncing channel %s: %w", run.Channel.Id, err)
		}
		// The remote went away; what was appended stays valid.
		e.logger.Error("channel fetch gave up after retries", "channel", run.Channel.Id, "error", err)
		summary.Err = err
	}

	if err := archive.WriteHeader(archive.Header()); err != nil {
		return nil, fmt.Errorf("finalizing archive %q: %w", run.Name, err)
	}

	summary.StopReason = prog.StopReason
	summary.Written = merger.Written()
	summary.Skipped = prog.Skipped
	summary.Storage = archive.Header().Storage
	summary.Users = archive.Header().Users
	summary.Emojis = archive.Header().Emojis
	summary.Attachments = merger.Attachments()

	e.logger.Info("channel synced",
		"channel", run.Channel.Id,
		"action", summary.Action,
		"written", summary.Written,
		"skipped", summary.Skipped,
		"stopReason", summary.StopReason)
	return summary, nil
}

// decide loads the existing archive state and runs the compatibility
// rules. Unreadable or desynchronized archives never block the run:
// they degrade to the configured incompatible-archive policy.
func (e *Engine) decide(ctx context.Context, run ChannelRun) (Decision, error) {
	existing, err := e.store.ReadHeader(run.Name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return Decision{Action: ActionFresh, Request: run.Request}, nil
	case err != nil:
		e.logger.Warn("archive header unreadable, treating as incompatible", "archive", run.Name, "error", err)
		return incompatibleDecision(run.Request, "archive header unreadable"), nil
	}

	if verr := e.store.Verify(run.Name); verr != nil {
		var desync *store.DesyncError
		if errors.As(verr, &desync) {
			e.logger.Warn("archive desynchronized, treating as incompatible",
				"archive", run.Name, "expectedBytes", desync.Expected, "actualBytes", desync.Actual)
			return incompatibleDecision(run.Request, verr.Error()), nil
		}
		return Decision{}, verr
	}

	return e.resolver.Resolve(ctx, existing, run.Request, run.Channel.LastMessageTime)
}

// openArchive performs the cleanup step a fresh decision calls for and
// opens (or creates) the archive for writing.
func (e *Engine) openArchive(run ChannelRun, decision Decision, summary *Summary) (*store.Archive, int, error) {
	if decision.Action == ActionAppend {
		archive, err := e.store.Open(run.Name)
		if err != nil {
			return nil, 0, fmt.Errorf("opening archive %q: %w", run.Name, err)
		}
		return archive, archive.Header().Storage.Count, nil
	}

	switch decision.Cleanup {
	case CleanupBackup:
		if e.store.Exists(run.Name) {
			suffix, err := e.store.Backup(run.Name)
			if err != nil {
				return nil, 0, fmt.Errorf("backing up archive %q: %w", run.Name, err)
			}
			summary.BackupSuffix = suffix
			e.logger.Info("backed up incompatible archive", "archive", run.Name, "suffix", suffix)
		}
	case CleanupDelete:
		if err := e.store.Discard(run.Name); err != nil {
			return nil, 0, fmt.Errorf("discarding archive %q: %w", run.Name, err)
		}
		e.logger.Info("discarded incompatible archive", "archive", run.Name)
	}

	header := store.NewHeader(run.Channel, run.Team)
	header.Storage.Organization = decision.Request.Organization()
	archive, err := e.store.Create(run.Name, header)
	if err != nil {
		return nil, 0, fmt.Errorf("creating archive %q: %w", run.Name, err)
	}
	return archive, 0, nil
}

// seedCursor picks where pagination starts: the request bound on the
// fetch-start side, which for continuations the resolver has already
// moved to the archive's stored edge.
func (e *Engine) seedCursor(req Request) model.Id {
	if req.DownloadFromOldest {
		return req.AfterPost
	}
	return req.BeforePost
}
