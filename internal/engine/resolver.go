package engine

import (
	"context"
	"fmt"

	"mmdump/internal/model"
	"mmdump/internal/store"
)

// Action is what the resolver decided to do with a channel.
type Action string

const (
	// ActionSkip fetches nothing; the archive (if any) stays as is.
	ActionSkip Action = "skip"
	// ActionAppend continues an existing archive from its edge.
	ActionAppend Action = "append"
	// ActionFresh starts a new archive, after the cleanup step if the
	// old one is in the way.
	ActionFresh Action = "fresh"
)

// Cleanup is what happens to the old archive before a fresh start.
type Cleanup string

const (
	CleanupNone   Cleanup = ""
	CleanupBackup Cleanup = "backup"
	CleanupDelete Cleanup = "delete"
)

// Decision is the resolver's verdict for one channel run.
type Decision struct {
	Action  Action
	Cleanup Cleanup
	// Reason is a human-readable explanation for logs and run summaries.
	Reason string
	// Request is the request to execute. For ActionAppend it has been
	// reduced so the fetch continues from the archive's stored edge
	// instead of refetching covered posts.
	Request Request
}

// Resolver decides whether an existing archive can absorb a new request
// by appending, must be skipped, or must be rebuilt. It only ever reads
// single posts from the remote, to resolve bounds given as post ids.
type Resolver struct {
	fetcher Fetcher
	logger  Logger
}

func NewResolver(fetcher Fetcher, logger Logger) *Resolver {
	return &Resolver{fetcher: fetcher, logger: logger}
}

// Resolve applies the compatibility rules. existing is nil when no
// archive is on disk. lastMessageTime is the channel's most recent
// activity as reported by the remote, zero if unknown.
func (r *Resolver) Resolve(ctx context.Context, existing *store.Header, req Request, lastMessageTime model.Time) (Decision, error) {
	if req.WantsNothing() {
		return Decision{Action: ActionSkip, Reason: "request asks for zero posts", Request: req}, nil
	}
	if existing == nil || existing.Storage.Count == 0 {
		return Decision{Action: ActionFresh, Request: req}, nil
	}

	org := existing.Storage.Organization
	if !org.Continuous() {
		return r.incompatible(req, fmt.Sprintf("archive organization %q cannot be extended", org)), nil
	}
	if org.IsAscending() != req.DownloadFromOldest {
		return r.incompatible(req, fmt.Sprintf("archive organization %q conflicts with requested direction", org)), nil
	}

	if req.DownloadFromOldest {
		return r.reduceAscending(ctx, existing, req, lastMessageTime)
	}
	return r.reduceDescending(ctx, existing, req)
}

// reduceAscending handles archives sorted oldest to newest: BeginTime is
// the oldest covered moment, EndTime the newest, and appends grow the
// newer end.
func (r *Resolver) reduceAscending(ctx context.Context, existing *store.Header, req Request, lastMessageTime model.Time) (Decision, error) {
	st := existing.Storage
	adjusted := req

	// Lower bound: must fall at or inside the covered range, or before a
	// range that already reaches the channel start.
	switch {
	case req.AfterPost == st.LastPostId && req.AfterPost != "":
		// Continue exactly from the stored edge.
	case req.AfterPost == st.FirstPostId && req.AfterPost != "":
		// Bound at the covered range's start; everything up to the edge
		// is already stored.
	case req.AfterPost != "":
		t, err := r.boundTime(ctx, req.AfterPost)
		if err != nil {
			return Decision{}, err
		}
		if d, ok := r.checkLowerBound(req, st, t); !ok {
			return d, nil
		}
	case !req.AfterTime.IsZero():
		if d, ok := r.checkLowerBound(req, st, req.AfterTime); !ok {
			return d, nil
		}
	default:
		// Unbounded from the channel start: only valid if the archive
		// actually reaches it.
		if st.PostIdBeforeFirst != "" {
			return r.incompatible(req, "archive does not reach the channel start"), nil
		}
	}
	adjusted.AfterPost = st.LastPostId
	adjusted.AfterTime = st.EndTime

	// Upper bound: anything at or inside the covered range is already
	// satisfied; only a bound past the newer edge means new work.
	beforeTime := req.BeforeTime
	if req.BeforePost != "" {
		if req.BeforePost == st.FirstPostId || req.BeforePost == st.LastPostId {
			return Decision{Action: ActionSkip, Reason: "requested range already archived", Request: req}, nil
		}
		t, err := r.boundTime(ctx, req.BeforePost)
		if err != nil {
			return Decision{}, err
		}
		beforeTime = t
		adjusted.BeforeTime = t
	}
	if !beforeTime.IsZero() {
		switch {
		case !beforeTime.After(st.BeginTime):
			if st.PostIdBeforeFirst == "" {
				return Decision{Action: ActionSkip, Reason: "requested range already archived", Request: req}, nil
			}
			return r.incompatible(req, "requested range ends before the archived range begins"), nil
		case !beforeTime.After(st.EndTime):
			return Decision{Action: ActionSkip, Reason: "requested range already archived", Request: req}, nil
		}
	} else if !lastMessageTime.IsZero() && !lastMessageTime.After(st.EndTime) {
		return Decision{Action: ActionSkip, Reason: "no new posts since last run", Request: req}, nil
	}

	return Decision{Action: ActionAppend, Request: adjusted}, nil
}

// checkLowerBound validates an ascending lower bound time against the
// covered range. Returns ok=false with the terminal decision when the
// bound makes appending impossible.
func (r *Resolver) checkLowerBound(req Request, st store.StorageInfo, t model.Time) (Decision, bool) {
	switch {
	case t.After(st.EndTime):
		return r.incompatible(req, "requested range begins after the archived range ends"), false
	case t.Before(st.BeginTime) && st.PostIdBeforeFirst != "":
		return r.incompatible(req, "requested range begins before the archived range"), false
	}
	return Decision{}, true
}

// reduceDescending handles archives sorted newest to oldest: BeginTime
// is the newest covered moment, EndTime the oldest, and appends grow
// toward the channel start. Posts newer than BeginTime can never be
// added to such an archive.
func (r *Resolver) reduceDescending(ctx context.Context, existing *store.Header, req Request) (Decision, error) {
	st := existing.Storage
	adjusted := req

	// Upper bound (the starting edge when walking into history).
	switch {
	case req.BeforePost == st.LastPostId && req.BeforePost != "":
	case req.BeforePost == st.FirstPostId && req.BeforePost != "":
	case req.BeforePost != "":
		t, err := r.boundTime(ctx, req.BeforePost)
		if err != nil {
			return Decision{}, err
		}
		if d, ok := r.checkUpperBound(req, st, t); !ok {
			return d, nil
		}
	case !req.BeforeTime.IsZero():
		if d, ok := r.checkUpperBound(req, st, req.BeforeTime); !ok {
			return d, nil
		}
	default:
		// Unbounded from the present: posts that arrived after the
		// archive's newest edge cannot be inserted, so the walk resumes
		// at the stored edge and they stay outside the covered range.
		r.logger.Debug("descending archive cannot pick up posts newer than its first entry",
			"channel", existing.Channel.Id, "newestCovered", st.BeginTime)
	}
	adjusted.BeforePost = st.LastPostId
	adjusted.BeforeTime = st.EndTime

	// Lower bound: anything at or inside the covered range is satisfied.
	afterTime := req.AfterTime
	if req.AfterPost != "" {
		if req.AfterPost == st.FirstPostId || req.AfterPost == st.LastPostId {
			return Decision{Action: ActionSkip, Reason: "requested range already archived", Request: req}, nil
		}
		t, err := r.boundTime(ctx, req.AfterPost)
		if err != nil {
			return Decision{}, err
		}
		afterTime = t
		adjusted.AfterTime = t
	}
	if !afterTime.IsZero() {
		switch {
		case !afterTime.Before(st.BeginTime):
			if st.PostIdBeforeFirst == "" {
				return Decision{Action: ActionSkip, Reason: "requested range already archived", Request: req}, nil
			}
			return r.incompatible(req, "requested range begins after the archived range begins"), nil
		case !afterTime.Before(st.EndTime):
			return Decision{Action: ActionSkip, Reason: "requested range already archived", Request: req}, nil
		}
	} else if st.PostIdAfterLast == "" {
		return Decision{Action: ActionSkip, Reason: "archive already reaches the channel start", Request: req}, nil
	}

	return Decision{Action: ActionAppend, Request: adjusted}, nil
}

// checkUpperBound validates a descending upper bound time against the
// covered range.
func (r *Resolver) checkUpperBound(req Request, st store.StorageInfo, t model.Time) (Decision, bool) {
	switch {
	case t.Before(st.EndTime):
		return r.incompatible(req, "requested range ends before the archived range ends"), false
	case t.After(st.BeginTime) && st.PostIdBeforeFirst != "":
		return r.incompatible(req, "requested range begins after the archived range"), false
	}
	return Decision{}, true
}

func (r *Resolver) boundTime(ctx context.Context, id model.Id) (model.Time, error) {
	p, err := r.fetcher.PostByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("resolving bound post %s: %w", id, err)
	}
	return p.CreateTime, nil
}

func (r *Resolver) incompatible(req Request, reason string) Decision {
	return incompatibleDecision(req, reason)
}

// incompatibleDecision maps the configured recovery policy onto a
// decision. Backup is the default: it is the only choice that preserves
// data.
func incompatibleDecision(req Request, reason string) Decision {
	switch req.OnExistingIncompatible {
	case ExistingSkip:
		return Decision{Action: ActionSkip, Reason: reason, Request: req}
	case ExistingDelete:
		return Decision{Action: ActionFresh, Cleanup: CleanupDelete, Reason: reason, Request: req}
	default:
		return Decision{Action: ActionFresh, Cleanup: CleanupBackup, Reason: reason, Request: req}
	}
}
