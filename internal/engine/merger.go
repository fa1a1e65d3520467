package engine

import (
	"context"
	"fmt"

	"mmdump/internal/model"
	"mmdump/internal/store"
)

// Merger folds accepted batches into an open archive. Each consumed
// batch becomes exactly one data append followed by one header rewrite,
// so a crash loses at most the batch in flight and never the header's
// consistency with the data file.
type Merger struct {
	archive *store.Archive
	header  *store.Header
	req     Request
	users   UserResolver
	logger  Logger

	// continuation marks that the archive already holds posts and the
	// first consumed batch must abut the stored range for the archive
	// to keep its continuity guarantee.
	continuation bool
	written      int
	attachments  []model.Attachment
}

// NewMerger prepares a merger over an open archive. continuation must be
// true when appending to existing content rather than filling a fresh
// archive.
func NewMerger(archive *store.Archive, req Request, users UserResolver, logger Logger, continuation bool) *Merger {
	return &Merger{
		archive:      archive,
		header:       archive.Header(),
		req:          req,
		users:        users,
		logger:       logger,
		continuation: continuation,
	}
}

// Consume merges one batch: enriches posts with resolved user records,
// folds emoji and user tables into the header, updates the storage
// metadata and persists posts and header as a unit. Posts must arrive in
// the archive's organization order.
func (m *Merger) Consume(ctx context.Context, batch Batch) error {
	if len(batch.Posts) == 0 {
		return nil
	}

	if m.req.WantsEmojis() {
		for _, e := range batch.Emojis {
			m.resolveEmojiCreator(ctx, &e)
			m.header.MergeEmoji(e)
		}
	}

	for i := range batch.Posts {
		m.enrichPost(ctx, &batch.Posts[i])
	}

	m.updateStorage(batch)

	if err := m.archive.Append(batch.Posts, m.header); err != nil {
		return fmt.Errorf("merging batch into archive %q: %w", m.archive.Name(), err)
	}
	// Append re-derives ByteSize; keep the working copy aligned.
	m.header = m.archive.Header()
	m.written += len(batch.Posts)
	return nil
}

func (m *Merger) enrichPost(ctx context.Context, p *model.Post) {
	if u, ok := m.resolveUser(ctx, p.UserId); ok {
		p.UserName = u.Name
	}
	for i := range p.Reactions {
		if u, ok := m.resolveUser(ctx, p.Reactions[i].UserId); ok {
			p.Reactions[i].UserName = u.Name
		}
	}
	if !m.req.WantsEmojis() {
		p.Emojis = nil
	}
	for _, a := range p.Attachments {
		if m.req.AcceptsAttachment(a) {
			m.attachments = append(m.attachments, a)
		}
	}
}

// resolveUser looks up a user and folds the record into the header's
// user table. Resolution failures degrade to an unenriched post; the
// post itself is never dropped.
func (m *Merger) resolveUser(ctx context.Context, id model.Id) (model.User, bool) {
	if id == "" {
		return model.User{}, false
	}
	u, err := m.users.UserByID(ctx, id)
	if err != nil {
		m.logger.Warn("could not resolve user", "user", id, "error", err)
		return model.User{}, false
	}
	m.header.MergeUser(u)
	return u, true
}

func (m *Merger) resolveEmojiCreator(ctx context.Context, e *model.Emoji) {
	if u, ok := m.resolveUser(ctx, e.CreatorId); ok {
		e.CreatorName = u.Name
	}
}

// updateStorage advances the covered-range metadata for one batch. For
// an ascending archive posts arrive oldest first and grow the newer
// edge; for a descending archive they arrive newest first and grow
// toward the channel start.
func (m *Merger) updateStorage(batch Batch) {
	st := &m.header.Storage
	asc := m.req.DownloadFromOldest
	first := batch.Posts[0]
	last := batch.Posts[len(batch.Posts)-1]

	if st.Count == 0 {
		st.FirstPostId = first.Id
		if asc {
			st.BeginTime = first.CreateTime
			if !m.req.AfterTime.IsZero() && m.req.AfterTime.Before(st.BeginTime) {
				st.BeginTime = m.req.AfterTime
			}
			st.PostIdBeforeFirst = batch.OlderNeighbor
		} else {
			st.BeginTime = first.CreateTime
			if !m.req.BeforeTime.IsZero() && m.req.BeforeTime.After(st.BeginTime) {
				st.BeginTime = m.req.BeforeTime
			}
			st.PostIdBeforeFirst = batch.NewerNeighbor
		}
	} else if m.continuation {
		if !m.abutsStoredRange(batch) {
			m.logger.Warn("batch does not connect to the archived range, dropping continuity",
				"archive", m.archive.Name(), "firstPost", first.Id)
			st.Organization = st.Organization.WithoutContinuity()
		}
	}
	m.continuation = false

	st.Count += len(batch.Posts)
	st.LastPostId = last.Id
	st.EndTime = last.CreateTime
	if asc {
		st.PostIdAfterLast = batch.NewerNeighbor
	} else {
		st.PostIdAfterLast = batch.OlderNeighbor
	}
}

// abutsStoredRange reports whether the batch's first post is adjacent to
// the archive's stored edge, using the neighbor hints from either side.
func (m *Merger) abutsStoredRange(batch Batch) bool {
	st := m.header.Storage
	if st.PostIdAfterLast != "" && batch.Posts[0].Id == st.PostIdAfterLast {
		return true
	}
	edgeNeighbor := batch.OlderNeighbor
	if !m.req.DownloadFromOldest {
		edgeNeighbor = batch.NewerNeighbor
	}
	return edgeNeighbor != "" && edgeNeighbor == st.LastPostId
}

// Written returns how many posts were appended by this merger.
func (m *Merger) Written() int { return m.written }

// Attachments returns the attachment records that passed the request's
// filters, in post order, for the file download stage.
func (m *Merger) Attachments() []model.Attachment { return m.attachments }
