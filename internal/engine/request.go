package engine

import (
	"mmdump/internal/model"
	"mmdump/internal/store"
)

// Unlimited marks a post count limit as absent.
const Unlimited = -1

// ExistingAction is the recovery policy applied to an archive already on
// disk when a new run targets the same channel.
type ExistingAction string

const (
	// ExistingUpdate keeps the archive and appends to it.
	ExistingUpdate ExistingAction = "update"
	// ExistingSkip leaves the archive untouched and fetches nothing.
	ExistingSkip ExistingAction = "skip"
	// ExistingBackup renames the archive aside before starting fresh.
	ExistingBackup ExistingAction = "backup"
	// ExistingDelete removes the archive before starting fresh.
	ExistingDelete ExistingAction = "delete"
)

// Request is the fully resolved per-channel fetch request: all config
// layering has already been applied, each field holds its effective value.
type Request struct {
	// Fetch only posts strictly after/before this post. At most one of
	// the post-id and time forms is typically set per bound; when both
	// are present the time bound was derived from the post id.
	AfterPost  model.Id
	BeforePost model.Id
	AfterTime  model.Time
	BeforeTime model.Time

	// Maximum number of posts the archive may hold in total, counting
	// posts stored by earlier runs. Unlimited disables the cap; zero
	// means the channel is deliberately empty-fetched.
	MaximumPostCount int
	// Maximum number of posts fetched in this session alone.
	SessionPostLimit int

	// DownloadFromOldest orders the archive oldest first. Descending
	// archives cannot be extended toward the past reliably, so this is
	// the default.
	DownloadFromOldest bool

	// Policies for an archive already present on disk.
	OnExistingCompatible   ExistingAction
	OnExistingIncompatible ExistingAction

	// Attachment and emoji handling.
	DownloadAttachments   bool
	AttachmentMaxByteSize int64    // 0 means no size cap
	AttachmentMimeTypes   []string // empty means all types
	EmojiMetadata         bool
	DownloadEmoji         bool
	DownloadAvatars       bool
}

// Direction returns the fetch direction the request implies.
func (r Request) Direction() Direction {
	if r.DownloadFromOldest {
		return TowardNewer
	}
	return TowardOlder
}

// Organization returns the post ordering an uninterrupted fetch of this
// request produces.
func (r Request) Organization() store.PostOrdering {
	if r.DownloadFromOldest {
		return store.AscendingContinuous
	}
	return store.DescendingContinuous
}

// WantsNothing reports whether the request asks for zero posts, which
// short-circuits the whole channel without touching disk or network.
func (r Request) WantsNothing() bool {
	return r.MaximumPostCount == 0 || r.SessionPostLimit == 0
}

// WantsEmojis reports whether emoji references on posts should be kept.
func (r Request) WantsEmojis() bool {
	return r.EmojiMetadata || r.DownloadEmoji
}

// AcceptsAttachment applies the size and MIME type filters.
func (r Request) AcceptsAttachment(a model.Attachment) bool {
	if !r.DownloadAttachments {
		return false
	}
	if r.AttachmentMaxByteSize > 0 && a.ByteSize > r.AttachmentMaxByteSize {
		return false
	}
	if len(r.AttachmentMimeTypes) == 0 {
		return true
	}
	for _, mt := range r.AttachmentMimeTypes {
		if mt == a.MimeType {
			return true
		}
	}
	return false
}
