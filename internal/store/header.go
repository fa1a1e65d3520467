package store

import (
	"mmdump/internal/model"
)

// FormatVersion is the archive header schema version written by this build.
const FormatVersion = "0"

// StorageInfo describes what the paired data file contains. If Count is
// zero the remaining fields hold no meaningful values.
type StorageInfo struct {
	// Number of post records in the data file.
	Count int `json:"count"`
	// Exact size of the data file when the header was last written.
	// A mismatch on open signals desynchronization.
	ByteSize     int64        `json:"byteSize"`
	Organization PostOrdering `json:"organization"`
	// Create time of the first stored post, or a point before it if the
	// request bounded the range there.
	BeginTime model.Time `json:"beginTime,omitempty"`
	// Create time of the last stored post.
	EndTime     model.Time `json:"endTime,omitempty"`
	FirstPostId model.Id   `json:"firstPostId,omitempty"`
	LastPostId  model.Id   `json:"lastPostId,omitempty"`
	// If the first post is not the channel's true edge, the post that
	// would be fetched if the archive were extended past the beginning.
	PostIdBeforeFirst model.Id `json:"postIdBeforeFirst,omitempty"`
	// Likewise past the end.
	PostIdAfterLast model.Id `json:"postIdAfterLast,omitempty"`
}

// Header is the authoritative description of one channel's archive.
// Header and data file are always modified as a pair: the header is
// rewritten only after the corresponding data bytes are durably written.
type Header struct {
	Version string        `json:"version"`
	Channel model.Channel `json:"channel"`
	// Missing if the channel is not scoped under a team.
	Team *model.Team `json:"team,omitempty"`
	// Users that appeared in archived conversations.
	Users []model.User `json:"users,omitempty"`
	// Emojis that appeared in archived conversations.
	Emojis  []model.Emoji `json:"emojis,omitempty"`
	Storage StorageInfo   `json:"storage"`
}

// NewHeader creates a header for a fresh archive of the given channel.
func NewHeader(channel model.Channel, team *model.Team) *Header {
	return &Header{
		Version: FormatVersion,
		Channel: channel,
		Team:    team,
	}
}

// MergeUser adds u to the header's user table unless already present.
func (h *Header) MergeUser(u model.User) {
	for _, existing := range h.Users {
		if existing.Id == u.Id {
			return
		}
	}
	h.Users = append(h.Users, u)
}

// MergeEmoji adds e to the header's emoji table unless already present.
func (h *Header) MergeEmoji(e model.Emoji) {
	for _, existing := range h.Emojis {
		if existing.Id == e.Id {
			return
		}
	}
	h.Emojis = append(h.Emojis, e)
}
