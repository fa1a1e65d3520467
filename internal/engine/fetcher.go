package engine

import (
	"context"
	"errors"

	"mmdump/internal/model"
)

// Direction is the time direction of a fetch relative to the cursor.
type Direction int

const (
	// TowardOlder walks into history (the remote's native direction).
	TowardOlder Direction = iota
	// TowardNewer walks toward the present.
	TowardNewer
)

func (d Direction) String() string {
	if d == TowardOlder {
		return "older"
	}
	return "newer"
}

// Batch is one fetched page of posts, ordered in the fetch direction:
// newest first when fetching toward older, oldest first when fetching
// toward newer.
type Batch struct {
	Posts []model.Post

	// OlderNeighbor is the id of the post chronologically preceding the
	// batch's oldest post, empty if the batch reaches the channel start
	// or the neighbor is unknown. NewerNeighbor is the mirror at the
	// newer end.
	OlderNeighbor model.Id
	NewerNeighbor model.Id

	// Emoji records referenced by posts in this batch.
	Emojis []model.Emoji

	// More reports whether the remote has further posts available in
	// the fetch direction.
	More bool
}

// Capabilities describes what the remote side's pagination supports.
type Capabilities struct {
	// SupportsReverseCursor is false when the remote can only paginate
	// newest-to-oldest from an arbitrary point, forcing the planner to
	// first walk to the oldest reachable post before filling forward.
	SupportsReverseCursor bool
}

// Fetcher is the remote fetch port: the only capability the engine
// needs from the messaging platform's transport layer.
type Fetcher interface {
	// FetchPage returns the next page of posts for a channel. An empty
	// cursor starts from the remote-defined newest (TowardOlder) or the
	// continuation point the walk established (TowardNewer). limit is a
	// batch size hint; the remote may return fewer posts.
	FetchPage(ctx context.Context, channelID model.Id, cursor model.Id, dir Direction, limit int) (Batch, error)

	// PostByID fetches a single post, used to resolve the create time
	// of request bounds given as post ids.
	PostByID(ctx context.Context, id model.Id) (model.Post, error)

	Capabilities() Capabilities
}

// UserResolver resolves user records referenced by id from posts.
// Implementations are expected to cache.
type UserResolver interface {
	UserByID(ctx context.Context, id model.Id) (model.User, error)
}

// transient marks errors worth retrying (transport hiccups, rate
// limits). Anything else aborts the fetch immediately.
type transient interface {
	Transient() bool
}

// IsTransient reports whether err is a retryable transport failure.
func IsTransient(err error) bool {
	var t transient
	return errors.As(err, &t) && t.Transient()
}
