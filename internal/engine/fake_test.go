package engine

import (
	"context"
	"fmt"

	"mmdump/internal/model"
)

// fakeTransientErr mimics a retryable transport failure.
type fakeTransientErr struct{ msg string }

func (e fakeTransientErr) Error() string   { return e.msg }
func (e fakeTransientErr) Transient() bool { return true }

// fakeFetcher serves pages from an in-memory post list sorted oldest
// first, mimicking a remote that paginates newest-to-oldest natively.
type fakeFetcher struct {
	posts   []model.Post
	reverse bool

	// failures injects this many transient errors before calls succeed.
	failures int
	// pages counts FetchPage calls, retries included.
	pages int
}

var _ Fetcher = (*fakeFetcher)(nil)

func (f *fakeFetcher) Capabilities() Capabilities {
	return Capabilities{SupportsReverseCursor: f.reverse}
}

func (f *fakeFetcher) indexOf(id model.Id) int {
	for i := range f.posts {
		if f.posts[i].Id == id {
			return i
		}
	}
	return -1
}

func (f *fakeFetcher) FetchPage(ctx context.Context, channelID model.Id, cursor model.Id, dir Direction, limit int) (Batch, error) {
	f.pages++
	if f.failures > 0 {
		f.failures--
		return Batch{}, fakeTransientErr{msg: "remote unavailable"}
	}
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}

	if dir == TowardOlder {
		// Posts strictly older than the cursor, newest first.
		end := len(f.posts)
		if cursor != "" {
			if i := f.indexOf(cursor); i >= 0 {
				end = i
			}
		}
		start := end - limit
		if start < 0 {
			start = 0
		}
		var b Batch
		for i := end - 1; i >= start; i-- {
			b.Posts = append(b.Posts, f.posts[i])
		}
		if start > 0 {
			b.OlderNeighbor = f.posts[start-1].Id
		}
		if end < len(f.posts) {
			b.NewerNeighbor = f.posts[end].Id
		}
		b.More = start > 0
		return b, nil
	}

	// Posts strictly newer than the cursor, oldest first.
	start := 0
	if cursor != "" {
		if i := f.indexOf(cursor); i >= 0 {
			start = i + 1
		}
	}
	end := start + limit
	if end > len(f.posts) {
		end = len(f.posts)
	}
	var b Batch
	b.Posts = append(b.Posts, f.posts[start:end]...)
	if start > 0 {
		b.OlderNeighbor = f.posts[start-1].Id
	}
	if end < len(f.posts) {
		b.NewerNeighbor = f.posts[end].Id
	}
	b.More = end < len(f.posts)
	return b, nil
}

func (f *fakeFetcher) PostByID(ctx context.Context, id model.Id) (model.Post, error) {
	if i := f.indexOf(id); i >= 0 {
		return f.posts[i], nil
	}
	return model.Post{}, fmt.Errorf("post %s not found", id)
}

// fakeUsers resolves any user id to a synthetic record, or serves from
// an explicit table when set.
type fakeUsers struct {
	users map[model.Id]model.User
	calls int
}

var _ UserResolver = (*fakeUsers)(nil)

func (f *fakeUsers) UserByID(ctx context.Context, id model.Id) (model.User, error) {
	f.calls++
	if f.users != nil {
		if u, ok := f.users[id]; ok {
			return u, nil
		}
		return model.User{}, fmt.Errorf("user %s not found", id)
	}
	return model.User{Id: id, Name: "user-" + string(id)}, nil
}

// ascPosts builds n posts with ids p01, p02, ... and create times
// 1000, 2000, ... milliseconds, oldest first.
func ascPosts(n int) []model.Post {
	posts := make([]model.Post, 0, n)
	for i := 0; i < n; i++ {
		posts = append(posts, model.Post{
			Id:         model.Id(fmt.Sprintf("p%02d", i+1)),
			UserId:     "u1",
			CreateTime: model.Time((i + 1) * 1000),
			Message:    fmt.Sprintf("message %d", i+1),
		})
	}
	return posts
}
