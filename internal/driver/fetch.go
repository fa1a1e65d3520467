package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"mmdump/internal/engine"
	"mmdump/internal/model"
)

var (
	_ engine.Fetcher      = (*Client)(nil)
	_ engine.UserResolver = (*Client)(nil)
)

// postsPage mirrors the posts endpoint's response shape: ids in order
// newest first plus a lookup table, with neighbor hints for pagination.
type postsPage struct {
	Order      []model.Id                   `json:"order"`
	Posts      map[model.Id]json.RawMessage `json:"posts"`
	PrevPostId model.Id                     `json:"prev_post_id"`
	NextPostId model.Id                     `json:"next_post_id"`
}

// Capabilities: the posts endpoint can page into history from any point
// but cannot start at a channel's oldest post, which is what forces the
// engine's walk when filling an ascending archive from nothing.
func (c *Client) Capabilities() engine.Capabilities {
	return engine.Capabilities{SupportsReverseCursor: false}
}

// FetchPage retrieves one page of a channel's posts. Records the server
// hands back in unparseable form are skipped with a warning rather than
// failing the page; the surrounding posts still make it to the archive.
func (c *Client) FetchPage(ctx context.Context, channelID model.Id, cursor model.Id, dir engine.Direction, limit int) (engine.Batch, error) {
	q := url.Values{"per_page": {strconv.Itoa(limit)}}
	switch dir {
	case engine.TowardOlder:
		if cursor != "" {
			q.Set("before", string(cursor))
		}
	case engine.TowardNewer:
		if cursor == "" {
			return engine.Batch{}, errors.New("fetching toward newer requires a cursor post")
		}
		q.Set("after", string(cursor))
	}

	var page postsPage
	path := "channels/" + string(channelID) + "/posts"
	if err := c.get(ctx, path, q, &page); err != nil {
		return engine.Batch{}, err
	}

	batch := engine.Batch{
		OlderNeighbor: page.PrevPostId,
		NewerNeighbor: page.NextPostId,
	}
	// Wire order is newest first; flip it when walking toward newer so
	// posts come out in fetch direction order.
	appendPost := func(id model.Id) {
		raw, ok := page.Posts[id]
		if !ok {
			c.logger.Warn("post listed in page order but missing from payload", "post", id)
			return
		}
		p, emojis, err := parsePost(raw)
		if err != nil {
			c.logger.Warn("skipping malformed post record", "post", id, "error", err)
			return
		}
		batch.Posts = append(batch.Posts, p)
		batch.Emojis = append(batch.Emojis, emojis...)
	}
	if dir == engine.TowardNewer {
		for i := len(page.Order) - 1; i >= 0; i-- {
			appendPost(page.Order[i])
		}
		batch.More = page.NextPostId != "" && len(page.Order) > 0
	} else {
		for _, id := range page.Order {
			appendPost(id)
		}
		batch.More = page.PrevPostId != "" && len(page.Order) > 0
	}
	return batch, nil
}

// PostByID fetches a single post.
func (c *Client) PostByID(ctx context.Context, id model.Id) (model.Post, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "posts/"+string(id), nil, &raw); err != nil {
		return model.Post{}, err
	}
	p, _, err := parsePost(raw)
	if err != nil {
		return model.Post{}, fmt.Errorf("post %s: %w", id, err)
	}
	return p, nil
}

// UserByID resolves a user, served from cache after the first fetch.
func (c *Client) UserByID(ctx context.Context, id model.Id) (model.User, error) {
	c.mu.Lock()
	if u, ok := c.users[id]; ok {
		c.mu.Unlock()
		return *u, nil
	}
	c.mu.Unlock()

	var raw json.RawMessage
	if err := c.get(ctx, "users/"+string(id), nil, &raw); err != nil {
		return model.User{}, err
	}
	u, err := parseUser(raw)
	if err != nil {
		return model.User{}, fmt.Errorf("user %s: %w", id, err)
	}
	c.cacheUser(u)
	return u, nil
}

// UserByName resolves a user by login name.
func (c *Client) UserByName(ctx context.Context, name string) (model.User, error) {
	c.mu.Lock()
	for _, u := range c.users {
		if u.Name == name {
			c.mu.Unlock()
			return *u, nil
		}
	}
	c.mu.Unlock()

	var raw json.RawMessage
	if err := c.get(ctx, "users/username/"+name, nil, &raw); err != nil {
		return model.User{}, err
	}
	u, err := parseUser(raw)
	if err != nil {
		return model.User{}, fmt.Errorf("user %q: %w", name, err)
	}
	c.cacheUser(u)
	return u, nil
}

func (c *Client) cacheUser(u model.User) {
	c.mu.Lock()
	c.users[u.Id] = &u
	c.mu.Unlock()
}

// LocalUser resolves and remembers the authenticated user. Team and
// channel listings are scoped to it.
func (c *Client) LocalUser(ctx context.Context) (model.User, error) {
	c.mu.Lock()
	if c.localUser != nil {
		u := *c.localUser
		c.mu.Unlock()
		return u, nil
	}
	c.mu.Unlock()

	var raw json.RawMessage
	if err := c.get(ctx, "users/me", nil, &raw); err != nil {
		return model.User{}, err
	}
	u, err := parseUser(raw)
	if err != nil {
		return model.User{}, fmt.Errorf("local user: %w", err)
	}
	c.cacheUser(u)
	c.mu.Lock()
	c.localUser = &u
	c.mu.Unlock()
	return u, nil
}

// Teams lists the teams the local user belongs to, in server order.
func (c *Client) Teams(ctx context.Context) ([]*model.Team, error) {
	c.mu.Lock()
	if len(c.teamOrder) > 0 {
		out := make([]*model.Team, 0, len(c.teamOrder))
		for _, id := range c.teamOrder {
			out = append(out, c.teams[id])
		}
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	me, err := c.LocalUser(ctx)
	if err != nil {
		return nil, err
	}
	var raws []json.RawMessage
	if err := c.get(ctx, "users/"+string(me.Id)+"/teams", nil, &raws); err != nil {
		return nil, err
	}

	out := make([]*model.Team, 0, len(raws))
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, raw := range raws {
		t, err := parseTeam(raw)
		if err != nil {
			return nil, fmt.Errorf("team listing: %w", err)
		}
		stored := t
		c.teams[t.Id] = &stored
		c.teamOrder = append(c.teamOrder, t.Id)
		out = append(out, &stored)
	}
	return out, nil
}

// LoadChannels fills in the channels of one team that the local user is
// a member of.
func (c *Client) LoadChannels(ctx context.Context, team *model.Team) error {
	me, err := c.LocalUser(ctx)
	if err != nil {
		return err
	}
	var raws []json.RawMessage
	path := "users/" + string(me.Id) + "/teams/" + string(team.Id) + "/channels"
	if err := c.get(ctx, path, nil, &raws); err != nil {
		return err
	}
	if team.Channels == nil {
		team.Channels = make(map[model.Id]*model.Channel)
	}
	for _, raw := range raws {
		ch, err := parseChannel(raw)
		if err != nil {
			return fmt.Errorf("channel listing for team %s: %w", team.Id, err)
		}
		stored := ch
		team.Channels[ch.Id] = &stored
	}
	return nil
}

// ChannelMembers resolves the full member list of a channel, paging
// through the membership endpoint.
func (c *Client) ChannelMembers(ctx context.Context, channelID model.Id) ([]model.User, error) {
	const pageSize = 100
	var members []model.User
	for page := 0; ; page++ {
		q := url.Values{
			"per_page": {strconv.Itoa(pageSize)},
			"page":     {strconv.Itoa(page)},
		}
		var window []struct {
			UserId model.Id `json:"user_id"`
		}
		if err := c.get(ctx, "channels/"+string(channelID)+"/members", q, &window); err != nil {
			return nil, err
		}
		for _, m := range window {
			u, err := c.UserByID(ctx, m.UserId)
			if err != nil {
				return nil, err
			}
			members = append(members, u)
		}
		if len(window) < pageSize {
			return members, nil
		}
	}
}

// Emojis lists every custom emoji on the server, cached after the
// first full listing.
func (c *Client) Emojis(ctx context.Context) ([]model.Emoji, error) {
	c.mu.Lock()
	if c.emojisAll {
		out := make([]model.Emoji, 0, len(c.emojis))
		for _, e := range c.emojis {
			out = append(out, *e)
		}
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	const pageSize = 100
	var all []model.Emoji
	for page := 0; ; page++ {
		q := url.Values{
			"per_page": {strconv.Itoa(pageSize)},
			"page":     {strconv.Itoa(page)},
		}
		var raws []json.RawMessage
		if err := c.get(ctx, "emoji", q, &raws); err != nil {
			return nil, err
		}
		for _, raw := range raws {
			e, err := parseEmoji(raw)
			if err != nil {
				return nil, fmt.Errorf("emoji listing: %w", err)
			}
			all = append(all, e)
		}
		if len(raws) < pageSize {
			break
		}
	}

	c.mu.Lock()
	for i := range all {
		c.emojis[all[i].Id] = &all[i]
	}
	c.emojisAll = true
	c.mu.Unlock()
	return all, nil
}

// DirectChannelName is the internal name Mattermost gives the direct
// channel between two users: their ids sorted and joined.
func DirectChannelName(a, b model.Id) string {
	if a < b {
		return string(a) + "__" + string(b)
	}
	return string(b) + "__" + string(a)
}

// OtherUserInDirectChannel extracts the peer's id from a direct
// channel's internal name.
func OtherUserInDirectChannel(channelName string, localUser model.Id) model.Id {
	left, right, ok := cutDirectName(channelName)
	if !ok {
		return ""
	}
	if left == localUser {
		return right
	}
	return left
}

func cutDirectName(name string) (model.Id, model.Id, bool) {
	for i := 0; i+1 < len(name); i++ {
		if name[i] == '_' && name[i+1] == '_' {
			return model.Id(name[:i]), model.Id(name[i+2:]), true
		}
	}
	return "", "", false
}
