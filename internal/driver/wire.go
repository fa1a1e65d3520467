package driver

import (
	"encoding/json"
	"fmt"
	"strings"

	"mmdump/internal/model"
)

// wireObject is a decoded JSON object whose recognized fields get
// consumed one by one; whatever remains becomes the entity's misc
// catch-all, so unknown server fields survive archiving verbatim.
type wireObject map[string]json.RawMessage

func decodeObject(raw json.RawMessage) (wireObject, error) {
	var o wireObject
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("malformed record: %w", err)
	}
	return o, nil
}

// str consumes a string field. Missing or undecodable fields yield "".
func (o wireObject) str(key string) string {
	raw, ok := o[key]
	if !ok {
		return ""
	}
	delete(o, key)
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func (o wireObject) id(key string) model.Id { return model.Id(o.str(key)) }

// num consumes a numeric field. Missing or undecodable fields yield 0.
func (o wireObject) num(key string) int64 {
	raw, ok := o[key]
	if !ok {
		return 0
	}
	delete(o, key)
	var n int64
	if json.Unmarshal(raw, &n) != nil {
		return 0
	}
	return n
}

func (o wireObject) time(key string) model.Time { return model.Time(o.num(key)) }

func (o wireObject) boolean(key string) bool {
	raw, ok := o[key]
	if !ok {
		return false
	}
	delete(o, key)
	var b bool
	if json.Unmarshal(raw, &b) != nil {
		return false
	}
	return b
}

// take consumes a field raw, reporting whether it was present.
func (o wireObject) take(key string) (json.RawMessage, bool) {
	raw, ok := o[key]
	if ok {
		delete(o, key)
	}
	return raw, ok
}

func (o wireObject) drop(keys ...string) {
	for _, key := range keys {
		delete(o, key)
	}
}

// misc returns the leftover fields, cleaned of values that are plainly
// defaults: null, empty strings, empty objects.
func (o wireObject) misc() model.Misc {
	m := make(model.Misc)
	for key, raw := range o {
		switch string(raw) {
		case "null", `""`, "{}":
			continue
		}
		m[key] = raw
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func parseUser(raw json.RawMessage) (model.User, error) {
	o, err := decodeObject(raw)
	if err != nil {
		return model.User{}, err
	}
	u := model.User{
		Id:        o.id("id"),
		Name:      o.str("username"),
		Nickname:  o.str("nickname"),
		FirstName: o.str("first_name"),
		LastName:  o.str("last_name"),
		Position:  o.str("position"),
	}
	u.CreateTime = o.time("create_at")
	if t := o.time("update_at"); t != u.CreateTime {
		u.UpdateTime = t
	}
	if t := o.time("delete_at"); !t.IsZero() {
		u.DeleteTime = t
	}
	if roles := strings.Fields(o.str("roles")); !(len(roles) == 1 && roles[0] == "system_user") {
		u.Roles = roles
	}
	// Privacy-sensitive and derived fields stay out of archives.
	o.drop("locale", "timezone", "notify_props", "email", "email_verified",
		"auth_service", "last_password_update", "last_picture_update")
	u.Misc = o.misc()
	return u, nil
}

func parseEmoji(raw json.RawMessage) (model.Emoji, error) {
	o, err := decodeObject(raw)
	if err != nil {
		return model.Emoji{}, err
	}
	e := model.Emoji{
		Id:        o.id("id"),
		CreatorId: o.id("creator_id"),
		Name:      o.str("name"),
	}
	e.CreateTime = o.time("create_at")
	if t := o.time("update_at"); t != e.CreateTime {
		e.UpdateTime = t
	}
	if t := o.time("delete_at"); !t.IsZero() {
		e.DeleteTime = t
	}
	e.Misc = o.misc()
	return e, nil
}

func parseAttachment(raw json.RawMessage) (model.Attachment, error) {
	o, err := decodeObject(raw)
	if err != nil {
		return model.Attachment{}, err
	}
	a := model.Attachment{
		Id:       o.id("id"),
		Name:     o.str("name"),
		ByteSize: o.num("size"),
		MimeType: o.str("mime_type"),
	}
	a.CreateTime = o.time("create_at")
	if t := o.time("update_at"); t != a.CreateTime {
		a.UpdateTime = t
	}
	if t := o.time("delete_at"); !t.IsZero() {
		a.DeleteTime = t
	}
	// Derived presentation properties.
	o.drop("user_id", "post_id", "width", "height", "has_preview_image",
		"mini_preview", "extension")
	a.Misc = o.misc()
	return a, nil
}

func parseReaction(raw json.RawMessage) (model.Reaction, error) {
	o, err := decodeObject(raw)
	if err != nil {
		return model.Reaction{}, err
	}
	r := model.Reaction{
		UserId:     o.id("user_id"),
		CreateTime: o.time("create_at"),
		EmojiName:  o.str("emoji_name"),
	}
	o.drop("post_id")
	r.Misc = o.misc()
	return r, nil
}

// parsePost translates one wire post. Emoji records embedded in the
// post's metadata are returned separately; the post itself only keeps
// their ids.
func parsePost(raw json.RawMessage) (model.Post, []model.Emoji, error) {
	o, err := decodeObject(raw)
	if err != nil {
		return model.Post{}, nil, err
	}
	p := model.Post{
		Id:      o.id("id"),
		UserId:  o.id("user_id"),
		Message: o.str("message"),
	}
	p.CreateTime = o.time("create_at")
	if t := o.time("update_at"); t != p.CreateTime {
		p.UpdateTime = t
	}
	if t := o.time("edit_at"); !t.IsZero() && t != p.UpdateTime {
		p.PublicUpdateTime = t
	}
	if t := o.time("delete_at"); !t.IsZero() {
		p.DeleteTime = t
	}
	if id := o.id("parent_id"); id != "" {
		p.ParentPostId = id
	}
	if id := o.id("root_id"); id != "" && id != p.ParentPostId {
		p.RootPostId = id
	}
	p.IsPinned = o.boolean("is_pinned")
	p.SpecialMsgType = o.str("type")

	props := trimProps(o)
	var emojis []model.Emoji
	metadata, metaErr := parseMetadata(o, &p, &emojis)
	if metaErr != nil {
		return model.Post{}, nil, metaErr
	}

	// Redundant or known-useless fields.
	o.drop("channel_id", "reply_count", "has_reactions", "file_ids", "hashtags")
	p.Misc = o.misc()
	if props != nil {
		if p.Misc == nil {
			p.Misc = make(model.Misc)
		}
		p.Misc["props"] = props
	}
	if metadata != nil {
		if p.Misc == nil {
			p.Misc = make(model.Misc)
		}
		p.Misc["metadata"] = metadata
	}
	return p, emojis, nil
}

// trimProps strips known-noise keys from the post's props and returns
// what is worth keeping, or nil when nothing is.
func trimProps(o wireObject) json.RawMessage {
	raw, ok := o.take("props")
	if !ok {
		return nil
	}
	var props map[string]json.RawMessage
	if json.Unmarshal(raw, &props) != nil {
		return raw
	}
	for key, v := range props {
		if key == "disable_group_highlight" || key == "channel_mentions" || string(v) == `""` {
			delete(props, key)
		}
	}
	if len(props) == 0 {
		return nil
	}
	out, err := json.Marshal(props)
	if err != nil {
		return raw
	}
	return out
}

// parseMetadata unpacks the post's metadata object: attachments,
// reactions and emoji records become first-class fields, embeds and
// image previews are dropped as reconstructible, the rest is returned
// for the misc catch-all.
func parseMetadata(o wireObject, p *model.Post, emojis *[]model.Emoji) (json.RawMessage, error) {
	raw, ok := o.take("metadata")
	if !ok {
		return nil, nil
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("malformed post metadata: %w", err)
	}
	delete(meta, "embeds")
	delete(meta, "images")

	if rawEmojis, ok := meta["emojis"]; ok {
		delete(meta, "emojis")
		var items []json.RawMessage
		if err := json.Unmarshal(rawEmojis, &items); err != nil {
			return nil, fmt.Errorf("malformed emoji metadata: %w", err)
		}
		for _, item := range items {
			e, err := parseEmoji(item)
			if err != nil {
				return nil, err
			}
			*emojis = append(*emojis, e)
			p.Emojis = append(p.Emojis, e.Id)
		}
	}
	if rawFiles, ok := meta["files"]; ok {
		delete(meta, "files")
		var items []json.RawMessage
		if err := json.Unmarshal(rawFiles, &items); err != nil {
			return nil, fmt.Errorf("malformed attachment metadata: %w", err)
		}
		for _, item := range items {
			a, err := parseAttachment(item)
			if err != nil {
				return nil, err
			}
			p.Attachments = append(p.Attachments, a)
		}
	}
	if rawReactions, ok := meta["reactions"]; ok {
		delete(meta, "reactions")
		var items []json.RawMessage
		if err := json.Unmarshal(rawReactions, &items); err != nil {
			return nil, fmt.Errorf("malformed reaction metadata: %w", err)
		}
		for _, item := range items {
			r, err := parseReaction(item)
			if err != nil {
				return nil, err
			}
			p.Reactions = append(p.Reactions, r)
		}
	}

	if len(meta) == 0 {
		return nil, nil
	}
	out, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("re-encoding post metadata: %w", err)
	}
	return out, nil
}

func parseChannelType(s string) model.ChannelType {
	switch s {
	case "O":
		return model.ChannelOpen
	case "P":
		return model.ChannelPrivate
	case "G":
		return model.ChannelGroup
	case "D":
		return model.ChannelDirect
	}
	return model.ChannelOpen
}

func parseTeamType(s string) model.TeamType {
	if s == "I" {
		return model.TeamInviteOnly
	}
	return model.TeamOpen
}

func parseChannel(raw json.RawMessage) (model.Channel, error) {
	o, err := decodeObject(raw)
	if err != nil {
		return model.Channel{}, err
	}
	ch := model.Channel{
		Id:           o.id("id"),
		Name:         o.str("display_name"),
		InternalName: o.str("name"),
		Header:       o.str("header"),
		Purpose:      o.str("purpose"),
	}
	ch.CreateTime = o.time("create_at")
	if t := o.time("update_at"); t != ch.CreateTime {
		ch.UpdateTime = t
	}
	if t := o.time("delete_at"); !t.IsZero() {
		ch.DeleteTime = t
	}
	ch.Type = parseChannelType(o.str("type"))
	ch.LastMessageTime = o.time("last_post_at")
	ch.MessageCount = int(o.num("total_msg_count"))
	ch.CreatorUserId = o.id("creator_id")
	o.drop("team_id", "extra_update_at", "group_constrained")
	ch.Misc = o.misc()
	return ch, nil
}

func parseTeam(raw json.RawMessage) (model.Team, error) {
	o, err := decodeObject(raw)
	if err != nil {
		return model.Team{}, err
	}
	t := model.Team{
		Id:           o.id("id"),
		Name:         o.str("display_name"),
		InternalName: o.str("name"),
		Description:  o.str("description"),
		InviteId:     o.id("invite_id"),
		Channels:     make(map[model.Id]*model.Channel),
	}
	t.Type = parseTeamType(o.str("type"))
	t.CreateTime = o.time("create_at")
	if ut := o.time("update_at"); ut != t.CreateTime {
		t.UpdateTime = ut
	}
	if dt := o.time("delete_at"); !dt.IsZero() {
		t.DeleteTime = dt
	}
	o.drop("allow_open_invite", "allowed_domains", "last_team_icon_update")
	t.Misc = o.misc()
	return t, nil
}
