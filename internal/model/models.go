// Package model defines the entities of the archive format: posts,
// channels, users, teams, emojis and their supporting types.
//
// Every entity carries a Misc catch-all holding fields the remote side
// sent that we do not model. They are stored verbatim so the archive
// stays lossless across remote API evolution.
package model

import "encoding/json"

// Id is an opaque Mattermost entity identifier.
type Id string

// Misc holds unrecognized remote fields, keyed by their wire name.
type Misc map[string]json.RawMessage

// ChannelType classifies a channel.
type ChannelType string

const (
	ChannelOpen    ChannelType = "Open"
	ChannelPrivate ChannelType = "Private"
	ChannelGroup   ChannelType = "Group"
	ChannelDirect  ChannelType = "Direct"
)

// TeamType classifies a team.
type TeamType string

const (
	TeamOpen       TeamType = "Open"
	TeamInviteOnly TeamType = "InviteOnly"
)

// User is a message author. Referenced by id from posts; the full
// record is resolved lazily into the archive header's user table.
type User struct {
	Id         Id       `json:"id"`
	Name       string   `json:"name"`
	CreateTime Time     `json:"createTime"`
	UpdateTime Time     `json:"updateTime,omitempty"`
	DeleteTime Time     `json:"deleteTime,omitempty"`
	FirstName  string   `json:"firstName,omitempty"`
	LastName   string   `json:"lastName,omitempty"`
	Nickname   string   `json:"nickname,omitempty"`
	Position   string   `json:"position,omitempty"`
	Roles      []string `json:"roles,omitempty"`
	// Filename used for storage if the avatar gets downloaded.
	AvatarFileName string `json:"avatarFileName,omitempty"`
	Misc           Misc   `json:"misc,omitempty"`
}

// Emoji is a custom emoji definition.
type Emoji struct {
	Id         Id     `json:"id"`
	CreatorId  Id     `json:"creatorId"`
	Name       string `json:"name"`
	CreateTime Time   `json:"createTime"`
	UpdateTime Time   `json:"updateTime,omitempty"`
	DeleteTime Time   `json:"deleteTime,omitempty"`
	// Redundant, filled only for human-friendly output.
	CreatorName string `json:"creatorName,omitempty"`
	// Filename used for storage if the image gets downloaded.
	ImageFileName string `json:"imageFileName,omitempty"`
	Misc          Misc   `json:"misc,omitempty"`
}

// Attachment is a file attached to a post.
type Attachment struct {
	Id         Id     `json:"id"`
	Name       string `json:"name"`
	ByteSize   int64  `json:"byteSize"`
	MimeType   string `json:"mimeType,omitempty"`
	CreateTime Time   `json:"createTime"`
	UpdateTime Time   `json:"updateTime,omitempty"`
	DeleteTime Time   `json:"deleteTime,omitempty"`
	Misc       Misc   `json:"misc,omitempty"`
}

// Reaction is an emoji reaction on a post. Exactly one of EmojiId and
// EmojiName identifies the emoji.
type Reaction struct {
	UserId     Id     `json:"userId"`
	CreateTime Time   `json:"createTime"`
	UpdateTime Time   `json:"updateTime,omitempty"`
	DeleteTime Time   `json:"deleteTime,omitempty"`
	EmojiId    Id     `json:"emojiId,omitempty"`
	EmojiName  string `json:"emojiName,omitempty"`
	// Redundant, filled only for human-friendly output.
	UserName string `json:"userName,omitempty"`
	Misc     Misc   `json:"misc,omitempty"`
}

// Post is one archived message. Posts are immutable once fetched,
// except delete/edit timestamps which may retroactively change on the
// remote side; such drift is corrected only if the post falls inside a
// range that gets re-fetched.
type Post struct {
	Id         Id     `json:"id"`
	UserId     Id     `json:"userId"`
	CreateTime Time   `json:"createTime"`
	Message    string `json:"message"`

	IsPinned   bool `json:"isPinned,omitempty"`
	UpdateTime Time `json:"updateTime,omitempty"`
	// Last visible edit; small server-side updates after posting are ignored.
	PublicUpdateTime Time `json:"publicUpdateTime,omitempty"`
	DeleteTime       Time `json:"deleteTime,omitempty"`
	// Parent post, set if this post is a reply.
	ParentPostId Id `json:"parentPostId,omitempty"`
	// Root of the reply chain, if distinct from the parent.
	RootPostId     Id     `json:"rootPostId,omitempty"`
	SpecialMsgType string `json:"specialMsgType,omitempty"`

	Emojis      []Id         `json:"emojis,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`

	// Redundant, filled only for human-friendly output.
	UserName string `json:"userName,omitempty"`
	Misc     Misc   `json:"misc,omitempty"`
}

// Channel identity is the id; the remaining fields are refreshed
// opportunistically on every run.
type Channel struct {
	Id           Id          `json:"id"`
	InternalName string      `json:"internalName"`
	CreateTime   Time        `json:"createTime"`
	Type         ChannelType `json:"type"`
	// Approximate: the server does not subtract deleted messages.
	MessageCount int `json:"messageCount"`

	Name            string `json:"name,omitempty"`
	CreatorUserId   Id     `json:"creatorUserId,omitempty"`
	UpdateTime      Time   `json:"updateTime,omitempty"`
	DeleteTime      Time   `json:"deleteTime,omitempty"`
	Header          string `json:"header,omitempty"`
	Purpose         string `json:"purpose,omitempty"`
	LastMessageTime Time   `json:"lastMessageTime,omitempty"`

	// Members are loaded on demand for group channels; not persisted
	// with the header's channel record.
	Members []User `json:"-"`
	Misc    Misc   `json:"misc,omitempty"`
}

// Team scopes open and private channels.
type Team struct {
	Id           Id       `json:"id"`
	Name         string   `json:"name"`
	InternalName string   `json:"internalName"`
	Type         TeamType `json:"type"`
	CreateTime   Time     `json:"createTime"`
	UpdateTime   Time     `json:"updateTime,omitempty"`
	DeleteTime   Time     `json:"deleteTime,omitempty"`
	Description  string   `json:"description,omitempty"`
	InviteId     Id       `json:"inviteId,omitempty"`
	Misc         Misc     `json:"misc,omitempty"`

	// Channels known for this team, populated by the driver.
	Channels map[Id]*Channel `json:"-"`
}
