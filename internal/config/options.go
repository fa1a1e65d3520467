package config

import (
	"mmdump/internal/engine"
	"mmdump/internal/model"
)

// ChannelOptions is one option block. Option blocks do not merge field
// by field: for each channel the most specific applicable block wins
// outright and less specific blocks are ignored entirely.
type ChannelOptions struct {
	AfterPost  string `toml:"after_post,omitempty"`
	BeforePost string `toml:"before_post,omitempty"`
	// Times are unix timestamps in milliseconds.
	AfterTime  int64 `toml:"after_time,omitempty"`
	BeforeTime int64 `toml:"before_time,omitempty"`

	// Nil means unlimited. Zero is allowed and fetches only channel
	// metadata.
	MaximumPostCount *int `toml:"maximum_post_count"`
	SessionPostLimit *int `toml:"session_post_limit"`

	// Nil defaults to true: ascending archives are the only kind that
	// can be extended on later runs.
	DownloadFromOldest *bool `toml:"download_from_oldest"`

	// "update" (default), "skip", "backup" or "delete".
	OnExistingCompatible string `toml:"on_existing_compatible,omitempty"`
	// "backup" (default), "skip" or "delete".
	OnExistingIncompatible string `toml:"on_existing_incompatible,omitempty"`

	Attachments AttachmentOptions `toml:"attachments"`
	Emojis      EmojiOptions      `toml:"emojis"`
	Avatars     AvatarOptions     `toml:"avatars"`
}

// AttachmentOptions control file downloads alongside post metadata.
type AttachmentOptions struct {
	Download bool `toml:"download"`
	// MaxSize in bytes; 0 means no limit.
	MaxSize          int64    `toml:"max_size"`
	AllowedMimeTypes []string `toml:"allowed_mime_types,omitempty"`
}

// EmojiOptions control custom emoji handling for posts.
type EmojiOptions struct {
	// Metadata keeps emoji records in the archive header.
	Metadata bool `toml:"metadata"`
	// Download additionally fetches the emoji images.
	Download bool `toml:"download"`
}

// AvatarOptions control profile image downloads for posting users.
type AvatarOptions struct {
	Download bool `toml:"download"`
}

// Request converts the block into a resolved engine request. A nil
// receiver yields the built-in defaults.
func (o *ChannelOptions) Request() engine.Request {
	req := engine.Request{
		MaximumPostCount:       engine.Unlimited,
		SessionPostLimit:       engine.Unlimited,
		DownloadFromOldest:     true,
		OnExistingCompatible:   engine.ExistingUpdate,
		OnExistingIncompatible: engine.ExistingBackup,
	}
	if o == nil {
		return req
	}

	req.AfterPost = model.Id(o.AfterPost)
	req.BeforePost = model.Id(o.BeforePost)
	req.AfterTime = model.Time(o.AfterTime)
	req.BeforeTime = model.Time(o.BeforeTime)
	if o.MaximumPostCount != nil {
		req.MaximumPostCount = *o.MaximumPostCount
	}
	if o.SessionPostLimit != nil {
		req.SessionPostLimit = *o.SessionPostLimit
	}
	if o.DownloadFromOldest != nil {
		req.DownloadFromOldest = *o.DownloadFromOldest
	}
	if o.OnExistingCompatible != "" {
		req.OnExistingCompatible = engine.ExistingAction(o.OnExistingCompatible)
	}
	if o.OnExistingIncompatible != "" {
		req.OnExistingIncompatible = engine.ExistingAction(o.OnExistingIncompatible)
	}
	req.DownloadAttachments = o.Attachments.Download
	req.AttachmentMaxByteSize = o.Attachments.MaxSize
	req.AttachmentMimeTypes = o.Attachments.AllowedMimeTypes
	req.EmojiMetadata = o.Emojis.Metadata
	req.DownloadEmoji = o.Emojis.Download
	req.DownloadAvatars = o.Avatars.Download
	return req
}

// pick returns the first non-nil block, most specific first.
func pick(blocks ...*ChannelOptions) *ChannelOptions {
	for _, b := range blocks {
		if b != nil {
			return b
		}
	}
	return nil
}

// DirectOptions resolves the effective block for a direct channel,
// optionally overridden per user spec.
func (c *Config) DirectOptions(spec *ChannelOptions) *ChannelOptions {
	return pick(spec, c.DirectChannelOptions, c.DefaultChannelOptions)
}

// GroupOptions resolves the effective block for a group channel.
func (c *Config) GroupOptions(spec *ChannelOptions) *ChannelOptions {
	return pick(spec, c.GroupChannelOptions, c.DefaultChannelOptions)
}

// PublicOptions resolves the effective block for a public team channel.
func (c *Config) PublicOptions(team *TeamSpec, spec *ChannelOptions) *ChannelOptions {
	var teamPublic, teamDefault *ChannelOptions
	if team != nil {
		teamPublic, teamDefault = team.PublicChannelOptions, team.DefaultChannelOptions
	}
	return pick(spec, teamPublic, teamDefault, c.PublicChannelOptions, c.DefaultChannelOptions)
}

// PrivateOptions resolves the effective block for a private team channel.
func (c *Config) PrivateOptions(team *TeamSpec, spec *ChannelOptions) *ChannelOptions {
	var teamPrivate, teamDefault *ChannelOptions
	if team != nil {
		teamPrivate, teamDefault = team.PrivateChannelOptions, team.DefaultChannelOptions
	}
	return pick(spec, teamPrivate, teamDefault, c.PrivateChannelOptions, c.DefaultChannelOptions)
}
