// Package config reads and validates mmdump's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for mmdump.
type Config struct {
	Connection Connection `toml:"connection"`
	Throttling Throttling `toml:"throttling"`
	Output     Output     `toml:"output"`
	Journal    Journal    `toml:"journal"`
	Mirror     Mirror     `toml:"mirror"`
	Encryption Encryption `toml:"encryption"`

	// Nil pointers mean "download everything of that kind", matching
	// an absent key.
	DownloadTeams         *bool `toml:"download_teams"`
	DownloadUserChannels  *bool `toml:"download_user_channels"`
	DownloadGroupChannels *bool `toml:"download_group_channels"`
	// DownloadAllEmojis fetches the server's whole custom emoji list
	// with images, independent of per-channel emoji settings.
	DownloadAllEmojis bool `toml:"download_emojis"`

	DefaultChannelOptions *ChannelOptions `toml:"default_channel_options"`
	DirectChannelOptions  *ChannelOptions `toml:"direct_channel_options"`
	GroupChannelOptions   *ChannelOptions `toml:"group_channel_options"`
	PrivateChannelOptions *ChannelOptions `toml:"private_channel_options"`
	PublicChannelOptions  *ChannelOptions `toml:"public_channel_options"`

	Teams  []TeamSpec  `toml:"teams"`
	Users  []UserSpec  `toml:"users"`
	Groups []GroupSpec `toml:"groups"`
}

// Connection identifies the Mattermost server and credentials. Password
// and token may instead come from MATTERMOST_PASSWORD and
// MATTERMOST_TOKEN; an empty password with no token triggers an
// interactive prompt.
type Connection struct {
	ServerURL      string `toml:"server_url"`
	Username       string `toml:"username"`
	Password       string `toml:"password,omitempty"`
	Token          string `toml:"token,omitempty"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Throttling paces requests against the server's rate limits.
type Throttling struct {
	// LoopDelayMs is slept after every fetched page.
	LoopDelayMs int `toml:"loop_delay_ms"`
	// BatchSize is the page size requested from the server.
	BatchSize int `toml:"batch_size"`
	// RetryAttempts and RetryBackoffMs govern transient failure retries.
	RetryAttempts  int `toml:"retry_attempts"`
	RetryBackoffMs int `toml:"retry_backoff_ms"`
}

// Output locates the archive directory tree.
type Output struct {
	Directory string `toml:"directory"`
}

// Journal configures the run journal database.
// The Type field determines which other fields are relevant.
type Journal struct {
	Type    string `toml:"type"`               // "sqlite" (default) or "none"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// Mirror configures the off-site copy of finished archives.
// The Type field determines which other fields are relevant.
type Mirror struct {
	Type string `toml:"type"` // "none" (default), "memory", "filesystem" or "s3"

	// Encrypt runs each mirrored file through age before upload.
	Encrypt bool `toml:"encrypt"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3"). Leaving the
	// static credentials empty falls back to the default AWS credential
	// chain (environment, shared config, instance role).
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3AccessKeyId     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// Encryption holds paths to the age key pair used for mirror encryption.
type Encryption struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// EntityLocator names a team, channel or user by exactly one of its
// identifiers.
type EntityLocator struct {
	Id           string `toml:"id,omitempty"`
	Name         string `toml:"name,omitempty"`
	InternalName string `toml:"internal_name,omitempty"`
}

func (l EntityLocator) Validate() error {
	set := 0
	for _, v := range []string{l.Id, l.Name, l.InternalName} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("locator must set exactly one of id, name, internal_name, got %d", set)
	}
	return nil
}

func (l EntityLocator) String() string {
	switch {
	case l.Id != "":
		return "id:" + l.Id
	case l.InternalName != "":
		return "internal:" + l.InternalName
	default:
		return "name:" + l.Name
	}
}

// UserSpec selects one direct channel by the peer user.
type UserSpec struct {
	User    EntityLocator   `toml:"user"`
	Options *ChannelOptions `toml:"options"`
}

// GroupSpec selects one group channel, either by its channel id or by
// the set of member users.
type GroupSpec struct {
	Group   string          `toml:"group,omitempty"`
	Members []EntityLocator `toml:"members,omitempty"`
	Options *ChannelOptions `toml:"options"`
}

func (g GroupSpec) Validate() error {
	if (g.Group == "") == (len(g.Members) == 0) {
		return errors.New("group spec must set exactly one of group, members")
	}
	for _, m := range g.Members {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ChannelSpec selects one channel within a team.
type ChannelSpec struct {
	Channel EntityLocator   `toml:"channel"`
	Options *ChannelOptions `toml:"options"`
}

// TeamSpec selects a team and the channels to archive in it.
type TeamSpec struct {
	Team EntityLocator `toml:"team"`

	// Nil means "download the channels not explicitly listed too".
	DownloadPublicChannels  *bool `toml:"download_public_channels"`
	DownloadPrivateChannels *bool `toml:"download_private_channels"`

	DefaultChannelOptions *ChannelOptions `toml:"default_channel_options"`
	PublicChannelOptions  *ChannelOptions `toml:"public_channel_options"`
	PrivateChannelOptions *ChannelOptions `toml:"private_channel_options"`

	PublicChannels  []ChannelSpec `toml:"public_channels"`
	PrivateChannels []ChannelSpec `toml:"private_channels"`
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// NewConfig creates a Config with defaults rooted under baseDir.
func NewConfig(serverURL, baseDir string) *Config {
	return &Config{
		Connection: Connection{ServerURL: serverURL},
		Throttling: Throttling{LoopDelayMs: 200, BatchSize: 100, RetryAttempts: 3, RetryBackoffMs: 2000},
		Output:     Output{Directory: filepath.Join(baseDir, "archives")},
		Journal:    Journal{Type: "sqlite", DataDir: filepath.Join(baseDir, "journal")},
		Mirror:     Mirror{Type: "none"},
		Encryption: Encryption{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "mmdump.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "mmdump.key"),
		},
	}
}

// ReadFromFile reads a Config from the specified file path and applies
// environment credential overrides.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if c.Connection.Username == "" {
		c.Connection.Username = os.Getenv("MATTERMOST_USER")
	}
	if c.Connection.Password == "" {
		c.Connection.Password = os.Getenv("MATTERMOST_PASSWORD")
	}
	if c.Connection.Token == "" {
		c.Connection.Token = os.Getenv("MATTERMOST_TOKEN")
	}
}

// Validate checks the parts that cannot wait until first use.
func (c *Config) Validate() error {
	if c.Connection.ServerURL == "" {
		return errors.New("connection.server_url is required")
	}
	if c.Connection.Token == "" && c.Connection.Username == "" {
		return errors.New("connection needs a token or a username")
	}
	for i, t := range c.Teams {
		if err := t.Team.Validate(); err != nil {
			return fmt.Errorf("teams[%d]: %w", i, err)
		}
		for j, ch := range t.PublicChannels {
			if err := ch.Channel.Validate(); err != nil {
				return fmt.Errorf("teams[%d].public_channels[%d]: %w", i, j, err)
			}
		}
		for j, ch := range t.PrivateChannels {
			if err := ch.Channel.Validate(); err != nil {
				return fmt.Errorf("teams[%d].private_channels[%d]: %w", i, j, err)
			}
		}
	}
	for i, u := range c.Users {
		if err := u.User.Validate(); err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
	}
	for i, g := range c.Groups {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("groups[%d]: %w", i, err)
		}
	}
	return nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path, refusing to
// overwrite an existing one.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
