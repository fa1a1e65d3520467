package config

import (
	"strings"
	"testing"
)

const sampleConfig = `
download_teams = false
download_emojis = true

[connection]
server_url = "https://chat.example.com"
username = "alice"
timeout_seconds = 30

[throttling]
loop_delay_ms = 100
batch_size = 50

[default_channel_options]
maximum_post_count = 500
[default_channel_options.attachments]
download = true
max_size = 1048576
allowed_mime_types = ["image/png", "image/jpeg"]

[[users]]
user = { name = "bob" }

[[groups]]
group = "grp1"

[[teams]]
team = { internal_name = "eng" }
download_private_channels = false

[[teams.public_channels]]
channel = { internal_name = "town-square" }
[teams.public_channels.options]
session_post_limit = 10
`

func TestManagerRead(t *testing.T) {
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(sampleConfig))
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}

	if cfg.Connection.ServerURL != "https://chat.example.com" {
		t.Errorf("ServerURL = %q", cfg.Connection.ServerURL)
	}
	if cfg.Connection.TimeoutSeconds != 30 {
		t.Errorf("TimeoutSeconds = %d, want 30", cfg.Connection.TimeoutSeconds)
	}
	if cfg.Throttling.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", cfg.Throttling.BatchSize)
	}
	if cfg.DownloadTeams == nil || *cfg.DownloadTeams {
		t.Errorf("DownloadTeams = %v, want explicit false", cfg.DownloadTeams)
	}
	// Absent keys stay nil so defaults can tell "unset" from "false".
	if cfg.DownloadUserChannels != nil {
		t.Errorf("DownloadUserChannels = %v, want nil", cfg.DownloadUserChannels)
	}
	if !cfg.DownloadAllEmojis {
		t.Error("DownloadAllEmojis = false, want true")
	}

	opts := cfg.DefaultChannelOptions
	if opts == nil {
		t.Fatal("DefaultChannelOptions not decoded")
	}
	if opts.MaximumPostCount == nil || *opts.MaximumPostCount != 500 {
		t.Errorf("MaximumPostCount = %v, want 500", opts.MaximumPostCount)
	}
	if !opts.Attachments.Download || opts.Attachments.MaxSize != 1048576 {
		t.Errorf("Attachments = %+v", opts.Attachments)
	}
	if len(opts.Attachments.AllowedMimeTypes) != 2 {
		t.Errorf("AllowedMimeTypes = %v", opts.Attachments.AllowedMimeTypes)
	}

	if len(cfg.Users) != 1 || cfg.Users[0].User.Name != "bob" {
		t.Errorf("Users = %+v", cfg.Users)
	}
	if len(cfg.Groups) != 1 || cfg.Groups[0].Group != "grp1" {
		t.Errorf("Groups = %+v", cfg.Groups)
	}
	if len(cfg.Teams) != 1 {
		t.Fatalf("Teams = %+v", cfg.Teams)
	}
	team := cfg.Teams[0]
	if team.Team.InternalName != "eng" {
		t.Errorf("team locator = %+v", team.Team)
	}
	if team.DownloadPrivateChannels == nil || *team.DownloadPrivateChannels {
		t.Errorf("DownloadPrivateChannels = %v, want explicit false", team.DownloadPrivateChannels)
	}
	if len(team.PublicChannels) != 1 {
		t.Fatalf("PublicChannels = %+v", team.PublicChannels)
	}
	chOpts := team.PublicChannels[0].Options
	if chOpts == nil || chOpts.SessionPostLimit == nil || *chOpts.SessionPostLimit != 10 {
		t.Errorf("channel options = %+v", chOpts)
	}
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig("https://chat.example.com", "/data/mmdump")

	if cfg.Connection.ServerURL != "https://chat.example.com" {
		t.Errorf("ServerURL = %q", cfg.Connection.ServerURL)
	}
	if cfg.Throttling.BatchSize != 100 || cfg.Throttling.RetryAttempts != 3 {
		t.Errorf("Throttling = %+v", cfg.Throttling)
	}
	if cfg.Output.Directory != "/data/mmdump/archives" {
		t.Errorf("Output.Directory = %q", cfg.Output.Directory)
	}
	if cfg.Journal.Type != "sqlite" || cfg.Journal.DataDir != "/data/mmdump/journal" {
		t.Errorf("Journal = %+v", cfg.Journal)
	}
	if cfg.Mirror.Type != "none" {
		t.Errorf("Mirror.Type = %q, want none", cfg.Mirror.Type)
	}
	if cfg.Encryption.Type != "age" {
		t.Errorf("Encryption.Type = %q, want age", cfg.Encryption.Type)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(sampleConfig))
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}

	var buf strings.Builder
	if err := m.Write(&buf, cfg); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	again, err := m.Read(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("Read() of re-encoded config error: %v", err)
	}
	if again.Connection.ServerURL != cfg.Connection.ServerURL {
		t.Errorf("ServerURL changed across round trip: %q", again.Connection.ServerURL)
	}
	if len(again.Teams) != 1 || len(again.Teams[0].PublicChannels) != 1 {
		t.Errorf("team specs lost across round trip: %+v", again.Teams)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing server url", mutate: func(c *Config) { c.Connection.ServerURL = "" }, wantErr: true},
		{name: "no credentials", mutate: func(c *Config) { c.Connection.Username = "" }, wantErr: true},
		{name: "token alone suffices", mutate: func(c *Config) {
			c.Connection.Username = ""
			c.Connection.Token = "tok"
		}},
		{name: "empty locator", mutate: func(c *Config) {
			c.Users = append(c.Users, UserSpec{})
		}, wantErr: true},
		{name: "overdetermined locator", mutate: func(c *Config) {
			c.Teams = append(c.Teams, TeamSpec{Team: EntityLocator{Id: "t1", Name: "Eng"}})
		}, wantErr: true},
		{name: "group with both forms", mutate: func(c *Config) {
			c.Groups = append(c.Groups, GroupSpec{Group: "g1", Members: []EntityLocator{{Name: "bob"}}})
		}, wantErr: true},
		{name: "group with neither form", mutate: func(c *Config) {
			c.Groups = append(c.Groups, GroupSpec{})
		}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("https://chat.example.com", t.TempDir())
			cfg.Connection.Username = "alice"
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvFillsMissingCredentials(t *testing.T) {
	t.Setenv("MATTERMOST_USER", "envuser")
	t.Setenv("MATTERMOST_PASSWORD", "envpass")
	t.Setenv("MATTERMOST_TOKEN", "envtok")

	cfg := NewConfig("https://chat.example.com", t.TempDir())
	cfg.applyEnv()
	if cfg.Connection.Username != "envuser" || cfg.Connection.Password != "envpass" || cfg.Connection.Token != "envtok" {
		t.Errorf("Connection = %+v, want env values", cfg.Connection)
	}

	// Explicit config values win over the environment.
	cfg = NewConfig("https://chat.example.com", t.TempDir())
	cfg.Connection.Username = "alice"
	cfg.Connection.Token = "filetok"
	cfg.applyEnv()
	if cfg.Connection.Username != "alice" || cfg.Connection.Token != "filetok" {
		t.Errorf("Connection = %+v, want file values kept", cfg.Connection)
	}
}

func TestEntityLocatorString(t *testing.T) {
	tests := []struct {
		loc  EntityLocator
		want string
	}{
		{EntityLocator{Id: "abc"}, "id:abc"},
		{EntityLocator{InternalName: "town-square"}, "internal:town-square"},
		{EntityLocator{Name: "Town Square"}, "name:Town Square"},
	}
	for _, tt := range tests {
		if got := tt.loc.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
