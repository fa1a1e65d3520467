// Package driver talks to a Mattermost server over its v4 REST API and
// translates wire records into archive entities. It implements the
// engine's fetch port.
package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"mmdump/internal/engine"
	"mmdump/internal/model"
)

const apiPrefix = "/api/v4/"

// Options configure the connection to one Mattermost server.
type Options struct {
	// ServerURL is the base URL, scheme included, without the API path.
	ServerURL string
	// Token authenticates directly when set; otherwise Login must be
	// called with Username and Password first.
	Token    string
	Username string
	Password string
	// Timeout bounds each HTTP request. Zero means no timeout.
	Timeout time.Duration
}

// Client is a Mattermost API client with per-run caches for users,
// teams and emojis. Safe for concurrent use.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger engine.Logger

	mu        sync.Mutex
	localUser *model.User
	users     map[model.Id]*model.User
	teams     map[model.Id]*model.Team
	teamOrder []model.Id
	emojis    map[model.Id]*model.Emoji
	emojisAll bool
}

func NewClient(opts Options, logger engine.Logger) *Client {
	return &Client{
		base:   strings.TrimSuffix(opts.ServerURL, "/"),
		token:  opts.Token,
		http:   &http.Client{Timeout: opts.Timeout},
		logger: logger,
		users:  make(map[model.Id]*model.User),
		teams:  make(map[model.Id]*model.Team),
		emojis: make(map[model.Id]*model.Emoji),
	}
}

// Login exchanges credentials for a session token. Not needed when a
// personal access token was supplied.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body, err := json.Marshal(map[string]string{
		"login_id": username,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("encoding login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+apiPrefix+"users/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: "users/login", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError("users/login", resp)
	}

	token := resp.Header.Get("Token")
	if token == "" {
		return errors.New("login response carried no session token")
	}
	c.token = token
	return nil
}

// get performs an authenticated GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.getRaw(ctx, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) getRaw(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	u := c.base + apiPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", path, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: path, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, responseError(path, resp)
	}
	return resp, nil
}

// Download streams the file behind an API path into w and reports the
// response content type. Used for attachments, emoji images and avatars.
func (c *Client) Download(ctx context.Context, path string, w io.Writer) (string, error) {
	resp, err := c.getRaw(ctx, path, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", &TransportError{Op: path, Err: err}
	}
	return resp.Header.Get("Content-Type"), nil
}

// AttachmentPath returns the API path serving an attachment's content.
func AttachmentPath(id model.Id) string { return "files/" + string(id) }

// EmojiImagePath returns the API path serving a custom emoji's image.
func EmojiImagePath(id model.Id) string { return "emoji/" + string(id) + "/image" }

// AvatarPath returns the API path serving a user's profile image.
func AvatarPath(id model.Id) string { return "users/" + string(id) + "/image" }
