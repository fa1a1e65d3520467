package app

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"mmdump/internal/driver"
	"mmdump/internal/engine"
	"mmdump/internal/model"
)

// extensionForContentType guesses a file extension from a response
// content type, falling back to the subtype itself.
func extensionForContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	if i := strings.IndexByte(contentType, '/'); i >= 0 && i+1 < len(contentType) {
		return "." + contentType[i+1:]
	}
	return ""
}

// listFileStems indexes a directory's files by name without extension,
// so already-downloaded entities are recognized across runs.
func listFileStems(dir string) map[string]string {
	stems := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return stems
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		stems[strings.TrimSuffix(name, filepath.Ext(name))] = name
	}
	return stems
}

// storeFile downloads one API path into dir as filename plus a suffix,
// guessed from the content type when the caller has none. Files already
// present are not fetched again. Returns the stored file name.
func (a *App) storeFile(ctx context.Context, dir, filename, suffix, apiPath string, existing map[string]string) (string, error) {
	if strings.ContainsRune(filename, os.PathSeparator) || strings.ContainsRune(filename, '/') {
		return "", fmt.Errorf("refusing to store file with name %q", filename)
	}
	if name, ok := existing[filename]; ok {
		return name, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	contentType, err := a.client.Download(ctx, apiPath, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}

	if suffix == "" {
		suffix = extensionForContentType(contentType)
	}
	full := filename + suffix
	if err := os.Rename(tmpPath, filepath.Join(dir, full)); err != nil {
		return "", fmt.Errorf("storing downloaded file: %w", err)
	}
	success = true
	existing[filename] = full
	return full, nil
}

// downloadAttachments fetches a channel's accepted attachments into a
// sibling directory of the archive. Individual failures are logged and
// skipped; the archive itself is already safely on disk.
func (a *App) downloadAttachments(ctx context.Context, archiveName string, attachments []model.Attachment) {
	if len(attachments) == 0 {
		return
	}
	dir := filepath.Join(a.store.Dir(), archiveName+"--files")
	existing := listFileStems(dir)
	for _, att := range attachments {
		suffix := filepath.Ext(att.Name)
		if _, err := a.storeFile(ctx, dir, string(att.Id), suffix, driver.AttachmentPath(att.Id), existing); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("attachment download failed", "attachment", att.Id, "name", att.Name, "error", err)
		}
	}
	a.logger.Info("processed attachments", "archive", archiveName, "count", len(attachments))
}

// downloadEmojiImages fetches custom emoji images into the shared
// emojis directory. Returns the stored file name per emoji id.
func (a *App) downloadEmojiImages(ctx context.Context, emojis []model.Emoji) map[model.Id]string {
	stored := make(map[model.Id]string)
	if len(emojis) == 0 {
		return stored
	}
	dir := filepath.Join(a.store.Dir(), "emojis")
	existing := listFileStems(dir)
	for _, e := range emojis {
		name, err := a.storeFile(ctx, dir, e.Name, "", driver.EmojiImagePath(e.Id), existing)
		if err != nil {
			if ctx.Err() != nil {
				return stored
			}
			a.logger.Warn("emoji image download failed", "emoji", e.Name, "error", err)
			continue
		}
		stored[e.Id] = name
	}
	a.logger.Info("processed emoji images", "count", len(emojis))
	return stored
}

// downloadAvatars fetches profile images of the given users into the
// shared avatars directory. Returns the stored file name per user id.
func (a *App) downloadAvatars(ctx context.Context, users []model.User) map[model.Id]string {
	stored := make(map[model.Id]string)
	if len(users) == 0 {
		return stored
	}
	dir := filepath.Join(a.store.Dir(), "avatars")
	existing := listFileStems(dir)
	for _, u := range users {
		name, err := a.storeFile(ctx, dir, u.Name, "", driver.AvatarPath(u.Id), existing)
		if err != nil {
			if ctx.Err() != nil {
				return stored
			}
			a.logger.Warn("avatar download failed", "user", u.Name, "error", err)
			continue
		}
		stored[u.Id] = name
	}
	a.logger.Info("processed user avatars", "count", len(users))
	return stored
}

// updateHeaderFileNames records where downloaded avatars and emoji
// images ended up, so the archive header points at them.
func (a *App) updateHeaderFileNames(archiveName string, avatars, emojiImages map[model.Id]string) error {
	if len(avatars) == 0 && len(emojiImages) == 0 {
		return nil
	}
	archive, err := a.store.Open(archiveName)
	if err != nil {
		return fmt.Errorf("reopening archive %q: %w", archiveName, err)
	}
	defer archive.Close()

	header := archive.Header()
	for i := range header.Users {
		if name, ok := avatars[header.Users[i].Id]; ok {
			header.Users[i].AvatarFileName = name
		}
	}
	for i := range header.Emojis {
		if name, ok := emojiImages[header.Emojis[i].Id]; ok {
			header.Emojis[i].ImageFileName = name
		}
	}
	return archive.WriteHeader(header)
}

// postProcess runs the per-channel downloads a finished sync calls for.
func (a *App) postProcess(ctx context.Context, run engine.ChannelRun, summary *engine.Summary) {
	if summary.Action == engine.ActionSkip {
		return
	}

	a.downloadAttachments(ctx, summary.Name, summary.Attachments)

	var emojiImages map[model.Id]string
	if run.Request.DownloadEmoji && !a.cfg.DownloadAllEmojis {
		emojiImages = a.downloadEmojiImages(ctx, summary.Emojis)
	}

	var avatars map[model.Id]string
	if run.Request.DownloadAvatars {
		avatars = a.downloadAvatars(ctx, summary.Users)
	}

	if err := a.updateHeaderFileNames(summary.Name, avatars, emojiImages); err != nil {
		a.logger.Warn("recording downloaded file names failed", "archive", summary.Name, "error", err)
	}
}
