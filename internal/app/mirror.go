package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mmdump/internal/encryption"
)

// encryptedSuffix marks mirror objects that went through the encryptor.
const encryptedSuffix = ".age"

// MirrorPush uploads every archive file pair to the configured mirror,
// encrypting first when the config says so. Returns the object names
// pushed.
func (a *App) MirrorPush(ctx context.Context) ([]string, error) {
	if a.mirror == nil {
		return nil, fmt.Errorf("no mirror configured")
	}
	if a.cfg.Mirror.Encrypt && !a.encryptor.IsConfigured() {
		return nil, fmt.Errorf("mirror encryption enabled but no keys exist, run keys setup first")
	}
	if err := a.mirror.ValidateSetup(ctx); err != nil {
		return nil, err
	}

	names, err := a.store.List()
	if err != nil {
		return nil, err
	}

	var pushed []string
	for _, name := range names {
		for _, file := range []string{name + ".meta.json", name + ".data.json"} {
			object, err := a.pushFile(ctx, file)
			if err != nil {
				return pushed, err
			}
			if object != "" {
				pushed = append(pushed, object)
			}
		}
	}
	return pushed, nil
}

// pushFile uploads one archive file, returning the object name used, or
// empty when the file does not exist (a header-only archive has an
// empty but present data file, so this covers only exotic cases).
func (a *App) pushFile(ctx context.Context, file string) (string, error) {
	f, err := os.Open(filepath.Join(a.store.Dir(), file))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("opening %s for push: %w", file, err)
	}
	defer f.Close()

	if !a.cfg.Mirror.Encrypt {
		if err := a.mirror.Put(ctx, file, f); err != nil {
			return "", err
		}
		return file, nil
	}

	object := file + encryptedSuffix
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(a.encryptor.Encrypt(f, pw))
	}()
	if err := a.mirror.Put(ctx, object, pr); err != nil {
		pr.CloseWithError(err)
		return "", err
	}
	return object, nil
}

// MirrorFetch downloads every mirror object into the archive directory,
// decrypting encrypted objects with the passphrase-unlocked key.
// Existing local files are overwritten. Returns the local file names.
func (a *App) MirrorFetch(ctx context.Context, passphrase string) ([]string, error) {
	if a.mirror == nil {
		return nil, fmt.Errorf("no mirror configured")
	}

	objects, err := a.mirror.List(ctx)
	if err != nil {
		return nil, err
	}

	var decctx encryption.DecryptionContext
	var fetched []string
	for _, object := range objects {
		local := object
		encrypted := strings.HasSuffix(object, encryptedSuffix)
		if encrypted {
			local = strings.TrimSuffix(object, encryptedSuffix)
			if decctx == nil {
				decctx, err = a.encryptor.Unlock(passphrase)
				if err != nil {
					return fetched, fmt.Errorf("unlocking private key: %w", err)
				}
			}
		}

		if err := a.fetchObject(ctx, object, local, decctx); err != nil {
			return fetched, err
		}
		fetched = append(fetched, local)
	}
	return fetched, nil
}

func (a *App) fetchObject(ctx context.Context, object, local string, decctx encryption.DecryptionContext) error {
	tmp, err := os.CreateTemp(a.store.Dir(), ".tmp-fetch-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if decctx == nil {
		err = a.mirror.Get(ctx, object, tmp)
	} else {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(a.mirror.Get(ctx, object, pw))
		}()
		err = decctx.Decrypt(pr, tmp)
		pr.CloseWithError(err)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("fetching mirror object %q: %w", object, err)
	}

	if err := os.Rename(tmpPath, filepath.Join(a.store.Dir(), local)); err != nil {
		return fmt.Errorf("storing fetched file %q: %w", local, err)
	}
	success = true
	return nil
}
