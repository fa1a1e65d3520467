// Package app is the application layer between the CLI and the sync
// engine. It constructs all dependencies from config, exposes the
// high-level commands, and manages resource lifecycles on Close.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"mmdump/internal/config"
	"mmdump/internal/driver"
	"mmdump/internal/encryption"
	"mmdump/internal/engine"
	"mmdump/internal/journal"
	"mmdump/internal/mirror"
	"mmdump/internal/store"
)

// App wires the Mattermost client, archive store, journal, mirror and
// encryptor together. The caller must call Close when done.
type App struct {
	cfg       *config.Config
	client    *driver.Client
	store     *store.Store
	journal   journal.Journal
	mirror    mirror.Mirror
	encryptor encryption.Encryptor
	engine    *engine.Engine
	logger    engine.Logger
	logFile   *os.File
	clock     engine.Clock
	runID     string
}

// NewApp creates a fully wired App from the given config. Logs go to
// logDir tagged with a fresh run id.
func NewApp(ctx context.Context, cfg *config.Config, logDir string) (*App, error) {
	runID := engine.UUIDGenerator{}.New()

	logger, logFile, err := newLogger(logDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	st, err := store.NewStore(cfg.Output.Directory)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating archive store: %w", err)
	}

	jnl, err := journal.NewJournalFromConfig(cfg.Journal.Type, cfg.Journal.DataDir)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating journal: %w", err)
	}

	mir, err := mirror.NewMirrorFromConfig(ctx, cfg.Mirror)
	if err != nil {
		jnl.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating mirror: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		jnl.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	client := driver.NewClient(driver.Options{
		ServerURL: cfg.Connection.ServerURL,
		Token:     cfg.Connection.Token,
		Username:  cfg.Connection.Username,
		Password:  cfg.Connection.Password,
		Timeout:   time.Duration(cfg.Connection.TimeoutSeconds) * time.Second,
	}, log)

	eng := engine.New(st, client, client, log, engine.PlannerOptions{
		BatchSize:     cfg.Throttling.BatchSize,
		Throttle:      time.Duration(cfg.Throttling.LoopDelayMs) * time.Millisecond,
		RetryAttempts: cfg.Throttling.RetryAttempts,
		RetryBackoff:  time.Duration(cfg.Throttling.RetryBackoffMs) * time.Millisecond,
	})

	return &App{
		cfg:       cfg,
		client:    client,
		store:     st,
		journal:   jnl,
		mirror:    mir,
		encryptor: enc,
		engine:    eng,
		logger:    log,
		logFile:   logFile,
		clock:     engine.RealClock{},
		runID:     runID,
	}, nil
}

// RunID identifies this app instance in logs and the journal.
func (a *App) RunID() string { return a.runID }

// ArchiveStatus summarizes one stored archive for the status command.
type ArchiveStatus struct {
	Name         string
	Channel      string
	Organization store.PostOrdering
	Count        int
	ByteSize     int64
	// Problem is non-empty when the archive fails verification.
	Problem string
}

// Status lists every archive in the store with its header summary.
func (a *App) Status() ([]ArchiveStatus, error) {
	names, err := a.store.List()
	if err != nil {
		return nil, err
	}

	out := make([]ArchiveStatus, 0, len(names))
	for _, name := range names {
		st := ArchiveStatus{Name: name}
		header, err := a.store.ReadHeader(name)
		if err != nil {
			st.Problem = err.Error()
			out = append(out, st)
			continue
		}
		st.Channel = header.Channel.InternalName
		st.Organization = header.Storage.Organization
		st.Count = header.Storage.Count
		st.ByteSize = header.Storage.ByteSize
		if err := a.store.Verify(name); err != nil {
			st.Problem = err.Error()
		}
		out = append(out, st)
	}
	return out, nil
}

// VerifyResult is one archive's verification outcome.
type VerifyResult struct {
	Name string
	Err  error
}

// Verify checks the header byte-size invariant of every stored archive.
func (a *App) Verify() ([]VerifyResult, error) {
	names, err := a.store.List()
	if err != nil {
		return nil, err
	}
	out := make([]VerifyResult, 0, len(names))
	for _, name := range names {
		out = append(out, VerifyResult{Name: name, Err: a.store.Verify(name)})
	}
	return out, nil
}

// History returns the most recent runs from the journal, newest first.
func (a *App) History(ctx context.Context, limit int) ([]journal.Run, error) {
	return a.journal.Runs(ctx, limit)
}

// RunChannels returns the channel records of one past run.
func (a *App) RunChannels(ctx context.Context, runID string) ([]journal.ChannelRecord, error) {
	return a.journal.Channels(ctx, runID)
}

// SetupKeys generates the encryption key pair, protecting the private
// key with the passphrase. Refuses to overwrite existing keys.
func (a *App) SetupKeys(passphrase string) error {
	if a.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys already exist")
	}
	return a.encryptor.Setup(passphrase)
}

// Close releases the journal and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.journal.Close(); err != nil {
		firstErr = fmt.Errorf("closing journal: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
