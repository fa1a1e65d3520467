// Package journal records what every run did: one row per run and one
// row per channel touched, so later runs and the history command can
// see what happened before.
package journal

import (
	"context"
	"time"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one invocation of the sync command.
type Run struct {
	Id         string
	ServerURL  string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     string
}

// ChannelRecord is the outcome of one channel within a run.
type ChannelRecord struct {
	RunId       string
	ArchiveName string
	ChannelId   string
	Action      string
	StopReason  string
	Reason      string
	Written     int
	Skipped     int
	// PostCount is the archive's total after the run.
	PostCount int
	Error     string
}

// Journal persists run outcomes. Implementations must tolerate being
// called from a run that later fails: partial records are fine.
type Journal interface {
	BeginRun(ctx context.Context, run Run) error
	RecordChannel(ctx context.Context, rec ChannelRecord) error
	FinishRun(ctx context.Context, id, status string, finishedAt time.Time) error

	// Runs returns the most recent runs, newest first.
	Runs(ctx context.Context, limit int) ([]Run, error)
	// Channels returns a run's channel records in insertion order.
	Channels(ctx context.Context, runID string) ([]ChannelRecord, error)

	Close() error
}

// Nop discards everything. Used when the journal is configured off.
type Nop struct{}

func (Nop) BeginRun(context.Context, Run) error                        { return nil }
func (Nop) RecordChannel(context.Context, ChannelRecord) error         { return nil }
func (Nop) FinishRun(context.Context, string, string, time.Time) error { return nil }
func (Nop) Runs(context.Context, int) ([]Run, error)                   { return nil, nil }
func (Nop) Channels(context.Context, string) ([]ChannelRecord, error)  { return nil, nil }
func (Nop) Close() error                                               { return nil }
