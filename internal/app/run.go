package app

import (
	"context"
	"fmt"

	"mmdump/internal/engine"
	"mmdump/internal/journal"
	"mmdump/internal/model"
)

// RunReport is what one full sync run did, channel by channel.
type RunReport struct {
	RunId     string
	Summaries []*engine.Summary
	// Failed counts channels that ended with an error. The run keeps
	// going past them; channels are independent.
	Failed int
}

// Sync performs a full run: authenticate, select the configured
// channels, bring each archive up to date, download the requested
// files, and push to the mirror. Every channel outcome lands in the
// journal whether the run finishes or not.
func (a *App) Sync(ctx context.Context) (*RunReport, error) {
	if a.cfg.Connection.Token == "" {
		a.logger.Info("logging in", "user", a.cfg.Connection.Username)
		if err := a.client.Login(ctx, a.cfg.Connection.Username, a.cfg.Connection.Password); err != nil {
			return nil, fmt.Errorf("logging in: %w", err)
		}
	}

	me, err := a.client.LocalUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving local user: %w", err)
	}

	a.logger.Info("collecting team metadata")
	teams, err := a.client.Teams(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	if len(teams) == 0 {
		return nil, fmt.Errorf("user %s is not a member of any team", me.Name)
	}

	a.logger.Info("collecting channel metadata")
	for _, team := range teams {
		if err := a.client.LoadChannels(ctx, team); err != nil {
			return nil, fmt.Errorf("listing channels of team %s: %w", team.InternalName, err)
		}
	}

	if err := a.journal.BeginRun(ctx, journal.Run{
		Id:        a.runID,
		ServerURL: a.cfg.Connection.ServerURL,
		StartedAt: a.clock.Now(),
		Status:    journal.StatusRunning,
	}); err != nil {
		return nil, fmt.Errorf("recording run start: %w", err)
	}

	report, err := a.syncChannels(ctx, teams)

	status := journal.StatusCompleted
	if err != nil || (report != nil && report.Failed > 0) {
		status = journal.StatusFailed
	}
	if jerr := a.journal.FinishRun(ctx, a.runID, status, a.clock.Now()); jerr != nil {
		a.logger.Error("recording run end failed", "error", jerr)
	}
	return report, err
}

func (a *App) syncChannels(ctx context.Context, teams []*model.Team) (*RunReport, error) {
	report := &RunReport{RunId: a.runID}

	if a.cfg.DownloadAllEmojis {
		a.logger.Info("downloading emoji database")
		emojis, err := a.client.Emojis(ctx)
		if err != nil {
			return report, fmt.Errorf("listing emojis: %w", err)
		}
		a.downloadEmojiImages(ctx, emojis)
	}

	a.logger.Info("selecting channels to download")
	runs, err := a.selectChannels(ctx, teams)
	if err != nil {
		return report, fmt.Errorf("selecting channels: %w", err)
	}
	a.logger.Info("processing channels", "count", len(runs))

	for _, run := range runs {
		summary, err := a.engine.SyncChannel(ctx, run)
		if err != nil {
			if ctx.Err() != nil {
				a.recordFailure(ctx, run, err)
				return report, ctx.Err()
			}
			a.logger.Error("channel sync failed", "archive", run.Name, "error", err)
			a.recordFailure(ctx, run, err)
			report.Failed++
			continue
		}

		a.postProcess(ctx, run, summary)
		a.recordChannel(ctx, summary)
		report.Summaries = append(report.Summaries, summary)
		if summary.Err != nil {
			report.Failed++
		}
	}

	if a.mirror != nil {
		pushed, err := a.MirrorPush(ctx)
		if err != nil {
			return report, fmt.Errorf("pushing to mirror: %w", err)
		}
		a.logger.Info("pushed archives to mirror", "objects", len(pushed))
	}

	a.logger.Info("run finished", "channels", len(runs), "failed", report.Failed)
	return report, nil
}

func (a *App) recordChannel(ctx context.Context, summary *engine.Summary) {
	rec := journal.ChannelRecord{
		RunId:       a.runID,
		ArchiveName: summary.Name,
		ChannelId:   string(summary.ChannelId),
		Action:      string(summary.Action),
		StopReason:  string(summary.StopReason),
		Reason:      summary.Reason,
		Written:     summary.Written,
		Skipped:     summary.Skipped,
		PostCount:   summary.Storage.Count,
	}
	if summary.Err != nil {
		rec.Error = summary.Err.Error()
	}
	if err := a.journal.RecordChannel(ctx, rec); err != nil {
		a.logger.Error("recording channel outcome failed", "archive", summary.Name, "error", err)
	}
}

func (a *App) recordFailure(ctx context.Context, run engine.ChannelRun, runErr error) {
	rec := journal.ChannelRecord{
		RunId:       a.runID,
		ArchiveName: run.Name,
		ChannelId:   string(run.Channel.Id),
		Error:       runErr.Error(),
	}
	if err := a.journal.RecordChannel(ctx, rec); err != nil {
		a.logger.Error("recording channel outcome failed", "archive", run.Name, "error", err)
	}
}
