package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RunArchiver copies build runs older than a cutoff to cold storage.
type RunArchiver interface {
	ArchiveRuns(ctx context.Context, before time.Time) (int64, error)
}

// Archiver periodically archives old build runs.
type Archiver struct {
	runs          RunArchiver
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates an Archiver keeping retentionDays of runs in the
// database.
func NewArchiver(runs RunArchiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		runs:          runs,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run archives every run that started before the retention cutoff.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().AddDate(0, 0, -a.retentionDays)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.runs.ArchiveRuns(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive runs before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("runs_archived", n))
	return nil
}

// RunCron runs the archiver on sched until ctx is cancelled.
func (a *Archiver) RunCron(ctx context.Context, sched Schedule) error {
	return runCron(ctx, sched, "archive", a.Run, a.logger)
}
