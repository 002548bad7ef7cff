package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// buildLockKey guards the output so that cron, API and CLI builds never
// overlap.
const buildLockKey = "features:build"

// RunBuilder executes one feature build.
type RunBuilder interface {
	Build(ctx context.Context, req Request) (domain.BuildRun, error)
}

// OrchestratorConfig controls when builds run.
type OrchestratorConfig struct {
	// BuildCron schedules rebuilds; nil disables the schedule.
	BuildCron  *Schedule
	RunOnStart bool
	Timeout    time.Duration
	LockTTL    time.Duration
	// ArchiveCron schedules run archival; nil disables it.
	ArchiveCron *Schedule
}

// Orchestrator runs feature builds on a schedule and on demand.
type Orchestrator struct {
	builder  RunBuilder
	locks    domain.LockManager
	archiver *Archiver
	trigger  <-chan struct{}
	cfg      OrchestratorConfig
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. locks, archiver and trigger may
// be nil.
func NewOrchestrator(
	builder RunBuilder,
	locks domain.LockManager,
	archiver *Archiver,
	trigger <-chan struct{},
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		builder:  builder,
		locks:    locks,
		archiver: archiver,
		trigger:  trigger,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts the trigger loop, the build schedule and the archive schedule
// and blocks until ctx is cancelled or one of them fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	attrs := []any{slog.Bool("run_on_start", o.cfg.RunOnStart)}
	if o.cfg.BuildCron != nil {
		attrs = append(attrs, slog.String("build_cron", o.cfg.BuildCron.String()))
	}
	o.logger.InfoContext(ctx, "orchestrator starting", attrs...)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if o.cfg.RunOnStart {
			o.runScheduled(ctx, "startup")
		}
		if o.trigger == nil {
			return nil
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-o.trigger:
				o.runScheduled(ctx, "api")
			}
		}
	})

	if o.cfg.BuildCron != nil {
		sched := *o.cfg.BuildCron
		g.Go(func() error {
			err := runCron(ctx, sched, "build", func(ctx context.Context) error {
				o.runScheduled(ctx, "cron")
				return nil
			}, o.logger)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("build schedule: %w", err)
		})
	}

	if o.archiver != nil && o.cfg.ArchiveCron != nil {
		sched := *o.cfg.ArchiveCron
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, sched)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("orchestrator stopped cleanly")
	return nil
}

// runScheduled runs a build whose failure is already logged and recorded.
func (o *Orchestrator) runScheduled(ctx context.Context, trigger string) {
	_, err := o.BuildNow(ctx, Request{Trigger: trigger})
	if errors.Is(err, domain.ErrLockHeld) {
		o.logger.InfoContext(ctx, "build skipped, another build holds the lock",
			slog.String("trigger", trigger))
	}
}

// BuildNow runs one build under the build lock and the configured timeout.
// domain.ErrLockHeld is returned when another build is in progress.
func (o *Orchestrator) BuildNow(ctx context.Context, req Request) (domain.BuildRun, error) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	if o.locks != nil {
		ttl := o.cfg.LockTTL
		if ttl <= 0 {
			ttl = o.cfg.Timeout + time.Minute
		}
		unlock, err := o.locks.Acquire(ctx, buildLockKey, ttl)
		if err != nil {
			return domain.BuildRun{}, fmt.Errorf("pipeline: build lock: %w", err)
		}
		defer unlock()
	}

	return o.builder.Build(ctx, req)
}
