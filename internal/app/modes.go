package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
	"github.com/JonahBenton321/college-football-prediction/internal/features"
	"github.com/JonahBenton321/college-football-prediction/internal/pipeline"
	"github.com/JonahBenton321/college-football-prediction/internal/server"
	"github.com/JonahBenton321/college-football-prediction/internal/server/handler"
	"github.com/JonahBenton321/college-football-prediction/internal/server/ws"
)

// wsReplay is how many past run events a new WebSocket client receives.
const wsReplay = 10

// IngestRequest selects the CSV to load into Postgres. File is a local path
// and wins over Key, an object key in the configured blob storage. With both
// empty the configured source.input_key is used.
type IngestRequest struct {
	Key     string
	File    string
	Replace bool
}

// Build runs one feature build and returns the finished run.
func (a *App) Build(ctx context.Context, req pipeline.Request) (domain.BuildRun, error) {
	deps, err := a.wire(ctx)
	if err != nil {
		return domain.BuildRun{}, err
	}

	builder, err := a.newBuilder(deps)
	if err != nil {
		return domain.BuildRun{}, fmt.Errorf("build mode: %w", err)
	}
	orch := a.newOrchestrator(deps, builder, nil, false)

	run, err := orch.BuildNow(ctx, req)
	if err != nil {
		return run, fmt.Errorf("build mode: %w", err)
	}

	a.logger.InfoContext(ctx, "feature table written",
		slog.String("run_id", run.ID),
		slog.String("output_key", run.OutputKey),
		slog.Int("rows", run.Stats.Kept),
		slog.Float64("positive_rate", run.Stats.PositiveRate),
		slog.Duration("duration", run.Duration()),
	)
	return run, nil
}

// Serve runs the scheduler, the HTTP API and the WebSocket hub until ctx is
// cancelled.
func (a *App) Serve(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	builder, err := a.newBuilder(deps)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	// Buffer of one: triggers arriving while a build is queued collapse.
	triggerCh := make(chan struct{}, 1)
	orch := a.newOrchestrator(deps, builder, triggerCh, true)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, triggerCh)
	}

	return g.Wait()
}

// Ingest loads a raw box-score CSV into the Postgres record store and returns
// the number of records written.
func (a *App) Ingest(ctx context.Context, req IngestRequest) (int, error) {
	if !a.cfg.Postgres.Enabled {
		return 0, errors.New("ingest: postgres.enabled must be true")
	}
	deps, err := a.wire(ctx)
	if err != nil {
		return 0, err
	}

	var (
		r      io.ReadCloser
		source string
	)
	switch {
	case req.File != "":
		f, err := os.Open(req.File)
		if err != nil {
			return 0, fmt.Errorf("ingest: %w", err)
		}
		r, source = f, req.File
	default:
		key := req.Key
		if key == "" {
			key = a.cfg.Source.InputKey
		}
		rc, err := deps.Blobs.Get(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("ingest: get %s: %w", key, err)
		}
		r, source = rc, key
	}
	defer r.Close()

	ing := pipeline.NewIngester(deps.Records, a.cfg.Source.Schema(), deps.Audit, a.logger)
	return ing.Ingest(ctx, r, source, req.Replace)
}

// Archive copies build runs older than schedule.retention_days into blob
// storage once.
func (a *App) Archive(ctx context.Context) error {
	if !a.cfg.Postgres.Enabled {
		return errors.New("archive: postgres.enabled must be true")
	}
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	return pipeline.NewArchiver(deps.Archiver, a.cfg.Schedule.RetentionDays, a.logger).Run(ctx)
}

// newBuilder assembles a pipeline.Builder from the configuration and the
// wired backends. The concrete bus is only set when present so the builder
// never sees a typed nil.
func (a *App) newBuilder(deps *Dependencies) (*pipeline.Builder, error) {
	cfg := pipeline.BuilderConfig{
		Source:        a.cfg.Source.Backend,
		InputKey:      a.cfg.Source.InputKey,
		OutputKey:     a.cfg.Output.Key,
		Schema:        a.cfg.Source.Schema(),
		ImputeColumns: a.cfg.Features.ImputeColumns,
		Features: features.Options{
			Span:        a.cfg.Features.Span,
			Places:      int32(a.cfg.Features.Places),
			LabelColumn: a.cfg.Features.LabelColumn,
		},
		TrainFraction:      a.cfg.Output.TrainFraction,
		MultipartThreshold: int64(a.cfg.Output.MultipartThresholdMB) << 20,
		PartSize:           int64(a.cfg.Output.PartSizeMB) << 20,
	}

	bd := pipeline.BuilderDeps{
		Blobs:    deps.Blobs,
		Records:  deps.Records,
		Runs:     deps.Runs,
		Cache:    deps.RunCache,
		Audit:    deps.Audit,
		Notifier: deps.Notifier,
	}
	if deps.Bus != nil {
		bd.Bus = deps.Bus
	}
	return pipeline.NewBuilder(cfg, bd, a.logger)
}

// newOrchestrator wraps builder with the lock and, when scheduled is set,
// the build and archive schedules.
func (a *App) newOrchestrator(deps *Dependencies, builder pipeline.RunBuilder, trigger <-chan struct{}, scheduled bool) *pipeline.Orchestrator {
	ocfg := pipeline.OrchestratorConfig{
		Timeout: a.cfg.Schedule.Timeout.Duration,
		LockTTL: a.cfg.Redis.LockTTL.Duration,
	}

	var archiver *pipeline.Archiver
	if scheduled {
		ocfg.RunOnStart = a.cfg.Schedule.RunOnStart
		if a.cfg.Schedule.Enabled {
			sched, err := pipeline.ParseCron(a.cfg.Schedule.Cron)
			if err != nil {
				a.logger.Warn("build schedule disabled",
					slog.String("cron", a.cfg.Schedule.Cron),
					slog.String("error", err.Error()),
				)
			} else {
				ocfg.BuildCron = &sched
			}
		}
		if deps.Archiver != nil && a.cfg.Schedule.ArchiveCron != "" {
			sched, err := pipeline.ParseCron(a.cfg.Schedule.ArchiveCron)
			if err != nil {
				a.logger.Warn("archive schedule disabled",
					slog.String("cron", a.cfg.Schedule.ArchiveCron),
					slog.String("error", err.Error()),
				)
			} else {
				ocfg.ArchiveCron = &sched
				archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Schedule.RetentionDays, a.logger)
			}
		}
	}

	return pipeline.NewOrchestrator(builder, deps.Locks, archiver, trigger, ocfg, a.logger)
}

// startHTTPServer registers the API routes and starts the HTTP server and,
// when Redis is wired, the WebSocket hub inside g.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	triggerCh chan<- struct{},
) {
	scfg := server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		TriggerLimit:  a.cfg.Server.TriggerLimit,
		TriggerWindow: a.cfg.Server.TriggerWindow.Duration,
	}

	h := server.Handlers{
		Health:   handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Pipeline: handler.NewPipelineHandler(a.logger).WithTriggerChannel(triggerCh),
	}
	if deps.Runs != nil {
		h.Runs = handler.NewRunsHandler(deps.Runs, deps.RunCache, a.logger)
	}
	if deps.Audit != nil {
		h.Audit = handler.NewAuditHandler(deps.Audit, a.logger)
	}
	if deps.Bus != nil {
		hub := ws.NewHub(deps.Bus, ws.Config{
			AllowedOrigins: a.cfg.Server.CORSOrigins,
			Replay:         wsReplay,
			StartedAt:      time.Now().UTC(),
		}, a.logger)
		h.Hub = hub
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(scfg, server.NewRouter(scfg, h, deps.RateLimiter, a.logger), a.logger)
	g.Go(func() error {
		return srv.Run(ctx)
	})
}
