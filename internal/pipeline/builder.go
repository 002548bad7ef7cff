package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonahBenton321/college-football-prediction/internal/dataset"
	"github.com/JonahBenton321/college-football-prediction/internal/domain"
	"github.com/JonahBenton321/college-football-prediction/internal/features"
	"github.com/JonahBenton321/college-football-prediction/internal/report"
)

// Source backends for the raw table.
const (
	SourceBlob     = "blob"
	SourcePostgres = "postgres"
)

// RecordLister returns the stored raw table in ingestion order.
type RecordLister interface {
	ListChronological(ctx context.Context, schema domain.Schema) (domain.RecordTable, error)
}

// RunBroadcaster publishes run events to live subscribers and the run stream.
type RunBroadcaster interface {
	Broadcast(ctx context.Context, channel, stream string, payload []byte) error
}

// RunNotifier tells operators about finished runs.
type RunNotifier interface {
	NotifyRun(ctx context.Context, run domain.BuildRun) error
}

// BuilderConfig holds the static settings of a Builder.
type BuilderConfig struct {
	Source             string
	InputKey           string
	OutputKey          string
	Schema             domain.Schema
	ImputeColumns      []string
	Features           features.Options
	TrainFraction      float64
	MultipartThreshold int64
	PartSize           int64
}

// BuilderDeps are the collaborators of a Builder. Blobs is required, and
// Records is required for the postgres source. Everything else may be nil.
type BuilderDeps struct {
	Blobs    domain.BlobStore
	Records  RecordLister
	Runs     domain.RunStore
	Cache    domain.RunCache
	Bus      RunBroadcaster
	Audit    domain.AuditStore
	Notifier RunNotifier
}

// Request describes one build. Empty keys fall back to the configured ones.
type Request struct {
	Trigger   string
	InputKey  string
	OutputKey string
}

// Builder runs the feature pipeline end to end: load the raw table, impute,
// transform, publish the feature table and record the run.
type Builder struct {
	cfg    BuilderConfig
	deps   BuilderDeps
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(cfg BuilderConfig, deps BuilderDeps, logger *slog.Logger) (*Builder, error) {
	if deps.Blobs == nil {
		return nil, errors.New("pipeline: builder requires blob storage")
	}
	switch cfg.Source {
	case SourceBlob:
	case SourcePostgres:
		if deps.Records == nil {
			return nil, errors.New("pipeline: postgres source requires a record store")
		}
	default:
		return nil, fmt.Errorf("pipeline: unknown source %q", cfg.Source)
	}
	return &Builder{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger.With(slog.String("component", "feature_builder")),
	}, nil
}

// Build executes one run and returns it in its final state. The run is
// returned alongside the error when the build fails.
func (b *Builder) Build(ctx context.Context, req Request) (domain.BuildRun, error) {
	run := domain.BuildRun{
		ID:        b.newID(),
		Trigger:   req.Trigger,
		Status:    domain.RunStatusRunning,
		InputKey:  firstNonEmpty(req.InputKey, b.cfg.InputKey),
		OutputKey: firstNonEmpty(req.OutputKey, b.cfg.OutputKey),
		StartedAt: b.now().UTC(),
	}
	if b.cfg.Source == SourcePostgres && req.InputKey == "" {
		run.InputKey = "postgres:game_records"
	}

	logger := b.logger.With(slog.String("run_id", run.ID), slog.String("trigger", run.Trigger))
	logger.InfoContext(ctx, "feature build started",
		slog.String("input", run.InputKey),
		slog.String("output", run.OutputKey),
	)

	if b.deps.Runs != nil {
		if err := b.deps.Runs.Create(ctx, run); err != nil {
			return run, fmt.Errorf("pipeline: record run start: %w", err)
		}
	}
	b.broadcast(ctx, logger, run)

	stats, drift, err := b.execute(ctx, logger, req, run)
	finished := b.now().UTC()
	run.FinishedAt = &finished
	run.Stats = stats
	run.Drift = drift
	if err != nil {
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
		logger.ErrorContext(ctx, "feature build failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", run.Duration()),
		)
	} else {
		run.Status = domain.RunStatusSucceeded
		logger.InfoContext(ctx, "feature build complete",
			slog.Int("kept", stats.Kept),
			slog.Int("dropped", stats.Dropped),
			slog.Float64("positive_rate", stats.PositiveRate),
			slog.Duration("elapsed", run.Duration()),
		)
	}

	b.record(ctx, logger, run)
	return run, err
}

func (b *Builder) execute(ctx context.Context, logger *slog.Logger, req Request, run domain.BuildRun) (domain.BuildStats, *domain.Drift, error) {
	table, err := b.load(ctx, req, run.InputKey)
	if err != nil {
		return domain.BuildStats{}, nil, err
	}
	logger.InfoContext(ctx, "raw table loaded",
		slog.Int("records", len(table.Records)),
		slog.Int("columns", len(table.StatColumns)),
	)

	if len(b.cfg.ImputeColumns) > 0 {
		table, err = dataset.Impute(table, b.cfg.ImputeColumns)
		if err != nil {
			return domain.BuildStats{}, nil, fmt.Errorf("pipeline: impute: %w", err)
		}
	}

	res, err := features.Build(table, b.cfg.Features)
	if err != nil {
		return domain.BuildStats{}, nil, fmt.Errorf("pipeline: transform: %w", err)
	}
	logger.InfoContext(ctx, "features built",
		slog.Int("teams", res.Stats.Teams),
		slog.Int("fixtures", res.Stats.Fixtures),
		slog.Int("kept", res.Stats.Kept),
	)
	if len(res.Table.Rows) == 0 {
		logger.WarnContext(ctx, "no fixture has history on both sides, writing header only",
			slog.Int("dropped", res.Stats.Dropped),
		)
	}

	encoded, err := dataset.EncodeFeatures(res.Table)
	if err != nil {
		return res.Stats, nil, fmt.Errorf("pipeline: encode features: %w", err)
	}

	drift, err := b.drift(ctx, run.OutputKey, encoded)
	if err != nil {
		// The previous table only feeds the report.
		logger.WarnContext(ctx, "drift report skipped", slog.String("error", err.Error()))
	}

	if err := b.write(ctx, run.OutputKey, encoded); err != nil {
		return res.Stats, drift, err
	}

	if f := b.cfg.TrainFraction; f > 0 && f < 1 {
		train, test := res.Table.Split(f)
		parts := []struct {
			name  string
			table domain.FeatureTable
		}{{"train", train}, {"test", test}}
		for _, p := range parts {
			data, err := dataset.EncodeFeatures(p.table)
			if err != nil {
				return res.Stats, drift, fmt.Errorf("pipeline: encode %s split: %w", p.name, err)
			}
			if err := b.write(ctx, SplitKey(run.OutputKey, p.name), data); err != nil {
				return res.Stats, drift, err
			}
		}
		logger.InfoContext(ctx, "train/test split written",
			slog.Int("train_rows", len(train.Rows)),
			slog.Int("test_rows", len(test.Rows)),
		)
	}

	return res.Stats, drift, nil
}

func (b *Builder) load(ctx context.Context, req Request, key string) (domain.RecordTable, error) {
	if b.cfg.Source == SourcePostgres && req.InputKey == "" {
		table, err := b.deps.Records.ListChronological(ctx, b.cfg.Schema)
		if err != nil {
			return domain.RecordTable{}, fmt.Errorf("pipeline: load records: %w", err)
		}
		return table, nil
	}

	rc, err := b.deps.Blobs.Get(ctx, key)
	if err != nil {
		return domain.RecordTable{}, fmt.Errorf("pipeline: open %s: %w", key, err)
	}
	defer rc.Close()

	table, err := dataset.ReadRecords(rc, b.cfg.Schema)
	if err != nil {
		return domain.RecordTable{}, fmt.Errorf("pipeline: read %s: %w", key, err)
	}
	return table, nil
}

// drift compares encoded with the table currently stored at key. It returns
// nil when there is no previous table.
func (b *Builder) drift(ctx context.Context, key string, encoded []byte) (*domain.Drift, error) {
	ok, err := b.deps.Blobs.Exists(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	rc, err := b.deps.Blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	previous, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	d := report.CompareCSV(previous, encoded)
	return &d, nil
}

func (b *Builder) write(ctx context.Context, key string, data []byte) error {
	var err error
	if b.cfg.MultipartThreshold > 0 && int64(len(data)) > b.cfg.MultipartThreshold {
		err = b.deps.Blobs.PutMultipart(ctx, key, bytes.NewReader(data), b.cfg.PartSize)
	} else {
		err = b.deps.Blobs.Put(ctx, key, bytes.NewReader(data), "text/csv")
	}
	if err != nil {
		return fmt.Errorf("pipeline: write %s: %w", key, err)
	}
	return nil
}

// record persists, caches, publishes and announces a finished run. These
// side channels never change the outcome of the build.
func (b *Builder) record(ctx context.Context, logger *slog.Logger, run domain.BuildRun) {
	// Bookkeeping must land even when the build was cancelled.
	ctx = context.WithoutCancel(ctx)

	if b.deps.Runs != nil {
		if err := b.deps.Runs.Finish(ctx, run); err != nil {
			logger.WarnContext(ctx, "run store update failed", slog.String("error", err.Error()))
		}
	}
	if b.deps.Cache != nil {
		if err := b.deps.Cache.SetLatest(ctx, run); err != nil {
			logger.WarnContext(ctx, "latest run cache update failed", slog.String("error", err.Error()))
		}
	}
	b.broadcast(ctx, logger, run)
	if b.deps.Audit != nil {
		detail := map[string]any{
			"run_id": run.ID,
			"status": string(run.Status),
			"output": run.OutputKey,
			"kept":   run.Stats.Kept,
		}
		if err := b.deps.Audit.Log(ctx, "features.build", detail); err != nil {
			logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if b.deps.Notifier != nil {
		if err := b.deps.Notifier.NotifyRun(ctx, run); err != nil {
			logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
		}
	}
}

func (b *Builder) broadcast(ctx context.Context, logger *slog.Logger, run domain.BuildRun) {
	if b.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(run)
	if err != nil {
		logger.WarnContext(ctx, "marshal run event failed", slog.String("error", err.Error()))
		return
	}
	if err := b.deps.Bus.Broadcast(ctx, domain.ChannelRuns, domain.StreamRuns, payload); err != nil {
		logger.WarnContext(ctx, "run event publish failed", slog.String("error", err.Error()))
	}
}

// SplitKey derives the key of a split part from the output key:
// processed/features.csv becomes processed/features_train.csv.
func SplitKey(key, part string) string {
	ext := path.Ext(key)
	return strings.TrimSuffix(key, ext) + "_" + part + ext
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
