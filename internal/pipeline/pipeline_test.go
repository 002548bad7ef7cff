package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	localblob "github.com/JonahBenton321/college-football-prediction/internal/blob/local"
	"github.com/JonahBenton321/college-football-prediction/internal/domain"
	"github.com/JonahBenton321/college-football-prediction/internal/features"
)

const (
	inputKey  = "raw/games.csv"
	outputKey = "processed/features.csv"
)

// Four fixtures; the first two introduce every team, the last two survive.
const rawGames = `Date,Name,Score,FIRST DOWNS
2023-09-02,Morningside,10,5
2023-09-02,Dordt,20,6
2023-09-09,Doane,30,7
2023-09-09,Concordia,40,8
2023-09-16,Morningside,14,9
2023-09-16,Doane,21,10
2023-09-23,Dordt,17,4
2023-09-23,Concordia,3,2
`

const wantFeatures = "Score,FIRST DOWNS,Target Data\n-20.0000,-2.0000,1\n-20.0000,-2.0000,0\n"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSchema() domain.Schema {
	return domain.Schema{
		TeamColumn:  "Name",
		DateColumn:  "Date",
		ScoreColumn: "Score",
		StatColumns: []string{"Score", "FIRST DOWNS"},
	}
}

type fakeRuns struct {
	mu       sync.Mutex
	created  []domain.BuildRun
	finished []domain.BuildRun
}

func (f *fakeRuns) Create(_ context.Context, run domain.BuildRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, run)
	return nil
}

func (f *fakeRuns) Finish(_ context.Context, run domain.BuildRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, run)
	return nil
}

func (f *fakeRuns) GetByID(context.Context, string) (domain.BuildRun, error) {
	return domain.BuildRun{}, domain.ErrNotFound
}

func (f *fakeRuns) ListRecent(context.Context, domain.ListOpts) ([]domain.BuildRun, error) {
	return nil, nil
}

func (f *fakeRuns) ListBefore(context.Context, time.Time) ([]domain.BuildRun, error) {
	return nil, nil
}

type fakeCache struct{ latest *domain.BuildRun }

func (f *fakeCache) SetLatest(_ context.Context, run domain.BuildRun) error {
	f.latest = &run
	return nil
}

func (f *fakeCache) GetLatest(context.Context) (domain.BuildRun, error) {
	if f.latest == nil {
		return domain.BuildRun{}, domain.ErrNotFound
	}
	return *f.latest, nil
}

type fakeBus struct{ events []string }

func (f *fakeBus) Broadcast(_ context.Context, channel, stream string, payload []byte) error {
	f.events = append(f.events, channel+"|"+stream+"|"+string(payload))
	return nil
}

type fakeNotifier struct{ runs []domain.BuildRun }

func (f *fakeNotifier) NotifyRun(_ context.Context, run domain.BuildRun) error {
	f.runs = append(f.runs, run)
	return nil
}

type fakeLister struct{ table domain.RecordTable }

func (f fakeLister) ListChronological(context.Context, domain.Schema) (domain.RecordTable, error) {
	return f.table.Clone(), nil
}

type testEnv struct {
	blobs    *localblob.Store
	runs     *fakeRuns
	cache    *fakeCache
	bus      *fakeBus
	notifier *fakeNotifier
	builder  *Builder
}

func newTestEnv(t *testing.T, raw string) *testEnv {
	t.Helper()

	blobs, err := localblob.New(t.TempDir())
	require.NoError(t, err)
	if raw != "" {
		require.NoError(t, blobs.Put(context.Background(), inputKey, strings.NewReader(raw), "text/csv"))
	}

	env := &testEnv{
		blobs:    blobs,
		runs:     &fakeRuns{},
		cache:    &fakeCache{},
		bus:      &fakeBus{},
		notifier: &fakeNotifier{},
	}
	env.builder, err = NewBuilder(BuilderConfig{
		Source:        SourceBlob,
		InputKey:      inputKey,
		OutputKey:     outputKey,
		Schema:        testSchema(),
		Features:      features.DefaultOptions(),
		TrainFraction: 0.5,
	}, BuilderDeps{
		Blobs:    blobs,
		Runs:     env.runs,
		Cache:    env.cache,
		Bus:      env.bus,
		Notifier: env.notifier,
	}, quietLogger())
	require.NoError(t, err)

	seq := 0
	env.builder.newID = func() string {
		seq++
		return fmt.Sprintf("run-%d", seq)
	}
	return env
}

func readBlob(t *testing.T, blobs *localblob.Store, key string) string {
	t.Helper()
	rc, err := blobs.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestBuilder_Build(t *testing.T) {
	env := newTestEnv(t, rawGames)

	run, err := env.builder.Build(context.Background(), Request{Trigger: "cli"})
	require.NoError(t, err)

	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	assert.Equal(t, inputKey, run.InputKey)
	assert.Equal(t, outputKey, run.OutputKey)
	assert.Equal(t, domain.BuildStats{Records: 8, Teams: 4, Fixtures: 4, Kept: 2, Dropped: 2, PositiveRate: 0.5}, run.Stats)
	assert.Nil(t, run.Drift, "first build has nothing to compare against")
	require.NotNil(t, run.FinishedAt)

	assert.Equal(t, wantFeatures, readBlob(t, env.blobs, outputKey))
	assert.Equal(t, "Score,FIRST DOWNS,Target Data\n-20.0000,-2.0000,1\n",
		readBlob(t, env.blobs, "processed/features_train.csv"))
	assert.Equal(t, "Score,FIRST DOWNS,Target Data\n-20.0000,-2.0000,0\n",
		readBlob(t, env.blobs, "processed/features_test.csv"))

	require.Len(t, env.runs.created, 1)
	assert.Equal(t, domain.RunStatusRunning, env.runs.created[0].Status)
	require.Len(t, env.runs.finished, 1)
	assert.Equal(t, domain.RunStatusSucceeded, env.runs.finished[0].Status)

	require.NotNil(t, env.cache.latest)
	assert.Equal(t, "run-1", env.cache.latest.ID)

	require.Len(t, env.bus.events, 2, "start and finish are both published")
	assert.True(t, strings.HasPrefix(env.bus.events[1], domain.ChannelRuns+"|"+domain.StreamRuns+"|"))
	assert.Contains(t, env.bus.events[1], `"status":"succeeded"`)

	require.Len(t, env.notifier.runs, 1)
}

func TestBuilder_DriftAgainstPreviousOutput(t *testing.T) {
	env := newTestEnv(t, rawGames)

	_, err := env.builder.Build(context.Background(), Request{Trigger: "cli"})
	require.NoError(t, err)

	run, err := env.builder.Build(context.Background(), Request{Trigger: "cron"})
	require.NoError(t, err)
	require.NotNil(t, run.Drift)
	assert.Equal(t, domain.Drift{PreviousRows: 2}, *run.Drift)
}

func TestBuilder_AllFixturesDroppedWritesHeader(t *testing.T) {
	// Every team appears once, so no fixture has history on both sides.
	raw := strings.Join(strings.Split(rawGames, "\n")[:5], "\n") + "\n"
	env := newTestEnv(t, raw)

	run, err := env.builder.Build(context.Background(), Request{Trigger: "cli"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	assert.Equal(t, 2, run.Stats.Dropped)
	assert.Zero(t, run.Stats.Kept)

	const header = "Score,FIRST DOWNS,Target Data\n"
	assert.Equal(t, header, readBlob(t, env.blobs, outputKey))
	assert.Equal(t, header, readBlob(t, env.blobs, SplitKey(outputKey, "train")))
	assert.Equal(t, header, readBlob(t, env.blobs, SplitKey(outputKey, "test")))

	require.Len(t, env.runs.finished, 1)
	assert.Equal(t, domain.RunStatusSucceeded, env.runs.finished[0].Status)
	require.Len(t, env.notifier.runs, 1)
}

func TestBuilder_MissingInput(t *testing.T) {
	env := newTestEnv(t, "")

	run, err := env.builder.Build(context.Background(), Request{Trigger: "api"})
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
}

func TestBuilder_RequestOverridesKeys(t *testing.T) {
	env := newTestEnv(t, "")
	require.NoError(t, env.blobs.Put(context.Background(), "raw/other.csv", strings.NewReader(rawGames), "text/csv"))

	run, err := env.builder.Build(context.Background(), Request{
		Trigger:   "cli",
		InputKey:  "raw/other.csv",
		OutputKey: "out/custom.csv",
	})
	require.NoError(t, err)
	assert.Equal(t, "raw/other.csv", run.InputKey)
	assert.Equal(t, wantFeatures, readBlob(t, env.blobs, "out/custom.csv"))
}

func TestBuilder_PostgresSource(t *testing.T) {
	blobs, err := localblob.New(t.TempDir())
	require.NoError(t, err)

	_, err = NewBuilder(BuilderConfig{Source: SourcePostgres}, BuilderDeps{Blobs: blobs}, quietLogger())
	require.Error(t, err, "postgres source needs a record store")

	seed, err := newTestEnv(t, rawGames).builder.load(context.Background(), Request{}, inputKey)
	require.NoError(t, err)

	b, err := NewBuilder(BuilderConfig{
		Source:    SourcePostgres,
		OutputKey: outputKey,
		Schema:    testSchema(),
		Features:  features.DefaultOptions(),
	}, BuilderDeps{Blobs: blobs, Records: fakeLister{table: seed}}, quietLogger())
	require.NoError(t, err)

	run, err := b.Build(context.Background(), Request{Trigger: "cron"})
	require.NoError(t, err)
	assert.Equal(t, "postgres:game_records", run.InputKey)
	assert.Equal(t, wantFeatures, readBlob(t, blobs, outputKey))
}

func TestSplitKey(t *testing.T) {
	assert.Equal(t, "processed/processed_game_data_2021-26_train.csv",
		SplitKey("processed/processed_game_data_2021-26.csv", "train"))
	assert.Equal(t, "features_test", SplitKey("features", "test"))
}

type fakeLocks struct {
	held bool
	ttl  time.Duration
}

func (f *fakeLocks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	if f.held {
		return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockHeld)
	}
	f.held, f.ttl = true, ttl
	return func() { f.held = false }, nil
}

type countingBuilder struct {
	mu    sync.Mutex
	reqs  []Request
	delay time.Duration
}

func (c *countingBuilder) Build(ctx context.Context, req Request) (domain.BuildRun, error) {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return domain.BuildRun{}, errors.New("expected a deadline")
	}
	return domain.BuildRun{ID: "x", Trigger: req.Trigger, Status: domain.RunStatusSucceeded}, nil
}

func (c *countingBuilder) triggers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.reqs))
	for i, r := range c.reqs {
		out[i] = r.Trigger
	}
	return out
}

func TestOrchestrator_BuildNowRespectsLock(t *testing.T) {
	locks := &fakeLocks{}
	b := &countingBuilder{}
	o := NewOrchestrator(b, locks, nil, nil, OrchestratorConfig{Timeout: time.Minute, LockTTL: 10 * time.Minute}, quietLogger())

	run, err := o.BuildNow(context.Background(), Request{Trigger: "cli"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	assert.False(t, locks.held, "lock is released after the build")
	assert.Equal(t, 10*time.Minute, locks.ttl)

	locks.held = true
	_, err = o.BuildNow(context.Background(), Request{Trigger: "cli"})
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Len(t, b.triggers(), 1, "a held lock skips the build")
}

func TestOrchestrator_RunOnStartAndTrigger(t *testing.T) {
	b := &countingBuilder{}
	trigger := make(chan struct{}, 1)
	o := NewOrchestrator(b, nil, nil, trigger, OrchestratorConfig{RunOnStart: true, Timeout: time.Minute}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	trigger <- struct{}{}
	require.Eventually(t, func() bool { return len(b.triggers()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"startup", "api"}, b.triggers())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}

// fakeRecordStore mirrors game_records: rows keep their insertion slot,
// upserts rewrite a row in place and appends shift fixture ids.
type fakeRecordStore struct {
	rows                         []domain.GameRecord
	inserted, appended, replaced int
}

func (f *fakeRecordStore) InsertBatch(_ context.Context, _ domain.Schema, records []domain.GameRecord) error {
	f.inserted += len(records)
	for _, r := range records {
		found := false
		for i, row := range f.rows {
			if row.Fixture == r.Fixture && row.Side == r.Side {
				f.rows[i], found = r.Clone(), true
				break
			}
		}
		if !found {
			f.rows = append(f.rows, r.Clone())
		}
	}
	return nil
}

func (f *fakeRecordStore) AppendBatch(_ context.Context, _ domain.Schema, records []domain.GameRecord) error {
	f.appended += len(records)
	base := 0
	for _, row := range f.rows {
		base = max(base, row.Fixture+1)
	}
	for _, r := range records {
		r = r.Clone()
		r.Fixture += base
		f.rows = append(f.rows, r)
	}
	return nil
}

func (f *fakeRecordStore) ReplaceAll(_ context.Context, _ domain.Schema, records []domain.GameRecord) error {
	f.replaced += len(records)
	f.rows = f.rows[:0]
	for _, r := range records {
		f.rows = append(f.rows, r.Clone())
	}
	return nil
}

func (f *fakeRecordStore) ListChronological(_ context.Context, schema domain.Schema) (domain.RecordTable, error) {
	table := domain.RecordTable{StatColumns: append([]string(nil), schema.StatColumns...)}
	for _, r := range f.rows {
		table.Records = append(table.Records, r.Clone())
	}
	return table, nil
}

func TestIngester(t *testing.T) {
	store := &fakeRecordStore{}
	ing := NewIngester(store, testSchema(), nil, quietLogger())

	n, err := ing.Ingest(context.Background(), strings.NewReader(rawGames), inputKey, false)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, 8, store.appended)

	_, err = ing.Ingest(context.Background(), strings.NewReader(rawGames), inputKey, true)
	require.NoError(t, err)
	assert.Equal(t, 8, store.replaced)

	_, err = ing.Ingest(context.Background(), strings.NewReader("Date,Name\n"), inputKey, true)
	require.ErrorIs(t, err, domain.ErrSchema)
}

func TestIngester_SecondPositionalFileAppends(t *testing.T) {
	const nextSeason = `Date,Name,Score,FIRST DOWNS
2024-08-31,Dordt,24,11
2024-08-31,Doane,7,3
2024-09-07,Concordia,13,6
2024-09-07,Morningside,28,14
`
	ctx := context.Background()
	store := &fakeRecordStore{}
	ing := NewIngester(store, testSchema(), nil, quietLogger())

	_, err := ing.Ingest(ctx, strings.NewReader(rawGames), inputKey, false)
	require.NoError(t, err)
	_, err = ing.Ingest(ctx, strings.NewReader(nextSeason), "raw/2024.csv", false)
	require.NoError(t, err)
	assert.Zero(t, store.inserted)

	table, err := store.ListChronological(ctx, testSchema())
	require.NoError(t, err)
	require.Len(t, table.Records, 12, "no stored fixture is overwritten")

	dates := make([]string, len(table.Records))
	for i, r := range table.Records {
		dates[i] = r.Date
		assert.Equal(t, i/2, r.Fixture)
	}
	assert.IsNonDecreasing(t, dates)
	assert.Equal(t, "2024-08-31", table.Records[8].Date)

	pairing, err := features.Pair(table)
	require.NoError(t, err)
	assert.Equal(t, 6, pairing.A.Len())
}

func TestIngester_ExplicitFixturesUpsert(t *testing.T) {
	const corrected = `fixture_id,side,Date,Name,Score,FIRST DOWNS
0,A,2023-09-02,Morningside,13,5
0,B,2023-09-02,Dordt,20,6
`
	ctx := context.Background()
	store := &fakeRecordStore{}
	ing := NewIngester(store, testSchema(), nil, quietLogger())

	_, err := ing.Ingest(ctx, strings.NewReader(rawGames), inputKey, false)
	require.NoError(t, err)
	_, err = ing.Ingest(ctx, strings.NewReader(corrected), "raw/fix.csv", false)
	require.NoError(t, err)
	assert.Equal(t, 2, store.inserted)

	table, err := store.ListChronological(ctx, testSchema())
	require.NoError(t, err)
	require.Len(t, table.Records, 8)
	assert.Equal(t, 13.0, table.Records[0].Score)
}

type fakeRunArchiver struct{ before time.Time }

func (f *fakeRunArchiver) ArchiveRuns(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 3, nil
}

func TestArchiver_Run(t *testing.T) {
	fa := &fakeRunArchiver{}
	a := NewArchiver(fa, 30, quietLogger())
	a.now = func() time.Time { return time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), fa.before)
}
