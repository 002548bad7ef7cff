package postgres

import (
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"postgres://postgres:pw@db:5432/cfbfeatures?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "cfbfeatures", User: "postgres", Password: "pw"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
	assert.Equal(t,
		"postgres://app:p%40ss%2Fword@db:6432/stats?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6432, Database: "stats", User: "app", Password: "p@ss/word", SSLMode: "require"}))
}

func TestStatsJSON(t *testing.T) {
	schema := domain.Schema{StatColumns: []string{"Score", "Average"}}
	rec := domain.GameRecord{Stats: []float64{21, domain.Missing()}}

	raw, err := encodeStats(schema, rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Score":21,"Average":null}`, string(raw))

	back, err := decodeStats(schema, raw)
	require.NoError(t, err)
	assert.Equal(t, 21.0, back[0])
	assert.True(t, domain.IsMissing(back[1]))
}

func TestStatsJSON_SchemaMismatch(t *testing.T) {
	_, err := encodeStats(domain.Schema{StatColumns: []string{"Score"}}, domain.GameRecord{Stats: []float64{1, 2}})
	require.ErrorIs(t, err, domain.ErrSchema)

	_, err = decodeStats(domain.Schema{StatColumns: []string{"Score", "PUNTS: Yards"}}, []byte(`{"Score":3}`))
	require.ErrorIs(t, err, domain.ErrSchema)
}

func TestMarshalRunJSON(t *testing.T) {
	stats, drift, err := marshalRunJSON(domain.BuildRun{Stats: domain.BuildStats{Kept: 3}})
	require.NoError(t, err)
	assert.Contains(t, string(stats), `"kept":3`)
	assert.Nil(t, drift)

	_, drift, err = marshalRunJSON(domain.BuildRun{Drift: &domain.Drift{Added: 2}})
	require.NoError(t, err)
	assert.Contains(t, string(drift.([]byte)), `"added":2`)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "001_init.sql", entries[0].Name())

	files, err := migrationFiles()
	require.NoError(t, err)
	assert.Equal(t, "001_init.sql", files[0])
}

func TestPendingMigrations(t *testing.T) {
	files := []string{"001_init.sql", "002_audit.sql", "003_index.sql"}
	assert.Equal(t, files, pendingMigrations(files, nil))
	assert.Equal(t, []string{"003_index.sql"}, pendingMigrations(files, []string{"002_audit.sql", "001_init.sql"}))
	assert.Empty(t, pendingMigrations(files, files))
}

func TestAuditListArgs(t *testing.T) {
	since := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	args := auditListArgs("records.ingest", domain.ListOpts{Limit: 5, Offset: -3, Since: &since})

	assert.Equal(t, "records.ingest", args["event"])
	assert.Equal(t, &since, args["since"])
	assert.Nil(t, args["until"])
	assert.Equal(t, 5, args["limit"])
	assert.Equal(t, 0, args["offset"])
}
