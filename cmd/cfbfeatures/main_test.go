package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

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

// writeConfig lays out a local-storage workspace under a temp dir and
// returns the config path and the storage root.
func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "data")
	body := fmt.Sprintf(`
mode = "build"
log_level = "error"

[source]
input_key = "raw/games.csv"
stat_columns = ["Score", "FIRST DOWNS"]

[features]
impute_columns = ["FIRST DOWNS"]

[output]
key = "processed/features.csv"
train_fraction = 0

[storage]
backend = "local"
local_dir = %q

[postgres]
password = "hunter2"
%s`, root, extra)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, root
}

func writeRaw(t *testing.T, root, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "raw"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "raw", "games.csv"), []byte(body), 0o644))
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var ee *exitErr
	require.True(t, errors.As(err, &ee), "want exitErr, got %v", err)
	return ee.code
}

func TestBuildCommand(t *testing.T) {
	path, root := writeConfig(t, "")
	writeRaw(t, root, rawGames)

	_, err := execute("build", "--config", path)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(root, "processed", "features.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Score,FIRST DOWNS,Target Data\n-20.0000,-2.0000,1\n-20.0000,-2.0000,0\n", string(got))
}

func TestBuildCommand_OutputOverride(t *testing.T) {
	path, root := writeConfig(t, "")
	writeRaw(t, root, rawGames)

	_, err := execute("build", "--config", path, "--output", "adhoc/out.csv")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "adhoc", "out.csv"))
	assert.NoFileExists(t, filepath.Join(root, "processed", "features.csv"))
}

func TestRootRunsConfiguredMode(t *testing.T) {
	path, root := writeConfig(t, "")
	writeRaw(t, root, rawGames)

	_, err := execute("--config", path)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "processed", "features.csv"))
}

func TestBuildCommand_ExitCodes(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		path, _ := writeConfig(t, "")
		_, err := execute("build", "--config", path, "--log-level", "loud")
		assert.Equal(t, exitConfig, exitCode(t, err))
	})

	t.Run("missing config file", func(t *testing.T) {
		_, err := execute("build", "--config", filepath.Join(t.TempDir(), "absent.toml"))
		assert.Equal(t, exitConfig, exitCode(t, err))
	})

	t.Run("missing input", func(t *testing.T) {
		path, _ := writeConfig(t, "")
		_, err := execute("build", "--config", path)
		assert.Equal(t, exitInput, exitCode(t, err))
	})

	t.Run("odd record count", func(t *testing.T) {
		path, root := writeConfig(t, "")
		writeRaw(t, root, "Date,Name,Score,FIRST DOWNS\n2023-09-02,Dordt,20,6\n")
		_, err := execute("build", "--config", path)
		assert.Equal(t, exitInput, exitCode(t, err))
	})
}

func TestIngestCommand_RequiresPostgres(t *testing.T) {
	path, _ := writeConfig(t, "")
	_, err := execute("ingest", "--config", path)
	assert.Equal(t, exitFailure, exitCode(t, err))
}

func TestConfigCommand_RedactsSecrets(t *testing.T) {
	path, _ := writeConfig(t, "")

	out, err := execute("config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"***"`)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, `input_key = "raw/games.csv"`)

	out, err = execute("config", "--config", path, "--format", "json")
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")

	_, err = execute("config", "--config", path, "--format", "yaml")
	assert.Equal(t, exitConfig, exitCode(t, err))
}

func TestExitError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("pipeline: build lock: %w", domain.ErrLockHeld), exitBusy},
		{fmt.Errorf("dataset: line 3: %w", domain.ErrSchema), exitInput},
		{fmt.Errorf("pipeline: transform: %w", domain.ErrMispairedFixture), exitInput},
		{errors.New("s3: connection refused"), exitFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(t, exitError(tt.err)), tt.err.Error())
	}
}
