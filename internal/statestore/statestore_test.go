package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/orch/internal/state"
)

func newRunState(runDir string) *state.RunState {
	started := "2026-01-01T00:00:00+00:00"
	ended := "2026-01-01T00:00:05+00:00"
	dur := 5.0
	code := 0
	return &state.RunState{
		RunID:       filepath.Base(runDir),
		CreatedAt:   "2026-01-01T00:00:00+00:00",
		UpdatedAt:   "2026-01-01T00:00:05+00:00",
		Status:      state.RunStatusSuccess,
		PlanRelpath: "plan.yaml",
		Home:        filepath.Dir(filepath.Dir(runDir)),
		Workdir:     filepath.Dir(runDir),
		MaxParallel: 1,
		Tasks: map[string]*state.TaskState{
			"a": {
				Status:          state.StatusSuccess,
				DependsOn:       []string{},
				Cmd:             []string{"echo"},
				Env:             map[string]string{},
				RetryBackoffSec: []float64{},
				Outputs:         []string{},
				Attempts:        1,
				StartedAt:       &started,
				EndedAt:         &ended,
				DurationSec:     &dur,
				ExitCode:        &code,
				StdoutPath:      "logs/a.out.log",
				StderrPath:      "logs/a.err.log",
				ArtifactPaths:   []string{},
			},
		},
	}
}

func setupRunDir(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	runDir := filepath.Join(home, "runs", "20260101_000000_aaaaaa")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	return runDir
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	runDir := setupRunDir(t)
	rs := newRunState(runDir)

	require.NoError(t, SaveAtomic(runDir, rs))
	loaded, err := Load(runDir)
	require.NoError(t, err)
	require.Equal(t, rs.RunID, loaded.RunID)
	require.Equal(t, rs.Status, loaded.Status)
}

func TestSaveAtomicCleansUpTempFile(t *testing.T) {
	runDir := setupRunDir(t)
	rs := newRunState(runDir)
	require.NoError(t, SaveAtomic(runDir, rs))

	_, err := os.Stat(filepath.Join(runDir, "state.json.tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestLoadMissingFile(t *testing.T) {
	runDir := setupRunDir(t)
	_, err := Load(runDir)
	require.Error(t, err)
}

func TestLoadRefusesSymlinkedStateFile(t *testing.T) {
	runDir := setupRunDir(t)
	rs := newRunState(runDir)
	require.NoError(t, SaveAtomic(runDir, rs))

	real := filepath.Join(runDir, "state.json")
	renamed := filepath.Join(runDir, "state.real.json")
	require.NoError(t, os.Rename(real, renamed))
	require.NoError(t, os.Symlink(renamed, real))

	_, err := Load(runDir)
	require.Error(t, err)
}
