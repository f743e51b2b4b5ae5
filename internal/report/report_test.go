package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/orch/internal/state"
)

func sampleRunState() *state.RunState {
	goal := "demo"
	started := "2026-01-01T00:00:00+00:00"
	ended := "2026-01-01T00:00:05+00:00"
	dur := 5.0
	code0, code1 := 0, 1
	skip := state.SkipDependencyNotSuccess
	return &state.RunState{
		RunID:       "20260101_000000_aaaaaa",
		Goal:        &goal,
		CreatedAt:   started,
		UpdatedAt:   ended,
		Status:      state.RunStatusFailed,
		MaxParallel: 2,
		FailFast:    true,
		Workdir:     "/work",
		Tasks: map[string]*state.TaskState{
			"a": {
				Status:        state.StatusFailed,
				Attempts:      1,
				DurationSec:   &dur,
				ExitCode:      &code1,
				StdoutPath:    "logs/a.out.log",
				StderrPath:    "logs/a.err.log",
				ArtifactPaths: []string{"artifacts/a/out.txt"},
			},
			"b": {
				Status:     state.StatusSkipped,
				Attempts:   0,
				SkipReason: &skip,
				StdoutPath: "logs/b.out.log",
				StderrPath: "logs/b.err.log",
			},
			"c": {
				Status:      state.StatusSuccess,
				Attempts:    1,
				DurationSec: &dur,
				ExitCode:    &code0,
				StdoutPath:  "logs/c.out.log",
				StderrPath:  "logs/c.err.log",
			},
		},
	}
}

func TestBuildSortsTasksAndCollectsProblemsAndArtifacts(t *testing.T) {
	runDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(runDir, "logs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "logs", "a.err.log"), []byte("boom\n"), 0o644))

	s := Build(sampleRunState(), runDir)

	require.Equal(t, []string{"a", "b", "c"}, []string{s.Tasks[0].ID, s.Tasks[1].ID, s.Tasks[2].ID})
	require.Len(t, s.Problems, 2)
	require.Equal(t, "a", s.Problems[0].ID)
	require.Equal(t, []string{"boom"}, s.Problems[0].StderrTail)
	require.Equal(t, "b", s.Problems[1].ID)
	require.Equal(t, state.SkipDependencyNotSuccess, *s.Problems[1].SkipReason)

	require.Equal(t, []ArtifactRow{{TaskID: "a", Path: "artifacts/a/out.txt"}}, s.Artifacts)
}

func TestRenderMarkdownIncludesAllSections(t *testing.T) {
	runDir := t.TempDir()
	s := Build(sampleRunState(), runDir)
	out := RenderMarkdown(s)

	require.Contains(t, out, "# Final Run Report")
	require.Contains(t, out, "run_id: `20260101_000000_aaaaaa`")
	require.Contains(t, out, "status: **FAILED**")
	require.Contains(t, out, "| a | FAILED | 1 |")
	require.Contains(t, out, "### a (FAILED)")
	require.Contains(t, out, "skip_reason: `dependency_not_success`")
	require.Contains(t, out, "- `artifacts/a/out.txt` (task: `a`)")
}

func TestRenderMarkdownHandlesNoProblemsOrArtifacts(t *testing.T) {
	s := Summary{
		RunID:     "run1",
		Status:    state.RunStatusSuccess,
		CreatedAt: "2026-01-01T00:00:00+00:00",
		UpdatedAt: "2026-01-01T00:00:01+00:00",
	}
	out := RenderMarkdown(s)
	require.Contains(t, out, "No failed/skipped/canceled tasks.")
	require.Contains(t, out, "- (none)")
	require.Contains(t, out, "goal: (none)")
}
