// Package report builds a task/problem/artifact summary from a run's
// persisted state and renders it as Markdown, matching the final report the
// orchestrator writes into every run directory.
package report

import (
	"path/filepath"
	"sort"

	"github.com/swarmguard/orch/internal/pathguard"
	"github.com/swarmguard/orch/internal/state"
)

const stderrTailLines = 50

var problemStatuses = map[state.TaskStatus]bool{
	state.StatusFailed:   true,
	state.StatusSkipped:  true,
	state.StatusCanceled: true,
}

// TaskRow is one row of the Task Results table.
type TaskRow struct {
	ID          string
	Status      state.TaskStatus
	Attempts    int
	DurationSec *float64
	ExitCode    *int
	TimedOut    bool
	StdoutPath  string
	StderrPath  string
}

// ProblemRow is one entry of the Failed/Skipped/Canceled Details section.
type ProblemRow struct {
	ID         string
	Status     state.TaskStatus
	SkipReason *state.SkipReason
	StderrTail []string
}

// ArtifactRow is one entry of the Artifacts section.
type ArtifactRow struct {
	TaskID string
	Path   string
}

// Summary is the structured data behind the Markdown report.
type Summary struct {
	RunID       string
	Goal        *string
	CreatedAt   string
	UpdatedAt   string
	Status      state.RunStatus
	MaxParallel int
	FailFast    bool
	Workdir     string

	Tasks     []TaskRow
	Problems  []ProblemRow
	Artifacts []ArtifactRow
}

// Build derives a Summary from rs, reading stderr tails for problem tasks
// from their log files under runDir.
func Build(rs *state.RunState, runDir string) Summary {
	ids := make([]string, 0, len(rs.Tasks))
	for id := range rs.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	s := Summary{
		RunID:       rs.RunID,
		Goal:        rs.Goal,
		CreatedAt:   rs.CreatedAt,
		UpdatedAt:   rs.UpdatedAt,
		Status:      rs.Status,
		MaxParallel: rs.MaxParallel,
		FailFast:    rs.FailFast,
		Workdir:     rs.Workdir,
	}

	for _, id := range ids {
		t := rs.Tasks[id]
		s.Tasks = append(s.Tasks, TaskRow{
			ID:          id,
			Status:      t.Status,
			Attempts:    t.Attempts,
			DurationSec: t.DurationSec,
			ExitCode:    t.ExitCode,
			TimedOut:    t.TimedOut,
			StdoutPath:  t.StdoutPath,
			StderrPath:  t.StderrPath,
		})

		if problemStatuses[t.Status] {
			var tail []string
			if t.StderrPath != "" {
				tail = pathguard.TailLines(filepath.Join(runDir, t.StderrPath), stderrTailLines)
			}
			s.Problems = append(s.Problems, ProblemRow{
				ID:         id,
				Status:     t.Status,
				SkipReason: t.SkipReason,
				StderrTail: tail,
			})
		}

		for _, path := range t.ArtifactPaths {
			s.Artifacts = append(s.Artifacts, ArtifactRow{TaskID: id, Path: path})
		}
	}

	return s
}
