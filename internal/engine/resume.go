package engine

import (
	"fmt"
	"path/filepath"

	"github.com/swarmguard/orch/internal/cancel"
	"github.com/swarmguard/orch/internal/clock"
	"github.com/swarmguard/orch/internal/dag"
	"github.com/swarmguard/orch/internal/orcherr"
	"github.com/swarmguard/orch/internal/plan"
	"github.com/swarmguard/orch/internal/state"
	"github.com/swarmguard/orch/internal/statestore"
)

// initialState builds the fresh RunState for a first-time run of p.
func initialState(p *plan.Plan, runDir string, opts Options) *state.RunState {
	now := clock.NowISO()
	tasks := make(map[string]*state.TaskState, len(p.Tasks))
	for _, t := range p.Tasks {
		tasks[t.ID] = newTaskState(t, runDir)
	}
	var goal *string
	if p.Goal != "" {
		g := p.Goal
		goal = &g
	}
	return &state.RunState{
		RunID:       filepath.Base(runDir),
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      state.RunStatusRunning,
		Goal:        goal,
		PlanRelpath: "plan.yaml",
		Home:        opts.Home,
		Workdir:     opts.Workdir,
		MaxParallel: opts.MaxParallel,
		FailFast:    opts.FailFast,
		Tasks:       tasks,
	}
}

func newTaskState(t plan.Task, runDir string) *state.TaskState {
	var cwd *string
	if t.CWD != "" {
		c := t.CWD
		cwd = &c
	}
	return &state.TaskState{
		Status:          state.StatusPending,
		DependsOn:       append([]string(nil), t.DependsOn...),
		Cmd:             append([]string(nil), t.Cmd...),
		CWD:             cwd,
		Env:             t.Env,
		TimeoutSec:      t.TimeoutSec,
		Retries:         t.Retries,
		RetryBackoffSec: t.RetryBackoffSec,
		Outputs:         append([]string(nil), t.Outputs...),
		StdoutPath:      filepath.ToSlash(filepath.Join("logs", t.ID+".out.log")),
		StderrPath:      filepath.ToSlash(filepath.Join("logs", t.ID+".err.log")),
		ArtifactPaths:   []string{},
	}
}

// prepareResume clears any cancel.request left over from a prior canceled
// run, loads the previously persisted RunState for runDir, validates it
// still matches p, marks any task left RUNNING by a crashed process as
// interrupted, and resets tasks back to PENDING so the loop picks them up
// again: with opts.FailedOnly, the rerun set (FAILED tasks and their
// non-SUCCESS downstream tasks); otherwise every non-SUCCESS task.
func prepareResume(p *plan.Plan, runDir string, opts Options, adj dag.Adjacency) (*state.RunState, error) {
	cancel.Clear(runDir)
	rs, err := statestore.Load(runDir)
	if err != nil {
		return nil, err
	}
	if err := validateResumeStateMatchesPlan(rs, p); err != nil {
		return nil, err
	}

	for _, ts := range rs.Tasks {
		if ts.Status == state.StatusRunning {
			reason := state.SkipPreviousRunInterrupted
			ts.Status = state.StatusFailed
			ts.SkipReason = &reason
			if ts.EndedAt == nil {
				now := clock.NowISO()
				ts.EndedAt = &now
			}
		}
	}

	if opts.FailedOnly {
		rerun := rerunSet(rs, adj)
		resetForRerun(rs, rerun)
	} else {
		for _, ts := range rs.Tasks {
			if ts.Status != state.StatusSuccess {
				resetSingleTaskState(ts)
			}
		}
	}

	rs.Status = state.RunStatusRunning
	rs.MaxParallel = opts.MaxParallel
	rs.FailFast = opts.FailFast
	rs.Workdir = opts.Workdir
	return rs, nil
}

// validateResumeStateMatchesPlan ensures the persisted task set is exactly
// the plan's task set, so a resumed run can't silently diverge from an
// edited plan file.
func validateResumeStateMatchesPlan(rs *state.RunState, p *plan.Plan) error {
	planIDs := make(map[string]struct{}, len(p.Tasks))
	for _, t := range p.Tasks {
		planIDs[t.ID] = struct{}{}
	}
	for id := range rs.Tasks {
		if _, ok := planIDs[id]; !ok {
			return orcherr.State(fmt.Sprintf("resume state contains task %q not present in plan", id))
		}
	}
	for id := range planIDs {
		if _, ok := rs.Tasks[id]; !ok {
			return orcherr.State(fmt.Sprintf("plan contains task %q not present in resume state", id))
		}
	}
	return nil
}

// rerunSet returns the task IDs that must be reset to PENDING for a
// failed-only resume: tasks currently FAILED, plus every non-SUCCESS task
// reachable forward from one of those through the dependency graph.
func rerunSet(rs *state.RunState, adj dag.Adjacency) map[string]struct{} {
	rerun := make(map[string]struct{})
	var queue []string
	for id, ts := range rs.Tasks {
		if ts.Status == state.StatusFailed {
			rerun[id] = struct{}{}
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range adj.Dependents[id] {
			if _, already := rerun[child]; already {
				continue
			}
			if rs.Tasks[child].Status == state.StatusSuccess {
				continue
			}
			rerun[child] = struct{}{}
			queue = append(queue, child)
		}
	}
	return rerun
}

// resetForRerun resets every task in rerun back to PENDING bookkeeping,
// keeping its accumulated attempts count so retry budgets carry across
// resumes instead of resetting.
func resetForRerun(rs *state.RunState, rerun map[string]struct{}) {
	for id := range rerun {
		resetSingleTaskState(rs.Tasks[id])
	}
}

func resetSingleTaskState(ts *state.TaskState) {
	ts.Status = state.StatusPending
	ts.StartedAt = nil
	ts.EndedAt = nil
	ts.DurationSec = nil
	ts.ExitCode = nil
	ts.TimedOut = false
	ts.Canceled = false
	ts.SkipReason = nil
	ts.ArtifactPaths = []string{}
}
