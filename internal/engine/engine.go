// Package engine implements the scheduler loop: concurrency-bounded
// dispatch over the DAG, dependency propagation, fail-fast and cancel
// latching, retry scheduling with backoff, and terminal status roll-up.
package engine

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/orch/internal/artifact"
	"github.com/swarmguard/orch/internal/cancel"
	"github.com/swarmguard/orch/internal/clock"
	"github.com/swarmguard/orch/internal/dag"
	"github.com/swarmguard/orch/internal/orcherr"
	"github.com/swarmguard/orch/internal/plan"
	"github.com/swarmguard/orch/internal/retry"
	"github.com/swarmguard/orch/internal/runner"
	"github.com/swarmguard/orch/internal/state"
	"github.com/swarmguard/orch/internal/statestore"
)

const idleNap = 50 * time.Millisecond

// Metrics bundles the run-level OTel instruments the engine reports
// through, mirroring the teacher DAGEngine's instrument set.
type Metrics struct {
	taskDuration  metric.Float64Histogram
	taskFailures  metric.Int64Counter
	parallelism   metric.Int64UpDownCounter
	retryMetrics  *retry.Metrics
}

// NewMetrics builds the engine's metrics against meter.
func NewMetrics(meter metric.Meter) *Metrics {
	dur, _ := meter.Float64Histogram("orch_task_duration_ms")
	fail, _ := meter.Int64Counter("orch_task_failures_total")
	par, _ := meter.Int64UpDownCounter("orch_run_parallelism")
	return &Metrics{taskDuration: dur, taskFailures: fail, parallelism: par, retryMetrics: retry.NewMetrics(meter)}
}

// Options configures one invocation of the scheduler loop. Home and Workdir
// must both be absolute paths; the persisted state's §3 invariants require
// it.
type Options struct {
	MaxParallel int
	FailFast    bool
	Home        string
	Workdir     string
	Resume      bool
	FailedOnly  bool
}

// Run executes p's DAG inside runDir according to opts, driving the engine
// to completion (including crash-resume when opts.Resume is set) and
// returning the final persisted RunState.
func Run(ctx context.Context, tracer trace.Tracer, metrics *Metrics, p *plan.Plan, runDir string, opts Options) (*state.RunState, error) {
	if opts.MaxParallel < 1 {
		return nil, orcherr.Plan("max_parallel must be >= 1")
	}
	ctx, span := tracer.Start(ctx, "engine.run")
	defer span.End()

	adj := dag.Build(p)
	specByID := make(map[string]plan.Task, len(p.Tasks))
	for _, t := range p.Tasks {
		specByID[t.ID] = t
	}
	aggregateRoot := resolveArtifactsDir(p.ArtifactsDir, opts.Workdir)

	var rs *state.RunState
	var err error
	if opts.Resume {
		rs, err = prepareResume(p, runDir, opts, adj)
	} else {
		rs = initialState(p, runDir, opts)
	}
	if err != nil {
		return nil, err
	}
	if err := persist(runDir, rs); err != nil {
		return nil, err
	}

	active := make(map[string]struct{})
	for id, ts := range rs.Tasks {
		if ts.Status == state.StatusPending {
			active[id] = struct{}{}
		}
	}

	depRemaining := make(map[string]int, len(active))
	for id := range active {
		count := 0
		for _, dep := range specByID[id].DependsOn {
			if _, ok := active[dep]; ok {
				count++
			}
		}
		depRemaining[id] = count
	}

	var ready []string
	for id, n := range depRemaining {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	type taskDone struct {
		id  string
		res runner.Result
	}
	running := make(map[string]struct{})
	doneCh := make(chan taskDone, len(p.Tasks))
	sem := make(chan struct{}, opts.MaxParallel)
	cancelMode := false
	failFastMode := false

	propagate := func(taskID string) {
		for _, child := range adj.Dependents[taskID] {
			if _, ok := depRemaining[child]; !ok {
				continue
			}
			depRemaining[child]--
			if depRemaining[child] == 0 {
				if _, stillActive := active[child]; stillActive {
					ready = append(ready, child)
				}
			}
		}
	}

	skipTask := func(id string, reason state.SkipReason) {
		ts := rs.Tasks[id]
		ts.Status = state.StatusSkipped
		ts.SkipReason = &reason
		ts.EndedAt = strPtr(clock.NowISO())
		delete(active, id)
		propagate(id)
	}

	cancelTask := func(id string) {
		ts := rs.Tasks[id]
		reason := state.SkipRunCanceled
		ts.Status = state.StatusCanceled
		ts.Canceled = true
		ts.SkipReason = &reason
		ts.EndedAt = strPtr(clock.NowISO())
		delete(active, id)
		propagate(id)
	}

	for len(active) > 0 || len(running) > 0 {
		if !cancelMode && cancel.Requested(runDir) {
			cancelMode = true
			slog.Info("cancel request observed", "run_id", rs.RunID)
		}

		if cancelMode {
			for id := range cloneKeys(active) {
				if _, busy := running[id]; busy {
					continue
				}
				cancelTask(id)
			}
			if err := persist(runDir, rs); err != nil {
				return nil, err
			}
		}

		for len(ready) > 0 && len(running) < opts.MaxParallel && !cancelMode {
			id := ready[0]
			ready = ready[1:]
			if _, stillActive := active[id]; !stillActive {
				continue
			}
			if _, busy := running[id]; busy {
				continue
			}
			task := specByID[id]
			ts := rs.Tasks[id]

			depsOK := true
			for _, dep := range task.DependsOn {
				if rs.Tasks[dep].Status != state.StatusSuccess {
					depsOK = false
					break
				}
			}
			if !depsOK {
				skipTask(id, state.SkipDependencyNotSuccess)
				if err := persist(runDir, rs); err != nil {
					return nil, err
				}
				continue
			}
			if failFastMode {
				skipTask(id, state.SkipFailFast)
				if err := persist(runDir, rs); err != nil {
					return nil, err
				}
				continue
			}

			ts.Status = state.StatusRunning
			ts.StartedAt = strPtr(clock.NowISO())
			ts.EndedAt = nil
			ts.ExitCode = nil
			ts.Attempts++
			attempt := ts.Attempts
			if err := persist(runDir, rs); err != nil {
				return nil, err
			}
			slog.Info("task start", "run_id", rs.RunID, "task_id", id, "attempt", attempt)

			running[id] = struct{}{}
			sem <- struct{}{}
			if metrics != nil && metrics.parallelism != nil {
				metrics.parallelism.Add(ctx, 1)
			}
			go func(taskID string, t plan.Task, attempt int) {
				defer func() { <-sem }()
				maxAttempts := t.Retries + 1
				res := runner.Run(ctx, tracer, runDir, t, attempt, maxAttempts, opts.Workdir)
				doneCh <- taskDone{id: taskID, res: res}
			}(id, task, attempt)
		}

		if len(running) == 0 {
			if len(ready) == 0 {
				if len(active) > 0 {
					for id := range cloneKeys(active) {
						skipTask(id, state.SkipUnresolvableDependencies)
					}
					if err := persist(runDir, rs); err != nil {
						return nil, err
					}
				}
				break
			}
			time.Sleep(idleNap)
			continue
		}

		td := <-doneCh
		id, res := td.id, td.res
		delete(running, id)
		if metrics != nil && metrics.parallelism != nil {
			metrics.parallelism.Add(ctx, -1)
		}

		task := specByID[id]
		ts := rs.Tasks[id]
		ts.EndedAt = strPtr(clock.FormatISO(res.EndedAt))
		ts.DurationSec = &res.DurationSec
		ts.ExitCode = res.ExitCode
		ts.TimedOut = res.TimedOut
		ts.Canceled = res.Canceled

		if metrics != nil && metrics.taskDuration != nil {
			metrics.taskDuration.Record(ctx, res.DurationSec*1000, metric.WithAttributes(attribute.String("task_id", id)))
		}

		outcome := retry.Outcome{TimedOut: res.TimedOut, ExitCode: res.ExitCode, Canceled: res.Canceled, StartFailed: res.StartFailed}
		if retry.ShouldRetry(ts.Attempts, task.Retries, outcome) {
			backoff := retry.BackoffForAttempt(ts.Attempts-1, task.RetryBackoffSec)
			slog.Info("task retrying", "run_id", rs.RunID, "task_id", id, "attempt", ts.Attempts, "backoff_sec", backoff.Seconds())
			ts.Status = state.StatusReady
			if err := persist(runDir, rs); err != nil {
				return nil, err
			}
			if metrics != nil {
				metrics.retryMetrics.RecordRetry(ctx, id)
			}
			time.Sleep(backoff)
			ts.Status = state.StatusPending
			ready = append(ready, id)
			if err := persist(runDir, rs); err != nil {
				return nil, err
			}
			continue
		}

		if res.Canceled {
			reason := state.SkipRunCanceled
			ts.Status = state.StatusCanceled
			ts.SkipReason = &reason
			cancelMode = true
			slog.Info("task canceled", "run_id", rs.RunID, "task_id", id)
		} else {
			cwd := resolveTaskCWD(task.CWD, opts.Workdir)
			ts.ArtifactPaths = artifact.Collect(id, task.Outputs, cwd, runDir, aggregateRoot)
			if ts.ArtifactPaths == nil {
				ts.ArtifactPaths = []string{}
			}
			if res.ExitCode != nil && *res.ExitCode == 0 && !res.TimedOut {
				ts.Status = state.StatusSuccess
				slog.Info("task success", "run_id", rs.RunID, "task_id", id, "attempt", ts.Attempts, "duration_sec", res.DurationSec)
			} else {
				ts.Status = state.StatusFailed
				if res.StartFailed && ts.SkipReason == nil {
					reason := state.SkipProcessStartFailed
					ts.SkipReason = &reason
				}
				if metrics != nil && metrics.taskFailures != nil {
					metrics.taskFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("task_id", id)))
				}
				slog.Warn("task failed", "run_id", rs.RunID, "task_id", id, "attempt", ts.Attempts, "exit_code", res.ExitCode, "timed_out", res.TimedOut)
				if opts.FailFast {
					failFastMode = true
					slog.Info("fail-fast latched", "run_id", rs.RunID, "task_id", id)
				}
			}
		}

		delete(active, id)
		propagate(id)

		if failFastMode {
			for pendingID := range cloneKeys(active) {
				if _, busy := running[pendingID]; busy {
					continue
				}
				skipTask(pendingID, state.SkipFailFast)
			}
		}

		if err := persist(runDir, rs); err != nil {
			return nil, err
		}
	}

	rs.Status = finalizeRunStatus(rs)
	if err := persist(runDir, rs); err != nil {
		return nil, err
	}
	slog.Info("run finished", "run_id", rs.RunID, "status", rs.Status)
	return rs, nil
}

func strPtr(s string) *string { return &s }

func cloneKeys(m map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func persist(runDir string, rs *state.RunState) error {
	rs.UpdatedAt = clock.NowISO()
	return statestore.SaveAtomic(runDir, rs)
}

func resolveArtifactsDir(artifactsDir, workdir string) string {
	if artifactsDir == "" {
		return ""
	}
	if filepath.IsAbs(artifactsDir) {
		return artifactsDir
	}
	return filepath.Join(workdir, artifactsDir)
}

func resolveTaskCWD(taskCWD, defaultCWD string) string {
	if taskCWD == "" {
		return defaultCWD
	}
	if filepath.IsAbs(taskCWD) {
		return taskCWD
	}
	return filepath.Join(defaultCWD, taskCWD)
}

func finalizeRunStatus(rs *state.RunState) state.RunStatus {
	sawCanceled, sawFailedOrSkipped, allSuccess := false, false, true
	for _, ts := range rs.Tasks {
		switch ts.Status {
		case state.StatusCanceled:
			sawCanceled = true
			allSuccess = false
		case state.StatusFailed, state.StatusSkipped:
			sawFailedOrSkipped = true
			allSuccess = false
		case state.StatusSuccess:
		default:
			allSuccess = false
		}
	}
	switch {
	case sawCanceled:
		return state.RunStatusCanceled
	case allSuccess:
		return state.RunStatusSuccess
	case sawFailedOrSkipped:
		return state.RunStatusFailed
	default:
		return state.RunStatusFailed
	}
}
