// Package cli implements the orch command bodies: run, resume, status,
// logs, and cancel, including plan loading, DAG validation, run-directory
// setup, lock acquisition, and exit-code mapping.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/orch/internal/cancel"
	"github.com/swarmguard/orch/internal/dag"
	"github.com/swarmguard/orch/internal/engine"
	"github.com/swarmguard/orch/internal/ids"
	"github.com/swarmguard/orch/internal/lock"
	"github.com/swarmguard/orch/internal/obs"
	"github.com/swarmguard/orch/internal/orcherr"
	"github.com/swarmguard/orch/internal/pathguard"
	"github.com/swarmguard/orch/internal/plan"
	"github.com/swarmguard/orch/internal/report"
	"github.com/swarmguard/orch/internal/state"
	"github.com/swarmguard/orch/internal/statestore"
)

// Exit codes mirror the spec's closed set: 0 success, 2 bad input/missing
// run/plan error, 3 run failed/lock conflict, 4 canceled.
const (
	ExitSuccess     = 0
	ExitBadInput    = 2
	ExitRunFailed   = 3
	ExitRunCanceled = 4
)

// App bundles the dependencies every command body needs.
type App struct {
	Out       io.Writer
	ErrOut    io.Writer
	Providers *obs.Providers
}

func (a *App) printf(format string, args ...any) { fmt.Fprintf(a.Out, format, args...) }
func (a *App) errorf(format string, args ...any) {
	fmt.Fprintln(a.ErrOut, color.RedString(format, args...))
}

func (a *App) tracer() trace.Tracer { return a.Providers.Tracer }

func (a *App) engineMetrics() *engine.Metrics { return engine.NewMetrics(a.Providers.Meter) }

func exitCodeForRunStatus(status state.RunStatus) int {
	switch status {
	case state.RunStatusSuccess:
		return ExitSuccess
	case state.RunStatusCanceled:
		return ExitRunCanceled
	default:
		return ExitRunFailed
	}
}

func runExists(runDir string) bool {
	info, err := os.Stat(runDir)
	if err != nil || !info.IsDir() {
		return false
	}
	if _, err := os.Stat(filepath.Join(runDir, "state.json")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(runDir, "plan.yaml")); err == nil {
		return true
	}
	return false
}

func resolveWorkdirOrExit(a *App, workdir string) (string, bool) {
	resolved, err := filepath.Abs(workdir)
	if err != nil {
		a.errorf("Invalid workdir: %s", workdir)
		return "", false
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		a.errorf("Invalid workdir: %s", workdir)
		return "", false
	}
	return resolved, true
}

func writeReport(rs *state.RunState, runDir string) (string, error) {
	summary := report.Build(rs, runDir)
	md := report.RenderMarkdown(summary)
	reportPath := filepath.Join(runDir, "report", "final_report.md")
	f, err := pathguard.OpenWriteTruncGuarded(reportPath, 0o644)
	if err != nil {
		return "", orcherr.OSWrap(err, "failed to open report path")
	}
	defer f.Close()
	if _, err := f.WriteString(md + "\n"); err != nil {
		return "", orcherr.OSWrap(err, "failed to write report")
	}
	return reportPath, nil
}

// RunOptions are the flags of the `run` command.
type RunOptions struct {
	PlanPath    string
	MaxParallel int
	Home        string
	Workdir     string
	FailFast    bool
	DryRun      bool
}

// Run implements `orch run`.
func (a *App) Run(ctx context.Context, opts RunOptions) int {
	slog.Info("cli command", "command", "run", "plan", opts.PlanPath)
	p, order, ok := loadAndValidatePlan(a, opts.PlanPath)
	if !ok {
		return ExitBadInput
	}

	if opts.DryRun {
		printDryRunTable(a, order)
		return ExitSuccess
	}

	workdir, ok := resolveWorkdirOrExit(a, opts.Workdir)
	if !ok {
		return ExitBadInput
	}
	home, err := filepath.Abs(opts.Home)
	if err != nil {
		a.errorf("Invalid home: %s", opts.Home)
		return ExitBadInput
	}

	runID := ids.NewRunID(time.Now())
	runDir := pathguard.RunDir(home, runID)
	if err := pathguard.EnsureRunLayout(runDir); err != nil {
		a.errorf("Failed to create run directory: %v", err)
		return ExitBadInput
	}
	if err := copyPlanFile(opts.PlanPath, filepath.Join(runDir, "plan.yaml")); err != nil {
		a.errorf("Failed to copy plan: %v", err)
		return ExitBadInput
	}

	handle, err := lock.Acquire(runDir, lock.Options{})
	if err != nil {
		a.errorf("%v", err)
		if e, ok := orcherr.As(err); ok && e.Kind == orcherr.KindRunConflict {
			return ExitRunFailed
		}
		return ExitBadInput
	}
	defer handle.Release()

	rs, err := engine.Run(ctx, a.tracer(), a.engineMetrics(), p, runDir, engine.Options{
		MaxParallel: opts.MaxParallel,
		FailFast:    opts.FailFast,
		Home:        home,
		Workdir:     workdir,
		Resume:      false,
	})
	if err != nil {
		a.errorf("Run failed: %v", err)
		return ExitBadInput
	}

	reportPath, err := writeReport(rs, runDir)
	if err != nil {
		a.errorf("Failed to write report: %v", err)
	}
	a.printf("run_id: %s\n", runID)
	a.printf("state: %s\n", rs.Status)
	a.printf("report: %s\n", reportPath)
	slog.Info("cli command finished", "command", "run", "run_id", runID, "status", rs.Status)
	return exitCodeForRunStatus(rs.Status)
}

// ResumeOptions are the flags of the `resume` command.
type ResumeOptions struct {
	RunID       string
	Home        string
	MaxParallel int
	Workdir     string
	FailFast    bool
	FailedOnly  bool
}

// Resume implements `orch resume`.
func (a *App) Resume(ctx context.Context, opts ResumeOptions) int {
	slog.Info("cli command", "command", "resume", "run_id", opts.RunID, "failed_only", opts.FailedOnly)
	workdir, ok := resolveWorkdirOrExit(a, opts.Workdir)
	if !ok {
		return ExitBadInput
	}
	home, err := filepath.Abs(opts.Home)
	if err != nil {
		a.errorf("Invalid home: %s", opts.Home)
		return ExitBadInput
	}
	runDir := pathguard.RunDir(home, opts.RunID)

	handle, err := lock.Acquire(runDir, lock.Options{})
	if err != nil {
		if e, ok := orcherr.As(err); ok && e.Kind == orcherr.KindRunConflict {
			a.errorf("%v", err)
			return ExitRunFailed
		}
		a.errorf("Run not found or broken: %v", err)
		return ExitBadInput
	}
	defer handle.Release()

	p, err := plan.Load(filepath.Join(runDir, "plan.yaml"))
	if err != nil {
		a.errorf("Plan validation error: %v", err)
		return ExitBadInput
	}
	taskIDs := make([]string, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		taskIDs = append(taskIDs, t.ID)
	}
	adj := dag.Build(p)
	if _, err := dag.AssertAcyclic(taskIDs, adj); err != nil {
		a.errorf("Plan validation error: %v", err)
		return ExitBadInput
	}

	rs, err := engine.Run(ctx, a.tracer(), a.engineMetrics(), p, runDir, engine.Options{
		MaxParallel: opts.MaxParallel,
		FailFast:    opts.FailFast,
		Home:        home,
		Workdir:     workdir,
		Resume:      true,
		FailedOnly:  opts.FailedOnly,
	})
	if err != nil {
		a.errorf("Run not found or broken: %v", err)
		return ExitBadInput
	}

	reportPath, err := writeReport(rs, runDir)
	if err != nil {
		a.errorf("Failed to write report: %v", err)
	}
	a.printf("run_id: %s\n", opts.RunID)
	a.printf("state: %s\n", rs.Status)
	a.printf("report: %s\n", reportPath)
	slog.Info("cli command finished", "command", "resume", "run_id", opts.RunID, "status", rs.Status)
	return exitCodeForRunStatus(rs.Status)
}

// StatusOptions are the flags of the `status` command.
type StatusOptions struct {
	RunID  string
	Home   string
	AsJSON bool
}

// Status implements `orch status`.
func (a *App) Status(opts StatusOptions) int {
	slog.Info("cli command", "command", "status", "run_id", opts.RunID)
	home, err := filepath.Abs(opts.Home)
	if err != nil {
		a.errorf("Invalid home: %s", opts.Home)
		return ExitBadInput
	}
	runDir := pathguard.RunDir(home, opts.RunID)

	var rs *state.RunState
	handle, lockErr := lock.Acquire(runDir, lock.Options{Retries: 5, RetryInterval: 100 * time.Millisecond})
	if lockErr == nil {
		rs, err = statestore.Load(runDir)
		handle.Release()
	} else {
		rs, err = statestore.Load(runDir)
	}
	if err != nil {
		a.errorf("Failed to load state: %v", err)
		return ExitBadInput
	}

	if opts.AsJSON {
		buf, encErr := json.MarshalIndent(rs, "", "  ")
		if encErr != nil {
			a.errorf("Failed to encode state: %v", encErr)
			return ExitBadInput
		}
		a.printf("%s\n", buf)
		return ExitSuccess
	}

	printStatusTable(a, opts.RunID, rs)
	return ExitSuccess
}

// LogsOptions are the flags of the `logs` command.
type LogsOptions struct {
	RunID string
	Home  string
	Task  string
	Tail  int
}

// Logs implements `orch logs`.
func (a *App) Logs(opts LogsOptions) int {
	slog.Info("cli command", "command", "logs", "run_id", opts.RunID, "task", opts.Task)
	home, err := filepath.Abs(opts.Home)
	if err != nil {
		a.errorf("Invalid home: %s", opts.Home)
		return ExitBadInput
	}
	runDir := pathguard.RunDir(home, opts.RunID)
	rs, err := statestore.Load(runDir)
	if err != nil {
		a.errorf("Failed to load state: %v", err)
		return ExitBadInput
	}

	var taskIDs []string
	if opts.Task != "" {
		taskIDs = []string{opts.Task}
	} else {
		for id := range rs.Tasks {
			taskIDs = append(taskIDs, id)
		}
	}

	missing := false
	for _, id := range taskIDs {
		ts, ok := rs.Tasks[id]
		if !ok {
			a.printf("unknown task: %s\n", id)
			missing = true
			continue
		}
		printTaskLogs(a, runDir, id, ts, opts.Tail)
	}
	if opts.Task != "" && missing {
		return ExitBadInput
	}
	return ExitSuccess
}

// Cancel implements `orch cancel`.
func (a *App) Cancel(runID, homeFlag string) int {
	slog.Info("cli command", "command", "cancel", "run_id", runID)
	home, err := filepath.Abs(homeFlag)
	if err != nil {
		a.errorf("Invalid home: %s", homeFlag)
		return ExitBadInput
	}
	runDir := pathguard.RunDir(home, runID)
	if !runExists(runDir) {
		a.errorf("Run not found: %s", runID)
		return ExitBadInput
	}
	if err := cancel.Write(runDir); err != nil {
		a.errorf("Failed to write cancel request: %v", err)
		return ExitBadInput
	}
	a.printf("cancel requested: %s\n", runID)
	return ExitSuccess
}

func loadAndValidatePlan(a *App, planPath string) (*plan.Plan, []string, bool) {
	p, err := plan.Load(planPath)
	if err != nil {
		a.errorf("Plan validation error: %v", err)
		return nil, nil, false
	}
	taskIDs := make([]string, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		taskIDs = append(taskIDs, t.ID)
	}
	adj := dag.Build(p)
	order, err := dag.AssertAcyclic(taskIDs, adj)
	if err != nil {
		a.errorf("Plan validation error: %v", err)
		return nil, nil, false
	}
	return p, order, true
}

func copyPlanFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
