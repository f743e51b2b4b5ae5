// Package runner spawns a single task attempt, streams its output to the
// run directory's log files, and supervises it for timeout/cancel under a
// single polling loop, matching the process lifecycle the engine expects:
// spawn, stream, enforce timeout, escalate termination, report outcome.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/orch/internal/cancel"
	"github.com/swarmguard/orch/internal/clock"
	"github.com/swarmguard/orch/internal/pathguard"
	"github.com/swarmguard/orch/internal/plan"
)

const (
	pollInterval   = 100 * time.Millisecond
	terminateGrace = 1 * time.Second
	chunkSize      = 4096
)

// Result is the outcome of one task attempt.
type Result struct {
	ExitCode    *int
	TimedOut    bool
	Canceled    bool
	StartFailed bool
	StartedAt   time.Time
	EndedAt     time.Time
	DurationSec float64
}

// Run executes one attempt of task t inside runDir and returns its result.
// attempt/maxAttempts are 1-based and only used for the log header, the
// span attribute and log fields.
func Run(ctx context.Context, tracer trace.Tracer, runDir string, t plan.Task, attempt, maxAttempts int, defaultCWD string) Result {
	_, span := tracer.Start(ctx, "task.execute",
		trace.WithAttributes(
			attribute.String("task_id", t.ID),
			attribute.Int("attempt", attempt),
		),
	)
	defer span.End()

	startedAt := time.Now()
	outPath := filepath.Join(runDir, "logs", t.ID+".out.log")
	errPath := filepath.Join(runDir, "logs", t.ID+".err.log")
	appendAttemptHeader(outPath, attempt, maxAttempts)
	appendAttemptHeader(errPath, attempt, maxAttempts)

	cwd := resolveTaskCWD(t.CWD, defaultCWD)
	env := mergeEnv(os.Environ(), t.Env)

	cmd := exec.Command(t.Cmd[0], t.Cmd[1:]...)
	cmd.Dir = cwd
	cmd.Env = env

	stdout, err1 := cmd.StdoutPipe()
	stderr, err2 := cmd.StderrPipe()
	var startErr error
	switch {
	case err1 != nil:
		startErr = err1
	case err2 != nil:
		startErr = err2
	default:
		startErr = cmd.Start()
	}
	if startErr != nil {
		slog.Error("task spawn failed", "task_id", t.ID, "attempt", attempt, "error", startErr)
		appendText(errPath, fmt.Sprintf("failed to start process: %v\n", startErr))
		endedAt := time.Now()
		exitCode := 127
		return Result{
			ExitCode:    &exitCode,
			StartFailed: true,
			StartedAt:   startedAt,
			EndedAt:     endedAt,
			DurationSec: clock.DurationSec(startedAt, endedAt),
		}
	}

	slog.Info("task spawned", "task_id", t.ID, "attempt", attempt, "cmd", t.Cmd, "cwd", cwd)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); streamToFile(stdout, outPath) }()
	go func() { defer wg.Done(); streamToFile(stderr, errPath) }()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timedOut := false
	canceled := false
	var exitCode *int

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

poll:
	for {
		select {
		case <-done:
			exitCode = resolveExitCode(cmd)
			break poll
		case <-ticker.C:
			if cancel.Requested(runDir) {
				canceled = true
				slog.Info("task canceled", "task_id", t.ID, "attempt", attempt)
				terminate(cmd, done)
				exitCode = resolveExitCode(cmd)
				break poll
			}
			if t.TimeoutSec != nil {
				if time.Since(startedAt).Seconds() > *t.TimeoutSec {
					timedOut = true
					slog.Warn("task timed out", "task_id", t.ID, "attempt", attempt, "timeout_sec", *t.TimeoutSec)
					terminate(cmd, done)
					exitCode = nil
					break poll
				}
			}
		}
	}

	wg.Wait()
	endedAt := time.Now()
	slog.Info("task finished", "task_id", t.ID, "attempt", attempt, "exit_code", exitCode, "timed_out", timedOut, "canceled", canceled)
	return Result{
		ExitCode:    exitCode,
		TimedOut:    timedOut,
		Canceled:    canceled,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		DurationSec: clock.DurationSec(startedAt, endedAt),
	}
}

// terminate sends SIGTERM, waits up to terminateGrace for the process to
// exit, then escalates to SIGKILL and waits for that to take effect.
func terminate(cmd *exec.Cmd, done chan error) {
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(terminateGrace):
	}
	slog.Warn("escalating to SIGKILL", "pid", cmd.Process.Pid)
	_ = cmd.Process.Kill()
	<-done
}

func resolveExitCode(cmd *exec.Cmd) *int {
	if cmd.ProcessState == nil {
		return nil
	}
	code := cmd.ProcessState.ExitCode()
	if code < 0 {
		// Negative means the process was killed by a signal (terminate/kill
		// escalation); the spec's CANCELED/timeout path already carries that
		// information separately, so surface no exit code here.
		return nil
	}
	return &code
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

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))
	for k := range overrides {
		seen[k] = true
	}
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if seen[key] {
			continue
		}
		merged = append(merged, kv)
	}
	for k, v := range overrides {
		merged = append(merged, k+"="+v)
	}
	return merged
}

func appendAttemptHeader(path string, attempt, maxAttempts int) {
	appendText(path, fmt.Sprintf("\n===== attempt %d / %d =====\n", attempt, maxAttempts))
}

func appendText(path, text string) {
	f, err := pathguard.OpenAppendGuarded(path)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(text)
}

// streamToFile reads r in fixed chunks and appends each chunk to path,
// flushing after every write — a best-effort operation, matching the
// Python capture loop's "fail silently on guard/open failure" contract.
func streamToFile(r io.Reader, path string) {
	f, err := pathguard.OpenAppendGuarded(path)
	if err != nil {
		io.Copy(io.Discard, r)
		return
	}
	defer f.Close()
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			f.Write(buf[:n])
			f.Sync()
		}
		if err != nil {
			return
		}
	}
}
