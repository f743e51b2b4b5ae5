// Package state defines the persisted run/task state model and the strict
// validating codec that enforces every invariant in the data model before
// handing a RunState back to a caller.
package state

// TaskStatus is the closed set of states a task can occupy.
type TaskStatus string

const (
	StatusPending  TaskStatus = "PENDING"
	StatusReady    TaskStatus = "READY"
	StatusRunning  TaskStatus = "RUNNING"
	StatusSuccess  TaskStatus = "SUCCESS"
	StatusFailed   TaskStatus = "FAILED"
	StatusSkipped  TaskStatus = "SKIPPED"
	StatusCanceled TaskStatus = "CANCELED"
)

// RunStatus is the closed set of states a run can occupy. Unlike
// TaskStatus, a run is never persisted as PENDING.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusSuccess  RunStatus = "SUCCESS"
	RunStatusFailed   RunStatus = "FAILED"
	RunStatusCanceled RunStatus = "CANCELED"
)

// SkipReason is the closed set of reasons a task can land on a non-SUCCESS,
// non-FAILED terminal state.
type SkipReason string

const (
	SkipDependencyNotSuccess     SkipReason = "dependency_not_success"
	SkipRunCanceled              SkipReason = "run_canceled"
	SkipFailFast                 SkipReason = "fail_fast"
	SkipUnresolvableDependencies SkipReason = "unresolvable_dependencies"
	SkipPreviousRunInterrupted   SkipReason = "previous_run_interrupted"
	SkipProcessStartFailed       SkipReason = "process_start_failed"
	SkipRunnerException          SkipReason = "runner_exception"
)

// TaskState is the per-task runtime record embedded in RunState.Tasks.
type TaskState struct {
	Status TaskStatus `json:"status"`

	DependsOn       []string          `json:"depends_on"`
	Cmd             []string          `json:"cmd"`
	CWD             *string           `json:"cwd"`
	Env             map[string]string `json:"env"`
	TimeoutSec      *float64          `json:"timeout_sec"`
	Retries         int               `json:"retries"`
	RetryBackoffSec []float64         `json:"retry_backoff_sec"`
	Outputs         []string          `json:"outputs"`

	Attempts int `json:"attempts"`

	StartedAt   *string  `json:"started_at"`
	EndedAt     *string  `json:"ended_at"`
	DurationSec *float64 `json:"duration_sec"`
	ExitCode    *int     `json:"exit_code"`

	TimedOut bool `json:"timed_out"`
	Canceled bool `json:"canceled"`

	SkipReason *SkipReason `json:"skip_reason"`

	StdoutPath string `json:"stdout_path"`
	StderrPath string `json:"stderr_path"`

	ArtifactPaths []string `json:"artifact_paths"`
}

// RunState is the full persisted state of one run.
type RunState struct {
	RunID     string    `json:"run_id"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
	Status    RunStatus `json:"status"`

	Goal         *string `json:"goal"`
	PlanRelpath  string  `json:"plan_relpath"`
	Home         string  `json:"home"`
	Workdir      string  `json:"workdir"`
	MaxParallel  int     `json:"max_parallel"`
	FailFast     bool    `json:"fail_fast"`

	Tasks map[string]*TaskState `json:"tasks"`
}
