package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/swarmguard/orch/internal/orcherr"
)

// Decode strictly decodes raw JSON into a RunState: unknown fields (root or
// per-task) are rejected, then every invariant in the data model is
// cross-validated. The returned error (if any) is a StateError naming the
// first violated field.
func Decode(raw []byte, runDir, expectedRunID string) (*RunState, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var rs RunState
	if err := dec.Decode(&rs); err != nil {
		return nil, orcherr.StateWrap(err, "invalid state field: "+unknownFieldName(err))
	}
	if err := Validate(&rs, runDir, expectedRunID); err != nil {
		return nil, err
	}
	return &rs, nil
}

// unknownFieldName extracts the offending field name from the stock
// encoding/json "unknown field" error text, falling back to "root" when the
// shape of the message doesn't match (e.g. a type mismatch instead).
func unknownFieldName(err error) string {
	msg := err.Error()
	const marker = `unknown field "`
	if idx := strings.Index(msg, marker); idx >= 0 {
		rest := msg[idx+len(marker):]
		if end := strings.IndexByte(rest, '"'); end >= 0 {
			return rest[:end]
		}
	}
	return "root"
}

// Encode serializes state with UTF-8, stable key order, and two-space
// indentation. Map keys are sorted automatically by encoding/json; struct
// fields preserve declaration order.
func Encode(rs *RunState) ([]byte, error) {
	buf, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return nil, orcherr.StateWrap(err, "failed to encode state")
	}
	return buf, nil
}

var isoLayouts = []string{
	"2006-01-02T15:04:05-07:00",
	"2006-01-02T15:04:05Z07:00",
	time.RFC3339,
}

func parseISO(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Validate runs the full §3 invariant check against rs, returning a
// StateError naming the first violated field. runDir/expectedRunID are
// supplied by the caller (the state store knows the directory it loaded
// from) so run_id and home can be cross-checked against on-disk identity.
func Validate(rs *RunState, runDir, expectedRunID string) error {
	if rs.RunID == "" {
		return fieldErr("run_id")
	}
	if expectedRunID != "" && rs.RunID != expectedRunID {
		return fieldErr("run_id")
	}
	createdAt, ok := parseISO(rs.CreatedAt)
	if !ok {
		return fieldErr("created_at")
	}
	updatedAt, ok := parseISO(rs.UpdatedAt)
	if !ok {
		return fieldErr("updated_at")
	}
	if updatedAt.Before(createdAt) {
		return fieldErr("updated_at")
	}
	switch rs.Status {
	case RunStatusRunning, RunStatusSuccess, RunStatusFailed, RunStatusCanceled:
	default:
		return fieldErr("status")
	}
	if rs.PlanRelpath == "" || isAbs(rs.PlanRelpath) || hasDotDotComponent(rs.PlanRelpath) {
		return fieldErr("plan_relpath")
	}
	if rs.Home == "" || !isAbs(rs.Home) {
		return fieldErr("home")
	}
	if expectedHome := resolvedHome(runDir); expectedHome != "" && rs.Home != expectedHome {
		return fieldErr("home")
	}
	if rs.Workdir == "" || !isAbs(rs.Workdir) {
		return fieldErr("workdir")
	}
	if rs.MaxParallel < 1 {
		return fieldErr("max_parallel")
	}
	if len(rs.Tasks) == 0 {
		return fieldErr("tasks")
	}

	ids := make([]string, 0, len(rs.Tasks))
	for id := range rs.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	sawSuccess, sawFailedOrSkipped, sawCanceled := false, false, false
	for _, id := range ids {
		ts := rs.Tasks[id]
		if ts == nil {
			return fieldErr(fmt.Sprintf("tasks.%s", id))
		}
		if err := validateTask(id, ts); err != nil {
			return err
		}
		switch ts.Status {
		case StatusSuccess:
			sawSuccess = true
		case StatusFailed, StatusSkipped:
			sawFailedOrSkipped = true
		case StatusCanceled:
			sawCanceled = true
		}
	}

	switch rs.Status {
	case RunStatusSuccess:
		for _, id := range ids {
			if rs.Tasks[id].Status != StatusSuccess {
				return fieldErr("status")
			}
		}
	case RunStatusCanceled:
		if !sawCanceled {
			return fieldErr("status")
		}
	case RunStatusFailed:
		if !sawFailedOrSkipped || sawCanceled {
			return fieldErr("status")
		}
	case RunStatusRunning:
		_ = sawSuccess
	}

	return nil
}

func validateTask(id string, ts *TaskState) error {
	field := func(name string) error { return fieldErr(fmt.Sprintf("tasks.%s.%s", id, name)) }

	if ts.Attempts < 0 {
		return field("attempts")
	}
	if ts.Retries < 0 {
		return field("retries")
	}
	wantStdout := fmt.Sprintf("logs/%s.out.log", id)
	wantStderr := fmt.Sprintf("logs/%s.err.log", id)
	if ts.StdoutPath != wantStdout {
		return field("stdout_path")
	}
	if ts.StderrPath != wantStderr {
		return field("stderr_path")
	}
	if err := validateArtifactPaths(id, ts.ArtifactPaths); err != nil {
		return field("artifact_paths")
	}

	switch ts.Status {
	case StatusSuccess:
		if ts.Attempts < 1 || ts.StartedAt == nil || ts.EndedAt == nil || ts.DurationSec == nil {
			return field("status")
		}
		if ts.ExitCode == nil || *ts.ExitCode != 0 || ts.TimedOut || ts.Canceled || ts.SkipReason != nil {
			return field("status")
		}
	case StatusFailed:
		if ts.Attempts < 1 || ts.StartedAt == nil || ts.EndedAt == nil {
			return field("status")
		}
		if ts.Canceled {
			return field("status")
		}
		cleanExit := ts.ExitCode != nil && *ts.ExitCode == 0
		if !ts.TimedOut && cleanExit {
			return field("status")
		}
	case StatusSkipped:
		if ts.Attempts != 0 || ts.StartedAt != nil || ts.EndedAt == nil {
			return field("status")
		}
		if ts.SkipReason == nil {
			return field("skip_reason")
		}
		if !isKnownSkipReason(*ts.SkipReason) {
			return field("skip_reason")
		}
		if len(ts.ArtifactPaths) != 0 {
			return field("artifact_paths")
		}
	case StatusCanceled:
		if !ts.Canceled {
			return field("canceled")
		}
		if ts.SkipReason == nil || *ts.SkipReason != SkipRunCanceled {
			return field("skip_reason")
		}
		if len(ts.ArtifactPaths) != 0 {
			return field("artifact_paths")
		}
	case StatusRunning:
		if ts.StartedAt == nil || ts.EndedAt != nil || ts.ExitCode != nil {
			return field("status")
		}
		if ts.Attempts < 1 {
			return field("attempts")
		}
		if len(ts.ArtifactPaths) != 0 {
			return field("artifact_paths")
		}
	case StatusReady, StatusPending:
		// No upper bound here: a failed-only resume carries a task's
		// accumulated attempts forward across the reset to PENDING, so a
		// retries-exhausted task can be re-armed with attempts already
		// above retries. Only attempts >= 0 (checked above) applies.
	default:
		return field("status")
	}
	return nil
}

func isKnownSkipReason(r SkipReason) bool {
	switch r {
	case SkipDependencyNotSuccess, SkipRunCanceled, SkipFailFast, SkipUnresolvableDependencies,
		SkipPreviousRunInterrupted, SkipProcessStartFailed, SkipRunnerException:
		return true
	}
	return false
}

func validateArtifactPaths(id string, paths []string) error {
	prefix := fmt.Sprintf("artifacts/%s/", id)
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if !strings.HasPrefix(p, prefix) {
			return fmt.Errorf("artifact path %q does not begin with %q", p, prefix)
		}
		lower := strings.ToLower(p)
		if _, dup := seen[lower]; dup {
			return fmt.Errorf("duplicate artifact path %q", p)
		}
		seen[lower] = struct{}{}
	}
	return nil
}

func fieldErr(field string) error {
	return orcherr.State("invalid state field: %s", field)
}

func isAbs(p string) bool { return filepath.IsAbs(p) }

func hasDotDotComponent(p string) bool {
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

// resolvedHome returns the expected `home` value for a run directory of the
// form <home>/runs/<run_id>: the parent of the parent of runDir. Returns ""
// when runDir is empty, signalling "skip this cross-check" (used when
// validating state outside the context of an on-disk run directory, e.g.
// deserializing a wire payload for a test fixture).
func resolvedHome(runDir string) string {
	if runDir == "" {
		return ""
	}
	return filepath.Dir(filepath.Dir(filepath.Clean(runDir)))
}
