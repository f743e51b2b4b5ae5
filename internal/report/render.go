package report

import (
	"fmt"
	"strconv"
	"strings"
)

// RenderMarkdown renders s in the exact section/table layout the
// orchestrator has always written into a run's report directory.
func RenderMarkdown(s Summary) string {
	var b strings.Builder

	b.WriteString("# Final Run Report\n\n")
	b.WriteString("## Run Overview\n\n")
	fmt.Fprintf(&b, "- run_id: `%s`\n", s.RunID)
	fmt.Fprintf(&b, "- goal: %s\n", orNone(s.Goal))
	fmt.Fprintf(&b, "- status: **%s**\n", s.Status)
	fmt.Fprintf(&b, "- started: %s\n", s.CreatedAt)
	fmt.Fprintf(&b, "- ended: %s\n", s.UpdatedAt)
	fmt.Fprintf(&b, "- max_parallel: %d\n", s.MaxParallel)
	fmt.Fprintf(&b, "- fail_fast: %s\n", boolMark(s.FailFast))
	fmt.Fprintf(&b, "- workdir: `%s`\n\n", s.Workdir)

	b.WriteString("## Task Results\n\n")
	b.WriteString("| id | status | attempts | duration_sec | exit_code | timed_out | logs |\n")
	b.WriteString("|---|---:|---:|---:|---:|---:|---|\n")
	for _, row := range s.Tasks {
		logs := fmt.Sprintf("`%s` / `%s`", row.StdoutPath, row.StderrPath)
		fmt.Fprintf(&b, "| %s | %s | %d | %s | %s | %v | %s |\n",
			row.ID, row.Status, row.Attempts, floatOrNone(row.DurationSec), intOrNone(row.ExitCode), row.TimedOut, logs)
	}
	b.WriteString("\n")

	b.WriteString("## Failed / Skipped / Canceled Details\n\n")
	if len(s.Problems) > 0 {
		for _, row := range s.Problems {
			fmt.Fprintf(&b, "### %s (%s)\n", row.ID, row.Status)
			if row.SkipReason != nil {
				fmt.Fprintf(&b, "- skip_reason: `%s`\n", *row.SkipReason)
			}
			b.WriteString("- stderr tail:\n```\n")
			tail := row.StderrTail
			if len(tail) == 0 {
				tail = []string{"(empty)"}
			}
			for _, line := range tail {
				b.WriteString(line)
				b.WriteString("\n")
			}
			b.WriteString("```\n\n")
		}
	} else {
		b.WriteString("No failed/skipped/canceled tasks.\n\n")
	}

	b.WriteString("## Artifacts\n\n")
	if len(s.Artifacts) > 0 {
		for _, a := range s.Artifacts {
			fmt.Fprintf(&b, "- `%s` (task: `%s`)\n", a.Path, a.TaskID)
		}
	} else {
		b.WriteString("- (none)\n")
	}
	b.WriteString("\n")

	return b.String()
}

func boolMark(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func orNone(s *string) string {
	if s == nil || *s == "" {
		return "(none)"
	}
	return *s
}

func floatOrNone(f *float64) string {
	if f == nil {
		return "None"
	}
	return strconv.FormatFloat(*f, 'g', -1, 64)
}

func intOrNone(i *int) string {
	if i == nil {
		return "None"
	}
	return strconv.Itoa(*i)
}
