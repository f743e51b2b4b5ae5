package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/swarmguard/orch/internal/pathguard"
	"github.com/swarmguard/orch/internal/state"
)

func printDryRunTable(a *App, order []string) {
	fmt.Fprintln(a.Out, color.New(color.Bold).Sprint("Dry Run - Topological Order"))
	tw := tabwriter.NewWriter(a.Out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "#\ttask_id")
	for i, id := range order {
		fmt.Fprintf(tw, "%d\t%s\n", i+1, id)
	}
	tw.Flush()
}

func printStatusTable(a *App, runID string, rs *state.RunState) {
	fmt.Fprintln(a.Out, color.New(color.Bold).Sprintf("Run Status: %s", runID))
	tw := tabwriter.NewWriter(a.Out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "task_id\tstatus\tattempts\tduration_sec\texit_code")
	ids := sortedTaskIDs(rs)
	for _, id := range ids {
		ts := rs.Tasks[id]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			id, ts.Status, ts.Attempts, dashOrFloat(ts.DurationSec), dashOrInt(ts.ExitCode))
	}
	tw.Flush()
}

func printTaskLogs(a *App, runDir, taskID string, ts *state.TaskState, tail int) {
	var outLines, errLines []string
	if ts.StdoutPath != "" {
		outLines = pathguard.TailLines(joinRunPath(runDir, ts.StdoutPath), tail)
	}
	if ts.StderrPath != "" {
		errLines = pathguard.TailLines(joinRunPath(runDir, ts.StderrPath), tail)
	}

	fmt.Fprintln(a.Out, color.New(color.Faint).Sprintf("── %s :: stdout", taskID))
	printLinesOrEmpty(a, outLines)
	fmt.Fprintln(a.Out, color.New(color.Faint).Sprintf("── %s :: stderr", taskID))
	printLinesOrEmpty(a, errLines)
}

func printLinesOrEmpty(a *App, lines []string) {
	if len(lines) == 0 {
		a.printf("(empty)\n")
		return
	}
	a.printf("%s\n", strings.Join(lines, "\n"))
}

func sortedTaskIDs(rs *state.RunState) []string {
	ids := make([]string, 0, len(rs.Tasks))
	for id := range rs.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func dashOrFloat(f *float64) string {
	if f == nil {
		return "-"
	}
	return strconv.FormatFloat(*f, 'g', -1, 64)
}

func dashOrInt(i *int) string {
	if i == nil {
		return "-"
	}
	return strconv.Itoa(*i)
}

func joinRunPath(runDir, relPath string) string {
	return filepath.Join(runDir, relPath)
}
