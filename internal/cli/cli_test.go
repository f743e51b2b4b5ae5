package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/swarmguard/orch/internal/cli"
	"github.com/swarmguard/orch/internal/obs"
)

func newApp() (*cli.App, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return &cli.App{
		Out:    out,
		ErrOut: errOut,
		Providers: &obs.Providers{
			Tracer: nooptrace.NewTracerProvider().Tracer("test"),
			Meter:  noopmetric.NewMeterProvider().Meter("test"),
		},
	}, out, errOut
}

func writePlanFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunSucceedsAndWritesReport(t *testing.T) {
	dir := t.TempDir()
	planPath := writePlanFile(t, dir, `
tasks:
  - id: a
    cmd: "true"
`)
	app, out, _ := newApp()
	code := app.Run(context.Background(), cli.RunOptions{
		PlanPath:    planPath,
		MaxParallel: 2,
		Home:        filepath.Join(dir, ".orch"),
		Workdir:     dir,
	})
	require.Equal(t, cli.ExitSuccess, code)
	require.Contains(t, out.String(), "state: SUCCESS")
}

func TestRunFailedExitsThree(t *testing.T) {
	dir := t.TempDir()
	planPath := writePlanFile(t, dir, `
tasks:
  - id: a
    cmd: "false"
`)
	app, _, _ := newApp()
	code := app.Run(context.Background(), cli.RunOptions{
		PlanPath:    planPath,
		MaxParallel: 1,
		Home:        filepath.Join(dir, ".orch"),
		Workdir:     dir,
	})
	require.Equal(t, cli.ExitRunFailed, code)
}

func TestRunDryRunPrintsTopologicalOrder(t *testing.T) {
	dir := t.TempDir()
	planPath := writePlanFile(t, dir, `
tasks:
  - id: a
    cmd: "true"
  - id: b
    cmd: "true"
    depends_on: ["a"]
`)
	app, out, _ := newApp()
	code := app.Run(context.Background(), cli.RunOptions{
		PlanPath: planPath,
		DryRun:   true,
		Home:     filepath.Join(dir, ".orch"),
		Workdir:  dir,
	})
	require.Equal(t, cli.ExitSuccess, code)
	require.Contains(t, out.String(), "a")
	require.Contains(t, out.String(), "b")
}

func TestRunBadPlanExitsTwo(t *testing.T) {
	dir := t.TempDir()
	planPath := writePlanFile(t, dir, `tasks: []`)
	app, _, errOut := newApp()
	code := app.Run(context.Background(), cli.RunOptions{
		PlanPath: planPath,
		Home:     filepath.Join(dir, ".orch"),
		Workdir:  dir,
	})
	require.Equal(t, cli.ExitBadInput, code)
	require.NotEmpty(t, errOut.String())
}

func TestCancelWritesSentinelForExistingRun(t *testing.T) {
	dir := t.TempDir()
	planPath := writePlanFile(t, dir, `
tasks:
  - id: a
    cmd: "sleep 0.01"
`)
	app, _, _ := newApp()
	home := filepath.Join(dir, ".orch")
	code := app.Run(context.Background(), cli.RunOptions{
		PlanPath:    planPath,
		MaxParallel: 1,
		Home:        home,
		Workdir:     dir,
	})
	require.Equal(t, cli.ExitSuccess, code)

	entries, err := os.ReadDir(filepath.Join(home, "runs"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	runID := entries[0].Name()

	cancelCode := app.Cancel(runID, home)
	require.Equal(t, cli.ExitSuccess, cancelCode)
	require.FileExists(t, filepath.Join(home, "runs", runID, "cancel.request"))
}

func TestStatusJSONForUnknownRunFails(t *testing.T) {
	dir := t.TempDir()
	app, _, _ := newApp()
	code := app.Status(cli.StatusOptions{RunID: "nope", Home: dir, AsJSON: true})
	require.Equal(t, cli.ExitBadInput, code)
}
