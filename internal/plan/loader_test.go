package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writePlan(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidPlan(t *testing.T) {
	path := writePlan(t, `
goal: demo
tasks:
  - id: a
    cmd: "echo hi"
  - id: b
    cmd: ["echo", "there"]
    depends_on: ["a"]
    retries: 2
    retry_backoff_sec: [0.1, 0.2]
    timeout_sec: 5
`)
	p, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "demo", p.Goal)
	require.Len(t, p.Tasks, 2)

	a, ok := p.TaskByID("a")
	require.True(t, ok)
	require.Equal(t, []string{"echo", "hi"}, a.Cmd)

	b, ok := p.TaskByID("b")
	require.True(t, ok)
	require.Equal(t, []string{"a"}, b.DependsOn)
	require.Equal(t, 2, b.Retries)
	require.Equal(t, []float64{0.1, 0.2}, b.RetryBackoffSec)
}

func TestLoadRejectsDuplicateIDsCaseInsensitive(t *testing.T) {
	path := writePlan(t, `
tasks:
  - id: a
    cmd: echo
  - id: A
    cmd: echo
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownDependency(t *testing.T) {
	path := writePlan(t, `
tasks:
  - id: a
    cmd: echo
    depends_on: ["nonexistent"]
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsEmptyTasks(t *testing.T) {
	path := writePlan(t, `tasks: []`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	path := writePlan(t, `
tasks:
  - id: a
    cmd: echo
    timeout_sec: 0
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadSplitsShellStringCmd(t *testing.T) {
	path := writePlan(t, `
tasks:
  - id: a
    cmd: "echo 'hello world' foo"
`)
	p, err := Load(path)
	require.NoError(t, err)
	a, _ := p.TaskByID("a")
	require.Equal(t, []string{"echo", "hello world", "foo"}, a.Cmd)
}
