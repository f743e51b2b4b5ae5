// Package plan loads and validates the YAML plan files that describe a
// run's DAG of tasks.
package plan

// Task is one node of the DAG as declared in the plan file.
type Task struct {
	ID              string
	Cmd             []string
	DependsOn       []string
	CWD             string
	Env             map[string]string
	TimeoutSec      *float64
	Retries         int
	RetryBackoffSec []float64
	Outputs         []string
}

// Plan is the root of a loaded plan file.
type Plan struct {
	Goal         string
	ArtifactsDir string
	Tasks        []Task
}

// TaskByID returns the task with the given id, if present.
func (p *Plan) TaskByID(id string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}
