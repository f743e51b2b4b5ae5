// Package dag builds the dependency adjacency for a plan and validates it
// is acyclic via Kahn's algorithm.
package dag

import (
	"github.com/swarmguard/orch/internal/orcherr"
	"github.com/swarmguard/orch/internal/plan"
)

// Adjacency is the dependents/in-degree pair derived from a plan's
// depends_on edges.
type Adjacency struct {
	Dependents map[string][]string
	InDegree   map[string]int
}

// Build produces the dependents adjacency list and in-degree map for p.
func Build(p *plan.Plan) Adjacency {
	dependents := make(map[string][]string, len(p.Tasks))
	inDegree := make(map[string]int, len(p.Tasks))
	for _, t := range p.Tasks {
		inDegree[t.ID] = len(t.DependsOn)
		if _, ok := dependents[t.ID]; !ok {
			dependents[t.ID] = nil
		}
	}
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}
	return Adjacency{Dependents: dependents, InDegree: inDegree}
}

// AssertAcyclic validates the DAG described by taskIDs/adj via Kahn's BFS
// over a local copy of the in-degree map (the caller's map is never
// mutated) and returns one topological order. Returns a PlanError if the
// graph contains a cycle.
func AssertAcyclic(taskIDs []string, adj Adjacency) ([]string, error) {
	localIn := make(map[string]int, len(adj.InDegree))
	for k, v := range adj.InDegree {
		localIn[k] = v
	}

	queue := make([]string, 0, len(taskIDs))
	for _, id := range taskIDs {
		if localIn[id] == 0 {
			queue = append(queue, id)
		}
	}

	seen := make([]string, 0, len(taskIDs))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		seen = append(seen, current)
		for _, next := range adj.Dependents[current] {
			localIn[next]--
			if localIn[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(seen) != len(taskIDs) {
		return nil, orcherr.Plan("plan contains dependency cycle")
	}
	return seen, nil
}
