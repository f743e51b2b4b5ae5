package dag

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/orch/internal/plan"
)

func taskIDs(p *plan.Plan) []string {
	out := make([]string, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestBuildDependentsAndInDegree(t *testing.T) {
	p := &plan.Plan{Tasks: []plan.Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a"}},
	}}
	adj := Build(p)
	require.Equal(t, 0, adj.InDegree["a"])
	require.Equal(t, 1, adj.InDegree["b"])
	require.ElementsMatch(t, []string{"b", "c"}, adj.Dependents["a"])
}

func TestAssertAcyclicOrdersBeforeDependents(t *testing.T) {
	p := &plan.Plan{Tasks: []plan.Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a"}},
		{ID: "d", DependsOn: []string{"b", "c"}},
	}}
	adj := Build(p)
	order, err := AssertAcyclic(taskIDs(p), adj)
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	require.Less(t, pos["a"], pos["b"])
	require.Less(t, pos["a"], pos["c"])
	require.Less(t, pos["b"], pos["d"])
	require.Less(t, pos["c"], pos["d"])
}

func TestAssertAcyclicDetectsCycle(t *testing.T) {
	p := &plan.Plan{Tasks: []plan.Task{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}}
	adj := Build(p)
	_, err := AssertAcyclic(taskIDs(p), adj)
	require.Error(t, err)
}

func TestAssertAcyclicDoesNotMutateInput(t *testing.T) {
	p := &plan.Plan{Tasks: []plan.Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}}
	adj := Build(p)
	before := map[string]int{}
	for k, v := range adj.InDegree {
		before[k] = v
	}
	_, err := AssertAcyclic(taskIDs(p), adj)
	require.NoError(t, err)
	require.Equal(t, before, adj.InDegree)
}
