package deploy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortTopologicalOrderRespectsDependencies(t *testing.T) {
	plan := &MergedPlan{Repos: map[string]*RepoPlan{
		"a": {Repo: "a"},
		"b": {Repo: "b", DependsOn: []string{"a"}},
		"c": {Repo: "c", DependsOn: []string{"b"}},
	}}
	order, levels, err := Sort(plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, levels["a"])
	assert.Equal(t, 1, levels["b"])
	assert.Equal(t, 2, levels["c"])
}

func TestSortDetectsCycle(t *testing.T) {
	plan := &MergedPlan{Repos: map[string]*RepoPlan{
		"a": {Repo: "a", DependsOn: []string{"b"}},
		"b": {Repo: "b", DependsOn: []string{"a"}},
	}}
	_, _, err := Sort(plan)
	assert.ErrorIs(t, err, ErrCircularDependency)
}

func TestLevelGroupsBucketsByLevel(t *testing.T) {
	plan := &MergedPlan{Repos: map[string]*RepoPlan{
		"a": {Repo: "a"},
		"b": {Repo: "b"},
		"c": {Repo: "c", DependsOn: []string{"a", "b"}},
	}}
	order, levels, err := Sort(plan)
	require.NoError(t, err)
	groups := LevelGroups(order, levels)
	require.Len(t, groups, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, groups[0])
	assert.Equal(t, []string{"c"}, groups[1])
}

func TestExecuteRunsLevelsSequentiallyAndWithinLevelConcurrently(t *testing.T) {
	plan := &MergedPlan{Repos: map[string]*RepoPlan{
		"a": {Repo: "a", Command: "deploy-a"},
		"b": {Repo: "b", Command: "deploy-b"},
		"c": {Repo: "c", Command: "deploy-c", DependsOn: []string{"a", "b"}},
	}}

	var mu sync.Mutex
	var order []string
	deployFn := func(ctx context.Context, repo, command string) error {
		mu.Lock()
		order = append(order, repo)
		mu.Unlock()
		return nil
	}

	completed, err := Execute(context.Background(), plan, 4, deployFn)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, completed)
	assert.Equal(t, "c", order[len(order)-1], "c must deploy after its dependencies")
}

func TestExecuteAbortsLaterLevelsOnFailure(t *testing.T) {
	plan := &MergedPlan{Repos: map[string]*RepoPlan{
		"a": {Repo: "a", Command: "deploy-a"},
		"b": {Repo: "b", Command: "deploy-b", DependsOn: []string{"a"}},
	}}

	errBoom := errors.New("boom")
	deployFn := func(ctx context.Context, repo, command string) error {
		if repo == "a" {
			return errBoom
		}
		return nil
	}

	completed, err := Execute(context.Background(), plan, 1, deployFn)
	require.Error(t, err)
	assert.NotContains(t, completed, "b")
}
