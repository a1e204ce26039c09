package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePlansUnionsDependenciesAndIssues(t *testing.T) {
	perRun := map[string][]RepoPlan{
		"1": {{Repo: "org/api", Command: "deploy-api"}},
		"2": {
			{Repo: "org/api", Command: "deploy-api-other"},
			{Repo: "org/frontend", Command: "deploy-frontend", DependsOn: []string{"org/api"}},
		},
	}
	merged := Merge(perRun)

	require.Contains(t, merged.Repos, "org/api")
	require.Contains(t, merged.Repos, "org/frontend")
	assert.Equal(t, "deploy-api", merged.Repos["org/api"].Command, "command is taken from first occurrence")
	assert.ElementsMatch(t, []string{"org/api"}, merged.Repos["org/frontend"].DependsOn)
	assert.ElementsMatch(t, []string{"1", "2"}, merged.IssuesByRepo["org/api"])
}

func TestMergeDedupesRepeatedDependencyEdges(t *testing.T) {
	perRun := map[string][]RepoPlan{
		"1": {{Repo: "org/frontend", Command: "deploy-frontend", DependsOn: []string{"org/api"}}},
		"2": {{Repo: "org/frontend", Command: "deploy-frontend", DependsOn: []string{"org/api"}}},
	}
	merged := Merge(perRun)
	assert.Equal(t, []string{"org/api"}, merged.Repos["org/frontend"].DependsOn)
	assert.ElementsMatch(t, []string{"1", "2"}, merged.IssuesByRepo["org/frontend"])
}
