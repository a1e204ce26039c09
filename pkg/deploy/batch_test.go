package deploy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warpmetrics/coder/pkg/model"
)

func runWithRepos(id string, repos []string) *model.Run {
	return &model.Run{
		ID:   "run-" + id,
		Opts: model.Opts{"issueId": id},
		Groups: []*model.PhaseGroup{
			{
				ID:    "deploy-" + id,
				Label: "Deploy",
				Outcomes: []*model.Outcome{
					{Name: "AWAITING_DEPLOY", Opts: model.Opts{"repos": repos}},
				},
			},
		},
	}
}

func TestBatchForTransitiveClosure(t *testing.T) {
	trigger := runWithRepos("1", []string{"org/api"})
	other := runWithRepos("2", []string{"org/api", "org/frontend"})
	unrelated := runWithRepos("3", []string{"org/unrelated"})

	batch := BatchFor(trigger, []*model.Run{other, unrelated})

	assert.Equal(t, "1", batch.TriggerIssueID)
	assert.ElementsMatch(t, []string{"1", "2"}, batch.IssueIDs)
}

func TestBatchForSingleWhenNoOverlap(t *testing.T) {
	trigger := runWithRepos("1", []string{"org/api"})
	unrelated := runWithRepos("2", []string{"org/other"})

	batch := BatchFor(trigger, []*model.Run{unrelated})
	assert.Equal(t, []string{"1"}, batch.IssueIDs)
}

func TestBatchForWithNoOtherAwaitingIsTriggerAlone(t *testing.T) {
	trigger := runWithRepos("1", []string{"org/api"})
	batch := BatchFor(trigger, nil)
	assert.Equal(t, []string{"1"}, batch.IssueIDs)
}

func TestBatchForShuffleInvariant(t *testing.T) {
	trigger := runWithRepos("1", []string{"org/api"})
	runs := []*model.Run{
		runWithRepos("2", []string{"org/api", "org/frontend"}),
		runWithRepos("3", []string{"org/frontend", "org/worker"}),
		runWithRepos("4", []string{"org/unrelated"}),
	}

	base := BatchFor(trigger, runs)

	for i := 0; i < 5; i++ {
		shuffled := append([]*model.Run(nil), runs...)
		rand.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := BatchFor(trigger, shuffled)
		assert.ElementsMatch(t, base.IssueIDs, got.IssueIDs)
	}
}
