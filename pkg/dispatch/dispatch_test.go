package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpmetrics/coder/pkg/discovery"
	"github.com/warpmetrics/coder/pkg/durable"
	"github.com/warpmetrics/coder/pkg/graph"
	"github.com/warpmetrics/coder/pkg/model"
)

func testGraph() *graph.Graph {
	return &graph.Graph{
		Root: "implement",
		States: map[string]string{
			"Started":    "todo",
			"PR_CREATED": "inReview",
			"Failed":     "blocked",
		},
		Nodes: map[string]*graph.Node{
			"implement": {
				Name:     "implement",
				Executor: "implement_exec",
				Results: map[string][]graph.OutcomeEdge{
					"success": {{Outcome: "PR_CREATED", In: "review_group", Next: "await_review"}},
					"error":   {{Outcome: "Failed"}},
				},
			},
			"review_group": {
				Name:  "review_group",
				Label: "Review",
			},
			"await_review": {
				Name:     "await_review",
				Executor: "await_review_exec",
				Results: map[string][]graph.OutcomeEdge{
					"success": {{Outcome: "PR_CREATED", In: "review_group"}},
				},
			},
		},
	}
}

func noopSetStep(string) {}

func deployTestGraph() *graph.Graph {
	return &graph.Graph{
		Root: "run_deploy",
		Nodes: map[string]*graph.Node{
			"run_deploy": {
				Name:     "run_deploy",
				Executor: "run_deploy_exec",
				Results: map[string][]graph.OutcomeEdge{
					"success": {{Outcome: "Deployed", In: "release_group", Next: "release"}},
					"error":   {{Outcome: "Failed"}},
				},
			},
			"release_group": {Name: "release_group", Label: "Release"},
			"release": {
				Name:     "release",
				Executor: "release_exec",
			},
		},
	}
}

func TestDispatchPropagatesDeployedOutcomeToEveryBatchedRun(t *testing.T) {
	client := durable.NewMemoryClient()

	triggerID, err := client.StartRun(context.Background(), "", "Issue", model.Opts{"issueId": "1", "repos": []string{"org/api"}})
	require.NoError(t, err)
	triggerOutcomeID, err := client.RecordOutcome(context.Background(), triggerID, "DeployReady", model.Opts{})
	require.NoError(t, err)
	_, err = client.RecordAct(context.Background(), triggerOutcomeID, "", "run_deploy", model.Opts{})
	require.NoError(t, err)

	otherID, err := client.StartRun(context.Background(), "", "Issue", model.Opts{"issueId": "2", "repos": []string{"org/api", "org/frontend"}})
	require.NoError(t, err)
	otherOutcomeID, err := client.RecordOutcome(context.Background(), otherID, "DeployReady", model.Opts{})
	require.NoError(t, err)
	otherActID, err := client.RecordAct(context.Background(), otherOutcomeID, "", "await_deploy", model.Opts{})
	require.NoError(t, err)

	d := New(deployTestGraph(), client, Config{}, nil)
	d.Register("run_deploy_exec", NewRunDeployExecutor(Config{}, &fakeShell{}))

	trigger, err := client.GetRun(context.Background(), triggerID)
	require.NoError(t, err)
	act, container, ok := trigger.PendingAct()
	require.True(t, ok)

	work := discovery.ActionableRun{IssueID: "1", Run: trigger, Container: container, Act: act}
	err = d.Dispatch(context.Background(), work, noopSetStep)
	require.NoError(t, err)

	other, err := client.GetRun(context.Background(), otherID)
	require.NoError(t, err)
	require.Len(t, other.Groups, 1, "the other batched run must also get a Release group")
	releaseGroup := other.Groups[0]
	assert.Equal(t, "Release", releaseGroup.Label)
	require.Len(t, releaseGroup.Outcomes, 1)
	assert.Equal(t, "Deployed", releaseGroup.Outcomes[0].Name)

	otherOutcome, err := client.GetRun(context.Background(), otherID)
	require.NoError(t, err)
	var otherAct *model.Act
	for _, o := range otherOutcome.Outcomes {
		for _, a := range o.Acts {
			if a.ID == otherActID {
				otherAct = a
			}
		}
	}
	require.NotNil(t, otherAct, "the other run's original pending act must still be findable")
	assert.NotEmpty(t, otherAct.Followups, "its await_deploy act must be linked as having produced the release follow-up")
}

func TestDispatchStartCreatesRunAndRootAct(t *testing.T) {
	client := durable.NewMemoryClient()
	d := New(testGraph(), client, Config{}, nil)

	err := d.Dispatch(context.Background(), discovery.ActionableRun{IssueID: "42", StartAct: true}, noopSetStep)
	require.NoError(t, err)

	runs, err := client.FindOpenIssueRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	require.Len(t, run.Outcomes, 1)
	assert.Equal(t, "Started", run.Outcomes[0].Name)
	require.Len(t, run.Outcomes[0].Acts, 1, "the root act is recorded under the Started outcome")

	act, container, ok := run.PendingAct()
	require.True(t, ok)
	assert.Equal(t, container.ContainerID(), run.ID)
	assert.Equal(t, "implement", act.Name)
}

func TestDispatchStartRecordsRepoFromConfig(t *testing.T) {
	client := durable.NewMemoryClient()
	cfg := Config{RepoFor: func(issueID string) string { return "org/" + issueID }}
	d := New(testGraph(), client, cfg, nil)

	err := d.Dispatch(context.Background(), discovery.ActionableRun{IssueID: "42", StartAct: true}, noopSetStep)
	require.NoError(t, err)

	runs, err := client.FindOpenIssueRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "org/42", runs[0].Repo())
}

func TestDispatchActRecordsOutcomeAndFollowupAndCreatesGroup(t *testing.T) {
	client := durable.NewMemoryClient()
	runID, err := client.StartRun(context.Background(), "", "Issue", model.Opts{"issueId": "42"})
	require.NoError(t, err)
	outcomeID, err := client.RecordOutcome(context.Background(), runID, "Started", model.Opts{})
	require.NoError(t, err)
	actID, err := client.RecordAct(context.Background(), outcomeID, "", "implement", model.Opts{})
	require.NoError(t, err)

	d := New(testGraph(), client, Config{}, nil)
	d.Register("implement_exec", func(ctx context.Context, ectx *Context) Result {
		return Result{Type: "success", OutcomeOpts: model.Opts{"prId": "pr-1"}}
	})

	run, err := client.GetRun(context.Background(), runID)
	require.NoError(t, err)
	act, container, ok := run.PendingAct()
	require.True(t, ok)
	require.Equal(t, actID, act.ID)

	work := discovery.ActionableRun{IssueID: "42", Run: run, Container: container, Act: act}
	err = d.Dispatch(context.Background(), work, noopSetStep)
	require.NoError(t, err)

	run, err = client.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, run.Groups, 1)
	group := run.Groups[0]
	assert.Equal(t, "Review", group.Label)
	require.Len(t, group.Outcomes, 1)
	assert.Equal(t, "PR_CREATED", group.Outcomes[0].Name)
	assert.Equal(t, "pr-1", group.Outcomes[0].Opts["prId"])

	assert.NotEmpty(t, act.Followups, "the dispatched act should be linked as having produced a follow-up")
}

func TestDispatchExecutorErrorResultRecordsFailureOutcome(t *testing.T) {
	client := durable.NewMemoryClient()
	runID, _ := client.StartRun(context.Background(), "", "Issue", model.Opts{"issueId": "42"})
	outcomeID, _ := client.RecordOutcome(context.Background(), runID, "Started", model.Opts{})
	client.RecordAct(context.Background(), outcomeID, "", "implement", model.Opts{})

	d := New(testGraph(), client, Config{}, nil)
	d.Register("implement_exec", func(ctx context.Context, ectx *Context) Result {
		return Result{Type: "error", OutcomeOpts: model.Opts{"error": "boom"}}
	})

	run, _ := client.GetRun(context.Background(), runID)
	act, container, _ := run.PendingAct()
	work := discovery.ActionableRun{IssueID: "42", Run: run, Container: container, Act: act}

	err := d.Dispatch(context.Background(), work, noopSetStep)
	require.NoError(t, err)

	run, _ = client.GetRun(context.Background(), runID)
	assert.Equal(t, "Failed", run.Outcomes[len(run.Outcomes)-1].Name)
}

func TestDispatchRecoversFromExecutorPanic(t *testing.T) {
	client := durable.NewMemoryClient()
	runID, _ := client.StartRun(context.Background(), "", "Issue", model.Opts{"issueId": "42"})
	outcomeID, _ := client.RecordOutcome(context.Background(), runID, "Started", model.Opts{})
	client.RecordAct(context.Background(), outcomeID, "", "implement", model.Opts{})

	d := New(testGraph(), client, Config{}, nil)
	d.Register("implement_exec", func(ctx context.Context, ectx *Context) Result {
		panic("executor exploded")
	})

	run, _ := client.GetRun(context.Background(), runID)
	act, container, _ := run.PendingAct()
	work := discovery.ActionableRun{IssueID: "42", Run: run, Container: container, Act: act}

	err := d.Dispatch(context.Background(), work, noopSetStep)
	require.NoError(t, err, "a panicking executor must not crash the dispatcher")

	run, _ = client.GetRun(context.Background(), runID)
	assert.Equal(t, "Failed", run.Outcomes[len(run.Outcomes)-1].Name)
}

func TestDispatchRunsEffectAfterRecording(t *testing.T) {
	client := durable.NewMemoryClient()
	runID, _ := client.StartRun(context.Background(), "", "Issue", model.Opts{"issueId": "42"})
	outcomeID, _ := client.RecordOutcome(context.Background(), runID, "Started", model.Opts{})
	client.RecordAct(context.Background(), outcomeID, "", "implement", model.Opts{})

	d := New(testGraph(), client, Config{}, nil)
	d.Register("implement_exec", func(ctx context.Context, ectx *Context) Result {
		return Result{Type: "error", OutcomeOpts: model.Opts{"error": "boom"}}
	})

	var effectRan bool
	d.RegisterEffect("implement", "error", func(ctx context.Context, run *model.Run, result Result, ectx *Context) error {
		effectRan = true
		require.Len(t, run.Outcomes, 2, "effect must run after the outcome is already recorded")
		return nil
	})

	run, _ := client.GetRun(context.Background(), runID)
	act, container, _ := run.PendingAct()
	work := discovery.ActionableRun{IssueID: "42", Run: run, Container: container, Act: act}

	err := d.Dispatch(context.Background(), work, noopSetStep)
	require.NoError(t, err)
	assert.True(t, effectRan)
}

func TestDispatchWaitingResultRecordsNothingAndStaysPending(t *testing.T) {
	client := durable.NewMemoryClient()
	runID, _ := client.StartRun(context.Background(), "", "Issue", model.Opts{"issueId": "42"})
	outcomeID, _ := client.RecordOutcome(context.Background(), runID, "Started", model.Opts{})
	client.RecordAct(context.Background(), outcomeID, "", "implement", model.Opts{})

	d := New(testGraph(), client, Config{}, nil)
	d.Register("implement_exec", func(ctx context.Context, ectx *Context) Result {
		return Result{Type: "waiting"}
	})

	run, _ := client.GetRun(context.Background(), runID)
	act, container, _ := run.PendingAct()
	work := discovery.ActionableRun{IssueID: "42", Run: run, Container: container, Act: act}

	err := d.Dispatch(context.Background(), work, noopSetStep)
	require.NoError(t, err)

	run, _ = client.GetRun(context.Background(), runID)
	require.Len(t, run.Outcomes, 1, "a waiting result must not append a new outcome")
	pendingAct, _, ok := run.PendingAct()
	require.True(t, ok)
	assert.Equal(t, act.ID, pendingAct.ID, "the same act must still be pending next tick")
}

func TestDispatchMissingExecutorReportedByMissing(t *testing.T) {
	d := New(testGraph(), durable.NewMemoryClient(), Config{}, nil)
	missing := d.Missing()
	assert.Contains(t, missing, "implement")
}
