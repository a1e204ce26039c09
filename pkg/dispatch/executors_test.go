package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpmetrics/coder/pkg/capabilities"
	"github.com/warpmetrics/coder/pkg/deploy"
	"github.com/warpmetrics/coder/pkg/durable"
	"github.com/warpmetrics/coder/pkg/model"
)

type fakeWorkspace struct{ dir string }

func (f *fakeWorkspace) Dir(string) (string, error) { return f.dir, nil }

type fakeCodegen struct {
	result capabilities.RunResult
	err    error
}

func (f *fakeCodegen) Run(ctx context.Context, req capabilities.RunRequest) (capabilities.RunResult, error) {
	return f.result, f.err
}

type fakeIssueClient struct {
	body     string
	comments []string
}

func (f *fakeIssueClient) GetIssueBody(ctx context.Context, issueID string) (string, error) {
	return f.body, nil
}
func (f *fakeIssueClient) GetIssueComments(ctx context.Context, issueID string) ([]string, error) {
	return f.comments, nil
}
func (f *fakeIssueClient) CommentOnIssue(ctx context.Context, issueID, body string) error { return nil }
func (f *fakeIssueClient) AddLabels(ctx context.Context, issueID string, labels []string) error {
	return nil
}

type fakePRClient struct {
	createdPRID string
	state       capabilities.PRState
	reviews     []capabilities.Review
	merged      bool
	mergeErr    error
}

func (f *fakePRClient) FindLinkedPRs(ctx context.Context, issueID string) ([]string, error) {
	return nil, nil
}
func (f *fakePRClient) CreatePR(ctx context.Context, repo, branch, title, body string) (string, error) {
	return f.createdPRID, nil
}
func (f *fakePRClient) MergePR(ctx context.Context, repo, prID string) error {
	f.merged = true
	return f.mergeErr
}
func (f *fakePRClient) GetPRState(ctx context.Context, repo, prID string) (capabilities.PRState, error) {
	return f.state, nil
}
func (f *fakePRClient) GetReviews(ctx context.Context, repo, prID string) ([]capabilities.Review, error) {
	return f.reviews, nil
}
func (f *fakePRClient) SubmitReview(ctx context.Context, repo, prID, state, body string) error {
	return nil
}
func (f *fakePRClient) DismissReview(ctx context.Context, repo, prID, reviewID string) error {
	return nil
}
func (f *fakePRClient) UpdatePRBody(ctx context.Context, repo, prID, body string) error { return nil }

type fakeGate struct{ satisfied bool }

func (f *fakeGate) Satisfied(ctx context.Context, issueID string) (bool, error) { return f.satisfied, nil }

func testContext(run *model.Run) *Context {
	return &Context{
		IssueID:   "42",
		Run:       run,
		Workspace: &fakeWorkspace{dir: "/tmp/42"},
		ActOpts:   model.Opts{},
		Logger:    nil,
	}
}

func runWithTitle() *model.Run {
	return &model.Run{ID: "r1", Opts: model.Opts{"issueId": "42", "title": "Fix login", "repo": "org/api"}}
}

func TestImplementExecutorSuccessCreatesPR(t *testing.T) {
	noHooks := capabilities.NewHooks(nil, time.Second)
	exec := NewImplementExecutor(func(string) string { return "org/api" }, noHooks, 3)

	run := runWithTitle()
	ectx := testContext(run)
	ectx.Issues = &fakeIssueClient{body: "fix the bug"}
	ectx.Codegen = &fakeCodegen{result: capabilities.RunResult{Result: "done", SessionID: "sess-1"}}
	ectx.PRs = &fakePRClient{createdPRID: "pr-1"}

	result := exec(context.Background(), ectx)
	assert.Equal(t, "success", result.Type)
	assert.Equal(t, "pr-1", result.OutcomeOpts["prId"])
	assert.Equal(t, "org/api", result.OutcomeOpts["repo"])
	assert.Equal(t, "org/api", result.NextActOpts["repo"], "the resolved repo must carry forward so await_review/revise/merge don't have to re-resolve it")
	assert.Equal(t, "pr-1", result.NextActOpts["prId"])
}

func TestImplementExecutorAskUserReturnsClarification(t *testing.T) {
	noHooks := capabilities.NewHooks(nil, time.Second)
	exec := NewImplementExecutor(func(string) string { return "org/api" }, noHooks, 3)

	run := runWithTitle()
	ectx := testContext(run)
	ectx.Issues = &fakeIssueClient{body: "fix the bug"}
	ectx.Codegen = &fakeCodegen{result: capabilities.RunResult{Result: "Which database?", Subtype: "ask_user", SessionID: "sess-1"}}
	ectx.PRs = &fakePRClient{}

	result := exec(context.Background(), ectx)
	assert.Equal(t, "ask_user", result.Type)
	assert.Equal(t, "Which database?", result.OutcomeOpts["question"])
	assert.Equal(t, "sess-1", result.NextActOpts["sessionId"])
}

func TestImplementExecutorMaxTurnsRetriesUntilCeiling(t *testing.T) {
	noHooks := capabilities.NewHooks(nil, time.Second)
	exec := NewImplementExecutor(func(string) string { return "org/api" }, noHooks, 2)

	run := runWithTitle()
	ectx := testContext(run)
	ectx.Issues = &fakeIssueClient{body: "fix the bug"}
	ectx.Codegen = &fakeCodegen{result: capabilities.RunResult{Subtype: "error_max_turns", SessionID: "sess-1"}}
	ectx.PRs = &fakePRClient{}
	ectx.ActOpts = model.Opts{"retryCount": 2}

	result := exec(context.Background(), ectx)
	assert.Equal(t, "error", result.Type, "retryCount already at the ceiling converts to a hard error")
}

func TestAwaitReplyExecutorWaitsUntilGateSatisfied(t *testing.T) {
	gate := &fakeGate{satisfied: false}
	exec := NewAwaitReplyExecutor(gate, &fakeIssueClient{})
	result := exec(context.Background(), testContext(runWithTitle()))
	assert.Equal(t, "waiting", result.Type)
}

func TestAwaitReplyExecutorRepliedCarriesSessionForward(t *testing.T) {
	gate := &fakeGate{satisfied: true}
	issues := &fakeIssueClient{comments: []string{"first", "use postgres"}}
	exec := NewAwaitReplyExecutor(gate, issues)

	ectx := testContext(runWithTitle())
	ectx.ActOpts = model.Opts{"sessionId": "sess-1"}
	result := exec(context.Background(), ectx)

	assert.Equal(t, "replied", result.Type)
	assert.Equal(t, "use postgres", result.OutcomeOpts["reply"])
	assert.Equal(t, "sess-1", result.NextActOpts["sessionId"])
}

func TestAwaitReviewExecutorRoutesApprovedToMerge(t *testing.T) {
	exec := NewAwaitReviewExecutor()
	ectx := testContext(runWithTitle())
	ectx.PRs = &fakePRClient{reviews: []capabilities.Review{{ID: "r1", State: "APPROVED"}}}
	ectx.ActOpts = model.Opts{"prId": "pr-1", "repo": "org/frontend"}

	result := exec(context.Background(), ectx)
	assert.Equal(t, "approved", result.Type)
	assert.Equal(t, "pr-1", result.NextActOpts["prId"])
	assert.Equal(t, "org/frontend", result.NextActOpts["repo"], "the act-carried repo wins over the run's recorded repo")
}

func TestAwaitReviewExecutorFallsBackToRunRepoWhenActOptsMissingIt(t *testing.T) {
	exec := NewAwaitReviewExecutor()
	ectx := testContext(runWithTitle())
	ectx.PRs = &fakePRClient{reviews: []capabilities.Review{{ID: "r1", State: "APPROVED"}}}
	ectx.ActOpts = model.Opts{"prId": "pr-1"}

	result := exec(context.Background(), ectx)
	assert.Equal(t, "org/api", result.NextActOpts["repo"], "runWithTitle's run.Opts repo is the fallback")
}

func TestAwaitReviewExecutorRoutesChangesRequestedToRevise(t *testing.T) {
	exec := NewAwaitReviewExecutor()
	ectx := testContext(runWithTitle())
	ectx.PRs = &fakePRClient{reviews: []capabilities.Review{{ID: "r1", State: "CHANGES_REQUESTED", Body: "use postgres"}}}
	ectx.ActOpts = model.Opts{"prId": "pr-1"}

	result := exec(context.Background(), ectx)
	assert.Equal(t, "changes_requested", result.Type)
}

func TestAwaitReviewExecutorWaitsWithNoReviewsYet(t *testing.T) {
	exec := NewAwaitReviewExecutor()
	ectx := testContext(runWithTitle())
	ectx.PRs = &fakePRClient{}
	ectx.ActOpts = model.Opts{"prId": "pr-1"}

	result := exec(context.Background(), ectx)
	assert.Equal(t, "waiting", result.Type)
}

func TestReviseExecutorSuccessCarriesRepoAndPRForward(t *testing.T) {
	client := durable.NewMemoryClient()
	exec := NewReviseExecutor(client, 3)

	ectx := testContext(runWithTitle())
	ectx.PRs = &fakePRClient{reviews: []capabilities.Review{{ID: "r1", State: "CHANGES_REQUESTED", Body: "use postgres"}}}
	ectx.Codegen = &fakeCodegen{result: capabilities.RunResult{SessionID: "sess-2"}}
	ectx.ActOpts = model.Opts{"prId": "pr-1", "repo": "org/frontend", "sessionId": "sess-1"}

	result := exec(context.Background(), ectx)
	assert.Equal(t, "success", result.Type)
	assert.Equal(t, "org/frontend", result.OutcomeOpts["repo"])
	assert.Equal(t, "org/frontend", result.NextActOpts["repo"], "the act-carried repo wins over the run's recorded repo")
	assert.Equal(t, "pr-1", result.NextActOpts["prId"])
}

func TestMergeExecutorRejectsNonOpenPR(t *testing.T) {
	noHooks := capabilities.NewHooks(nil, time.Second)
	prs := &fakePRClient{state: capabilities.PRMerged}
	exec := NewMergeExecutor(noHooks, func(string) []string { return []string{"org/api"} })

	ectx := testContext(runWithTitle())
	ectx.PRs = prs
	ectx.ActOpts = model.Opts{"prId": "pr-1"}

	result := exec(context.Background(), ectx)
	assert.Equal(t, "error", result.Type)
	assert.False(t, prs.merged)
}

func TestMergeExecutorMergesOpenPR(t *testing.T) {
	noHooks := capabilities.NewHooks(nil, time.Second)
	prs := &fakePRClient{state: capabilities.PROpen}
	exec := NewMergeExecutor(noHooks, func(string) []string { return []string{"org/api"} })

	ectx := testContext(runWithTitle())
	ectx.PRs = prs
	ectx.ActOpts = model.Opts{"prId": "pr-1"}

	result := exec(context.Background(), ectx)
	assert.Equal(t, "success", result.Type)
	assert.True(t, prs.merged)
	assert.Equal(t, []string{"org/api"}, result.OutcomeOpts["repos"])
}

func TestMergeExecutorCarriesFullRepoSetForMultiRepoDeploy(t *testing.T) {
	noHooks := capabilities.NewHooks(nil, time.Second)
	prs := &fakePRClient{state: capabilities.PROpen}
	reposFor := func(issueID string) []string { return []string{"org/api", "org/frontend"} }
	exec := NewMergeExecutor(noHooks, reposFor)

	ectx := testContext(runWithTitle())
	ectx.PRs = prs
	ectx.ActOpts = model.Opts{"prId": "pr-1", "repo": "org/api"}

	result := exec(context.Background(), ectx)
	assert.Equal(t, "success", result.Type)
	assert.Equal(t, []string{"org/api", "org/frontend"}, result.OutcomeOpts["repos"], "the merged PR's repo plus every additional deploy-only repo configured for the issue")
}

func TestAwaitDeployExecutorReportsReadyOnceGateSatisfied(t *testing.T) {
	exec := NewAwaitDeployExecutor(&fakeGate{satisfied: true})
	result := exec(context.Background(), testContext(runWithTitle()))
	assert.Equal(t, "ready", result.Type)
}

type fakeShell struct{ calls []string }

func (f *fakeShell) Deploy(ctx context.Context, repo, command string) error {
	f.calls = append(f.calls, repo)
	return nil
}

func TestRunDeployExecutorSkipsReposWithNoConfiguredCommand(t *testing.T) {
	shell := &fakeShell{}
	cfg := Config{Deploy: map[string]DeployStep{"org/api": {Command: "deploy-api"}}}
	exec := NewRunDeployExecutor(cfg, shell)

	trigger := &model.Run{ID: "r1", Opts: model.Opts{"issueId": "42"}, Groups: []*model.PhaseGroup{
		{ID: "g1", Label: "Deploy", Outcomes: []*model.Outcome{{Name: "AWAITING_DEPLOY", Opts: model.Opts{"repos": []string{"org/api", "org/unconfigured"}}}}},
	}}
	ectx := testContext(trigger)
	ectx.DeployBatch = deploy.BatchFor(trigger, nil)

	result := exec(context.Background(), ectx)
	assert.Equal(t, "success", result.Type)
	assert.Equal(t, []string{"org/api"}, shell.calls)
}

func TestRunDeployExecutorReturnsErrorOnCircularDependency(t *testing.T) {
	shell := &fakeShell{}
	cfg := Config{Deploy: map[string]DeployStep{
		"org/api":      {Command: "deploy-api", DependsOn: []string{"org/frontend"}},
		"org/frontend": {Command: "deploy-frontend", DependsOn: []string{"org/api"}},
	}}
	exec := NewRunDeployExecutor(cfg, shell)

	trigger := &model.Run{ID: "r1", Opts: model.Opts{"issueId": "42"}, Groups: []*model.PhaseGroup{
		{ID: "g1", Label: "Deploy", Outcomes: []*model.Outcome{{Name: "AWAITING_DEPLOY", Opts: model.Opts{"repos": []string{"org/api", "org/frontend"}}}}},
	}}
	ectx := testContext(trigger)
	ectx.DeployBatch = deploy.BatchFor(trigger, nil)

	result := exec(context.Background(), ectx)
	require.Equal(t, "error", result.Type)
	assert.Contains(t, result.OutcomeOpts["error"], "Circular dependency")
}

func TestRunDeployExecutorErrorsWithoutResolvedBatch(t *testing.T) {
	exec := NewRunDeployExecutor(Config{}, &fakeShell{})
	result := exec(context.Background(), testContext(runWithTitle()))
	assert.Equal(t, "error", result.Type)
}
