package dispatch

import (
	"context"
	"fmt"

	"github.com/warpmetrics/coder/pkg/capabilities"
	"github.com/warpmetrics/coder/pkg/deploy"
	"github.com/warpmetrics/coder/pkg/discovery"
	"github.com/warpmetrics/coder/pkg/durable"
	"github.com/warpmetrics/coder/pkg/model"
)

func issueTitle(ectx *Context) string {
	if t, ok := ectx.Run.Opts["title"].(string); ok {
		return t
	}
	return ectx.IssueID
}

func optString(opts model.Opts, key string) string {
	s, _ := opts[key].(string)
	return s
}

func optInt(opts model.Opts, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// NewImplementExecutor builds the implement act: it asks the
// code-generation runner to work the issue in a per-issue workdir, then
// either opens a pull request, asks the user a clarifying question, or
// surfaces graceful turn exhaustion for the graph to retry.
func NewImplementExecutor(repoFor func(issueID string) string, hooks *capabilities.Hooks, maxTurnsRetries int) Executor {
	return func(ctx context.Context, ectx *Context) Result {
		repo := repoFor(ectx.IssueID)
		dir, err := ectx.Workspace.Dir(ectx.IssueID)
		if err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": err.Error()}}
		}

		if err := hooks.Run(ctx, capabilities.HookOnBranchCreate, ectx.Run.ID, ectx.IssueID, repo); err != nil {
			ectx.Logger.Warn("onBranchCreate hook failed", "error", err)
		}

		prompt, err := ectx.Issues.GetIssueBody(ctx, ectx.IssueID)
		if err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": err.Error()}}
		}
		sessionID := optString(ectx.ActOpts, "sessionId")
		if reply := optString(ectx.ActOpts, "reply"); reply != "" {
			prompt = reply
		}

		res, err := ectx.Codegen.Run(ctx, capabilities.RunRequest{
			Prompt:   prompt,
			Workdir:  dir,
			Resume:   sessionID,
			Timeout:  60 * 60,
			MaxTurns: 0,
		})
		if err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": err.Error()}}
		}

		switch res.Subtype {
		case "error_max_turns":
			retryCount := optInt(ectx.ActOpts, "retryCount")
			if retryCount >= maxTurnsRetries {
				return Result{Type: "error", OutcomeOpts: model.Opts{"error": "implement exhausted max turns retries", "sessionId": res.SessionID}}
			}
			return Result{
				Type:        "max_turns",
				OutcomeOpts: model.Opts{"sessionId": res.SessionID, "costUsd": res.CostUSD, "retryCount": retryCount},
				NextActOpts: model.Opts{"sessionId": res.SessionID, "retryCount": retryCount + 1},
			}
		case "ask_user":
			return Result{
				Type:        "ask_user",
				OutcomeOpts: model.Opts{"question": res.Result, "sessionId": res.SessionID},
				NextActOpts: model.Opts{"sessionId": res.SessionID},
			}
		}

		if err := hooks.Run(ctx, capabilities.HookOnBeforePush, ectx.Run.ID, ectx.IssueID, repo); err != nil {
			ectx.Logger.Warn("onBeforePush hook failed", "error", err)
		}

		branch := fmt.Sprintf("agent/issue-%s", ectx.IssueID)
		prID, err := ectx.PRs.CreatePR(ctx, repo, branch, issueTitle(ectx), res.Result)
		if err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": err.Error()}}
		}
		if err := hooks.Run(ctx, capabilities.HookOnPRCreated, ectx.Run.ID, ectx.IssueID, repo); err != nil {
			ectx.Logger.Warn("onPRCreated hook failed", "error", err)
		}
		return Result{
			Type:        "success",
			OutcomeOpts: model.Opts{"prId": prID, "repo": repo, "sessionId": res.SessionID, "costUsd": res.CostUSD},
			NextActOpts: model.Opts{"prId": prID, "repo": repo, "sessionId": res.SessionID},
		}
	}
}

// NewAwaitReplyExecutor waits for gate to report a user reply, then
// hands the latest comment back as the prompt a resumed implement act
// should work from.
func NewAwaitReplyExecutor(gate discovery.Gate, issues capabilities.IssueClient) Executor {
	return func(ctx context.Context, ectx *Context) Result {
		satisfied, err := gate.Satisfied(ctx, ectx.IssueID)
		if err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": err.Error()}}
		}
		if !satisfied {
			return Result{Type: "waiting"}
		}
		comments, err := issues.GetIssueComments(ctx, ectx.IssueID)
		if err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": err.Error()}}
		}
		if len(comments) == 0 {
			return Result{Type: "waiting"}
		}
		reply := comments[len(comments)-1]
		sessionID := optString(ectx.ActOpts, "sessionId")
		return Result{
			Type:        "replied",
			OutcomeOpts: model.Opts{"reply": reply},
			NextActOpts: model.Opts{"sessionId": sessionID, "reply": reply},
		}
	}
}

// revisionCount counts ChangesRequested outcomes recorded against this
// run's Review phase group since the run started. The revise act's
// retry budget is a property of the whole run, not renewable by
// re-querying a narrower window.
func revisionCount(ctx context.Context, client durable.Client, run *model.Run) (int, error) {
	var since int64
	if len(run.Outcomes) > 0 {
		since = run.Outcomes[0].Timestamp.UnixNano()
	}
	runs, err := client.FindRuns(ctx, run.Label, durable.RunFilter{OutcomeName: "ChangesRequested", IssueID: run.IssueID(), Since: since})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, r := range runs {
		group := r.GroupByLabel("Review")
		if group == nil {
			continue
		}
		for _, o := range group.Outcomes {
			if o.Name == "ChangesRequested" {
				count++
			}
		}
	}
	return count, nil
}

func latestChangesRequested(reviews []capabilities.Review) string {
	for i := len(reviews) - 1; i >= 0; i-- {
		if reviews[i].State == "CHANGES_REQUESTED" {
			return reviews[i].Body
		}
	}
	return ""
}

// latestReviewState returns the State of the most recent review, or ""
// if there are none yet.
func latestReviewState(reviews []capabilities.Review) string {
	if len(reviews) == 0 {
		return ""
	}
	return reviews[len(reviews)-1].State
}

// NewAwaitReviewExecutor polls the pull request's reviews and routes to
// merge once the latest review is APPROVED, to revise once it is
// CHANGES_REQUESTED, or reports waiting otherwise. Unlike await_reply
// and await_deploy, which gate on a single external boolean, review
// state is three-way, so this executor reads PRs.GetReviews directly
// instead of going through a discovery.Gate.
func NewAwaitReviewExecutor() Executor {
	return func(ctx context.Context, ectx *Context) Result {
		prID := optString(ectx.ActOpts, "prId")
		repo := repoForAct(ectx)
		reviews, err := ectx.PRs.GetReviews(ctx, repo, prID)
		if err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": err.Error()}}
		}
		switch latestReviewState(reviews) {
		case "APPROVED":
			return Result{
				Type:        "approved",
				OutcomeOpts: model.Opts{"prId": prID, "repo": repo},
				NextActOpts: model.Opts{"prId": prID, "repo": repo},
			}
		case "CHANGES_REQUESTED":
			return Result{
				Type:        "changes_requested",
				OutcomeOpts: model.Opts{"prId": prID, "repo": repo},
				NextActOpts: model.Opts{"prId": prID, "repo": repo, "sessionId": optString(ectx.ActOpts, "sessionId")},
			}
		default:
			return Result{Type: "waiting"}
		}
	}
}

// repoForAct resolves the repo a pull-request act should operate
// against: the repo carried forward on the act's own options (set when
// the pull request was created), falling back to the run's recorded
// repo for acts dispatched before that propagation existed.
func repoForAct(ectx *Context) string {
	if repo := optString(ectx.ActOpts, "repo"); repo != "" {
		return repo
	}
	return ectx.Run.Repo()
}

// NewReviseExecutor builds the revise act: it re-invokes the
// code-generation runner with the latest changes-requested review body,
// enforcing the revision ceiling before doing any work.
func NewReviseExecutor(client durable.Client, maxRevisions int) Executor {
	return func(ctx context.Context, ectx *Context) Result {
		count, err := revisionCount(ctx, client, ectx.Run)
		if err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": err.Error()}}
		}
		if count >= maxRevisions {
			return Result{Type: "max_retries", OutcomeOpts: model.Opts{"revisionCount": count}}
		}

		prID := optString(ectx.ActOpts, "prId")
		repo := repoForAct(ectx)
		reviews, err := ectx.PRs.GetReviews(ctx, repo, prID)
		if err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": err.Error()}}
		}
		feedback := latestChangesRequested(reviews)
		if feedback == "" {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": "revise dispatched with no changes-requested review to act on"}}
		}

		dir, err := ectx.Workspace.Dir(ectx.IssueID)
		if err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": err.Error()}}
		}
		res, err := ectx.Codegen.Run(ctx, capabilities.RunRequest{
			Prompt:  feedback,
			Workdir: dir,
			Resume:  optString(ectx.ActOpts, "sessionId"),
			Timeout: 60 * 60,
		})
		if err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": err.Error()}}
		}
		return Result{
			Type:        "success",
			OutcomeOpts: model.Opts{"prId": prID, "repo": repo, "sessionId": res.SessionID, "revisionCount": count + 1},
			NextActOpts: model.Opts{"prId": prID, "repo": repo, "sessionId": res.SessionID},
		}
	}
}

// NewMergeExecutor builds the merge act: it checks the pull request is
// still open before merging, so a race with an out-of-band close or a
// prior retry never double-merges. reposFor supplies the issue's full
// deploy-relevant repo set (the merged PR's repo plus any additional
// repos the issue's deploy plan targets); the PR is merged only against
// the repo it was actually opened on, carried forward on the act.
func NewMergeExecutor(hooks *capabilities.Hooks, reposFor func(issueID string) []string) Executor {
	return func(ctx context.Context, ectx *Context) Result {
		repo := repoForAct(ectx)
		prID := optString(ectx.ActOpts, "prId")

		state, err := ectx.PRs.GetPRState(ctx, repo, prID)
		if err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": err.Error()}}
		}
		if state != capabilities.PROpen {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": fmt.Sprintf("pr %s is %s, not open", prID, state)}}
		}

		if err := hooks.Run(ctx, capabilities.HookOnBeforeMerge, ectx.Run.ID, ectx.IssueID, repo); err != nil {
			ectx.Logger.Warn("onBeforeMerge hook failed", "error", err)
		}
		if err := ectx.PRs.MergePR(ctx, repo, prID); err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": err.Error()}}
		}
		if err := hooks.Run(ctx, capabilities.HookOnMerged, ectx.Run.ID, ectx.IssueID, repo); err != nil {
			ectx.Logger.Warn("onMerged hook failed", "error", err)
		}
		repos := reposFor(ectx.IssueID)
		if len(repos) == 0 {
			repos = []string{repo}
		}
		return Result{Type: "success", OutcomeOpts: model.Opts{"prId": prID, "repos": repos}}
	}
}

// NewAwaitDeployExecutor waits for gate — the operator moving the issue
// into the deploy board column — before letting run_deploy proceed.
func NewAwaitDeployExecutor(gate discovery.Gate) Executor {
	return func(ctx context.Context, ectx *Context) Result {
		satisfied, err := gate.Satisfied(ctx, ectx.IssueID)
		if err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": err.Error()}}
		}
		if !satisfied {
			return Result{Type: "waiting"}
		}
		return Result{Type: "ready"}
	}
}

// Shell runs one repo's configured deploy command. The concrete
// implementation lives alongside the hooks runner and, like it, shells
// out under a bounded timeout; the command receives the repo in
// WARPCODER_DEPLOY_REPO and no run or issue variables.
type Shell interface {
	Deploy(ctx context.Context, repo, command string) error
}

// NewRunDeployExecutor builds the run_deploy act: it gathers every
// batched run's configured deploy steps, merges them into one DAG, and
// executes it level by level. A repo with no configured command is
// skipped as a no-op success rather than an error.
func NewRunDeployExecutor(cfg Config, shell Shell) Executor {
	return func(ctx context.Context, ectx *Context) Result {
		batch := ectx.DeployBatch
		if batch == nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": "run_deploy dispatched with no deploy batch resolved"}}
		}

		perRun := make(map[string][]deploy.RepoPlan, len(batch.Issues))
		for _, run := range batch.Issues {
			var plans []deploy.RepoPlan
			for _, repo := range deploy.RepoSet(run) {
				step, ok := cfg.Deploy[repo]
				if !ok {
					continue
				}
				plans = append(plans, deploy.RepoPlan{Repo: repo, Command: step.Command, DependsOn: step.DependsOn})
			}
			perRun[run.IssueID()] = plans
		}
		merged := deploy.Merge(perRun)
		if len(merged.Repos) == 0 {
			return Result{Type: "success", OutcomeOpts: model.Opts{"batchedIssues": batch.IssueIDs, "deployedRepos": []string{}}}
		}

		completed, err := deploy.Execute(ctx, merged, len(merged.Repos), shell.Deploy)
		if err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{
				"error":          err.Error(),
				"completedRepos": completed,
				"batchedIssues":  batch.IssueIDs,
			}}
		}
		return Result{
			Type:        "success",
			OutcomeOpts: model.Opts{"batchedIssues": batch.IssueIDs, "deployedRepos": completed},
			NextActOpts: model.Opts{"batchedIssues": batch.IssueIDs, "deployedRepos": completed},
		}
	}
}

// NewReleaseExecutor builds the release act: it posts a release notice
// listing the repos in the act's deployedRepos option onto the run's own
// issue. Every run of a deploy batch carries its own release act, so each
// batched issue receives its own notice; no single combined post is made
// for the batch.
func NewReleaseExecutor(notifier capabilities.Notifier) Executor {
	return func(ctx context.Context, ectx *Context) Result {
		repos, _ := ectx.ActOpts["deployedRepos"].([]string)
		body := fmt.Sprintf("Released %d repo(s): %v", len(repos), repos)
		if err := notifier.Comment(ctx, ectx.IssueID, body, ectx.Run.ID, "Released"); err != nil {
			return Result{Type: "error", OutcomeOpts: model.Opts{"error": err.Error()}}
		}
		return Result{Type: "success", OutcomeOpts: model.Opts{"changelog": body}}
	}
}
