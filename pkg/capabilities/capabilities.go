// Package capabilities defines the narrow collaborator interfaces the
// runner core consumes — board, issue tracker, pull requests,
// code-generation subprocess, notifications — and ships concrete
// adapters for each. The core never imports a vendor SDK directly; it
// only sees these interfaces.
package capabilities

import "context"

// PRState is the fixed vocabulary a PR client reports.
type PRState string

const (
	PROpen   PRState = "OPEN"
	PRMerged PRState = "MERGED"
	PRClosed PRState = "CLOSED"
)

// Item is an externally observed board item: ephemeral, refreshed once
// per poll cycle.
type Item struct {
	ID     string
	Column string
	Title  string
	Body   string
}

// Board lists items by column and moves them between columns. Moving a
// run into the deploy column is the external trigger that satisfies the
// await_deploy act: the board is a projection of durable lifecycle
// state, except for this one user-intent signal.
type Board interface {
	ListColumn(ctx context.Context, name string) ([]Item, error)
	MoveTo(ctx context.Context, item Item, columnKey string) error
}

// IssueClient reads and writes the underlying issue.
type IssueClient interface {
	GetIssueBody(ctx context.Context, issueID string) (string, error)
	GetIssueComments(ctx context.Context, issueID string) ([]string, error)
	CommentOnIssue(ctx context.Context, issueID, body string) error
	AddLabels(ctx context.Context, issueID string, labels []string) error
}

// Review is one review event on a pull request.
type Review struct {
	ID     string
	State  string // APPROVED, CHANGES_REQUESTED, COMMENTED
	Body   string
}

// PRClient manages the pull request lifecycle for one repo.
type PRClient interface {
	FindLinkedPRs(ctx context.Context, issueID string) ([]string, error)
	CreatePR(ctx context.Context, repo, branch, title, body string) (prID string, err error)
	MergePR(ctx context.Context, repo, prID string) error
	GetPRState(ctx context.Context, repo, prID string) (PRState, error)
	GetReviews(ctx context.Context, repo, prID string) ([]Review, error)
	SubmitReview(ctx context.Context, repo, prID, state, body string) error
	DismissReview(ctx context.Context, repo, prID, reviewID string) error
	UpdatePRBody(ctx context.Context, repo, prID, body string) error
}

// RunRequest is one invocation of the code-generation subprocess.
type RunRequest struct {
	Prompt   string
	Workdir  string
	Resume   string // prior sessionId, or "" to start fresh
	MaxTurns int
	Timeout  int // seconds
}

// RunResult is what the code-generation subprocess reports back.
// Subtype "error_max_turns" signals graceful turn exhaustion, distinct
// from a hard failure.
type RunResult struct {
	Result    string
	SessionID string
	CostUSD   float64
	Subtype   string
	NumTurns  int
}

// CodegenRunner wraps the external code-generation subprocess.
type CodegenRunner interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

// Notifier posts a user-visible comment, optionally tagged with a run.
type Notifier interface {
	Comment(ctx context.Context, issueID string, body string, runID, title string) error
}
