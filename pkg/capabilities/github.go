package capabilities

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// GitHubConfig configures GitHubAdapter.
type GitHubConfig struct {
	Token   string
	BaseURL string // set for GitHub Enterprise; empty for github.com
}

// GitHubAdapter implements Board, IssueClient, and PRClient against the
// GitHub issues/pulls API, the codehost.provider="github" selection.
type GitHubAdapter struct {
	client *github.Client
	owner  string
	repo   string
	// columnLabels maps a board column key to the label applied to
	// issues currently in that column, since GitHub issues have no
	// native board-column concept outside of Projects.
	columnLabels map[string]string
}

// NewGitHubAdapter authenticates against GitHub (or a GitHub Enterprise
// instance, if cfg.BaseURL is set) and targets owner/repo.
func NewGitHubAdapter(ctx context.Context, cfg GitHubConfig, owner, repo string, columnLabels map[string]string) (*GitHubAdapter, error) {
	var client *github.Client
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		client = github.NewClient(oauth2.NewClient(ctx, ts))
	} else {
		client = github.NewClient(nil)
	}
	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("github adapter: enterprise urls: %w", err)
		}
	}
	return &GitHubAdapter{client: client, owner: owner, repo: repo, columnLabels: columnLabels}, nil
}

func (g *GitHubAdapter) ListColumn(ctx context.Context, name string) ([]Item, error) {
	label, ok := g.columnLabels[name]
	if !ok {
		return nil, fmt.Errorf("github adapter: no label configured for column %q", name)
	}
	issues, _, err := g.client.Issues.ListByRepo(ctx, g.owner, g.repo, &github.IssueListByRepoOptions{
		Labels: []string{label},
		State:  "open",
	})
	if err != nil {
		return nil, fmt.Errorf("github adapter: list column %s: %w", name, err)
	}
	items := make([]Item, 0, len(issues))
	for _, issue := range issues {
		items = append(items, Item{
			ID:     strconv.Itoa(issue.GetNumber()),
			Column: name,
			Title:  issue.GetTitle(),
			Body:   issue.GetBody(),
		})
	}
	return items, nil
}

func (g *GitHubAdapter) MoveTo(ctx context.Context, item Item, columnKey string) error {
	num, err := strconv.Atoi(item.ID)
	if err != nil {
		return fmt.Errorf("github adapter: issue id %q is not numeric: %w", item.ID, err)
	}
	newLabel, ok := g.columnLabels[columnKey]
	if !ok {
		return fmt.Errorf("github adapter: no label configured for column %q", columnKey)
	}
	if oldLabel, ok := g.columnLabels[item.Column]; ok && oldLabel != "" {
		if _, err := g.client.Issues.RemoveLabelForIssue(ctx, g.owner, g.repo, num, oldLabel); err != nil {
			return fmt.Errorf("github adapter: remove label %s: %w", oldLabel, err)
		}
	}
	if _, _, err := g.client.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, num, []string{newLabel}); err != nil {
		return fmt.Errorf("github adapter: add label %s: %w", newLabel, err)
	}
	return nil
}

func (g *GitHubAdapter) GetIssueBody(ctx context.Context, issueID string) (string, error) {
	num, err := strconv.Atoi(issueID)
	if err != nil {
		return "", err
	}
	issue, _, err := g.client.Issues.Get(ctx, g.owner, g.repo, num)
	if err != nil {
		return "", fmt.Errorf("github adapter: get issue %s: %w", issueID, err)
	}
	return issue.GetBody(), nil
}

func (g *GitHubAdapter) GetIssueComments(ctx context.Context, issueID string) ([]string, error) {
	num, err := strconv.Atoi(issueID)
	if err != nil {
		return nil, err
	}
	comments, _, err := g.client.Issues.ListComments(ctx, g.owner, g.repo, num, nil)
	if err != nil {
		return nil, fmt.Errorf("github adapter: list comments %s: %w", issueID, err)
	}
	out := make([]string, 0, len(comments))
	for _, c := range comments {
		out = append(out, c.GetBody())
	}
	return out, nil
}

func (g *GitHubAdapter) CommentOnIssue(ctx context.Context, issueID, body string) error {
	num, err := strconv.Atoi(issueID)
	if err != nil {
		return err
	}
	_, _, err = g.client.Issues.CreateComment(ctx, g.owner, g.repo, num, &github.IssueComment{Body: &body})
	if err != nil {
		return fmt.Errorf("github adapter: comment on %s: %w", issueID, err)
	}
	return nil
}

func (g *GitHubAdapter) AddLabels(ctx context.Context, issueID string, labels []string) error {
	num, err := strconv.Atoi(issueID)
	if err != nil {
		return err
	}
	if _, _, err := g.client.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, num, labels); err != nil {
		return fmt.Errorf("github adapter: add labels to %s: %w", issueID, err)
	}
	return nil
}

func (g *GitHubAdapter) FindLinkedPRs(ctx context.Context, issueID string) ([]string, error) {
	query := fmt.Sprintf("repo:%s/%s is:pr in:body %s", g.owner, g.repo, issueID)
	result, _, err := g.client.Search.Issues(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("github adapter: search linked PRs for %s: %w", issueID, err)
	}
	ids := make([]string, 0, len(result.Issues))
	for _, pr := range result.Issues {
		ids = append(ids, strconv.Itoa(pr.GetNumber()))
	}
	return ids, nil
}

func (g *GitHubAdapter) CreatePR(ctx context.Context, repo, branch, title, body string) (string, error) {
	pr, _, err := g.client.PullRequests.Create(ctx, g.owner, repo, &github.NewPullRequest{
		Title: &title,
		Head:  &branch,
		Base:  github.String("main"),
		Body:  &body,
	})
	if err != nil {
		return "", fmt.Errorf("github adapter: create pr on %s: %w", repo, err)
	}
	return strconv.Itoa(pr.GetNumber()), nil
}

func (g *GitHubAdapter) MergePR(ctx context.Context, repo, prID string) error {
	num, err := strconv.Atoi(prID)
	if err != nil {
		return err
	}
	_, _, err = g.client.PullRequests.Merge(ctx, g.owner, repo, num, "", nil)
	if err != nil {
		return fmt.Errorf("github adapter: merge pr %s: %w", prID, err)
	}
	return nil
}

func (g *GitHubAdapter) GetPRState(ctx context.Context, repo, prID string) (PRState, error) {
	num, err := strconv.Atoi(prID)
	if err != nil {
		return "", err
	}
	pr, _, err := g.client.PullRequests.Get(ctx, g.owner, repo, num)
	if err != nil {
		return "", fmt.Errorf("github adapter: get pr %s: %w", prID, err)
	}
	if pr.GetMerged() {
		return PRMerged, nil
	}
	if strings.EqualFold(pr.GetState(), "closed") {
		return PRClosed, nil
	}
	return PROpen, nil
}

func (g *GitHubAdapter) GetReviews(ctx context.Context, repo, prID string) ([]Review, error) {
	num, err := strconv.Atoi(prID)
	if err != nil {
		return nil, err
	}
	reviews, _, err := g.client.PullRequests.ListReviews(ctx, g.owner, repo, num, nil)
	if err != nil {
		return nil, fmt.Errorf("github adapter: list reviews %s: %w", prID, err)
	}
	out := make([]Review, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, Review{ID: strconv.FormatInt(r.GetID(), 10), State: r.GetState(), Body: r.GetBody()})
	}
	return out, nil
}

func (g *GitHubAdapter) SubmitReview(ctx context.Context, repo, prID, state, body string) error {
	num, err := strconv.Atoi(prID)
	if err != nil {
		return err
	}
	_, _, err = g.client.PullRequests.CreateReview(ctx, g.owner, repo, num, &github.PullRequestReviewRequest{
		Body:  &body,
		Event: &state,
	})
	if err != nil {
		return fmt.Errorf("github adapter: submit review %s: %w", prID, err)
	}
	return nil
}

func (g *GitHubAdapter) DismissReview(ctx context.Context, repo, prID, reviewID string) error {
	prNum, err := strconv.Atoi(prID)
	if err != nil {
		return err
	}
	reviewNum, err := strconv.ParseInt(reviewID, 10, 64)
	if err != nil {
		return err
	}
	reason := "superseded"
	_, _, err = g.client.PullRequests.DismissReview(ctx, g.owner, repo, prNum, reviewNum,
		&github.PullRequestReviewDismissalRequest{Message: &reason})
	if err != nil {
		return fmt.Errorf("github adapter: dismiss review %s: %w", reviewID, err)
	}
	return nil
}

func (g *GitHubAdapter) UpdatePRBody(ctx context.Context, repo, prID, body string) error {
	num, err := strconv.Atoi(prID)
	if err != nil {
		return err
	}
	_, _, err = g.client.PullRequests.Edit(ctx, g.owner, repo, num, &github.PullRequest{Body: &body})
	if err != nil {
		return fmt.Errorf("github adapter: update pr body %s: %w", prID, err)
	}
	return nil
}
