package capabilities

import (
	"context"
	"fmt"
	"strconv"

	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// GitLabConfig configures GitLabAdapter.
type GitLabConfig struct {
	Token   string
	BaseURL string // set for self-hosted GitLab; empty for gitlab.com
}

// GitLabAdapter implements Board, IssueClient, and PRClient (merge
// requests) against the GitLab API, the codehost.provider="gitlab"
// selection. Board columns are modeled as labels, the same convention
// as GitHubAdapter.
type GitLabAdapter struct {
	client       *gitlab.Client
	projectPath  string // "namespace/project"
	columnLabels map[string]string
}

// NewGitLabAdapter authenticates against GitLab (or a self-hosted
// instance, if cfg.BaseURL is set) and targets projectPath.
func NewGitLabAdapter(cfg GitLabConfig, projectPath string, columnLabels map[string]string) (*GitLabAdapter, error) {
	var opts []gitlab.ClientOptionFunc
	if cfg.BaseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(cfg.BaseURL))
	}
	client, err := gitlab.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("gitlab adapter: new client: %w", err)
	}
	return &GitLabAdapter{client: client, projectPath: projectPath, columnLabels: columnLabels}, nil
}

func (g *GitLabAdapter) ListColumn(ctx context.Context, name string) ([]Item, error) {
	label, ok := g.columnLabels[name]
	if !ok {
		return nil, fmt.Errorf("gitlab adapter: no label configured for column %q", name)
	}
	state := "opened"
	issues, _, err := g.client.Issues.ListProjectIssues(g.projectPath, &gitlab.ListProjectIssuesOptions{
		Labels: &gitlab.LabelOptions{label},
		State:  &state,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("gitlab adapter: list column %s: %w", name, err)
	}
	items := make([]Item, 0, len(issues))
	for _, issue := range issues {
		items = append(items, Item{
			ID:     strconv.Itoa(issue.IID),
			Column: name,
			Title:  issue.Title,
			Body:   issue.Description,
		})
	}
	return items, nil
}

func (g *GitLabAdapter) MoveTo(ctx context.Context, item Item, columnKey string) error {
	num, err := strconv.Atoi(item.ID)
	if err != nil {
		return fmt.Errorf("gitlab adapter: issue id %q is not numeric: %w", item.ID, err)
	}
	newLabel, ok := g.columnLabels[columnKey]
	if !ok {
		return fmt.Errorf("gitlab adapter: no label configured for column %q", columnKey)
	}
	opts := &gitlab.UpdateIssueOptions{AddLabels: &gitlab.LabelOptions{newLabel}}
	if oldLabel, ok := g.columnLabels[item.Column]; ok && oldLabel != "" {
		opts.RemoveLabels = &gitlab.LabelOptions{oldLabel}
	}
	if _, _, err := g.client.Issues.UpdateIssue(g.projectPath, num, opts, gitlab.WithContext(ctx)); err != nil {
		return fmt.Errorf("gitlab adapter: move issue %s: %w", item.ID, err)
	}
	return nil
}

func (g *GitLabAdapter) GetIssueBody(ctx context.Context, issueID string) (string, error) {
	num, err := strconv.Atoi(issueID)
	if err != nil {
		return "", err
	}
	issue, _, err := g.client.Issues.GetIssue(g.projectPath, num, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("gitlab adapter: get issue %s: %w", issueID, err)
	}
	return issue.Description, nil
}

func (g *GitLabAdapter) GetIssueComments(ctx context.Context, issueID string) ([]string, error) {
	num, err := strconv.Atoi(issueID)
	if err != nil {
		return nil, err
	}
	notes, _, err := g.client.Notes.ListIssueNotes(g.projectPath, num, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("gitlab adapter: list comments %s: %w", issueID, err)
	}
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.Body)
	}
	return out, nil
}

func (g *GitLabAdapter) CommentOnIssue(ctx context.Context, issueID, body string) error {
	num, err := strconv.Atoi(issueID)
	if err != nil {
		return err
	}
	_, _, err = g.client.Notes.CreateIssueNote(g.projectPath, num, &gitlab.CreateIssueNoteOptions{Body: &body}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab adapter: comment on %s: %w", issueID, err)
	}
	return nil
}

func (g *GitLabAdapter) AddLabels(ctx context.Context, issueID string, labels []string) error {
	num, err := strconv.Atoi(issueID)
	if err != nil {
		return err
	}
	labelOpts := gitlab.LabelOptions(labels)
	_, _, err = g.client.Issues.UpdateIssue(g.projectPath, num, &gitlab.UpdateIssueOptions{AddLabels: &labelOpts}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab adapter: add labels to %s: %w", issueID, err)
	}
	return nil
}

func (g *GitLabAdapter) FindLinkedPRs(ctx context.Context, issueID string) ([]string, error) {
	num, err := strconv.Atoi(issueID)
	if err != nil {
		return nil, err
	}
	mrs, _, err := g.client.Issues.ListMergeRequestsRelatedToIssue(g.projectPath, num, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("gitlab adapter: find linked MRs for %s: %w", issueID, err)
	}
	ids := make([]string, 0, len(mrs))
	for _, mr := range mrs {
		ids = append(ids, strconv.Itoa(mr.IID))
	}
	return ids, nil
}

func (g *GitLabAdapter) CreatePR(ctx context.Context, repo, branch, title, body string) (string, error) {
	mr, _, err := g.client.MergeRequests.CreateMergeRequest(repo, &gitlab.CreateMergeRequestOptions{
		Title:        &title,
		Description:  &body,
		SourceBranch: &branch,
		TargetBranch: gitlab.Ptr("main"),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("gitlab adapter: create mr on %s: %w", repo, err)
	}
	return strconv.Itoa(mr.IID), nil
}

func (g *GitLabAdapter) MergePR(ctx context.Context, repo, prID string) error {
	num, err := strconv.Atoi(prID)
	if err != nil {
		return err
	}
	_, _, err = g.client.MergeRequests.AcceptMergeRequest(repo, num, nil, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab adapter: merge mr %s: %w", prID, err)
	}
	return nil
}

func (g *GitLabAdapter) GetPRState(ctx context.Context, repo, prID string) (PRState, error) {
	num, err := strconv.Atoi(prID)
	if err != nil {
		return "", err
	}
	mr, _, err := g.client.MergeRequests.GetMergeRequest(repo, num, nil, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("gitlab adapter: get mr %s: %w", prID, err)
	}
	switch mr.State {
	case "merged":
		return PRMerged, nil
	case "closed":
		return PRClosed, nil
	default:
		return PROpen, nil
	}
}

func (g *GitLabAdapter) GetReviews(ctx context.Context, repo, prID string) ([]Review, error) {
	num, err := strconv.Atoi(prID)
	if err != nil {
		return nil, err
	}
	approvals, _, err := g.client.MergeRequestApprovals.GetApprovalState(repo, num, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("gitlab adapter: get approvals %s: %w", prID, err)
	}
	var out []Review
	for _, rule := range approvals.Rules {
		for _, u := range rule.ApprovedBy {
			out = append(out, Review{ID: strconv.Itoa(u.ID), State: "APPROVED"})
		}
	}
	return out, nil
}

func (g *GitLabAdapter) SubmitReview(ctx context.Context, repo, prID, state, body string) error {
	num, err := strconv.Atoi(prID)
	if err != nil {
		return err
	}
	if state == "APPROVED" {
		_, _, err = g.client.MergeRequestApprovals.ApproveMergeRequest(repo, num, nil, gitlab.WithContext(ctx))
	} else {
		_, _, err = g.client.Notes.CreateMergeRequestNote(repo, num, &gitlab.CreateMergeRequestNoteOptions{Body: &body}, gitlab.WithContext(ctx))
	}
	if err != nil {
		return fmt.Errorf("gitlab adapter: submit review %s: %w", prID, err)
	}
	return nil
}

func (g *GitLabAdapter) DismissReview(ctx context.Context, repo, prID, _ string) error {
	num, err := strconv.Atoi(prID)
	if err != nil {
		return err
	}
	_, err = g.client.MergeRequestApprovals.UnapproveMergeRequest(repo, num, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab adapter: dismiss review on %s: %w", prID, err)
	}
	return nil
}

func (g *GitLabAdapter) UpdatePRBody(ctx context.Context, repo, prID, body string) error {
	num, err := strconv.Atoi(prID)
	if err != nil {
		return err
	}
	_, _, err = g.client.MergeRequests.UpdateMergeRequest(repo, num, &gitlab.UpdateMergeRequestOptions{Description: &body}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab adapter: update mr body %s: %w", prID, err)
	}
	return nil
}
