package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpmetrics/coder/pkg/capabilities"
)

type fakeIssueClient struct {
	comments map[string][]string
}

func (f *fakeIssueClient) GetIssueBody(_ context.Context, issueID string) (string, error) {
	return "", nil
}

func (f *fakeIssueClient) GetIssueComments(_ context.Context, issueID string) ([]string, error) {
	return f.comments[issueID], nil
}

func (f *fakeIssueClient) CommentOnIssue(_ context.Context, issueID, body string) error { return nil }

func (f *fakeIssueClient) AddLabels(_ context.Context, issueID string, labels []string) error {
	return nil
}

func TestDeployColumnGateSatisfiedWhenItemInColumn(t *testing.T) {
	board := &fakeBoard{columns: map[string][]capabilities.Item{
		"deploy": {{ID: "42"}},
	}}
	gate := NewDeployColumnGate(board, "deploy")

	ok, err := gate.Satisfied(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.Satisfied(context.Background(), "99")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplyGateSatisfiedWhenCommentsExist(t *testing.T) {
	issues := &fakeIssueClient{comments: map[string][]string{"42": {"looks good"}}}
	gate := NewReplyGate(issues)

	ok, err := gate.Satisfied(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.Satisfied(context.Background(), "99")
	require.NoError(t, err)
	assert.False(t, ok)
}
