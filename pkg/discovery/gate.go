package discovery

import (
	"context"
	"fmt"

	"github.com/warpmetrics/coder/pkg/capabilities"
)

// Gate decides whether an act whose completion depends on an external,
// user-driven observation (not a durable outcome) has been satisfied.
// Discovery never encodes this in durable state directly — a Gate is
// consulted on demand by the act's executor, keeping the "board dictates
// user intent" split explicit from "durable dictates lifecycle."
type Gate interface {
	// Satisfied reports whether the external condition for issueID has
	// been observed.
	Satisfied(ctx context.Context, issueID string) (bool, error)
}

// DeployColumnGate satisfies await_deploy when an operator has moved the
// issue's board item into the deploy column.
type DeployColumnGate struct {
	board     capabilities.Board
	deployKey string
}

// NewDeployColumnGate returns a Gate watching deployKey for issueID.
func NewDeployColumnGate(board capabilities.Board, deployKey string) *DeployColumnGate {
	return &DeployColumnGate{board: board, deployKey: deployKey}
}

func (g *DeployColumnGate) Satisfied(ctx context.Context, issueID string) (bool, error) {
	items, err := g.board.ListColumn(ctx, g.deployKey)
	if err != nil {
		return false, fmt.Errorf("deploy gate: list column %s: %w", g.deployKey, err)
	}
	for _, item := range items {
		if item.ID == issueID {
			return true, nil
		}
	}
	return false, nil
}

// ReplyGate satisfies await_reply when a human has commented on the
// issue since the act was recorded.
type ReplyGate struct {
	issues capabilities.IssueClient
}

// NewReplyGate returns a Gate watching for new issue comments.
func NewReplyGate(issues capabilities.IssueClient) *ReplyGate {
	return &ReplyGate{issues: issues}
}

// Satisfied reports true the moment any comment exists on the issue.
// The executor is responsible for tracking which comment, if any, was
// already consumed by a prior poll tick; the gate itself is stateless.
func (g *ReplyGate) Satisfied(ctx context.Context, issueID string) (bool, error) {
	comments, err := g.issues.GetIssueComments(ctx, issueID)
	if err != nil {
		return false, fmt.Errorf("reply gate: get comments for issue %s: %w", issueID, err)
	}
	return len(comments) > 0, nil
}
