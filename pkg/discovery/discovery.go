// Package discovery combines board items, open durable runs, and
// pending acts into the ordered work list each poll tick hands to the
// scheduler.
package discovery

import (
	"context"
	"fmt"
	"sort"

	"github.com/warpmetrics/coder/pkg/capabilities"
	"github.com/warpmetrics/coder/pkg/durable"
	"github.com/warpmetrics/coder/pkg/graph"
	"github.com/warpmetrics/coder/pkg/model"
)

// ActionableRun is one unit of work the scheduler can dispatch: a run
// with a pending act, and the container (the run itself or one of its
// phase groups) that act belongs to. Run is nil for a synthesized
// "start" record — the issue has a todo-column board item but no
// durable run yet.
type ActionableRun struct {
	IssueID   string
	Run       *model.Run
	Container model.Container
	Act       *model.Act
	StartAct  bool // true for a synthesized "start" unit with no run yet
}

// Reconciler computes the actionable work list from durable state for
// one poll tick. It never consults the board for lifecycle routing —
// only for "start" synthesis and the column cross-reference — keeping
// durable state authoritative for everything except user-driven gates.
type Reconciler struct {
	durable durable.Client
	board   capabilities.Board
	graph   *graph.Graph
	todoKey string
}

// New returns a Reconciler. todoKey is the board column that holds
// issues with no run yet.
func New(client durable.Client, board capabilities.Board, g *graph.Graph, todoKey string) *Reconciler {
	return &Reconciler{durable: client, board: board, graph: g, todoKey: todoKey}
}

// Tick runs one discovery pass: list the todo board column, fetch open
// runs, locate each run's pending act, and synthesize "start" records
// for untracked todo-column items. It does not move board items;
// Reconcile moves a single run's item when given that item's current
// column. The returned list is ordered by issue id for determinism
// across ticks.
func (r *Reconciler) Tick(ctx context.Context) ([]ActionableRun, error) {
	items, err := r.board.ListColumn(ctx, r.todoKey)
	if err != nil {
		return nil, fmt.Errorf("discovery: list board column %s: %w", r.todoKey, err)
	}
	todoItems := make(map[string]capabilities.Item, len(items))
	for _, it := range items {
		todoItems[it.ID] = it
	}

	runs, err := r.durable.FindOpenIssueRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery: find open issue runs: %w", err)
	}

	seenIssues := make(map[string]bool, len(runs))
	var actionable []ActionableRun
	for _, run := range runs {
		issueID := run.IssueID()
		seenIssues[issueID] = true
		act, container, ok := run.PendingAct()
		if !ok {
			continue
		}
		actionable = append(actionable, ActionableRun{
			IssueID:   issueID,
			Run:       run,
			Container: container,
			Act:       act,
		})
	}

	for issueID := range todoItems {
		if seenIssues[issueID] {
			continue
		}
		actionable = append(actionable, ActionableRun{IssueID: issueID, StartAct: true})
	}

	sort.Slice(actionable, func(i, j int) bool { return actionable[i].IssueID < actionable[j].IssueID })
	return actionable, nil
}

// Reconcile moves the board item for run to the column implied by its
// latest outcome's state mapping, when it disagrees with the item's
// current column. The board is a projection of durable state: the item
// is moved whenever the two columns differ, and a column the user set
// is not told apart from a stale one.
func (r *Reconciler) Reconcile(ctx context.Context, run *model.Run, currentColumn string) error {
	latest := run.LatestOutcome()
	if latest == nil {
		return nil
	}
	column, ok := r.graph.States[latest.Name]
	if !ok || column == currentColumn {
		return nil
	}
	item := capabilities.Item{ID: run.IssueID()}
	if err := r.board.MoveTo(ctx, item, column); err != nil {
		return fmt.Errorf("discovery: reconcile issue %s to column %s: %w", run.IssueID(), column, err)
	}
	return nil
}
