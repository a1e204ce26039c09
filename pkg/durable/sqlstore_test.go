package durable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpmetrics/coder/pkg/model"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := NewSQLiteClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStoreRunLifecycleMatchesMemoryClient(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)

	runID, err := store.StartRun(ctx, "", "Issue", model.Opts{"issueId": "42"})
	require.NoError(t, err)

	groupID, err := store.CreateGroup(ctx, runID, "Build", nil)
	require.NoError(t, err)

	outcomeID, err := store.RecordOutcome(ctx, groupID, "BUILDING", model.Opts{"cost": 0.1})
	require.NoError(t, err)

	actID, err := store.RecordAct(ctx, outcomeID, "", "implement", model.Opts{"retryCount": 0})
	require.NoError(t, err)

	run, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, run.Groups, 1)
	pending, container, ok := run.PendingAct()
	require.True(t, ok)
	assert.Equal(t, actID, pending.ID)
	assert.Equal(t, groupID, container.ContainerID())

	require.NoError(t, store.RecordFollowup(ctx, actID, "next-run"))
	run, err = store.GetRun(ctx, runID)
	require.NoError(t, err)
	_, _, ok = run.PendingAct()
	assert.False(t, ok)
}

func TestSQLStoreReservedActPublishedInPlace(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)

	reserved, err := store.ReserveAct(ctx, "review")
	require.NoError(t, err)

	runID, _ := store.StartRun(ctx, "", "Issue", nil)
	outcomeID, _ := store.RecordOutcome(ctx, runID, "PR_CREATED", nil)

	actID, err := store.RecordAct(ctx, outcomeID, reserved, "review", nil)
	require.NoError(t, err)
	assert.Equal(t, reserved, actID)
}

func TestSQLStoreFindOpenIssueRunsExcludesTerminal(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)

	openID, _ := store.StartRun(ctx, "", "Issue", nil)
	store.RecordOutcome(ctx, openID, "BUILDING", nil)

	doneID, _ := store.StartRun(ctx, "", "Issue", nil)
	store.RecordOutcome(ctx, doneID, "Shipped", nil)

	open, err := store.FindOpenIssueRuns(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, openID, open[0].ID)
}

func TestSQLStoreGetRunNotFound(t *testing.T) {
	store := newTestSQLStore(t)
	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
