package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOpenTerminal(t *testing.T) {
	r := &Run{ID: "r1"}
	assert.True(t, r.Open(), "a run with no outcomes yet is open")

	r.Outcomes = append(r.Outcomes, &Outcome{Name: "BUILDING", Timestamp: time.Now()})
	assert.True(t, r.Open())

	r.Outcomes = append(r.Outcomes, &Outcome{Name: "Shipped", Timestamp: time.Now()})
	assert.False(t, r.Open(), "Shipped is a terminal outcome")
}

func TestPendingActRunLevel(t *testing.T) {
	act := &Act{ID: "a1", Name: "implement"}
	r := &Run{
		ID: "r1",
		Outcomes: []*Outcome{
			{Name: "BUILDING", Acts: []*Act{act}},
		},
	}

	pending, container, ok := r.PendingAct()
	require.True(t, ok)
	assert.Same(t, act, pending)
	assert.Equal(t, "r1", container.ContainerID())
}

func TestPendingActFallsBackToGroupsInReverseOrder(t *testing.T) {
	executedAct := &Act{ID: "a0", Name: "implement", Followups: []string{"r2"}}
	r := &Run{
		ID:       "r1",
		Outcomes: []*Outcome{{Name: "BUILDING", Acts: []*Act{executedAct}}},
		Groups: []*PhaseGroup{
			{ID: "g1", Label: "Build", Outcomes: []*Outcome{{Name: "BUILDING"}}},
			{ID: "g2", Label: "Review", Outcomes: []*Outcome{
				{Name: "PR_CREATED", Acts: []*Act{{ID: "a2", Name: "review"}}},
			}},
		},
	}

	pending, container, ok := r.PendingAct()
	require.True(t, ok)
	assert.Equal(t, "review", pending.Name)
	assert.Equal(t, "g2", container.ContainerID())
}

func TestPendingActNoneFound(t *testing.T) {
	r := &Run{ID: "r1"}
	_, _, ok := r.PendingAct()
	assert.False(t, ok, "empty pending-act search returns no action, never a crash")
}

func TestGroupByLabelPicksMostRecent(t *testing.T) {
	r := &Run{Groups: []*PhaseGroup{
		{ID: "g1", Label: "Review"},
		{ID: "g2", Label: "Review"},
	}}
	assert.Equal(t, "g2", r.GroupByLabel("Review").ID)
	assert.Nil(t, r.GroupByLabel("Deploy"))
}
