// Package durable defines the core's contract with the append-only
// run/outcome/act/group log, and ships four implementations: an
// in-memory stub (the zero-config default), an HTTP client for the
// remote warpmetrics service, an embedded SQLite store, and a MySQL
// store for self-hosted fleets. All four satisfy Client identically;
// callers never branch on which backend is wired in.
package durable

import (
	"context"
	"errors"

	"github.com/warpmetrics/coder/pkg/model"
)

// ErrNotFound is returned when a lookup names a run, group, outcome, or
// act id that does not exist.
var ErrNotFound = errors.New("durable: not found")

// Client is the core's full contract with the durable state service.
// Writes for one container are ordered: the write of
// outcome N is durable before outcome N+1 is submitted. At-least-once
// append semantics are acceptable — reconciliation treats the
// latest-by-timestamp-then-append-order outcome as authoritative.
type Client interface {
	// ReserveAct allocates an act id without publishing the act, so the
	// id can be embedded in artifacts (a PR description) ahead of time.
	ReserveAct(ctx context.Context, name string) (actID string, err error)

	// StartRun appends a new run. If refActID is non-empty, the new run
	// becomes a follow-up of that act, linking trajectories.
	StartRun(ctx context.Context, refActID, label string, opts model.Opts) (runID string, err error)

	// CreateGroup appends a phase group to a run.
	CreateGroup(ctx context.Context, runID, label string, opts model.Opts) (groupID string, err error)

	// RecordOutcome appends an outcome to a run or group. container is
	// either a runID or a groupID.
	RecordOutcome(ctx context.Context, container, name string, opts model.Opts) (outcomeID string, err error)

	// RecordAct appends an act under an outcome. If actID was previously
	// reserved via ReserveAct, pass it so the reservation is published
	// rather than allocating a new id.
	RecordAct(ctx context.Context, outcomeID, actID, name string, opts model.Opts) (recordedActID string, err error)

	// RecordFollowup links a new run as a follow-up execution of an act,
	// marking that act executed.
	RecordFollowup(ctx context.Context, actID, runID string) error

	// FindOpenIssueRuns returns all non-terminal issue runs with their
	// groups, outcomes, and acts fully expanded.
	FindOpenIssueRuns(ctx context.Context) ([]*model.Run, error)

	// FindRuns runs a scoped query: all runs with the given label whose
	// matching outcome falls within filter's window.
	FindRuns(ctx context.Context, label string, filter RunFilter) ([]*model.Run, error)

	// GetRun fetches one run fully expanded, or ErrNotFound.
	GetRun(ctx context.Context, runID string) (*model.Run, error)
}

// RunFilter scopes a FindRuns query (e.g. "count revise runs for this PR
// since the run was created").
type RunFilter struct {
	OutcomeName string // restrict to runs whose some outcome has this name
	IssueID     string
	Since       int64 // unix nanos; zero means no lower bound
}
