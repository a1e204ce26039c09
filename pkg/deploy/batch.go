// Package deploy builds the transitive deploy batch over concurrently
// waiting runs, merges their per-issue deploy plans into one DAG, and
// executes it level by level.
package deploy

import (
	"sort"

	"github.com/warpmetrics/coder/pkg/model"
)

// maxBatchPasses bounds the connected-component expansion so a bug in
// repo-overlap data can never spin the batcher forever.
const maxBatchPasses = 64

// Batch is the set of runs that must deploy together because their
// target repos transitively overlap.
type Batch struct {
	TriggerIssueID string
	IssueIDs       []string
	Issues         []*model.Run
}

// RepoSet returns the repos targeted by run: the "repos" option of the
// latest outcome in its Deploy phase group (recorded by the merge act's
// success outcome), falling back to the run's own "repos" option when
// there is no Deploy group, no outcome in it, or no repos on that outcome.
func RepoSet(run *model.Run) []string {
	group := run.GroupByLabel("Deploy")
	if group == nil {
		return toStringSlice(run.Opts["repos"])
	}
	latest := group.LatestOutcome()
	if latest == nil {
		return toStringSlice(run.Opts["repos"])
	}
	if repos, ok := latest.Opts["repos"]; ok {
		return toStringSlice(repos)
	}
	return toStringSlice(run.Opts["repos"])
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// BatchFor computes the connected component of trigger in the
// "shares a repo" graph over awaiting, the set of runs whose pending act
// is await_deploy or run_deploy. Shuffling the input order of awaiting
// never changes the resulting batch: membership is a fixed point of
// repeated repo-overlap expansion, not an artifact of iteration order.
func BatchFor(trigger *model.Run, awaiting []*model.Run) *Batch {
	repos := make(map[string][]string, len(awaiting)+1) // issueID -> repos
	repos[trigger.IssueID()] = RepoSet(trigger)
	byIssue := map[string]*model.Run{trigger.IssueID(): trigger}
	for _, run := range awaiting {
		id := run.IssueID()
		byIssue[id] = run
		repos[id] = RepoSet(run)
	}

	inBatch := map[string]bool{trigger.IssueID(): true}
	for pass := 0; pass < maxBatchPasses; pass++ {
		added := false
		for id := range inBatch {
			for otherID, otherRepos := range repos {
				if inBatch[otherID] {
					continue
				}
				if sharesRepo(repos[id], otherRepos) {
					inBatch[otherID] = true
					added = true
				}
			}
		}
		if !added {
			break
		}
	}

	issueIDs := make([]string, 0, len(inBatch))
	for id := range inBatch {
		issueIDs = append(issueIDs, id)
	}
	sort.Strings(issueIDs)

	issues := make([]*model.Run, 0, len(issueIDs))
	for _, id := range issueIDs {
		issues = append(issues, byIssue[id])
	}

	return &Batch{TriggerIssueID: trigger.IssueID(), IssueIDs: issueIDs, Issues: issues}
}

func sharesRepo(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, r := range a {
		set[r] = true
	}
	for _, r := range b {
		if set[r] {
			return true
		}
	}
	return false
}
