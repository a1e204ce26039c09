package deploy

import "sort"

// RepoPlan is one repo's deploy step: the shell command to run and the
// other repos it must wait for.
type RepoPlan struct {
	Repo      string
	Command   string
	DependsOn []string
}

// MergedPlan is the union of every batched run's deploy plan: one
// command per repo, dependency edges unioned and de-duplicated, and a
// record of which issues targeted each repo (for the combined release
// changelog).
type MergedPlan struct {
	Repos        map[string]*RepoPlan
	IssuesByRepo map[string][]string
}

// Merge unions perRunPlans (keyed by issue id) into one MergedPlan.
// A repo's command is taken from its first occurrence across runs —
// configuration guarantees a single command per repo, so later
// occurrences only contribute additional dependency edges and issue
// attribution.
func Merge(perRunPlans map[string][]RepoPlan) *MergedPlan {
	merged := &MergedPlan{
		Repos:        map[string]*RepoPlan{},
		IssuesByRepo: map[string][]string{},
	}
	issueIDs := make([]string, 0, len(perRunPlans))
	for id := range perRunPlans {
		issueIDs = append(issueIDs, id)
	}
	sort.Strings(issueIDs) // deterministic merge order regardless of map iteration

	for _, issueID := range issueIDs {
		for _, rp := range perRunPlans[issueID] {
			existing, ok := merged.Repos[rp.Repo]
			if !ok {
				existing = &RepoPlan{Repo: rp.Repo, Command: rp.Command}
				merged.Repos[rp.Repo] = existing
			}
			existing.DependsOn = unionDedup(existing.DependsOn, rp.DependsOn)
			merged.IssuesByRepo[rp.Repo] = appendUnique(merged.IssuesByRepo[rp.Repo], issueID)
		}
	}
	return merged
}

func unionDedup(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
