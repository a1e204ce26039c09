package deploy

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrCircularDependency is returned by Sort when the merged deploy DAG
// contains a cycle. The deploy act surfaces this text verbatim.
var ErrCircularDependency = fmt.Errorf("Circular dependency")

// Sort computes a Kahn-style topological order over p's repos and
// assigns each repo a parallel level: level(v) = max(level(dep))+1, or
// 0 if v has no deps. Repos at the same level may deploy concurrently;
// levels run strictly in order. Returns ErrCircularDependency if the
// graph cannot be fully ordered.
func Sort(p *MergedPlan) (order []string, levels map[string]int, err error) {
	inDegree := make(map[string]int, len(p.Repos))
	dependents := make(map[string][]string, len(p.Repos)) // dep -> repos that depend on it
	for repo, rp := range p.Repos {
		if _, ok := inDegree[repo]; !ok {
			inDegree[repo] = 0
		}
		for _, dep := range rp.DependsOn {
			inDegree[repo]++
			dependents[dep] = append(dependents[dep], repo)
		}
	}

	levels = make(map[string]int, len(p.Repos))
	var queue []string
	for repo, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, repo)
			levels[repo] = 0
		}
	}
	sort.Strings(queue) // deterministic order among concurrently-ready repos

	order = make([]string, 0, len(p.Repos))
	for len(queue) > 0 {
		repo := queue[0]
		queue = queue[1:]
		order = append(order, repo)

		var ready []string
		for _, dependent := range dependents[repo] {
			inDegree[dependent]--
			if lvl := levels[repo] + 1; lvl > levels[dependent] {
				levels[dependent] = lvl
			}
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(order) != len(p.Repos) {
		return nil, nil, ErrCircularDependency
	}
	return order, levels, nil
}

// LevelGroups buckets order by levels into a slice indexed by level
// number, ready for sequential-by-level, concurrent-within-level
// execution.
func LevelGroups(order []string, levels map[string]int) [][]string {
	maxLevel := 0
	for _, lvl := range levels {
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}
	groups := make([][]string, maxLevel+1)
	for _, repo := range order {
		lvl := levels[repo]
		groups[lvl] = append(groups[lvl], repo)
	}
	return groups
}

// DeployFunc runs one repo's deploy command.
type DeployFunc func(ctx context.Context, repo, command string) error

// Execute runs p's repos level by level: all repos in a level deploy
// concurrently (bounded by maxParallel), and a failure anywhere in a
// level aborts every later level. It returns the repos that completed
// successfully and the first error encountered, if any.
func Execute(ctx context.Context, p *MergedPlan, maxParallel int, deployFn DeployFunc) (completed []string, err error) {
	order, levels, err := Sort(p)
	if err != nil {
		return nil, err
	}
	groups := LevelGroups(order, levels)
	if maxParallel < 1 {
		maxParallel = 1
	}
	sem := semaphore.NewWeighted(int64(maxParallel))

	for _, repos := range groups {
		if len(repos) == 0 {
			continue
		}
		g, gctx := errgroup.WithContext(ctx)
		var succeeded []string
		results := make(chan string, len(repos))
		for _, repo := range repos {
			repo := repo
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
				rp := p.Repos[repo]
				if runErr := deployFn(gctx, repo, rp.Command); runErr != nil {
					return fmt.Errorf("deploy %s: %w", repo, runErr)
				}
				results <- repo
				return nil
			})
		}
		levelErr := g.Wait()
		close(results)
		for repo := range results {
			succeeded = append(succeeded, repo)
		}
		completed = append(completed, succeeded...)
		if levelErr != nil {
			return completed, levelErr
		}
	}
	return completed, nil
}
