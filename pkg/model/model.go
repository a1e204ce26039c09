// Package model defines the durable data shapes a run moves through:
// Run, PhaseGroup, Outcome, Act. None of these types are ever mutated
// after creation; a run's history is the append order of its outcomes
// and acts.
package model

import "time"

// Opts is the free-form option bag threaded through outcomes and acts
// (cost, error text, PR number, session id, retry count, deploy plan).
// Executors decode the keys they expect; unknown keys are preserved and
// forwarded untouched.
type Opts map[string]any

// Terminal is the fixed set of run-level outcome names that close a run
// to further execution: a run is open iff its latest run-level outcome
// is not in this set.
var Terminal = map[string]bool{
	"Shipped":              true,
	"Released":             true,
	"MaxRetries":           true,
	"ImplementationFailed": true,
	"RevisionFailed":       true,
	"MergeFailed":          true,
	"Failed":               true,
	"Aborted":              true,
}

// Act is a request for a future unit of work. It is pending when
// Followups is empty and executed once it is not.
type Act struct {
	ID        string
	Name      string
	Opts      Opts
	Followups []string // run ids started in response to this act
}

// Pending reports whether this act has not yet produced a follow-up run.
func (a *Act) Pending() bool { return a != nil && len(a.Followups) == 0 }

// Outcome is an immutable, timestamped, named event. It authorises zero
// or more follow-up acts.
type Outcome struct {
	ID        string
	Name      string
	Timestamp time.Time
	Opts      Opts
	Acts      []*Act
}

// LastAct returns the most recently appended act under this outcome, or
// nil if none were recorded.
func (o *Outcome) LastAct() *Act {
	if o == nil || len(o.Acts) == 0 {
		return nil
	}
	return o.Acts[len(o.Acts)-1]
}

// Container is anything an outcome can be appended to: a Run or a
// PhaseGroup. Both expose the same append-only outcome list.
type Container interface {
	ContainerID() string
	LatestOutcome() *Outcome
}

// PhaseGroup is a named sub-container of a run representing one phase
// of the lifecycle (Build, Review, Deploy, Release). Its outcome and
// act lists are independent of the run's own.
type PhaseGroup struct {
	ID       string
	RunID    string
	Label    string
	Created  time.Time
	Outcomes []*Outcome
}

func (g *PhaseGroup) ContainerID() string { return g.ID }

func (g *PhaseGroup) LatestOutcome() *Outcome {
	if g == nil || len(g.Outcomes) == 0 {
		return nil
	}
	return g.Outcomes[len(g.Outcomes)-1]
}

// Run is the durable record of one issue's journey through the graph.
// It is created once per issue and never mutated after creation except
// by appending outcomes and groups.
type Run struct {
	ID       string
	Label    string // always "Issue" for issue runs
	Opts     Opts   // issue id, repo, title, schema version
	Outcomes []*Outcome
	Groups   []*PhaseGroup
}

func (r *Run) ContainerID() string { return r.ID }

func (r *Run) LatestOutcome() *Outcome {
	if r == nil || len(r.Outcomes) == 0 {
		return nil
	}
	return r.Outcomes[len(r.Outcomes)-1]
}

// IssueID returns the issue identifier stored in the run's option bag.
func (r *Run) IssueID() string {
	if v, ok := r.Opts["issueId"].(string); ok {
		return v
	}
	return ""
}

// Repo returns the target repository stored in the run's option bag.
func (r *Run) Repo() string {
	if v, ok := r.Opts["repo"].(string); ok {
		return v
	}
	return ""
}

// Open reports whether the run's latest run-level outcome is not in the
// terminal set. A run with no outcomes yet is open.
func (r *Run) Open() bool {
	latest := r.LatestOutcome()
	if latest == nil {
		return true
	}
	return !Terminal[latest.Name]
}

// GroupByLabel returns the most recently created group with the given
// label, or nil.
func (r *Run) GroupByLabel(label string) *PhaseGroup {
	for i := len(r.Groups) - 1; i >= 0; i-- {
		if r.Groups[i].Label == label {
			return r.Groups[i]
		}
	}
	return nil
}

// PendingAct locates the run's next unit of work per the discovery
// algorithm: the run's own latest outcome is checked first; if its last
// act is not pending, the run's groups are scanned in reverse creation
// order. Returns the pending act, the container it belongs to, and ok.
func (r *Run) PendingAct() (act *Act, container Container, ok bool) {
	if latest := r.LatestOutcome(); latest != nil {
		if last := latest.LastAct(); last.Pending() {
			return last, r, true
		}
	}
	for i := len(r.Groups) - 1; i >= 0; i-- {
		g := r.Groups[i]
		latest := g.LatestOutcome()
		if latest == nil {
			continue
		}
		if last := latest.LastAct(); last.Pending() {
			return last, g, true
		}
	}
	return nil, nil, false
}
