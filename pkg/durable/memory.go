package durable

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warpmetrics/coder/pkg/model"
)

// MemoryClient is the zero-config default: an in-memory Client used
// when durable.backend is unset and warpmetricsApiKey is absent. It
// satisfies the same ordering
// guarantees as the remote service (writes to one container are
// strictly ordered) but nothing survives process restart.
type MemoryClient struct {
	mu        sync.Mutex
	runs      map[string]*model.Run
	groups    map[string]*model.PhaseGroup
	acts      map[string]*model.Act
	outcomes  map[string]*model.Outcome
	reserved  map[string]bool
}

// NewMemoryClient returns an empty MemoryClient.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		runs:     make(map[string]*model.Run),
		groups:   make(map[string]*model.PhaseGroup),
		acts:     make(map[string]*model.Act),
		outcomes: make(map[string]*model.Outcome),
		reserved: make(map[string]bool),
	}
}

func (m *MemoryClient) ReserveAct(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.acts[id] = &model.Act{ID: id, Name: name}
	m.reserved[id] = true
	return id, nil
}

func (m *MemoryClient) StartRun(_ context.Context, refActID, label string, opts model.Opts) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	run := &model.Run{ID: id, Label: label, Opts: cloneOpts(opts)}
	m.runs[id] = run
	if refActID != "" {
		if act, ok := m.acts[refActID]; ok {
			act.Followups = append(act.Followups, id)
		}
	}
	return id, nil
}

func (m *MemoryClient) CreateGroup(_ context.Context, runID, label string, opts model.Opts) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return "", ErrNotFound
	}
	id := uuid.NewString()
	group := &model.PhaseGroup{ID: id, RunID: runID, Label: label, Created: time.Now()}
	_ = opts
	m.groups[id] = group
	run.Groups = append(run.Groups, group)
	return id, nil
}

func (m *MemoryClient) RecordOutcome(_ context.Context, container, name string, opts model.Opts) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	outcome := &model.Outcome{ID: id, Name: name, Timestamp: time.Now(), Opts: cloneOpts(opts)}
	m.outcomes[id] = outcome
	if run, ok := m.runs[container]; ok {
		run.Outcomes = append(run.Outcomes, outcome)
		return id, nil
	}
	if group, ok := m.groups[container]; ok {
		group.Outcomes = append(group.Outcomes, outcome)
		return id, nil
	}
	return "", ErrNotFound
}

func (m *MemoryClient) RecordAct(_ context.Context, outcomeID, actID, name string, opts model.Opts) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcome, ok := m.outcomes[outcomeID]
	if !ok {
		return "", ErrNotFound
	}
	if actID != "" && m.reserved[actID] {
		act := m.acts[actID]
		act.Opts = cloneOpts(opts)
		delete(m.reserved, actID)
		outcome.Acts = append(outcome.Acts, act)
		return actID, nil
	}
	id := uuid.NewString()
	act := &model.Act{ID: id, Name: name, Opts: cloneOpts(opts)}
	m.acts[id] = act
	outcome.Acts = append(outcome.Acts, act)
	return id, nil
}

func (m *MemoryClient) RecordFollowup(_ context.Context, actID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	act, ok := m.acts[actID]
	if !ok {
		return ErrNotFound
	}
	act.Followups = append(act.Followups, runID)
	return nil
}

func (m *MemoryClient) FindOpenIssueRuns(_ context.Context) ([]*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []*model.Run
	for _, run := range m.runs {
		if run.Label == "Issue" && run.Open() {
			open = append(open, run)
		}
	}
	return open, nil
}

func (m *MemoryClient) FindRuns(_ context.Context, label string, filter RunFilter) ([]*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []*model.Run
	for _, run := range m.runs {
		if run.Label != label {
			continue
		}
		if filter.IssueID != "" && run.IssueID() != filter.IssueID {
			continue
		}
		if !runHasOutcomeSince(run, filter.OutcomeName, filter.Since) {
			continue
		}
		matches = append(matches, run)
	}
	return matches, nil
}

func (m *MemoryClient) GetRun(_ context.Context, runID string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return run, nil
}

func runHasOutcomeSince(run *model.Run, name string, since int64) bool {
	for _, o := range run.Outcomes {
		if (name == "" || o.Name == name) && o.Timestamp.UnixNano() >= since {
			return true
		}
	}
	for _, g := range run.Groups {
		for _, o := range g.Outcomes {
			if (name == "" || o.Name == name) && o.Timestamp.UnixNano() >= since {
				return true
			}
		}
	}
	return false
}

func cloneOpts(opts model.Opts) model.Opts {
	if opts == nil {
		return model.Opts{}
	}
	out := make(model.Opts, len(opts))
	for k, v := range opts {
		out[k] = v
	}
	return out
}
