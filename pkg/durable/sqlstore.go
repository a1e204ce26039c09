package durable

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/warpmetrics/coder/pkg/model"
)

// schemaDDL is shared by the SQLite and MySQL backends: every column
// uses a type both dialects accept without translation (TEXT ids,
// BIGINT timestamps/sequence numbers), so one statement list serves
// both drivers.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS durable_runs (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		opts TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS durable_groups (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		label TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS durable_outcomes (
		id TEXT PRIMARY KEY,
		container_id TEXT NOT NULL,
		name TEXT NOT NULL,
		ts BIGINT NOT NULL,
		seq BIGINT NOT NULL,
		opts TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS durable_acts (
		id TEXT PRIMARY KEY,
		outcome_id TEXT NOT NULL,
		name TEXT NOT NULL,
		opts TEXT NOT NULL,
		reserved INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS durable_followups (
		act_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		seq BIGINT NOT NULL
	)`,
}

// SQLStore is a database/sql-backed Client shared by the SQLite and
// MySQL constructors below. It keeps a monotonic in-process sequence
// counter so that "latest-by-timestamp-then-append-order" has a
// deterministic tiebreak independent of either dialect's autoincrement
// semantics.
type SQLStore struct {
	db  *sql.DB
	seq atomic.Int64
}

func openSQLStore(db *sql.DB) (*SQLStore, error) {
	for _, stmt := range schemaDDL {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("durable sql: create schema: %w", err)
		}
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) nextSeq() int64 { return s.seq.Add(1) }

func (s *SQLStore) ReserveAct(ctx context.Context, name string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO durable_acts (id, outcome_id, name, opts, reserved) VALUES (?, '', ?, '{}', 1)`,
		id, name)
	if err != nil {
		return "", fmt.Errorf("durable sql: reserve act: %w", err)
	}
	return id, nil
}

func (s *SQLStore) StartRun(ctx context.Context, refActID, label string, opts model.Opts) (string, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(cloneOpts(opts))
	if err != nil {
		return "", fmt.Errorf("durable sql: encode opts: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO durable_runs (id, label, opts) VALUES (?, ?, ?)`, id, label, payload); err != nil {
		return "", fmt.Errorf("durable sql: insert run: %w", err)
	}
	if refActID != "" {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO durable_followups (act_id, run_id, seq) VALUES (?, ?, ?)`,
			refActID, id, s.nextSeq()); err != nil {
			return "", fmt.Errorf("durable sql: link followup: %w", err)
		}
	}
	return id, nil
}

func (s *SQLStore) CreateGroup(ctx context.Context, runID, label string, _ model.Opts) (string, error) {
	var exists string
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM durable_runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("durable sql: lookup run: %w", err)
	}
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO durable_groups (id, run_id, label, created_at) VALUES (?, ?, ?, ?)`,
		id, runID, label, time.Now().UnixNano()); err != nil {
		return "", fmt.Errorf("durable sql: insert group: %w", err)
	}
	return id, nil
}

func (s *SQLStore) RecordOutcome(ctx context.Context, container, name string, opts model.Opts) (string, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(cloneOpts(opts))
	if err != nil {
		return "", fmt.Errorf("durable sql: encode opts: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO durable_outcomes (id, container_id, name, ts, seq, opts) VALUES (?, ?, ?, ?, ?, ?)`,
		id, container, name, time.Now().UnixNano(), s.nextSeq(), payload)
	if err != nil {
		return "", fmt.Errorf("durable sql: insert outcome: %w", err)
	}
	return id, nil
}

func (s *SQLStore) RecordAct(ctx context.Context, outcomeID, actID, name string, opts model.Opts) (string, error) {
	payload, err := json.Marshal(cloneOpts(opts))
	if err != nil {
		return "", fmt.Errorf("durable sql: encode opts: %w", err)
	}
	if actID != "" {
		res, err := s.db.ExecContext(ctx,
			`UPDATE durable_acts SET outcome_id = ?, name = ?, opts = ?, reserved = 0 WHERE id = ? AND reserved = 1`,
			outcomeID, name, payload, actID)
		if err != nil {
			return "", fmt.Errorf("durable sql: publish reserved act: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return actID, nil
		}
	}
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO durable_acts (id, outcome_id, name, opts, reserved) VALUES (?, ?, ?, ?, 0)`,
		id, outcomeID, name, payload); err != nil {
		return "", fmt.Errorf("durable sql: insert act: %w", err)
	}
	return id, nil
}

func (s *SQLStore) RecordFollowup(ctx context.Context, actID, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO durable_followups (act_id, run_id, seq) VALUES (?, ?, ?)`, actID, runID, s.nextSeq())
	if err != nil {
		return fmt.Errorf("durable sql: record followup: %w", err)
	}
	return nil
}

func (s *SQLStore) FindOpenIssueRuns(ctx context.Context) ([]*model.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM durable_runs WHERE label = 'Issue'`)
	if err != nil {
		return nil, fmt.Errorf("durable sql: query runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("durable sql: scan run id: %w", err)
		}
		ids = append(ids, id)
	}

	var open []*model.Run
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.Open() {
			open = append(open, run)
		}
	}
	return open, nil
}

func (s *SQLStore) FindRuns(ctx context.Context, label string, filter RunFilter) ([]*model.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, opts FROM durable_runs WHERE label = ?`, label)
	if err != nil {
		return nil, fmt.Errorf("durable sql: query runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, opts string
		if err := rows.Scan(&id, &opts); err != nil {
			return nil, fmt.Errorf("durable sql: scan run: %w", err)
		}
		if filter.IssueID != "" {
			var decoded model.Opts
			if err := json.Unmarshal([]byte(opts), &decoded); err == nil && decoded["issueId"] != filter.IssueID {
				continue
			}
		}
		ids = append(ids, id)
	}

	var matches []*model.Run
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if runHasOutcomeSince(run, filter.OutcomeName, filter.Since) {
			matches = append(matches, run)
		}
	}
	return matches, nil
}

func (s *SQLStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var label, opts string
	err := s.db.QueryRowContext(ctx, `SELECT label, opts FROM durable_runs WHERE id = ?`, runID).Scan(&label, &opts)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("durable sql: load run: %w", err)
	}
	run := &model.Run{ID: runID, Label: label}
	if err := json.Unmarshal([]byte(opts), &run.Opts); err != nil {
		return nil, fmt.Errorf("durable sql: decode run opts: %w", err)
	}

	runOutcomes, err := s.loadOutcomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Outcomes = runOutcomes

	groupRows, err := s.db.QueryContext(ctx,
		`SELECT id, label, created_at FROM durable_groups WHERE run_id = ? ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("durable sql: query groups: %w", err)
	}
	defer groupRows.Close()

	for groupRows.Next() {
		var g model.PhaseGroup
		var createdNanos int64
		if err := groupRows.Scan(&g.ID, &g.Label, &createdNanos); err != nil {
			return nil, fmt.Errorf("durable sql: scan group: %w", err)
		}
		g.RunID = runID
		g.Created = time.Unix(0, createdNanos)
		outcomes, err := s.loadOutcomes(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		g.Outcomes = outcomes
		run.Groups = append(run.Groups, &g)
	}
	return run, nil
}

func (s *SQLStore) loadOutcomes(ctx context.Context, containerID string) ([]*model.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, ts, opts FROM durable_outcomes WHERE container_id = ? ORDER BY seq ASC`, containerID)
	if err != nil {
		return nil, fmt.Errorf("durable sql: query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*model.Outcome
	for rows.Next() {
		var o model.Outcome
		var tsNanos int64
		var opts string
		if err := rows.Scan(&o.ID, &o.Name, &tsNanos, &opts); err != nil {
			return nil, fmt.Errorf("durable sql: scan outcome: %w", err)
		}
		o.Timestamp = time.Unix(0, tsNanos)
		if err := json.Unmarshal([]byte(opts), &o.Opts); err != nil {
			return nil, fmt.Errorf("durable sql: decode outcome opts: %w", err)
		}
		acts, err := s.loadActs(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		o.Acts = acts
		outcomes = append(outcomes, &o)
	}
	return outcomes, nil
}

func (s *SQLStore) loadActs(ctx context.Context, outcomeID string) ([]*model.Act, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, opts FROM durable_acts WHERE outcome_id = ? AND reserved = 0`, outcomeID)
	if err != nil {
		return nil, fmt.Errorf("durable sql: query acts: %w", err)
	}
	defer rows.Close()

	var acts []*model.Act
	for rows.Next() {
		var a model.Act
		var opts string
		if err := rows.Scan(&a.ID, &a.Name, &opts); err != nil {
			return nil, fmt.Errorf("durable sql: scan act: %w", err)
		}
		if err := json.Unmarshal([]byte(opts), &a.Opts); err != nil {
			return nil, fmt.Errorf("durable sql: decode act opts: %w", err)
		}
		followupRows, err := s.db.QueryContext(ctx,
			`SELECT run_id FROM durable_followups WHERE act_id = ? ORDER BY seq ASC`, a.ID)
		if err != nil {
			return nil, fmt.Errorf("durable sql: query followups: %w", err)
		}
		for followupRows.Next() {
			var runID string
			if err := followupRows.Scan(&runID); err != nil {
				followupRows.Close()
				return nil, fmt.Errorf("durable sql: scan followup: %w", err)
			}
			a.Followups = append(a.Followups, runID)
		}
		followupRows.Close()
		acts = append(acts, &a)
	}
	return acts, nil
}

// Close releases the underlying database connection.
func (s *SQLStore) Close() error { return s.db.Close() }
