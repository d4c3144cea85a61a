package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/leapstack-labs/leapsim/pkg/output"
)

// Run is a persisted simulation run.
type Run struct {
	ID          string
	Scenario    string
	Status      output.RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
	// Order and Dependencies are only loaded by GetRun.
	Order        []string
	Dependencies map[string][]string
}

// StartRun implements output.Backend. It records the run together with
// the execution order and dependencies of its model.
func (s *Store) StartRun(ctx context.Context, info output.RunInfo) error {
	if s.db == nil {
		return ErrNotOpen
	}

	started := info.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	started = started.UTC()

	s.logger.Debug("creating run", slog.String("id", info.ID), slog.String("scenario", info.Scenario))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.exec(ctx, tx,
		`INSERT INTO runs (id, scenario, status, started_at) VALUES (?, ?, ?, ?)`,
		info.ID, info.Scenario, string(output.RunStatusRunning), started,
	); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	for i, name := range info.Order {
		if _, err := s.exec(ctx, tx,
			`INSERT INTO run_processes (run_id, name, position) VALUES (?, ?, ?)`,
			info.ID, name, i,
		); err != nil {
			return fmt.Errorf("failed to record process %s: %w", name, err)
		}
	}

	procs := make([]string, 0, len(info.Dependencies))
	for name := range info.Dependencies {
		procs = append(procs, name)
	}
	sort.Strings(procs)
	for _, name := range procs {
		for _, dep := range info.Dependencies[name] {
			if _, err := s.exec(ctx, tx,
				`INSERT INTO run_dependencies (run_id, process, depends_on) VALUES (?, ?, ?)`,
				info.ID, name, dep,
			); err != nil {
				return fmt.Errorf("failed to record dependency %s -> %s: %w", dep, name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// CompleteRun implements output.Backend.
func (s *Store) CompleteRun(ctx context.Context, runID string, status output.RunStatus, runErr error) error {
	if s.db == nil {
		return ErrNotOpen
	}

	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}

	result, err := s.exec(ctx, s.db,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), time.Now().UTC(), errMsg, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%q: %w", runID, output.ErrUnknownRun)
	}
	return nil
}

// GetRun retrieves a run with its process order and dependencies.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, scenario, status, started_at, completed_at, error FROM runs WHERE id = ?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", id, output.ErrUnknownRun)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT name FROM run_processes WHERE run_id = ? ORDER BY position`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run processes: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan run process: %w", err)
		}
		run.Order = append(run.Order, name)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run processes: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, s.rebind(
		`SELECT process, depends_on FROM run_dependencies WHERE run_id = ? ORDER BY process, depends_on`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	run.Dependencies = make(map[string][]string)
	for rows.Next() {
		var proc, dep string
		if err := rows.Scan(&proc, &dep); err != nil {
			return nil, fmt.Errorf("failed to scan run dependency: %w", err)
		}
		run.Dependencies[proc] = append(run.Dependencies[proc], dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run dependencies: %w", err)
	}
	return run, nil
}

// ListRuns retrieves the most recent runs up to the given limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, scenario, status, started_at, completed_at, error FROM runs ORDER BY started_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var status string
	var completedAt sql.NullTime
	var errMsg sql.NullString
	if err := row.Scan(&run.ID, &run.Scenario, &status, &run.StartedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}
	run.Status = output.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return run, nil
}
