package store

import (
	"context"
	"time"

	"aisatoshi/internal/types"
)

// StartExecution opens a history record for a run and returns its id.
func (s *LocalStore) StartExecution(ctx context.Context, taskID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO task_executions (task_id, started_at, outcome) VALUES (?, ?, ?)",
		taskID, at.UnixNano(), string(types.OutcomeRunning))
	if err != nil {
		return 0, types.StorageFailure("start execution", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, types.StorageFailure("start execution", err)
	}
	return id, nil
}

// CompleteExecution closes an open history record. A record that is already
// closed is left untouched.
func (s *LocalStore) CompleteExecution(ctx context.Context, id int64, at time.Time, outcome types.ExecutionOutcome, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE task_executions SET completed_at = ?, outcome = ?, output = ? WHERE id = ? AND completed_at = 0",
		at.UnixNano(), string(outcome), output, id)
	if err != nil {
		return types.StorageFailure("complete execution", err)
	}
	return nil
}

// Executions returns the most recent runs of a task, newest first.
func (s *LocalStore) Executions(ctx context.Context, taskID string, limit int) ([]types.TaskExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, started_at, completed_at, outcome, output
		FROM task_executions WHERE task_id = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, types.StorageFailure("list executions", err)
	}
	defer rows.Close()

	var out []types.TaskExecution
	for rows.Next() {
		var e types.TaskExecution
		var started, completed int64
		var outcome string
		if err := rows.Scan(&e.ID, &e.TaskID, &started, &completed, &outcome, &e.Output); err != nil {
			return nil, types.StorageFailure("list executions", err)
		}
		e.StartedAt = fromNanos(started)
		e.CompletedAt = fromNanos(completed)
		e.Outcome = types.ExecutionOutcome(outcome)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.StorageFailure("list executions", err)
	}
	return out, nil
}

// CountExecutions returns the number of history records for a task.
func (s *LocalStore) CountExecutions(ctx context.Context, taskID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM task_executions WHERE task_id = ?", taskID).Scan(&n); err != nil {
		return 0, types.StorageFailure("count executions", err)
	}
	return n, nil
}
