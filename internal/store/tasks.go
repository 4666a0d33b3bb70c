package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"aisatoshi/internal/logging"
	"aisatoshi/internal/types"
)

const taskColumns = `id, kind, name, description, status, priority, params, interval_ns,
	next_run_at, execution_count, last_result, last_error, created_at, updated_at, completed_at`

// ErrTaskGone is returned by FinishTask when the task was deleted while it ran.
var ErrTaskGone = errors.New("task no longer exists")

// NewTaskID returns a fresh, never reused task id.
func NewTaskID() string {
	return uuid.NewString()
}

// PutTask upserts a task by id. An empty id is assigned, zero CreatedAt is set
// to now and UpdatedAt is always refreshed.
func (s *LocalStore) PutTask(ctx context.Context, t *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if t.ID == "" {
		t.ID = NewTaskID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.Kind == "" {
		t.Kind = types.KindGeneric
	}
	if t.Status == "" {
		t.Status = types.TaskPending
	}
	if t.Priority == 0 {
		t.Priority = types.PriorityNormal
	}
	t.UpdatedAt = now

	params := t.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return types.StorageFailure("encode task params", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			params = excluded.params,
			interval_ns = excluded.interval_ns,
			next_run_at = excluded.next_run_at,
			execution_count = excluded.execution_count,
			last_result = excluded.last_result,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`,
		t.ID, string(t.Kind), t.Name, t.Description, string(t.Status), int(t.Priority),
		string(paramsJSON), int64(t.Interval), toNanos(t.NextRunAt), t.ExecutionCount,
		t.LastResult, t.LastError, toNanos(t.CreatedAt), toNanos(t.UpdatedAt), toNanos(t.CompletedAt),
	)
	if err != nil {
		return types.StorageFailure("put task", err)
	}
	logging.StoreDebug("task saved: id=%s name=%q status=%s", t.ShortID(), t.Name, t.Status)
	return nil
}

// GetTask returns the task with id, or nil if there is none.
func (s *LocalStore) GetTask(ctx context.Context, id string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.StorageFailure("get task", err)
	}
	return t, nil
}

// ListTasks returns tasks ordered by priority desc, created_at asc. With no
// statuses every task is returned.
func (s *LocalStore) ListTasks(ctx context.Context, statuses ...types.TaskStatus) ([]types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + taskColumns + " FROM tasks"
	var args []interface{}
	if len(statuses) > 0 {
		query += fmt.Sprintf(" WHERE status IN (%s)", placeholders(len(statuses)))
		args = statusArgs(statuses)
	}
	query += " ORDER BY priority DESC, created_at ASC, id ASC"

	return s.queryTasks(ctx, "list tasks", query, args...)
}

// DueTasks returns every Pending task with next_run_at <= now, ordered by
// priority desc, next_run_at asc.
func (s *LocalStore) DueTasks(ctx context.Context, now time.Time) ([]types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTasks(ctx, "due tasks",
		"SELECT "+taskColumns+" FROM tasks WHERE status = ? AND next_run_at <= ? ORDER BY priority DESC, next_run_at ASC, id ASC",
		string(types.TaskPending), now.UnixNano())
}

// ActiveTaskIDs returns the ids of every Pending or Running task.
func (s *LocalStore) ActiveTaskIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM tasks WHERE status IN (?, ?)",
		string(types.TaskPending), string(types.TaskRunning))
	if err != nil {
		return nil, types.StorageFailure("active tasks", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.StorageFailure("active tasks", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.StorageFailure("active tasks", err)
	}
	return ids, nil
}

// DeleteTask removes a task and its execution history. Reports whether the
// task existed.
func (s *LocalStore) DeleteTask(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, types.StorageFailure("delete task", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM task_executions WHERE task_id = ?", id); err != nil {
		return false, types.StorageFailure("delete task executions", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return false, types.StorageFailure("delete task", err)
	}
	if err := tx.Commit(); err != nil {
		return false, types.StorageFailure("delete task", err)
	}
	deleted := rowsAffected(res) == 1
	if deleted {
		logging.Store("task deleted: %s", id)
	}
	return deleted, nil
}

// ClaimTask flips a task from Pending to Running. It reports false when the
// task was not Pending, which means another tick or a stop request got there
// first.
func (s *LocalStore) ClaimTask(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(types.TaskRunning), now.UnixNano(), id, string(types.TaskPending))
	if err != nil {
		return false, types.StorageFailure("claim task", err)
	}
	return rowsAffected(res) == 1, nil
}

// SetTaskStatus moves a task to status to. When from is non-empty the update
// only applies if the current status is one of them. Reports whether a row changed.
func (s *LocalStore) SetTaskStatus(ctx context.Context, id string, to types.TaskStatus, from ...types.TaskStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?"
	args := []interface{}{string(to), time.Now().UnixNano(), id}
	if len(from) > 0 {
		query += fmt.Sprintf(" AND status IN (%s)", placeholders(len(from)))
		args = append(args, statusArgs(from)...)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, types.StorageFailure("set task status", err)
	}
	return rowsAffected(res) == 1, nil
}

// TaskFinish describes the outcome of one run.
type TaskFinish struct {
	Status      types.TaskStatus // Pending (rescheduled), Completed or Failed
	NextRunAt   time.Time        // only used when Status is Pending
	Result      string
	Error       string
	CompletedAt time.Time
}

// FinishTask records the end of a run. The status change only applies while
// the task is still Running; a task stopped mid-run keeps its Stopped status
// and only the bookkeeping is updated. Returns the status the task ends in,
// or ErrTaskGone when the task was deleted during the run.
func (s *LocalStore) FinishTask(ctx context.Context, id string, f TaskFinish) (types.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", types.StorageFailure("finish task", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM tasks WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTaskGone
	}
	if err != nil {
		return "", types.StorageFailure("finish task", err)
	}

	final := types.TaskStatus(current)
	if final == types.TaskRunning {
		final = f.Status
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, next_run_at = ?, execution_count = execution_count + 1,
				last_result = ?, last_error = ?, completed_at = ?, updated_at = ?
			WHERE id = ?`,
			string(final), toNanos(f.NextRunAt), f.Result, f.Error,
			toNanos(f.CompletedAt), toNanos(f.CompletedAt), id)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET execution_count = execution_count + 1,
				last_result = ?, last_error = ?, completed_at = ?, updated_at = ?
			WHERE id = ?`,
			f.Result, f.Error, toNanos(f.CompletedAt), toNanos(f.CompletedAt), id)
	}
	if err != nil {
		return "", types.StorageFailure("finish task", err)
	}
	if err := tx.Commit(); err != nil {
		return "", types.StorageFailure("finish task", err)
	}
	return final, nil
}

// TaskStats counts tasks per status. Every known status is present.
func (s *LocalStore) TaskStats(ctx context.Context) (map[types.TaskStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[types.TaskStatus]int, len(types.AllTaskStatuses))
	for _, st := range types.AllTaskStatuses {
		stats[st] = 0
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, types.StorageFailure("task stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, types.StorageFailure("task stats", err)
		}
		stats[types.TaskStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, types.StorageFailure("task stats", err)
	}
	return stats, nil
}

// RecoverInterrupted returns tasks left Running by a previous process to
// Pending and closes their open executions as failures.
func (s *LocalStore) RecoverInterrupted(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, types.StorageFailure("recover tasks", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE task_executions SET completed_at = ?, outcome = ?, output = ?
		WHERE completed_at = 0`,
		now.UnixNano(), string(types.OutcomeFailure), "interrupted by restart"); err != nil {
		return 0, types.StorageFailure("recover executions", err)
	}
	res, err := tx.ExecContext(ctx,
		"UPDATE tasks SET status = ?, updated_at = ? WHERE status = ?",
		string(types.TaskPending), now.UnixNano(), string(types.TaskRunning))
	if err != nil {
		return 0, types.StorageFailure("recover tasks", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, types.StorageFailure("recover tasks", err)
	}

	n := int(rowsAffected(res))
	if n > 0 {
		logging.StoreWarn("recovered %d interrupted task(s)", n)
	}
	return n, nil
}

func (s *LocalStore) queryTasks(ctx context.Context, op, query string, args ...interface{}) ([]types.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.StorageFailure(op, err)
	}
	defer rows.Close()

	var tasks []types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, types.StorageFailure(op, err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.StorageFailure(op, err)
	}
	return tasks, nil
}

func scanTask(row rowScanner) (*types.Task, error) {
	var (
		t                                   types.Task
		kind, status, paramsJSON            string
		priority                            int
		interval, nextRun, created, updated int64
		completed                           int64
	)
	err := row.Scan(&t.ID, &kind, &t.Name, &t.Description, &status, &priority, &paramsJSON,
		&interval, &nextRun, &t.ExecutionCount, &t.LastResult, &t.LastError,
		&created, &updated, &completed)
	if err != nil {
		return nil, err
	}

	t.Kind = types.TaskKind(kind)
	t.Status = types.TaskStatus(status)
	t.Priority = types.TaskPriority(priority)
	t.Interval = time.Duration(interval)
	t.NextRunAt = fromNanos(nextRun)
	t.CreatedAt = fromNanos(created)
	t.UpdatedAt = fromNanos(updated)
	t.CompletedAt = fromNanos(completed)

	t.Params = map[string]interface{}{}
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &t.Params); err != nil {
			return nil, fmt.Errorf("decode params for %s: %w", t.ID, err)
		}
	}
	return &t, nil
}
