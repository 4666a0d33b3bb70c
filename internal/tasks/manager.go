// Package tasks implements task lifecycle operations shared by every front-end:
// the chat dispatcher, the MCP server, the admin API and the CLI.
package tasks

import (
	"context"
	"strings"
	"time"

	"aisatoshi/internal/logging"
	"aisatoshi/internal/types"
)

// DefaultInterval is the rerun interval used when a request does not name one.
const DefaultInterval = time.Hour

// minIDPrefix is the shortest id prefix accepted as a task reference.
const minIDPrefix = 4

// Store is the persistence contract the manager needs.
type Store interface {
	PutTask(ctx context.Context, t *types.Task) error
	GetTask(ctx context.Context, id string) (*types.Task, error)
	ListTasks(ctx context.Context, statuses ...types.TaskStatus) ([]types.Task, error)
	DeleteTask(ctx context.Context, id string) (bool, error)
	SetTaskStatus(ctx context.Context, id string, to types.TaskStatus, from ...types.TaskStatus) (bool, error)
	TaskStats(ctx context.Context) (map[types.TaskStatus]int, error)
	Executions(ctx context.Context, taskID string, limit int) ([]types.TaskExecution, error)
}

// CreateRequest describes a new task.
type CreateRequest struct {
	Name        string
	Kind        types.TaskKind
	Description string
	Priority    types.TaskPriority
	Params      map[string]interface{}
	// Interval between runs; zero means one-shot.
	Interval time.Duration
	// StartAt is the first run time; zero means now.
	StartAt time.Time
}

// Selector picks tasks by id, id prefix, name substring, or all of them.
type Selector struct {
	ID   string
	Name string
	All  bool
}

// IsEmpty reports whether the selector names nothing.
func (s Selector) IsEmpty() bool {
	return !s.All && strings.TrimSpace(s.ID) == "" && strings.TrimSpace(s.Name) == ""
}

func (s Selector) String() string {
	switch {
	case s.All:
		return "all"
	case s.ID != "":
		return "id=" + s.ID
	default:
		return "name~" + s.Name
	}
}

// Manager owns task creation, lookup, stop and delete.
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager creates a manager over store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Create validates req and stores a new Pending task.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*types.Task, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, types.ValidationError("任务名称不能为空")
	}
	if req.Interval < 0 {
		return nil, types.ValidationError("任务间隔不能为负数")
	}
	if req.Interval > 0 && req.Interval < time.Second {
		return nil, types.ValidationError("任务间隔至少 1 秒")
	}

	now := m.now()
	next := req.StartAt
	if next.IsZero() {
		next = now
	}
	params := req.Params
	if params == nil {
		params = map[string]interface{}{}
	}

	t := &types.Task{
		Kind:        NormalizeKind(string(req.Kind)),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Status:      types.TaskPending,
		Priority:    req.Priority,
		Params:      params,
		Interval:    req.Interval,
		NextRunAt:   next,
		CreatedAt:   now,
	}
	if err := m.store.PutTask(ctx, t); err != nil {
		return nil, err
	}
	logging.Scheduler("Task created: %s (%s, kind=%s, interval=%v)", t.Name, t.ShortID(), t.Kind, t.Interval)
	return t, nil
}

// Get resolves an id or an unambiguous id prefix.
func (m *Manager) Get(ctx context.Context, ref string) (*types.Task, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, types.ValidationError("请指定任务 ID")
	}
	t, err := m.store.GetTask(ctx, ref)
	if err != nil || t != nil {
		return t, err
	}
	if len(ref) < minIDPrefix {
		return nil, nil
	}
	all, err := m.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	var found *types.Task
	for i := range all {
		if strings.HasPrefix(all[i].ID, ref) {
			if found != nil {
				return nil, types.ValidationError("任务 ID 前缀 %s 不唯一", ref)
			}
			found = &all[i]
		}
	}
	return found, nil
}

// List returns tasks, optionally filtered by status.
func (m *Manager) List(ctx context.Context, statuses ...types.TaskStatus) ([]types.Task, error) {
	return m.store.ListTasks(ctx, statuses...)
}

// Match returns the tasks a selector refers to, restricted to statuses when given.
// Names match case-insensitively by substring and never by id; ids match
// exactly or by prefix.
func (m *Manager) Match(ctx context.Context, sel Selector, statuses ...types.TaskStatus) ([]types.Task, error) {
	if sel.IsEmpty() {
		return nil, types.ValidationError("请指定任务名称、ID 或 all")
	}
	all, err := m.store.ListTasks(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	if sel.All {
		return all, nil
	}

	id := strings.TrimSpace(sel.ID)
	needle := strings.ToLower(strings.TrimSpace(sel.Name))
	var out []types.Task
	for _, t := range all {
		switch {
		case id != "" && (t.ID == id || (len(id) >= minIDPrefix && strings.HasPrefix(t.ID, id))):
			out = append(out, t)
		case needle != "" && strings.Contains(strings.ToLower(t.Name), needle):
			out = append(out, t)
		}
	}
	return out, nil
}

// Stop moves every matching active task to Stopped and returns them.
// A task that is mid-run keeps running; its result will not revive it.
func (m *Manager) Stop(ctx context.Context, sel Selector) ([]types.Task, error) {
	matched, err := m.Match(ctx, sel, types.TaskPending, types.TaskRunning)
	if err != nil {
		return nil, err
	}
	var stopped []types.Task
	for _, t := range matched {
		ok, err := m.store.SetTaskStatus(ctx, t.ID, types.TaskStopped, types.TaskPending, types.TaskRunning)
		if err != nil {
			return stopped, err
		}
		if ok {
			t.Status = types.TaskStopped
			stopped = append(stopped, t)
			logging.Scheduler("Task stopped: %s (%s)", t.Name, t.ShortID())
		}
	}
	return stopped, nil
}

// Delete removes every matching task with its execution history.
func (m *Manager) Delete(ctx context.Context, sel Selector) ([]types.Task, error) {
	matched, err := m.Match(ctx, sel)
	if err != nil {
		return nil, err
	}
	var deleted []types.Task
	for _, t := range matched {
		ok, err := m.store.DeleteTask(ctx, t.ID)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted = append(deleted, t)
			logging.Scheduler("Task deleted: %s (%s)", t.Name, t.ShortID())
		}
	}
	return deleted, nil
}

// Stats counts tasks per status.
func (m *Manager) Stats(ctx context.Context) (map[types.TaskStatus]int, error) {
	return m.store.TaskStats(ctx)
}

// Executions returns the most recent runs of the referenced task.
func (m *Manager) Executions(ctx context.Context, ref string, limit int) (*types.Task, []types.TaskExecution, error) {
	t, err := m.Get(ctx, ref)
	if err != nil || t == nil {
		return t, nil, err
	}
	execs, err := m.store.Executions(ctx, t.ID, limit)
	return t, execs, err
}
