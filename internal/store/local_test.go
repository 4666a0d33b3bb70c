package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aisatoshi/internal/types"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(DefaultDriver, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewLocalStore_CreatesSchema(t *testing.T) {
	s := newTestStore(t)
	for _, table := range []string{"tasks", "task_executions", "conversation_turns", "conversation_counters", "entities", "schema_versions"} {
		assert.True(t, tableExists(s.DB(), table), table)
	}
	assert.Equal(t, CurrentSchemaVersion, GetSchemaVersion(s.DB()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestNewLocalStore_InMemory(t *testing.T) {
	s, err := NewLocalStore("", ":memory:")
	require.NoError(t, err)
	defer s.Close()

	task := &types.Task{Name: "x"}
	require.NoError(t, s.PutTask(context.Background(), task))
	got, err := s.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestNewLocalStore_UnknownDriver(t *testing.T) {
	_, err := NewLocalStore("postgres", filepath.Join(t.TempDir(), "x.db"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStorage))
}

func TestMigrations_UpgradeOldDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	old, err := sql.Open(DefaultDriver, path)
	require.NoError(t, err)
	_, err = old.Exec(`CREATE TABLE tasks (
		id TEXT PRIMARY KEY, kind TEXT NOT NULL DEFAULT 'generic', name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending', params TEXT NOT NULL DEFAULT '{}',
		interval_ns INTEGER NOT NULL DEFAULT 0, next_run_at INTEGER NOT NULL DEFAULT 0,
		last_result TEXT NOT NULL DEFAULT '', created_at INTEGER NOT NULL, updated_at INTEGER NOT NULL)`)
	require.NoError(t, err)
	_, err = old.Exec(`INSERT INTO tasks (id, name, created_at, updated_at) VALUES ('legacy', 'old task', 1, 1)`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	s, err := NewLocalStore(DefaultDriver, path)
	require.NoError(t, err)
	defer s.Close()

	for _, col := range []string{"priority", "description", "last_error", "completed_at", "execution_count"} {
		assert.True(t, columnExists(s.DB(), "tasks", col), col)
	}

	got, err := s.GetTask(context.Background(), "legacy")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.PriorityNormal, got.Priority)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	backups := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "old.db.backup_") {
			backups++
		}
	}
	assert.Equal(t, 1, backups)
}

func TestMigrations_RekeysConversationTurns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turns.db")

	old, err := sql.Open(DefaultDriver, path)
	require.NoError(t, err)
	_, err = old.Exec(`CREATE TABLE conversation_turns (
		conversation_id TEXT NOT NULL, sequence INTEGER NOT NULL, role TEXT NOT NULL,
		text TEXT NOT NULL, created_at INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, sequence, role))`)
	require.NoError(t, err)
	_, err = old.Exec(`INSERT INTO conversation_turns VALUES
		('c', 7, 'user', 'q1', 1), ('c', 7, 'assistant', 'a1', 2),
		('c', 9, 'user', 'q2', 3), ('d', 1, 'user', 'x', 4)`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	s, err := NewLocalStore(DefaultDriver, path)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	turns, err := s.RecentTurns(ctx, "c", 0, 10)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{turns[0].Sequence, turns[1].Sequence, turns[2].Sequence})
	assert.Equal(t, "q1", turns[0].Text)
	assert.Equal(t, int64(7), turns[0].Delivery)
	assert.Equal(t, types.RoleAssistant, turns[1].Role)
	assert.Zero(t, turns[1].Delivery)
	assert.Equal(t, int64(9), turns[2].Delivery)

	// the counter continues after the migrated turns, and old deliveries
	// are still recognised
	next, inserted, err := s.AppendTurn(ctx, types.ConversationTurn{ConversationID: "c", Role: types.RoleAssistant, Text: "a2"})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(4), next.Sequence)

	_, inserted, err = s.AppendTurn(ctx, types.ConversationTurn{ConversationID: "c", Delivery: 9, Role: types.RoleUser, Text: "q2"})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.False(t, tableExists(s.DB(), "conversation_turns_v3"))
}

func TestTimestampHelpers(t *testing.T) {
	assert.Equal(t, int64(0), toNanos(time.Time{}))
	assert.True(t, fromNanos(0).IsZero())
	now := time.Now()
	assert.True(t, now.Equal(fromNanos(toNanos(now))))
	assert.Equal(t, "?,?,?", placeholders(3))
	assert.Equal(t, "", placeholders(0))
}

func TestConcurrentWriters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.PutTask(ctx, &types.Task{Name: "t"}))
			_, _, err := s.AppendTurn(ctx, types.ConversationTurn{
				ConversationID: "c", Delivery: int64(i + 1), Role: types.RoleUser, Text: "hi", Timestamp: time.Now(),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 20)
	stats, err := s.ConversationStats(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 20, stats.UserTurns)

	turns, err := s.RecentTurns(ctx, "c", 0, 50)
	require.NoError(t, err)
	require.Len(t, turns, 20)
	for i, turn := range turns {
		assert.Equal(t, int64(i+1), turn.Sequence)
	}
}
