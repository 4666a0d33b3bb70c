package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"aisatoshi/internal/store"
	"aisatoshi/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T) *store.LocalStore {
	t.Helper()
	s, err := store.NewLocalStore(store.DefaultDriver, filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addDue(t *testing.T, s *store.LocalStore, name string, kind types.TaskKind, interval time.Duration) *types.Task {
	t.Helper()
	task := &types.Task{
		Name:      name,
		Kind:      kind,
		Interval:  interval,
		NextRunAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, s.PutTask(context.Background(), task))
	return task
}

func getTask(t *testing.T, s *store.LocalStore, id string) *types.Task {
	t.Helper()
	task, err := s.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, task)
	return task
}

func staticExecutor(out string, err error) Executor {
	return func(ctx context.Context, task types.Task) (Result, error) {
		return Result{Output: out}, err
	}
}

// gate blocks executor calls until released and tracks concurrency.
type gate struct {
	release chan struct{}
	entered chan string
	active  atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
}

func newGate() *gate {
	return &gate{release: make(chan struct{}), entered: make(chan string, 64)}
}

func (g *gate) executor(ctx context.Context, task types.Task) (Result, error) {
	g.calls.Add(1)
	n := g.active.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	g.entered <- task.ID
	<-g.release
	g.active.Add(-1)
	return Result{Output: "released"}, nil
}

func TestTick_OneShotCompletes(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, DefaultConfig(), nil)
	sched.Register(types.KindGeneric, staticExecutor("done", nil))
	task := addDue(t, s, "one shot", types.KindGeneric, 0)

	started, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	require.NoError(t, sched.Wait(time.Second))

	got := getTask(t, s, task.ID)
	assert.Equal(t, types.TaskCompleted, got.Status)
	assert.Equal(t, "done", got.LastResult)
	assert.Equal(t, 1, got.ExecutionCount)

	execs, err := s.Executions(context.Background(), task.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, types.OutcomeSuccess, execs[0].Outcome)
	assert.False(t, execs[0].CompletedAt.IsZero())
}

func TestTick_PeriodicReschedules(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, DefaultConfig(), nil)
	sched.Register(types.KindMonitor, staticExecutor("ok", nil))
	interval := 90 * time.Second
	task := addDue(t, s, "periodic", types.KindMonitor, interval)

	_, err := sched.Tick(context.Background())
	require.NoError(t, err)
	require.NoError(t, sched.Wait(time.Second))

	got := getTask(t, s, task.ID)
	assert.Equal(t, types.TaskPending, got.Status)
	assert.True(t, got.NextRunAt.Equal(got.CompletedAt.Add(interval)),
		"next_run_at %v != completed_at %v + %v", got.NextRunAt, got.CompletedAt, interval)

	// Not due again yet.
	started, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, started)
}

func TestTick_FailureIsNotRetried(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, DefaultConfig(), nil)
	sched.Register(types.KindBrowse, staticExecutor("", errors.New("fetch failed")))
	task := addDue(t, s, "flaky", types.KindBrowse, time.Second)

	_, err := sched.Tick(context.Background())
	require.NoError(t, err)
	require.NoError(t, sched.Wait(time.Second))

	got := getTask(t, s, task.ID)
	assert.Equal(t, types.TaskFailed, got.Status)
	assert.Equal(t, "fetch failed", got.LastError)

	started, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, started)

	execs, err := s.Executions(context.Background(), task.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, types.OutcomeFailure, execs[0].Outcome)
	assert.Equal(t, "fetch failed", execs[0].Output)
}

func TestTick_PanicBecomesFailure(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, DefaultConfig(), nil)
	sched.Register(types.KindGeneric, func(ctx context.Context, task types.Task) (Result, error) {
		panic("boom")
	})
	task := addDue(t, s, "panics", types.KindGeneric, 0)

	_, err := sched.Tick(context.Background())
	require.NoError(t, err)
	require.NoError(t, sched.Wait(time.Second))

	got := getTask(t, s, task.ID)
	assert.Equal(t, types.TaskFailed, got.Status)
	assert.Contains(t, got.LastError, "boom")
}

func TestTick_MissingExecutorLeavesPending(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, DefaultConfig(), nil)
	task := addDue(t, s, "orphan", types.KindPost, 0)

	started, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, started)
	assert.Equal(t, types.TaskPending, getTask(t, s, task.ID).Status)

	sched.Register(types.KindPost, staticExecutor("posted", nil))
	started, err = sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	require.NoError(t, sched.Wait(time.Second))
	assert.Equal(t, types.TaskCompleted, getTask(t, s, task.ID).Status)
}

func TestTick_ConcurrentTicksAreSingleFlight(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, DefaultConfig(), nil)
	g := newGate()
	sched.Register(types.KindGeneric, g.executor)
	task := addDue(t, s, "contended", types.KindGeneric, time.Hour)

	var wg sync.WaitGroup
	var total atomic.Int32
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := sched.Tick(context.Background())
			assert.NoError(t, err)
			total.Add(int32(n))
		}()
	}
	wg.Wait()

	<-g.entered
	close(g.release)
	require.NoError(t, sched.Wait(time.Second))

	assert.Equal(t, int32(1), total.Load())
	assert.Equal(t, int32(1), g.calls.Load())
	n, err := s.CountExecutions(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTick_StopDuringRunEndsStopped(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, DefaultConfig(), nil)
	g := newGate()
	sched.Register(types.KindMonitor, g.executor)
	task := addDue(t, s, "ETH price monitor", types.KindMonitor, time.Minute)

	_, err := sched.Tick(context.Background())
	require.NoError(t, err)
	<-g.entered
	assert.Equal(t, types.TaskRunning, getTask(t, s, task.ID).Status)

	ok, err := s.SetTaskStatus(context.Background(), task.ID, types.TaskStopped, types.TaskPending, types.TaskRunning)
	require.NoError(t, err)
	require.True(t, ok)

	close(g.release)
	require.NoError(t, sched.Wait(time.Second))

	got := getTask(t, s, task.ID)
	assert.Equal(t, types.TaskStopped, got.Status)
	assert.Equal(t, 1, got.ExecutionCount)
}

func TestTick_BoundsInFlight(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, Config{TickInterval: time.Hour, MaxInFlight: 2, StopTimeout: time.Second}, nil)
	g := newGate()
	sched.Register(types.KindGeneric, g.executor)
	for i := 0; i < 5; i++ {
		addDue(t, s, "bulk", types.KindGeneric, 0)
	}

	started, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, started)
	<-g.entered
	<-g.entered
	assert.Equal(t, 2, sched.InFlight())

	// Full pool: nothing else starts.
	started, err = sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, started)

	close(g.release)
	require.NoError(t, sched.Wait(time.Second))

	for sched.Runs() < 5 {
		_, err := sched.Tick(context.Background())
		require.NoError(t, err)
		require.NoError(t, sched.Wait(time.Second))
	}
	assert.LessOrEqual(t, g.peak.Load(), int32(2))

	stats, err := s.TaskStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats[types.TaskCompleted])
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (n *recordingNotifier) Notify(ctx context.Context, conv, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = map[string][]string{}
	}
	n.sent[conv] = append(n.sent[conv], text)
	return nil
}

func TestTick_DeleteDuringRunIsNotAFailure(t *testing.T) {
	s := newTestStore(t)
	notifier := &recordingNotifier{}
	sched := New(s, DefaultConfig(), notifier)
	g := newGate()
	sched.Register(types.KindGeneric, func(ctx context.Context, task types.Task) (Result, error) {
		res, err := g.executor(ctx, task)
		res.Notify = "should not be sent"
		return res, err
	})
	task := &types.Task{
		Name:      "doomed",
		Kind:      types.KindGeneric,
		Interval:  time.Hour,
		Params:    map[string]interface{}{ConversationParam: "chat-1"},
		NextRunAt: time.Now().Add(-time.Second),
	}
	require.NoError(t, s.PutTask(context.Background(), task))

	_, err := sched.Tick(context.Background())
	require.NoError(t, err)
	<-g.entered

	deleted, err := s.DeleteTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	close(g.release)
	require.NoError(t, sched.Wait(time.Second))

	got, err := s.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Empty(t, notifier.sent)
}

func TestTick_SweepsInactiveTasks(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, DefaultConfig(), nil)
	var seen []map[string]struct{}
	sched.AddSweeper(func(active map[string]struct{}) { seen = append(seen, active) })

	orphan := addDue(t, s, "orphan", types.KindPost, 0)
	_, err := sched.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Contains(t, seen[0], orphan.ID)
	sched.mu.RLock()
	assert.Contains(t, sched.warned, orphan.ID)
	sched.mu.RUnlock()

	_, err = s.DeleteTask(context.Background(), orphan.ID)
	require.NoError(t, err)
	_, err = sched.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.NotContains(t, seen[1], orphan.ID)
	sched.mu.RLock()
	assert.Empty(t, sched.warned)
	sched.mu.RUnlock()
}

func TestRun_NotifiesOwningConversation(t *testing.T) {
	s := newTestStore(t)
	notifier := &recordingNotifier{}
	sched := New(s, DefaultConfig(), notifier)
	sched.Register(types.KindMonitor, func(ctx context.Context, task types.Task) (Result, error) {
		return Result{Output: "eth 3100", Notify: "ETH 突破 3000"}, nil
	})
	task := &types.Task{
		Name:      "alert",
		Kind:      types.KindMonitor,
		Params:    map[string]interface{}{ConversationParam: "chat-9"},
		NextRunAt: time.Now().Add(-time.Second),
	}
	require.NoError(t, s.PutTask(context.Background(), task))

	_, err := sched.Tick(context.Background())
	require.NoError(t, err)
	require.NoError(t, sched.Wait(time.Second))

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, []string{"ETH 突破 3000"}, notifier.sent["chat-9"])
}

func TestStartStop_RecoversAndRuns(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, Config{TickInterval: 10 * time.Millisecond, MaxInFlight: 2, StopTimeout: time.Second}, nil)
	sched.Register(types.KindGeneric, staticExecutor("ran", nil))

	task := addDue(t, s, "interrupted", types.KindGeneric, 0)
	ok, err := s.ClaimTask(context.Background(), task.ID, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, sched.Start(context.Background()))
	assert.Error(t, sched.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return getTask(t, s, task.ID).Status == types.TaskCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sched.Stop())

	execs, err := s.Executions(context.Background(), task.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, types.OutcomeSuccess, execs[0].Outcome)
}

func TestWait_CancelsStragglers(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, DefaultConfig(), nil)
	entered := make(chan struct{})
	sched.Register(types.KindGeneric, func(ctx context.Context, task types.Task) (Result, error) {
		close(entered)
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	task := addDue(t, s, "slow", types.KindGeneric, 0)

	_, err := sched.Tick(context.Background())
	require.NoError(t, err)
	<-entered

	assert.Error(t, sched.Wait(20*time.Millisecond))
	got := getTask(t, s, task.ID)
	assert.Equal(t, types.TaskFailed, got.Status)
	assert.Contains(t, got.LastError, "canceled")
}
