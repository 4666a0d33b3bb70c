// Package scheduler runs due tasks on a fixed tick.
//
// Each tick selects Pending tasks whose next_run_at has passed, claims them
// with a conditional Pending->Running update (single-flight per task id) and
// runs the executor registered for the task's kind on its own goroutine.
// Concurrent runs are bounded by a weighted semaphore. Stop requests are
// cooperative: an in-flight executor call is never interrupted, but the task
// ends Stopped whatever the call returns.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"aisatoshi/internal/logging"
	"aisatoshi/internal/store"
	"aisatoshi/internal/types"
)

// Result is what an executor reports for one run.
type Result struct {
	// Output is stored as the task's last_result and in the execution record.
	Output string
	// Notify, when non-empty, is delivered to the conversation that created the task.
	Notify string
}

// Executor performs the work for one task kind. It is called synchronously on
// a scheduler worker.
type Executor func(ctx context.Context, task types.Task) (Result, error)

// Store is the persistence contract the scheduler needs.
type Store interface {
	DueTasks(ctx context.Context, now time.Time) ([]types.Task, error)
	ClaimTask(ctx context.Context, id string, now time.Time) (bool, error)
	FinishTask(ctx context.Context, id string, f store.TaskFinish) (types.TaskStatus, error)
	StartExecution(ctx context.Context, taskID string, at time.Time) (int64, error)
	CompleteExecution(ctx context.Context, id int64, at time.Time, outcome types.ExecutionOutcome, output string) error
	RecoverInterrupted(ctx context.Context, now time.Time) (int, error)
	ActiveTaskIDs(ctx context.Context) ([]string, error)
}

// Sweeper drops per-task state kept for tasks outside active, the set of
// Pending and Running task ids.
type Sweeper func(active map[string]struct{})

// Config tunes the tick loop.
type Config struct {
	TickInterval time.Duration
	MaxInFlight  int
	StopTimeout  time.Duration
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval: 60 * time.Second,
		MaxInFlight:  4,
		StopTimeout:  10 * time.Second,
	}
}

// tickTimeout bounds the store queries of one tick.
const tickTimeout = 30 * time.Second

// ConversationParam is the task parameter naming the conversation to notify.
const ConversationParam = "conversation_id"

// Scheduler owns the tick loop and the executor registry.
type Scheduler struct {
	store    Store
	cfg      Config
	notifier types.Notifier
	now      func() time.Time

	mu        sync.RWMutex
	executors map[types.TaskKind]Executor
	warned    map[string]struct{}
	sweepers  []Sweeper

	sem      *semaphore.Weighted
	workers  sync.WaitGroup
	inFlight atomic.Int64
	runs     atomic.Int64

	runCtx    context.Context
	runCancel context.CancelFunc

	loopMu sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a scheduler. notifier may be nil.
func New(st Store, cfg Config, notifier types.Notifier) *Scheduler {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:     st,
		cfg:       cfg,
		notifier:  notifier,
		now:       time.Now,
		executors: make(map[types.TaskKind]Executor),
		warned:    make(map[string]struct{}),
		sem:       semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		runCtx:    runCtx,
		runCancel: runCancel,
	}
}

// Register installs the executor for kind, replacing any previous one.
func (s *Scheduler) Register(kind types.TaskKind, exec Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executors[kind]; ok {
		logging.SchedulerWarn("Replacing executor for kind %s", kind)
	}
	s.executors[kind] = exec
	s.warned = make(map[string]struct{})
	logging.SchedulerDebug("Executor registered: %s", kind)
}

// AddSweeper registers fn to run after every tick with the active task ids.
func (s *Scheduler) AddSweeper(fn Sweeper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepers = append(s.sweepers, fn)
}

// Kinds returns the registered task kinds.
func (s *Scheduler) Kinds() []types.TaskKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.TaskKind, 0, len(s.executors))
	for k := range s.executors {
		out = append(out, k)
	}
	return out
}

func (s *Scheduler) executor(kind types.TaskKind) Executor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executors[kind]
}

// warnOnce logs a missing executor once per task until the registry changes.
func (s *Scheduler) warnOnce(t types.Task) {
	s.mu.Lock()
	_, seen := s.warned[t.ID]
	s.warned[t.ID] = struct{}{}
	s.mu.Unlock()
	if !seen {
		logging.SchedulerWarn("No executor registered for kind %q; task %s (%s) stays pending", t.Kind, t.Name, t.ShortID())
	}
}

// InFlight returns the number of executor calls currently running.
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}

// Runs returns the number of runs started since creation.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// =============================================================================
// TICK
// =============================================================================

// Tick starts every due task it can claim and returns how many it started.
// Tasks left over because the in-flight limit is reached stay Pending and are
// picked up by a later tick. Per-task state of tasks that left the active set
// is dropped afterwards.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	started, err := s.startDue(ctx)
	if err == nil {
		s.sweep(ctx)
	}
	return started, err
}

func (s *Scheduler) startDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.DueTasks(ctx, now)
	if err != nil {
		logging.SchedulerError("Failed to query due tasks: %v", err)
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}
	logging.SchedulerDebug("Tick: %d due task(s)", len(due))

	started := 0
	for _, t := range due {
		exec := s.executor(t.Kind)
		if exec == nil {
			s.warnOnce(t)
			continue
		}
		if !s.sem.TryAcquire(1) {
			logging.SchedulerDebug("In-flight limit %d reached, deferring remaining tasks", s.cfg.MaxInFlight)
			break
		}
		claimed, err := s.store.ClaimTask(ctx, t.ID, now)
		if err != nil {
			s.sem.Release(1)
			logging.SchedulerError("Failed to claim task %s: %v", t.ShortID(), err)
			continue
		}
		if !claimed {
			s.sem.Release(1)
			logging.SchedulerDebug("Task %s already claimed or stopped", t.ShortID())
			continue
		}

		t.Status = types.TaskRunning
		s.workers.Add(1)
		s.inFlight.Add(1)
		s.runs.Add(1)
		started++
		go s.run(t, exec)
	}
	return started, nil
}

// sweep forgets missing-executor warnings and executor state for tasks that
// were stopped, deleted or finished.
func (s *Scheduler) sweep(ctx context.Context) {
	ids, err := s.store.ActiveTaskIDs(ctx)
	if err != nil {
		logging.SchedulerWarn("Failed to list active tasks: %v", err)
		return
	}
	active := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		active[id] = struct{}{}
	}

	s.mu.Lock()
	for id := range s.warned {
		if _, ok := active[id]; !ok {
			delete(s.warned, id)
		}
	}
	sweepers := append([]Sweeper(nil), s.sweepers...)
	s.mu.Unlock()

	for _, fn := range sweepers {
		fn(active)
	}
}

// run executes one claimed task and records the outcome.
func (s *Scheduler) run(t types.Task, exec Executor) {
	defer s.workers.Done()
	defer s.sem.Release(1)
	defer s.inFlight.Add(-1)

	// Bookkeeping must land even when the run context is cancelled at shutdown.
	bg := context.WithoutCancel(s.runCtx)

	startedAt := s.now()
	execID, err := s.store.StartExecution(bg, t.ID, startedAt)
	if err != nil {
		logging.SchedulerError("Failed to record execution start for %s: %v", t.ShortID(), err)
	}
	logging.Scheduler("Running task %s (%s, kind=%s)", t.Name, t.ShortID(), t.Kind)

	timer := logging.StartTimer(logging.CategoryScheduler, "task "+t.ShortID())
	res, runErr := invoke(s.runCtx, exec, t)
	timer.Stop()

	completedAt := s.now()
	finish := store.TaskFinish{CompletedAt: completedAt, Result: res.Output}
	outcome := types.OutcomeSuccess
	output := res.Output
	switch {
	case runErr != nil:
		finish.Status = types.TaskFailed
		finish.Error = runErr.Error()
		outcome = types.OutcomeFailure
		output = runErr.Error()
	case t.IsPeriodic():
		finish.Status = types.TaskPending
		finish.NextRunAt = completedAt.Add(t.Interval)
	default:
		finish.Status = types.TaskCompleted
	}

	if execID != 0 {
		if err := s.store.CompleteExecution(bg, execID, completedAt, outcome, output); err != nil {
			logging.SchedulerError("Failed to record execution end for %s: %v", t.ShortID(), err)
		}
	}
	final, err := s.store.FinishTask(bg, t.ID, finish)
	if errors.Is(err, store.ErrTaskGone) {
		logging.SchedulerDebug("Task %s was deleted during its run", t.ShortID())
		return
	}
	if err != nil {
		logging.SchedulerError("Failed to finish task %s: %v", t.ShortID(), err)
		return
	}

	switch {
	case final == types.TaskStopped:
		logging.Scheduler("Task %s was stopped during its run", t.ShortID())
	case runErr != nil:
		logging.SchedulerWarn("Task %s failed: %v", t.ShortID(), runErr)
	default:
		logging.SchedulerDebug("Task %s finished: %s", t.ShortID(), final)
	}

	if res.Notify != "" && final != types.TaskStopped {
		s.notify(bg, t, res.Notify)
	}
}

// invoke calls exec, converting a panic into an error.
func invoke(ctx context.Context, exec Executor, t types.Task) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.SchedulerError("Executor panic for task %s: %v\n%s", t.ShortID(), r, debug.Stack())
			res = Result{}
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec(ctx, t)
}

func (s *Scheduler) notify(ctx context.Context, t types.Task, text string) {
	if s.notifier == nil {
		return
	}
	conv := types.ExtractString(t.Params[ConversationParam])
	if conv == "" {
		return
	}
	if err := s.notifier.Notify(ctx, conv, text); err != nil {
		logging.SchedulerWarn("Failed to notify %s for task %s: %v", conv, t.ShortID(), err)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start recovers tasks interrupted by a previous process and launches the
// tick loop. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.stopCh != nil {
		return errors.New("scheduler already started")
	}

	recovered, err := s.store.RecoverInterrupted(ctx, s.now())
	if err != nil {
		return err
	}
	if recovered > 0 {
		logging.SchedulerWarn("Recovered %d task(s) interrupted by a restart", recovered)
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop(s.stopCh, s.doneCh)
	logging.Scheduler("Scheduler started (tick=%v, max_in_flight=%d)", s.cfg.TickInterval, s.cfg.MaxInFlight)
	return nil
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.tickOnce()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tickOnce()
		}
	}
}

func (s *Scheduler) tickOnce() {
	ctx, cancel := context.WithTimeout(s.runCtx, tickTimeout)
	defer cancel()
	if _, err := s.Tick(ctx); err != nil {
		logging.SchedulerWarn("Tick failed: %v", err)
	}
}

// Stop halts the tick loop and waits up to the configured timeout for
// in-flight runs. Runs still going after that see their context cancelled.
func (s *Scheduler) Stop() error {
	s.loopMu.Lock()
	stop, done := s.stopCh, s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.loopMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return s.Wait(s.cfg.StopTimeout)
}

// Wait blocks until in-flight runs finish or timeout elapses, then cancels
// whatever is still running.
func (s *Scheduler) Wait(timeout time.Duration) error {
	finished := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
	}

	pending := s.InFlight()
	logging.SchedulerWarn("%d task run(s) still in flight after %v; cancelling", pending, timeout)
	s.runCancel()
	select {
	case <-finished:
		return fmt.Errorf("scheduler: %d run(s) cancelled at shutdown", pending)
	case <-time.After(timeout):
		return fmt.Errorf("scheduler: %d run(s) ignored cancellation", s.InFlight())
	}
}
