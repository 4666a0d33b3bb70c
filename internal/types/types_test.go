package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatusSets(t *testing.T) {
	assert.True(t, TaskPending.IsActive())
	assert.True(t, TaskRunning.IsActive())
	assert.False(t, TaskCompleted.IsActive())
	assert.False(t, TaskStopped.IsActive())

	assert.True(t, TaskStopped.IsTerminal())
	assert.True(t, TaskCancelled.IsTerminal())
	assert.False(t, TaskFailed.IsTerminal())

	for _, s := range AllTaskStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, TaskStatus("paused").Valid())
}

func TestParseTaskStatus(t *testing.T) {
	s, err := ParseTaskStatus(" Running ")
	require.NoError(t, err)
	assert.Equal(t, TaskRunning, s)

	_, err = ParseTaskStatus("paused")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	msg, ok := ValidationMessage(err)
	assert.True(t, ok)
	assert.Contains(t, msg, "paused")
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityHigh, ParsePriority("high"))
	assert.Equal(t, PriorityUrgent, ParsePriority(float64(4)))
	assert.Equal(t, PriorityLow, ParsePriority("1"))
	assert.Equal(t, PriorityNormal, ParsePriority(nil))
	assert.Equal(t, PriorityNormal, ParsePriority(9))
	assert.Equal(t, "urgent", PriorityUrgent.String())
}

func TestTaskHelpers(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	task := Task{
		ID:        "0123456789abcdef",
		Status:    TaskPending,
		Interval:  time.Hour,
		NextRunAt: now,
	}
	assert.True(t, task.IsPeriodic())
	assert.True(t, task.IsDue(now))
	assert.False(t, task.IsDue(now.Add(-time.Second)))
	assert.Equal(t, "01234567", task.ShortID())

	task.Status = TaskRunning
	assert.False(t, task.IsDue(now))

	task.Interval = 0
	assert.False(t, task.IsPeriodic())
	assert.Equal(t, "abc", Task{ID: "abc"}.ShortID())
}

func TestExecutionDuration(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := TaskExecution{StartedAt: start}
	assert.Zero(t, e.Duration())
	e.CompletedAt = start.Add(3 * time.Second)
	assert.Equal(t, 3*time.Second, e.Duration())
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		tag  string
		want Action
	}{
		{"chat", ActionChat},
		{"PRICE", ActionPrice},
		{" add_task ", ActionAddTask},
		{"stop-task", ActionStopTask},
		{"list_tasks", ActionListTasks},
		{"clear_history", ActionClearHistory},
		{"remember", ActionRemember},
		{"list-memories", ActionListMemories},
		{"launch_rocket", ActionUnknown},
		{"", ActionUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAction(tt.tag))
		})
	}
}

func TestActionNamesRoundTrip(t *testing.T) {
	for _, a := range KnownActions() {
		assert.Equal(t, a, ParseAction(a.String()))
	}
	assert.NotContains(t, KnownActions(), ActionUnknown)
	assert.Contains(t, KnownActions(), ActionForget)
	assert.Equal(t, "unknown", Action(99).String())
}

func TestIntentConstructors(t *testing.T) {
	in := NewIntent(ActionPrice, nil)
	assert.NotNil(t, in.Params)
	assert.Equal(t, "price", in.RawAction)

	chat := ChatIntent("hi", 0)
	assert.Equal(t, ActionChat, chat.Action)
	assert.Equal(t, "hi", chat.ReplyText)
	assert.Zero(t, chat.Confidence)

	in.Params["coin"] = "  eth "
	assert.Equal(t, "eth", in.Param("coin"))
	assert.Equal(t, "", in.Param("missing"))
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("disk full")
	err := StorageFailure("put task", cause)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, cause))

	err = CollaboratorFailure("gemini", cause)
	assert.True(t, errors.Is(err, ErrCollaborator))
	assert.Contains(t, err.Error(), "gemini")

	err = ConfigurationError("missing %s", "token")
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), "missing token")

	_, ok := ValidationMessage(cause)
	assert.False(t, ok)
}
