// Package types provides shared type definitions used across aisatoshi packages.
// This package exists to break import cycles between store, scheduler, perception and dispatch.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// TASKS
// =============================================================================

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskStopped   TaskStatus = "stopped"
	TaskCancelled TaskStatus = "cancelled"
)

// AllTaskStatuses lists every status in display order.
var AllTaskStatuses = []TaskStatus{
	TaskPending, TaskRunning, TaskCompleted, TaskFailed, TaskStopped, TaskCancelled,
}

// IsActive reports whether the status belongs to the active set {Pending, Running}.
func (s TaskStatus) IsActive() bool {
	return s == TaskPending || s == TaskRunning
}

// IsTerminal reports whether the task can never run again under its current id.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStopped || s == TaskCancelled
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	for _, known := range AllTaskStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseTaskStatus parses a case-insensitive status name.
func ParseTaskStatus(v string) (TaskStatus, error) {
	s := TaskStatus(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", ValidationError("unknown task status %q", v)
	}
	return s, nil
}

// TaskPriority is an advisory sort key. It never preempts a running task.
type TaskPriority int

const (
	PriorityLow    TaskPriority = 1
	PriorityNormal TaskPriority = 2
	PriorityHigh   TaskPriority = 3
	PriorityUrgent TaskPriority = 4
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority accepts a name ("high") or an ordinal (3). Anything else is Normal.
func ParsePriority(v interface{}) TaskPriority {
	if n, ok := ExtractInt64(v); ok {
		if n >= int64(PriorityLow) && n <= int64(PriorityUrgent) {
			return TaskPriority(n)
		}
		return PriorityNormal
	}
	switch strings.ToLower(strings.TrimSpace(ExtractString(v))) {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// TaskKind selects the executor that runs a task.
type TaskKind string

const (
	KindGeneric TaskKind = "generic"
	KindMonitor TaskKind = "monitor"
	KindBrowse  TaskKind = "browse"
	KindPost    TaskKind = "post"
	KindCode    TaskKind = "code"
)

// Task is a unit of recurring or one-shot work.
type Task struct {
	ID             string                 `json:"id"`
	Kind           TaskKind               `json:"kind"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	Status         TaskStatus             `json:"status"`
	Priority       TaskPriority           `json:"priority"`
	Params         map[string]interface{} `json:"params,omitempty"`
	Interval       time.Duration          `json:"interval"`
	NextRunAt      time.Time              `json:"next_run_at"`
	ExecutionCount int                    `json:"execution_count"`
	LastResult     string                 `json:"last_result,omitempty"`
	LastError      string                 `json:"last_error,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	CompletedAt    time.Time              `json:"completed_at,omitempty"`
}

// IsPeriodic reports whether the task reschedules itself after a successful run.
func (t Task) IsPeriodic() bool {
	return t.Interval > 0
}

// IsDue reports whether the task is eligible to run at now.
func (t Task) IsDue(now time.Time) bool {
	return t.Status == TaskPending && !t.NextRunAt.After(now)
}

// ShortID returns the first 8 characters of the id for display.
func (t Task) ShortID() string {
	if len(t.ID) <= 8 {
		return t.ID
	}
	return t.ID[:8]
}

// ExecutionOutcome records how a TaskExecution ended.
type ExecutionOutcome string

const (
	OutcomeRunning ExecutionOutcome = "running"
	OutcomeSuccess ExecutionOutcome = "success"
	OutcomeFailure ExecutionOutcome = "failure"
)

// TaskExecution is one historical run of a Task. Append-only once completed.
type TaskExecution struct {
	ID          int64            `json:"execution_id"`
	TaskID      string           `json:"task_id"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
	Outcome     ExecutionOutcome `json:"outcome"`
	Output      string           `json:"result_or_error,omitempty"`
}

// Duration returns the run time, or zero while the execution is open.
func (e TaskExecution) Duration() time.Duration {
	if e.CompletedAt.IsZero() {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message in a chat.
// Sequence is assigned by the store, monotonic per conversation and unique
// with ConversationID. Delivery is the channel's delivery id of a user turn
// (0 for replies); a conversation never stores the same delivery twice.
type ConversationTurn struct {
	ConversationID string    `json:"conversation_id"`
	Sequence       int64     `json:"sequence"`
	Delivery       int64     `json:"delivery,omitempty"`
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// ConversationContext is what the resolver sees besides the message itself.
type ConversationContext struct {
	Turns []ConversationTurn
	// Related holds remembered facts matching the message.
	Related []Fact
	// Important holds the conversation's high-importance facts.
	Important []Fact
}

// FactKind tags a remembered fact.
type FactKind string

const (
	FactGeneral    FactKind = "fact"
	FactPreference FactKind = "preference"
	FactEvent      FactKind = "event"
)

// ParseFactKind maps a tag onto a kind; unknown tags are general facts.
func ParseFactKind(s string) FactKind {
	switch FactKind(strings.ToLower(strings.TrimSpace(s))) {
	case FactPreference:
		return FactPreference
	case FactEvent:
		return FactEvent
	}
	return FactGeneral
}

// Importance bounds for facts. Facts at ImportantFact or above are always
// shown to the resolver.
const (
	MinImportance     = 1
	DefaultImportance = 3
	ImportantFact     = 4
	MaxImportance     = 5
)

// Fact is a piece of long-term memory scoped to one conversation.
type Fact struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Kind           FactKind  `json:"kind"`
	Content        string    `json:"content"`
	Importance     int       `json:"importance"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationStats summarizes stored conversation turns.
type ConversationStats struct {
	Conversations  int `json:"conversations"`
	UserTurns      int `json:"user_turns"`
	AssistantTurns int `json:"assistant_turns"`
}

// =============================================================================
// QUERY RESULTS
// =============================================================================

// PriceQuote is the answer of a price capability.
type PriceQuote struct {
	Coin      string  `json:"coin"`
	Symbol    string  `json:"symbol"`
	USD       float64 `json:"usd"`
	Change24h float64 `json:"change_24h"`
}

// WalletBalance is the answer of a balance capability.
type WalletBalance struct {
	Address string `json:"address"`
	Wei     string `json:"wei"`
	Ether   string `json:"ether"`
}
