// Package dispatch maps resolved intents onto handlers and renders every
// outcome, failures included, as a reply string for the chat.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"aisatoshi/internal/logging"
	"aisatoshi/internal/perception"
	"aisatoshi/internal/tasks"
	"aisatoshi/internal/types"
)

// ChatGenerator produces a free-form reply for chat intents without text.
type ChatGenerator interface {
	Chat(ctx context.Context, message string, history []types.ConversationTurn) (string, error)
}

// ConversationMemory is the part of conversation memory the handlers touch.
type ConversationMemory interface {
	Clear(ctx context.Context, conversationID string) (int64, error)
	Stats(ctx context.Context, conversationID string) (types.ConversationStats, error)
	Remember(ctx context.Context, conversationID string, kind types.FactKind, content string, importance int) (types.Fact, error)
	Facts(ctx context.Context, conversationID, keyword string, limit int) ([]types.Fact, error)
	Forget(ctx context.Context, conversationID string, id int64) (bool, error)
	ForgetAll(ctx context.Context, conversationID string) (int64, error)
}

// CallStats reports model call counters.
type CallStats interface {
	Stats() (calls, failures int64)
}

// Deps are the collaborators the handlers call. Tasks is required; a nil
// capability makes its action answer "not configured".
type Deps struct {
	Tasks   *tasks.Manager
	Prices  types.PriceSource
	Balance types.BalanceSource
	Browser types.Browser
	Chat    ChatGenerator
	Memory  ConversationMemory
	LLM     CallStats
	// DefaultInterval applies to add_task requests without an interval.
	DefaultInterval time.Duration
}

// Request is one intent to dispatch.
type Request struct {
	ConversationID string
	// Text is the user's original message.
	Text    string
	History []types.ConversationTurn
	Intent  types.Intent
}

// Handler serves one action.
type Handler func(ctx context.Context, req Request) (string, error)

// failureReplies are shown when a handler fails with anything but a
// validation error.
var failureReplies = map[types.Action]string{
	types.ActionPrice:        "❌ 查询价格失败，请稍后重试",
	types.ActionBalance:      "❌ 查询余额失败，请稍后重试",
	types.ActionBrowse:       "❌ 浏览网页失败，请检查网址或稍后重试",
	types.ActionAddTask:      "❌ 创建任务失败，请稍后重试",
	types.ActionStopTask:     "❌ 停止任务失败，请稍后重试",
	types.ActionDeleteTask:   "❌ 删除任务失败，请稍后重试",
	types.ActionListTasks:    "❌ 列出任务失败，请稍后重试",
	types.ActionStatus:       "❌ 获取状态失败，请稍后重试",
	types.ActionClearHistory: "❌ 清除对话记录失败，请稍后重试",
	types.ActionRemember:     "❌ 记忆保存失败，请稍后重试",
	types.ActionListMemories: "❌ 读取记忆失败，请稍后重试",
	types.ActionForget:       "❌ 删除记忆失败，请稍后重试",
}

// Dispatcher routes intents through a handler table.
type Dispatcher struct {
	deps     Deps
	handlers map[types.Action]Handler
	started  time.Time

	dispatched atomic.Int64
	failed     atomic.Int64
}

// New creates a dispatcher with the built-in handlers.
func New(deps Deps) *Dispatcher {
	if deps.DefaultInterval <= 0 {
		deps.DefaultInterval = tasks.DefaultInterval
	}
	d := &Dispatcher{deps: deps, started: time.Now()}
	d.handlers = map[types.Action]Handler{
		types.ActionChat:         d.handleChat,
		types.ActionUnknown:      d.handleChat,
		types.ActionPrice:        d.handlePrice,
		types.ActionBalance:      d.handleBalance,
		types.ActionBrowse:       d.handleBrowse,
		types.ActionAddTask:      d.handleAddTask,
		types.ActionStopTask:     d.handleStopTask,
		types.ActionDeleteTask:   d.handleDeleteTask,
		types.ActionListTasks:    d.handleListTasks,
		types.ActionStatus:       d.handleStatus,
		types.ActionHelp:         d.handleHelp,
		types.ActionClearHistory: d.handleClearHistory,
		types.ActionRemember:     d.handleRemember,
		types.ActionListMemories: d.handleListMemories,
		types.ActionForget:       d.handleForget,
	}
	return d
}

// Dispatch runs the handler for req.Intent and returns the reply. It never
// fails: errors and panics become a short user-facing message and are logged.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (reply string) {
	d.dispatched.Add(1)
	action := req.Intent.Action
	timer := logging.StartTimer(logging.CategoryDispatch, "dispatch "+action.String())
	defer timer.StopWithThreshold(10 * time.Second)

	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			logging.DispatchError("Handler panic for %s in %s: %v\n%s", action, req.ConversationID, r, debug.Stack())
			reply = failureReply(action)
		}
	}()

	h, ok := d.handlers[action]
	if !ok {
		h = d.handleChat
	}
	out, err := h(ctx, req)
	if err != nil {
		return d.errorReply(action, req, err)
	}
	logging.DispatchDebug("Dispatched %s for %s (%d chars)", action, req.ConversationID, len(out))
	return out
}

func (d *Dispatcher) errorReply(action types.Action, req Request, err error) string {
	if msg, ok := types.ValidationMessage(err); ok {
		logging.DispatchDebug("Validation failure for %s: %s", action, msg)
		return "❌ " + msg
	}
	d.failed.Add(1)
	switch {
	case errors.Is(err, types.ErrStorage):
		logging.DispatchError("Storage failure for %s in %s: %v", action, req.ConversationID, err)
	default:
		logging.DispatchWarn("Handler %s failed in %s: %v", action, req.ConversationID, err)
	}
	return failureReply(action)
}

func failureReply(action types.Action) string {
	if r, ok := failureReplies[action]; ok {
		return r
	}
	return perception.FallbackReply
}

// Counts returns how many intents were dispatched and how many failed.
func (d *Dispatcher) Counts() (dispatched, failed int64) {
	return d.dispatched.Load(), d.failed.Load()
}

// Uptime returns the time since the dispatcher was created.
func (d *Dispatcher) Uptime() time.Duration {
	return time.Since(d.started)
}

func notConfigured(what string) string {
	return fmt.Sprintf("❌ %s未配置", what)
}
