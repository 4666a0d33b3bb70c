package types

import "strings"

// Action is the closed vocabulary of things an Intent can ask for.
// Strings coming from the model are mapped at the parse boundary by ParseAction;
// anything outside the vocabulary becomes ActionUnknown.
type Action int

const (
	ActionUnknown Action = iota
	ActionChat
	ActionPrice
	ActionBalance
	ActionBrowse
	ActionAddTask
	ActionStopTask
	ActionDeleteTask
	ActionListTasks
	ActionStatus
	ActionHelp
	ActionClearHistory
	ActionRemember
	ActionListMemories
	ActionForget
)

var actionNames = map[Action]string{
	ActionUnknown:      "unknown",
	ActionChat:         "chat",
	ActionPrice:        "price",
	ActionBalance:      "balance",
	ActionBrowse:       "browse",
	ActionAddTask:      "add_task",
	ActionStopTask:     "stop_task",
	ActionDeleteTask:   "delete_task",
	ActionListTasks:    "list_tasks",
	ActionStatus:       "status",
	ActionHelp:         "help",
	ActionClearHistory: "clear_history",
	ActionRemember:     "remember",
	ActionListMemories: "list_memories",
	ActionForget:       "forget",
}

var actionsByName = func() map[string]Action {
	m := make(map[string]Action, len(actionNames))
	for a, name := range actionNames {
		if a != ActionUnknown {
			m[name] = a
		}
	}
	return m
}()

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// ParseAction maps a model-supplied action tag onto the vocabulary.
func ParseAction(tag string) Action {
	tag = strings.ToLower(strings.TrimSpace(tag))
	tag = strings.ReplaceAll(tag, "-", "_")
	if a, ok := actionsByName[tag]; ok {
		return a
	}
	return ActionUnknown
}

// KnownActions returns the vocabulary in declaration order, without ActionUnknown.
func KnownActions() []Action {
	out := make([]Action, 0, len(actionNames)-1)
	for a := ActionChat; a <= ActionForget; a++ {
		out = append(out, a)
	}
	return out
}

// Intent is a structured action plus parameters derived from free-form text.
// It is transient and never persisted.
type Intent struct {
	Action     Action                 `json:"-"`
	RawAction  string                 `json:"action"`
	Params     map[string]interface{} `json:"params"`
	ReplyText  string                 `json:"reply_text"`
	Confidence float64                `json:"confidence"`
}

// NewIntent builds an intent for a known action.
func NewIntent(action Action, params map[string]interface{}) Intent {
	if params == nil {
		params = map[string]interface{}{}
	}
	return Intent{Action: action, RawAction: action.String(), Params: params, Confidence: 1}
}

// ChatIntent builds the degraded chat intent used by every fallback path.
func ChatIntent(reply string, confidence float64) Intent {
	return Intent{
		Action:     ActionChat,
		RawAction:  ActionChat.String(),
		Params:     map[string]interface{}{},
		ReplyText:  reply,
		Confidence: confidence,
	}
}

// Param returns a string parameter, trimmed.
func (i Intent) Param(key string) string {
	return strings.TrimSpace(ExtractString(i.Params[key]))
}
