package dispatch

import (
	"strings"

	"aisatoshi/internal/types"
)

// ParseCommand maps a slash command onto an intent. It reports false for
// plain messages and unknown commands, which go to the resolver instead.
func ParseCommand(text string) (types.Intent, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return types.Intent{}, false
	}
	parts := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(parts) == 0 {
		return types.Intent{}, false
	}
	name := strings.ToLower(parts[0])
	// Group chats address bots as /command@botname.
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	args := strings.TrimSpace(strings.Join(parts[1:], " "))

	switch name {
	case "start", "help":
		return types.NewIntent(types.ActionHelp, nil), true
	case "status":
		return types.NewIntent(types.ActionStatus, nil), true
	case "tasks":
		return types.NewIntent(types.ActionListTasks, nil), true
	case "balance":
		return types.NewIntent(types.ActionBalance, nil), true
	case "clear":
		return types.NewIntent(types.ActionClearHistory, nil), true
	case "price":
		params := map[string]interface{}{}
		if args != "" {
			params["coin"] = strings.Fields(args)[0]
		}
		return types.NewIntent(types.ActionPrice, params), true
	case "browse":
		params := map[string]interface{}{}
		if len(parts) > 1 {
			params["url"] = parts[1]
		}
		if len(parts) > 2 {
			params["question"] = strings.Join(parts[2:], " ")
		}
		return types.NewIntent(types.ActionBrowse, params), true
	case "remember":
		params := map[string]interface{}{}
		if args != "" {
			params["content"] = args
		}
		return types.NewIntent(types.ActionRemember, params), true
	case "memories":
		params := map[string]interface{}{}
		if args != "" {
			params["keyword"] = args
		}
		return types.NewIntent(types.ActionListMemories, params), true
	case "forget":
		params := map[string]interface{}{}
		switch arg := strings.TrimPrefix(args, "#"); {
		case strings.EqualFold(arg, "all"):
			params["all"] = true
		case arg != "":
			params["id"] = arg
		}
		return types.NewIntent(types.ActionForget, params), true
	case "stop_task", "delete_task":
		params := map[string]interface{}{}
		switch {
		case strings.HasPrefix(args, "#"):
			params["id"] = strings.TrimSpace(args[1:])
		case strings.HasPrefix(args, "[") && strings.HasSuffix(args, "]"):
			// the task list shows ids as [abcd1234]
			params["id"] = strings.TrimSpace(args[1 : len(args)-1])
		case args != "":
			params["name"] = args
		}
		action := types.ActionStopTask
		if name == "delete_task" {
			action = types.ActionDeleteTask
		}
		return types.NewIntent(action, params), true
	}
	return types.Intent{}, false
}
