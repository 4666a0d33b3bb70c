package tasks

import (
	"strings"
	"time"

	"aisatoshi/internal/types"
)

// kindAliases maps user and model wording onto executor kinds.
var kindAliases = map[string]types.TaskKind{
	"monitor":   types.KindMonitor,
	"price":     types.KindMonitor,
	"监控":        types.KindMonitor,
	"browse":    types.KindBrowse,
	"web":       types.KindBrowse,
	"浏览":        types.KindBrowse,
	"post":      types.KindPost,
	"code":      types.KindCode,
	"generic":   types.KindGeneric,
	"reminder":  types.KindGeneric,
	"heartbeat": types.KindGeneric,
}

// NormalizeKind maps a free-form type onto a task kind. Unknown or empty
// values become the generic kind.
func NormalizeKind(v string) types.TaskKind {
	if k, ok := kindAliases[strings.ToLower(strings.TrimSpace(v))]; ok {
		return k
	}
	return types.KindGeneric
}

// IntervalParam reads an interval parameter. A missing value yields def;
// numbers are seconds and strings may also be Go durations ("30m").
func IntervalParam(v interface{}, def time.Duration) (time.Duration, error) {
	if v == nil {
		return def, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return def, nil
	}
	d, err := types.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, types.ValidationError("任务间隔不能为负数")
	}
	if d > 0 && d < time.Second {
		return 0, types.ValidationError("任务间隔至少 1 秒")
	}
	return d, nil
}

// SelectorFromParams builds a selector from intent or tool parameters:
// "all" (bool), "id", and "name" (also accepted as "task_name" or "task").
func SelectorFromParams(params map[string]interface{}) Selector {
	var sel Selector
	if all, ok := types.ExtractBool(params["all"]); ok && all {
		sel.All = true
	}
	sel.ID = strings.TrimSpace(types.ExtractString(params["id"]))
	if sel.ID == "" {
		sel.ID = strings.TrimSpace(types.ExtractString(params["task_id"]))
	}
	for _, key := range []string{"name", "task_name", "task"} {
		if s := strings.TrimSpace(types.ExtractString(params[key])); s != "" {
			sel.Name = s
			break
		}
	}
	if strings.EqualFold(sel.Name, "all") || sel.Name == "所有" || sel.Name == "全部" {
		sel.All = true
		sel.Name = ""
	}
	return sel
}
