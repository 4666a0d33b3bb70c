package dispatch

import (
	"context"
	"fmt"
	"strings"

	"aisatoshi/internal/browser"
	"aisatoshi/internal/logging"
	"aisatoshi/internal/market"
	"aisatoshi/internal/perception"
	"aisatoshi/internal/scheduler"
	"aisatoshi/internal/tasks"
	"aisatoshi/internal/types"
	"aisatoshi/internal/wallet"
)

func (d *Dispatcher) handleChat(ctx context.Context, req Request) (string, error) {
	if reply := strings.TrimSpace(req.Intent.ReplyText); reply != "" {
		return reply, nil
	}
	if d.deps.Chat == nil {
		return perception.FallbackReply, nil
	}
	reply, err := d.deps.Chat.Chat(ctx, req.Text, req.History)
	if err != nil || strings.TrimSpace(reply) == "" {
		logging.DispatchWarn("Chat generation failed for %s: %v", req.ConversationID, err)
		return perception.FallbackReply, nil
	}
	return strings.TrimSpace(reply), nil
}

func (d *Dispatcher) handlePrice(ctx context.Context, req Request) (string, error) {
	if d.deps.Prices == nil {
		return notConfigured("价格查询"), nil
	}
	coin := req.Intent.Param("coin")
	if coin == "" {
		coin = req.Intent.Param("symbol")
	}
	if coin == "" {
		coin = market.DefaultCoin
	}
	q, err := d.deps.Prices.Price(ctx, coin)
	if err != nil {
		return "", err
	}
	return market.FormatQuote(q), nil
}

func (d *Dispatcher) handleBalance(ctx context.Context, req Request) (string, error) {
	if d.deps.Balance == nil {
		return notConfigured("钱包"), nil
	}
	b, err := d.deps.Balance.Balance(ctx)
	if err != nil {
		return "", err
	}
	return wallet.FormatBalance(b), nil
}

func (d *Dispatcher) handleBrowse(ctx context.Context, req Request) (string, error) {
	url := req.Intent.Param("url")
	if url == "" {
		return "❓ 请提供要浏览的网址", nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	if d.deps.Browser == nil {
		return notConfigured("网页浏览"), nil
	}
	question := req.Intent.Param("question")
	if question == "" {
		question = browser.Question(url, req.Text)
	}
	if deep, ok := types.ExtractBool(req.Intent.Params["deep"]); ok && deep && !browser.WantsDeep(question) {
		question = "深度分析：" + question
	}
	return d.deps.Browser.Browse(ctx, url, question)
}

// reservedTaskKeys are add_task parameters that describe the task itself
// rather than its executor input.
var reservedTaskKeys = map[string]bool{
	"name": true, "task_name": true, "type": true, "kind": true, "interval": true,
	"description": true, "priority": true, "params": true,
}

func (d *Dispatcher) handleAddTask(ctx context.Context, req Request) (string, error) {
	p := req.Intent.Params
	name := req.Intent.Param("name")
	if name == "" {
		name = req.Intent.Param("task_name")
	}
	if name == "" {
		return "❌ 请指定任务名称", nil
	}
	kind := req.Intent.Param("type")
	if kind == "" {
		kind = req.Intent.Param("kind")
	}
	interval, err := tasks.IntervalParam(p["interval"], d.deps.DefaultInterval)
	if err != nil {
		return "", err
	}

	params := make(map[string]interface{})
	for k, v := range types.ExtractMap(p["params"]) {
		params[k] = v
	}
	for k, v := range p {
		if !reservedTaskKeys[k] {
			params[k] = v
		}
	}
	if req.ConversationID != "" {
		params[scheduler.ConversationParam] = req.ConversationID
	}

	t, err := d.deps.Tasks.Create(ctx, tasks.CreateRequest{
		Name:        name,
		Kind:        types.TaskKind(kind),
		Description: req.Intent.Param("description"),
		Priority:    types.ParsePriority(p["priority"]),
		Params:      params,
		Interval:    interval,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ 任务已创建: %s\nID: %s\n类型: %s\n频率: %s",
		t.Name, t.ShortID(), t.Kind, formatInterval(t.Interval)), nil
}

func (d *Dispatcher) handleStopTask(ctx context.Context, req Request) (string, error) {
	sel := tasks.SelectorFromParams(req.Intent.Params)
	if sel.IsEmpty() {
		return "❌ 请指定要停止的任务名称", nil
	}
	stopped, err := d.deps.Tasks.Stop(ctx, sel)
	if err != nil {
		return "", err
	}
	if len(stopped) == 0 {
		return fmt.Sprintf("❌ 未找到匹配的任务: %s", selectorLabel(sel)), nil
	}
	return fmt.Sprintf("✅ 已停止 %d 个任务%s", len(stopped), taskNames(stopped)), nil
}

func (d *Dispatcher) handleDeleteTask(ctx context.Context, req Request) (string, error) {
	sel := tasks.SelectorFromParams(req.Intent.Params)
	if sel.IsEmpty() {
		return "❌ 请指定要删除的任务名称", nil
	}
	deleted, err := d.deps.Tasks.Delete(ctx, sel)
	if err != nil {
		return "", err
	}
	if len(deleted) == 0 {
		return fmt.Sprintf("❌ 未找到匹配的任务: %s", selectorLabel(sel)), nil
	}
	return fmt.Sprintf("✅ 已删除 %d 个任务%s", len(deleted), taskNames(deleted)), nil
}

func (d *Dispatcher) handleListTasks(ctx context.Context, req Request) (string, error) {
	all, err := d.deps.Tasks.List(ctx)
	if err != nil {
		return "", err
	}
	return FormatTaskList(all), nil
}

func (d *Dispatcher) handleStatus(ctx context.Context, req Request) (string, error) {
	stats, err := d.deps.Tasks.Stats(ctx)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("📊 系统状态\n\n")
	fmt.Fprintf(&sb, "⏱ 运行时间: %s\n", formatUptime(d.Uptime()))

	total := 0
	for _, n := range stats {
		total += n
	}
	fmt.Fprintf(&sb, "📝 任务: %d 个 (待执行 %d, 执行中 %d, 已完成 %d, 失败 %d, 已停止 %d)\n",
		total, stats[types.TaskPending], stats[types.TaskRunning], stats[types.TaskCompleted],
		stats[types.TaskFailed], stats[types.TaskStopped])

	if d.deps.Memory != nil {
		conv, err := d.deps.Memory.Stats(ctx, req.ConversationID)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "🧠 记忆: %d 条对话 (你 %d, 我 %d)\n",
			conv.UserTurns+conv.AssistantTurns, conv.UserTurns, conv.AssistantTurns)
	}
	if d.deps.LLM != nil {
		calls, failures := d.deps.LLM.Stats()
		fmt.Fprintf(&sb, "🤖 模型调用: %d 次 (失败 %d)\n", calls, failures)
	}
	dispatched, failed := d.Counts()
	fmt.Fprintf(&sb, "📨 已处理: %d 条请求 (失败 %d)\n", dispatched, failed)
	sb.WriteString("\n✅ 运行正常")
	return sb.String(), nil
}

func (d *Dispatcher) handleHelp(ctx context.Context, req Request) (string, error) {
	return HelpText, nil
}

func (d *Dispatcher) handleClearHistory(ctx context.Context, req Request) (string, error) {
	if d.deps.Memory == nil {
		return notConfigured("对话记忆"), nil
	}
	n, err := d.deps.Memory.Clear(ctx, req.ConversationID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🧹 已清除 %d 条对话记录", n), nil
}

func selectorLabel(sel tasks.Selector) string {
	if sel.ID != "" {
		return sel.ID
	}
	return sel.Name
}

func taskNames(ts []types.Task) string {
	var sb strings.Builder
	for i, t := range ts {
		if i == 10 {
			fmt.Fprintf(&sb, "\n  ... 还有 %d 个", len(ts)-i)
			break
		}
		fmt.Fprintf(&sb, "\n  • %s", t.Name)
	}
	return sb.String()
}
