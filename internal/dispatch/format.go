package dispatch

import (
	"fmt"
	"strings"
	"time"

	"aisatoshi/internal/types"
)

// maxPerGroup caps the tasks shown under one status heading.
const maxPerGroup = 10

var statusLabels = map[types.TaskStatus]string{
	types.TaskPending:   "⏳ 待执行",
	types.TaskRunning:   "🔄 执行中",
	types.TaskCompleted: "✅ 已完成",
	types.TaskFailed:    "❌ 失败",
	types.TaskStopped:   "⏸ 已停止",
	types.TaskCancelled: "🚫 已取消",
}

// FormatTaskList groups tasks by status, at most maxPerGroup per group, and
// always reports the total.
func FormatTaskList(all []types.Task) string {
	if len(all) == 0 {
		return "📋 当前没有任务"
	}
	groups := make(map[types.TaskStatus][]types.Task)
	for _, t := range all {
		groups[t.Status] = append(groups[t.Status], t)
	}

	var sb strings.Builder
	sb.WriteString("📋 任务列表:\n")
	for _, status := range types.AllTaskStatuses {
		group := groups[status]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n%s (%d):\n", statusLabels[status], len(group))
		for i, t := range group {
			if i == maxPerGroup {
				fmt.Fprintf(&sb, "  ... 还有 %d 个\n", len(group)-maxPerGroup)
				break
			}
			fmt.Fprintf(&sb, "  • %s [%s] %s\n", t.Name, t.ShortID(), formatInterval(t.Interval))
		}
	}
	fmt.Fprintf(&sb, "\n总计: %d 个任务", len(all))
	return sb.String()
}

func formatInterval(d time.Duration) string {
	switch {
	case d <= 0:
		return "一次性"
	case d%time.Hour == 0:
		return fmt.Sprintf("每%d小时", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("每%d分钟", d/time.Minute)
	default:
		return fmt.Sprintf("每%d秒", d/time.Second)
	}
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h > 0 {
		return fmt.Sprintf("%d小时%d分钟", h, m)
	}
	return fmt.Sprintf("%d分钟", m)
}

// HelpText lists the commands and what plain messages can ask for.
const HelpText = `📖 帮助信息

🔹 查询
/price <币种> - 查询价格 (如 /price btc)
/balance - 查询钱包余额
/status - 系统状态

🔹 网页
/browse <网址> - 浏览并总结网页
  说"深度研究 <网址>"会同时浏览子页面

🔹 任务
/tasks - 查看任务列表
/stop_task <名称|#ID|all> - 停止任务
/delete_task <名称|#ID|all> - 删除任务
  说"创建一个每小时监控 ETH 价格的任务"即可创建任务

🔹 记忆
/remember <内容> - 让我长期记住一件事
/memories [关键词] - 查看我记住的事情
/forget <编号|all> - 忘记记忆
/clear - 清除本对话的记录

也可以直接用自然语言和我聊天。`
