package perception

import (
	"fmt"
	"strings"

	"aisatoshi/internal/types"
)

// FallbackReply is sent when the model cannot be reached.
const FallbackReply = "抱歉，我遇到了一些问题。请稍后再试。"

// MaxFallbackChars bounds the raw model text passed through as a chat reply.
const MaxFallbackChars = 1000

// IntentPrompt is the system instruction for intent resolution. It enumerates
// the action vocabulary and the parameter shape of each action.
const IntentPrompt = `你是 AIsatoshi，一个在区块链上永生的 AI 助手。

你的任务是理解用户意图并选择合适的操作。

## 可用的操作类型

| 操作 | 说明 | 参数 |
|------|------|------|
| chat | 普通对话 | 无 |
| price | 查询加密货币价格 | coin (如 "btc", "eth") |
| balance | 查询钱包余额 | 无 |
| browse | 浏览网页 | url (必需), question (可选) |
| add_task | 创建任务 | name (必需), type (monitor/browse/generic), interval (秒), url/coin/above/below/message (可选) |
| stop_task | 停止任务 | name 或 id, 或 all=true |
| delete_task | 删除任务 | name 或 id, 或 all=true |
| list_tasks | 列出任务 | 无 |
| status | 查看系统状态 | 无 |
| help | 显示帮助 | 无 |
| clear_history | 清除对话记忆 | 无 |
| remember | 长期记住一条信息 | content (必需), kind (fact/preference/event), importance (1-5) |

## 示例

用户：帮我研究下 https://clawn.ch/
回复：{"action": "browse", "params": {"url": "https://clawn.ch/", "question": "这个网站是做什么的？主要内容、功能和特点"}}

用户：查一下 ETH 价格
回复：{"action": "price", "params": {"coin": "eth"}, "reply_text": "正在查询 ETH 价格..."}

用户：创建一个每小时监控 ETH 价格的任务
回复：{"action": "add_task", "params": {"name": "ETH 价格监控", "type": "monitor", "coin": "eth", "interval": 3600}, "reply_text": "正在创建 ETH 价格监控任务..."}

用户：停止所有任务
回复：{"action": "stop_task", "params": {"all": true}, "reply_text": "正在停止所有任务..."}

用户：记住我最关注的币是 SOL
回复：{"action": "remember", "params": {"content": "用户最关注的币是 SOL", "kind": "preference"}, "reply_text": "好的，我记住了"}

用户：你好
回复：{"action": "chat", "params": {}, "reply_text": "你好！我是 AIsatoshi，有什么可以帮你的吗？"}

## 重要规则

1. 如果用户提供 URL 或提到网站，必须使用 browse 操作
2. 不要过度解读，简单对话就是 chat 操作，并在 reply_text 中直接回复
3. 用户说"停止"、"取消"任务时，使用 stop_task；说"删除"时使用 delete_task
4. 用户说"创建"、"跟踪"、"监控"任务时，使用 add_task
5. 用户要求"记住"某件事时，使用 remember，content 写成完整的一句话
6. 【相关记忆】和【重要信息】是你记住的内容，回答时可以参考
7. 可选字段 confidence 表示把握程度 (0-1)

只返回一个 JSON 对象，不要其他内容。`

// ChatPrompt is used when a chat intent arrives without reply text.
const ChatPrompt = `你是 AIsatoshi，一个友好的 AI 助手。

%s

用户说：%s

请自然地回复，保持简洁友好。如果用户问历史相关的问题，参考上面的历史记录。`

// BuildIntentPrompt renders remembered facts, recent turns and the current
// message.
func BuildIntentPrompt(message string, cc types.ConversationContext) string {
	var sb strings.Builder
	writeFacts(&sb, "【相关记忆】", cc.Related)
	writeFacts(&sb, "【重要信息】", cc.Important)
	if len(cc.Turns) > 0 {
		sb.WriteString("【最近对话】\n")
		sb.WriteString(renderTurns(cc.Turns))
		sb.WriteString("\n")
	}
	sb.WriteString("【当前对话】\n")
	sb.WriteString("用户说：")
	sb.WriteString(message)
	sb.WriteString("\n\n分析用户意图，返回 JSON 格式：")
	return sb.String()
}

func writeFacts(sb *strings.Builder, title string, facts []types.Fact) {
	if len(facts) == 0 {
		return
	}
	sb.WriteString(title)
	sb.WriteByte('\n')
	for _, f := range facts {
		sb.WriteString("- ")
		sb.WriteString(f.Content)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
}

// BuildChatPrompt renders the free-chat prompt.
func BuildChatPrompt(message string, history []types.ConversationTurn) string {
	context := ""
	if len(history) > 0 {
		context = "【最近对话】\n" + renderTurns(history)
	}
	return fmt.Sprintf(ChatPrompt, context, message)
}

func renderTurns(turns []types.ConversationTurn) string {
	var sb strings.Builder
	for _, t := range turns {
		speaker := "用户"
		if t.Role == types.RoleAssistant {
			speaker = "AIsatoshi"
		}
		sb.WriteString(speaker)
		sb.WriteString(": ")
		sb.WriteString(t.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}
