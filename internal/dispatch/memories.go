package dispatch

import (
	"context"
	"fmt"
	"strings"

	"aisatoshi/internal/memory"
	"aisatoshi/internal/types"
)

// listedFacts bounds the facts shown by list_memories.
const listedFacts = 20

func (d *Dispatcher) handleRemember(ctx context.Context, req Request) (string, error) {
	if d.deps.Memory == nil {
		return notConfigured("长期记忆"), nil
	}
	content := req.Intent.Param("content")
	if content == "" {
		content = req.Intent.Param("fact")
	}
	if content == "" {
		return "", types.ValidationError("请告诉我要记住什么，例如 /remember 我最关注 SOL")
	}
	importance, _ := types.ExtractInt64(req.Intent.Params["importance"])
	kind := types.ParseFactKind(req.Intent.Param("kind"))

	f, err := d.deps.Memory.Remember(ctx, req.ConversationID, kind, content, int(importance))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🧠 记住了 #%d: %s", f.ID, memory.Truncate(f.Content, 80)), nil
}

func (d *Dispatcher) handleListMemories(ctx context.Context, req Request) (string, error) {
	if d.deps.Memory == nil {
		return notConfigured("长期记忆"), nil
	}
	keyword := req.Intent.Param("keyword")
	facts, err := d.deps.Memory.Facts(ctx, req.ConversationID, keyword, listedFacts)
	if err != nil {
		return "", err
	}
	if len(facts) == 0 {
		if keyword != "" {
			return fmt.Sprintf("🧠 没有包含「%s」的记忆", keyword), nil
		}
		return "🧠 我还没有记住任何事情\n\n用 /remember <内容> 让我记住", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🧠 我记住的事情 (%d)\n", len(facts))
	for _, f := range facts {
		fmt.Fprintf(&sb, "\n#%d %s %s", f.ID, strings.Repeat("⭐", f.Importance), memory.Truncate(f.Content, 100))
	}
	return sb.String(), nil
}

func (d *Dispatcher) handleForget(ctx context.Context, req Request) (string, error) {
	if d.deps.Memory == nil {
		return notConfigured("长期记忆"), nil
	}
	if all, _ := types.ExtractBool(req.Intent.Params["all"]); all {
		n, err := d.deps.Memory.ForgetAll(ctx, req.ConversationID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("🧹 已忘记 %d 条记忆", n), nil
	}
	id, ok := types.ExtractInt64(req.Intent.Params["id"])
	if !ok || id <= 0 {
		return "", types.ValidationError("请指定记忆编号，例如 /forget 3，或 /forget all")
	}
	found, err := d.deps.Memory.Forget(ctx, req.ConversationID, id)
	if err != nil {
		return "", err
	}
	if !found {
		return fmt.Sprintf("❓ 没有编号为 #%d 的记忆", id), nil
	}
	return fmt.Sprintf("🗑️ 已忘记 #%d", id), nil
}
