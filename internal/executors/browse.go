package executors

import (
	"context"
	"fmt"
	"strings"

	"aisatoshi/internal/browser"
	"aisatoshi/internal/scheduler"
	"aisatoshi/internal/types"
)

// Browse fetches params.url and summarises it. params.question defaults to a
// question derived from the task description.
type Browse struct {
	browser types.Browser
}

// NewBrowse creates a scheduled browse executor.
func NewBrowse(b types.Browser) *Browse {
	return &Browse{browser: b}
}

// Run implements scheduler.Executor.
func (b *Browse) Run(ctx context.Context, t types.Task) (scheduler.Result, error) {
	url := strings.TrimSpace(types.ExtractString(t.Params["url"]))
	if url == "" {
		return scheduler.Result{}, types.ValidationError("任务缺少 url 参数")
	}
	question := strings.TrimSpace(types.ExtractString(t.Params["question"]))
	if question == "" {
		question = browser.Question(url, t.Description)
	}
	summary, err := b.browser.Browse(ctx, url, question)
	if err != nil {
		return scheduler.Result{}, err
	}
	return scheduler.Result{Output: summary, Notify: fmt.Sprintf("📋 %s\n\n%s", t.Name, summary)}, nil
}
