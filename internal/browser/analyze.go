package browser

import (
	"context"
	"fmt"

	"aisatoshi/internal/types"
)

// AnalyzePrompt asks the model about fetched page content.
const AnalyzePrompt = `请分析以下网页内容并回答问题。

问题：%s

网页内容：
%s

请基于网页内容回答问题，用中文回复。要点：
1. 准确总结网页主要内容
2. 提取关键信息和特点
3. 如果是项目/产品，说明其功能和用途
4. 回答要简洁清晰`

// Analyzer answers a question about page content with the language model.
type Analyzer struct {
	llm      types.LLMClient
	maxChars int
}

// NewAnalyzer creates an analyzer; content beyond maxChars is cut.
func NewAnalyzer(llm types.LLMClient, maxChars int) *Analyzer {
	if maxChars <= 0 {
		maxChars = 8000
	}
	return &Analyzer{llm: llm, maxChars: maxChars}
}

// Analyze returns the model's answer.
func (a *Analyzer) Analyze(ctx context.Context, question, content string) (string, error) {
	if a.llm == nil {
		return "", fmt.Errorf("no language model configured")
	}
	return a.llm.Complete(ctx, types.CompletionRequest{
		Prompt:      fmt.Sprintf(AnalyzePrompt, question, truncate(content, a.maxChars)),
		Temperature: 0.7,
		MaxTokens:   2048,
	})
}
