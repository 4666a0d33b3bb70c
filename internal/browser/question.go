package browser

import (
	"fmt"
	"strings"
)

var (
	detailKeywords  = []string{"研究", "调研", "分析", "详细", "全面", "research", "analy", "in depth", "in-depth"}
	purposeKeywords = []string{"什么", "干嘛", "做什么", "介绍", "what is", "what does"}
	opinionKeywords = []string{"怎么样", "如何", "评价", "review", "how good"}
	deepKeywords    = []string{"深度", "调研", "详细", "全面", "研究", "deep", "research", "in depth", "in-depth"}
)

// Question derives the browse question from the user's wording.
func Question(rawURL, userInput string) string {
	lower := strings.ToLower(userInput)
	switch {
	case containsAny(lower, detailKeywords):
		return fmt.Sprintf("详细分析这个网站（%s）的主要内容、功能、特点和商业模式", rawURL)
	case containsAny(lower, purposeKeywords):
		return fmt.Sprintf("这个网站（%s）是做什么的？请介绍其主要内容和功能", rawURL)
	case containsAny(lower, opinionKeywords):
		return fmt.Sprintf("评价这个网站（%s）的功能和用户体验", rawURL)
	default:
		return fmt.Sprintf("这个网站（%s）的主要内容、功能和特点是什么？", rawURL)
	}
}

// WantsDeep reports whether text asks for a multi-page crawl.
func WantsDeep(text string) bool {
	return containsAny(strings.ToLower(text), deepKeywords)
}
