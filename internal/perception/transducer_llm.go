package perception

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"aisatoshi/internal/logging"
	"aisatoshi/internal/types"
)

// =============================================================================
// INTENT RESOLVER
// =============================================================================

// ResolverConfig tunes the model calls made by a Resolver.
type ResolverConfig struct {
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	// DirectBrowse skips the model for messages that carry a URL and a browse keyword.
	DirectBrowse bool
}

// DefaultResolverConfig returns the intent-resolution defaults.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		Timeout:      60 * time.Second,
		Temperature:  0.8,
		MaxTokens:    4096,
		DirectBrowse: true,
	}
}

// Resolver maps free-form user text onto a types.Intent using a language model.
// Resolve never fails: every error path degrades to a chat intent.
type Resolver struct {
	client types.LLMClient
	cfg    ResolverConfig
}

// NewResolver creates a resolver around client.
func NewResolver(client types.LLMClient, cfg ResolverConfig) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultResolverConfig().Timeout
	}
	return &Resolver{client: client, cfg: cfg}
}

// Resolve turns message plus its conversation context into an intent.
func (r *Resolver) Resolve(ctx context.Context, message string, cc types.ConversationContext) types.Intent {
	if r.cfg.DirectBrowse {
		if intent, ok := DirectBrowseIntent(message); ok {
			logging.PerceptionDebug("direct browse: %s", intent.Param("url"))
			return intent
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	raw, err := r.client.Complete(ctx, types.CompletionRequest{
		System:      IntentPrompt,
		Prompt:      BuildIntentPrompt(message, cc),
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	})
	if err != nil {
		logging.PerceptionWarn("intent resolution failed, falling back to chat: %v", err)
		return types.ChatIntent(FallbackReply, 0)
	}

	intent := ParseIntent(raw)
	logging.PerceptionDebug("resolved action=%s raw=%q confidence=%.2f", intent.Action, intent.RawAction, intent.Confidence)
	return intent
}

// Chat produces a free-form reply. Used when a chat intent carries no text.
func (r *Resolver) Chat(ctx context.Context, message string, history []types.ConversationTurn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return r.client.Complete(ctx, types.CompletionRequest{
		Prompt:      BuildChatPrompt(message, history),
		Temperature: 0.7,
		MaxTokens:   2048,
	})
}

// =============================================================================
// RESPONSE PARSING
// =============================================================================

// replyKeys lists accepted reply fields in order of preference.
var replyKeys = []string{"reply_text", "response", "reply"}

// ParseIntent converts raw model output into an intent.
//
// The first balanced JSON object is decoded. Output without one, output that
// does not decode, and objects without a string "action" become a chat intent
// whose reply is the raw text truncated to MaxFallbackChars. Actions outside
// the vocabulary are treated as chat with the reply passed through; RawAction
// keeps the original tag.
func ParseIntent(raw string) types.Intent {
	candidate := ExtractJSON(raw)
	if candidate == "" {
		return fallbackIntent(raw)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		logging.PerceptionDebug("intent json did not decode: %v", err)
		return fallbackIntent(raw)
	}
	tag, ok := obj["action"].(string)
	if !ok || strings.TrimSpace(tag) == "" {
		return fallbackIntent(raw)
	}

	params := types.ExtractMap(obj["params"])
	if params == nil {
		params = map[string]interface{}{}
	}
	reply := ""
	for _, key := range replyKeys {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			reply = s
			break
		}
	}
	confidence := 1.0
	if c, ok := types.ExtractFloat64(obj["confidence"]); ok {
		confidence = clamp01(c)
	}

	action := types.ParseAction(tag)
	if action == types.ActionUnknown {
		logging.PerceptionDebug("unknown action %q treated as chat", tag)
		action = types.ActionChat
	}
	return types.Intent{
		Action:     action,
		RawAction:  tag,
		Params:     params,
		ReplyText:  reply,
		Confidence: confidence,
	}
}

func fallbackIntent(raw string) types.Intent {
	return types.ChatIntent(truncateRunes(strings.TrimSpace(raw), MaxFallbackChars), 0)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// =============================================================================
// DIRECT BROWSE
// =============================================================================

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'，。！？）)]+`)

// browseKeywords mark a message as a request to look at a URL.
var browseKeywords = []string{"浏览", "访问", "看看", "查看", "研究", "调研", "分析", "深度", "browse", "visit", "check out", "research"}

// ExtractURLs returns every http(s) URL in text, in order.
func ExtractURLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// DirectBrowseIntent recognizes "look at <url>" messages without a model call.
// The question is left empty so the browse handler can derive it from the text.
func DirectBrowseIntent(message string) (types.Intent, bool) {
	urls := ExtractURLs(message)
	if len(urls) == 0 {
		return types.Intent{}, false
	}
	lower := strings.ToLower(message)
	for _, kw := range browseKeywords {
		if strings.Contains(lower, kw) {
			return types.NewIntent(types.ActionBrowse, map[string]interface{}{"url": urls[0]}), true
		}
	}
	return types.Intent{}, false
}
