package types

import (
	"context"
)

// CompletionRequest is one language-model call.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// LLMClient defines the interface for language-model interactions.
// Implementations are synchronous and must honour ctx cancellation.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Name() string
}

// PriceSource answers price queries for a coin symbol or id.
type PriceSource interface {
	Price(ctx context.Context, coin string) (PriceQuote, error)
}

// BalanceSource answers wallet balance queries.
type BalanceSource interface {
	Balance(ctx context.Context) (WalletBalance, error)
}

// Browser fetches a url and answers a question about it.
type Browser interface {
	Browse(ctx context.Context, url, question string) (string, error)
}

// Notifier delivers a text to a conversation outside of a request/reply cycle.
type Notifier interface {
	Notify(ctx context.Context, conversationID, text string) error
}
