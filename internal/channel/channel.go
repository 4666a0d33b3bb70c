// Package channel defines the message-channel contract and the helpers that
// sit between the core and a concrete adapter (Telegram, console).
package channel

import (
	"context"
	"time"

	"aisatoshi/internal/logging"
)

// DefaultLimit is the single-message size limit used when an adapter does not
// report one. Telegram allows 4096; the rest is headroom for numbering.
const DefaultLimit = 4000

// Message is one inbound delivery.
type Message struct {
	ConversationID string
	// Sequence is the channel's delivery id; redeliveries repeat it.
	Sequence int64
	Text     string
	Sender   string
	At       time.Time
}

// Channel receives and sends text for conversations.
type Channel interface {
	// Receive blocks for at most timeout and returns the deliveries that arrived.
	Receive(ctx context.Context, timeout time.Duration) ([]Message, error)
	// Send delivers one message that already fits Limit.
	Send(ctx context.Context, conversationID, text string) error
	// Limit is the maximum length of one message, in characters.
	Limit() int
	Name() string
}

// SendLong splits text to fit ch and sends the chunks in order. It stops at
// the first failed chunk.
func SendLong(ctx context.Context, ch Channel, conversationID, text string) error {
	limit := ch.Limit()
	if limit <= 0 {
		limit = DefaultLimit
	}
	chunks := Split(text, limit)
	if len(chunks) > 1 {
		logging.ChannelDebug("Splitting reply to %s into %d chunks", conversationID, len(chunks))
	}
	for i, chunk := range chunks {
		if err := ch.Send(ctx, conversationID, chunk); err != nil {
			logging.ChannelWarn("Send to %s failed at chunk %d/%d: %v", conversationID, i+1, len(chunks), err)
			return err
		}
	}
	return nil
}

// Notifier adapts a Channel to types.Notifier.
type Notifier struct {
	ch Channel
}

// NewNotifier wraps ch.
func NewNotifier(ch Channel) *Notifier {
	return &Notifier{ch: ch}
}

// Notify sends text to the conversation, splitting as needed.
func (n *Notifier) Notify(ctx context.Context, conversationID, text string) error {
	return SendLong(ctx, n.ch, conversationID, text)
}
