// Package memory keeps the per-conversation turn log and the long-term facts
// used to build model context.
//
// Ingestion is idempotent per (conversation, delivery id): a bounded LRU of
// recently seen deliveries answers the common duplicate case without a
// database round trip, and the store's unique delivery index catches the rest.
// Stored turns get their own per-conversation sequence from the store.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"aisatoshi/internal/logging"
	"aisatoshi/internal/types"
)

// TurnStore is the persistence contract Memory needs.
type TurnStore interface {
	AppendTurn(ctx context.Context, turn types.ConversationTurn) (types.ConversationTurn, bool, error)
	RecentTurns(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]types.ConversationTurn, error)
	PruneTurns(ctx context.Context, conversationID string, keep int) (int64, error)
	ClearConversation(ctx context.Context, conversationID string) (int64, error)
	ConversationStats(ctx context.Context, conversationID string) (types.ConversationStats, error)
}

// Config bounds what Memory keeps and returns.
type Config struct {
	HistoryTurns int // turns returned by Context
	TurnMaxChars int // per-turn truncation in Context, 0 = none
	RetentionCap int // stored turns per conversation, 0 = unbounded
	DedupCap     int // remembered delivery keys
	RecallFacts  int // related facts returned by Build
	ImportantCap int // important facts returned by Build
}

// DefaultConfig matches the config package defaults.
func DefaultConfig() Config {
	return Config{HistoryTurns: 10, TurnMaxChars: 500, RetentionCap: 200, DedupCap: 1000, RecallFacts: 5, ImportantCap: 10}
}

// Memory is safe for concurrent use.
type Memory struct {
	store TurnStore
	facts FactStore // nil when the store keeps no entities
	cfg   Config

	mu   sync.Mutex
	seen *lru.Cache
}

// New creates a Memory over store.
func New(store TurnStore, cfg Config) *Memory {
	if cfg.DedupCap <= 0 {
		cfg.DedupCap = DefaultConfig().DedupCap
	}
	if cfg.HistoryTurns < 0 {
		cfg.HistoryTurns = 0
	}
	m := &Memory{store: store, cfg: cfg, seen: lru.New(cfg.DedupCap)}
	if fs, ok := store.(FactStore); ok {
		m.facts = fs
	}
	return m
}

type deliveryKey struct {
	conversation string
	delivery     int64
}

// Ingest records an inbound user message carrying the channel's delivery id
// and returns the stored turn. It returns false, with no error, when the
// delivery was already ingested.
func (m *Memory) Ingest(ctx context.Context, conversationID string, delivery int64, text string, at time.Time) (types.ConversationTurn, bool, error) {
	key := deliveryKey{conversationID, delivery}
	if m.wasSeen(key) {
		logging.MemoryDebug("duplicate delivery dropped: %s#%d", conversationID, delivery)
		return types.ConversationTurn{}, false, nil
	}

	turn, inserted, err := m.store.AppendTurn(ctx, types.ConversationTurn{
		ConversationID: conversationID,
		Delivery:       delivery,
		Role:           types.RoleUser,
		Text:           text,
		Timestamp:      at,
	})
	if err != nil {
		return types.ConversationTurn{}, false, err
	}
	m.markSeen(key)

	if !inserted {
		logging.MemoryDebug("duplicate delivery dropped by store: %s#%d", conversationID, delivery)
		return types.ConversationTurn{}, false, nil
	}
	m.prune(ctx, conversationID)
	return turn, true, nil
}

// RecordReply stores an assistant reply as the conversation's next turn.
func (m *Memory) RecordReply(ctx context.Context, conversationID string, text string, at time.Time) error {
	_, _, err := m.store.AppendTurn(ctx, types.ConversationTurn{
		ConversationID: conversationID,
		Role:           types.RoleAssistant,
		Text:           text,
		Timestamp:      at,
	})
	if err != nil {
		return err
	}
	m.prune(ctx, conversationID)
	return nil
}

// Context returns the most recent turns with a sequence below beforeSeq (all
// turns when beforeSeq <= 0), oldest first, each truncated to TurnMaxChars.
func (m *Memory) Context(ctx context.Context, conversationID string, beforeSeq int64) ([]types.ConversationTurn, error) {
	turns, err := m.store.RecentTurns(ctx, conversationID, beforeSeq, m.cfg.HistoryTurns)
	if err != nil {
		return nil, err
	}
	if m.cfg.TurnMaxChars > 0 {
		for i := range turns {
			turns[i].Text = Truncate(turns[i].Text, m.cfg.TurnMaxChars)
		}
	}
	return turns, nil
}

// Clear forgets a conversation's stored turns. Remembered delivery keys are
// kept so a redelivered message is still recognised.
func (m *Memory) Clear(ctx context.Context, conversationID string) (int64, error) {
	n, err := m.store.ClearConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	logging.Memory("cleared %d turn(s) of %s", n, conversationID)
	return n, nil
}

// Stats reports stored turn counts; an empty id covers every conversation.
func (m *Memory) Stats(ctx context.Context, conversationID string) (types.ConversationStats, error) {
	return m.store.ConversationStats(ctx, conversationID)
}

// SeenCount returns the number of delivery keys currently remembered.
func (m *Memory) SeenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen.Len()
}

func (m *Memory) wasSeen(key deliveryKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen.Get(key)
	return ok
}

func (m *Memory) markSeen(key deliveryKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen.Add(key, struct{}{})
}

func (m *Memory) prune(ctx context.Context, conversationID string) {
	if m.cfg.RetentionCap <= 0 {
		return
	}
	n, err := m.store.PruneTurns(ctx, conversationID, m.cfg.RetentionCap)
	if err != nil {
		// retention is a capacity policy; the turn itself is already stored
		logging.MemoryWarn("prune %s failed: %v", conversationID, err)
		return
	}
	if n > 0 {
		logging.MemoryDebug("pruned %d turn(s) of %s", n, conversationID)
	}
}

// Truncate shortens s to at most max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// Render formats turns as "speaker: text" lines for a prompt.
func Render(turns []types.ConversationTurn) string {
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
