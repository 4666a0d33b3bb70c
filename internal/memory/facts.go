package memory

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"aisatoshi/internal/logging"
	"aisatoshi/internal/store"
	"aisatoshi/internal/types"
)

// factEntity is the entity type of remembered facts in the shared table.
const factEntity = "fact"

// MaxFactChars bounds a remembered fact.
const MaxFactChars = 500

// recallScan bounds how many of a conversation's facts Recall scores.
const recallScan = 200

// FactStore is the entity persistence long-term memory needs.
type FactStore interface {
	PutEntity(ctx context.Context, e *store.Entity) error
	ListEntities(ctx context.Context, q store.EntityQuery) ([]store.Entity, error)
	DeleteEntity(ctx context.Context, entityType, scope string, id int64) (bool, error)
	DeleteEntities(ctx context.Context, entityType, scope string) (int64, error)
	CountEntities(ctx context.Context, entityType, scope string) (int, error)
}

// Remember stores a fact for a conversation. Importance 0 picks the kind's
// default; other values are clamped to the valid range.
func (m *Memory) Remember(ctx context.Context, conversationID string, kind types.FactKind, content string, importance int) (types.Fact, error) {
	if m.facts == nil {
		return types.Fact{}, types.ValidationError("long-term memory is not available")
	}
	content = strings.Join(strings.Fields(content), " ")
	if content == "" {
		return types.Fact{}, types.ValidationError("nothing to remember")
	}
	content = Truncate(content, MaxFactChars)
	if importance == 0 {
		importance = types.DefaultImportance
		if kind == types.FactPreference {
			importance = types.ImportantFact
		}
	}
	importance = clampImportance(importance)

	payload, _ := sjson.Set(`{}`, "kind", string(kind))
	payload, _ = sjson.Set(payload, "content", content)

	e := &store.Entity{
		Type:    factEntity,
		Scope:   conversationID,
		Rank:    importance,
		Summary: content,
		Payload: payload,
	}
	if err := m.facts.PutEntity(ctx, e); err != nil {
		return types.Fact{}, err
	}
	logging.Memory("remembered %s #%d for %s (importance %d)", kind, e.ID, conversationID, importance)
	return toFact(*e), nil
}

// Facts lists a conversation's facts, most important first. A non-empty
// keyword keeps only facts containing it.
func (m *Memory) Facts(ctx context.Context, conversationID, keyword string, limit int) ([]types.Fact, error) {
	if m.facts == nil {
		return nil, nil
	}
	entities, err := m.facts.ListEntities(ctx, store.EntityQuery{
		Type:  factEntity,
		Scope: conversationID,
		Match: strings.TrimSpace(keyword),
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	return toFacts(entities), nil
}

// Important returns facts at or above types.ImportantFact.
func (m *Memory) Important(ctx context.Context, conversationID string, limit int) ([]types.Fact, error) {
	if m.facts == nil || limit <= 0 {
		return nil, nil
	}
	entities, err := m.facts.ListEntities(ctx, store.EntityQuery{
		Type:    factEntity,
		Scope:   conversationID,
		MinRank: types.ImportantFact,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	return toFacts(entities), nil
}

// Recall returns up to limit facts that share wording with message, best
// match first. Matching compares letter and digit bigrams, so it works for
// text without spaces.
func (m *Memory) Recall(ctx context.Context, conversationID, message string, limit int) ([]types.Fact, error) {
	if m.facts == nil || limit <= 0 {
		return nil, nil
	}
	want := bigrams(message)
	if len(want) == 0 {
		return nil, nil
	}
	entities, err := m.facts.ListEntities(ctx, store.EntityQuery{
		Type:  factEntity,
		Scope: conversationID,
		Limit: recallScan,
	})
	if err != nil {
		return nil, err
	}

	type scored struct {
		fact  types.Fact
		score int
	}
	var hits []scored
	for _, e := range entities {
		score := 0
		for g := range bigrams(e.Summary) {
			if _, ok := want[g]; ok {
				score++
			}
		}
		if score >= 2 || (score == 1 && len(want) == 1) {
			hits = append(hits, scored{toFact(e), score})
		}
	}
	// entities arrive by importance, so a stable sort keeps that order on ties
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]types.Fact, len(hits))
	for i, h := range hits {
		out[i] = h.fact
	}
	return out, nil
}

// Forget deletes one fact of the conversation.
func (m *Memory) Forget(ctx context.Context, conversationID string, id int64) (bool, error) {
	if m.facts == nil {
		return false, nil
	}
	return m.facts.DeleteEntity(ctx, factEntity, conversationID, id)
}

// ForgetAll deletes every fact of the conversation.
func (m *Memory) ForgetAll(ctx context.Context, conversationID string) (int64, error) {
	if m.facts == nil {
		return 0, nil
	}
	n, err := m.facts.DeleteEntities(ctx, factEntity, conversationID)
	if err != nil {
		return 0, err
	}
	logging.Memory("forgot %d fact(s) of %s", n, conversationID)
	return n, nil
}

// FactCount counts remembered facts; an empty id covers every conversation.
func (m *Memory) FactCount(ctx context.Context, conversationID string) (int, error) {
	if m.facts == nil {
		return 0, nil
	}
	return m.facts.CountEntities(ctx, factEntity, conversationID)
}

// Build assembles the resolver's view of a conversation: turns before
// beforeSeq plus facts related to message and the important ones. Fact
// lookups are best effort; a failure there only drops the facts.
func (m *Memory) Build(ctx context.Context, conversationID string, beforeSeq int64, message string) (types.ConversationContext, error) {
	turns, err := m.Context(ctx, conversationID, beforeSeq)
	if err != nil {
		return types.ConversationContext{}, err
	}
	cc := types.ConversationContext{Turns: turns}

	related, err := m.Recall(ctx, conversationID, message, m.cfg.RecallFacts)
	if err != nil {
		logging.MemoryWarn("recall for %s failed: %v", conversationID, err)
		return cc, nil
	}
	cc.Related = related

	important, err := m.Important(ctx, conversationID, m.cfg.ImportantCap)
	if err != nil {
		logging.MemoryWarn("important facts for %s failed: %v", conversationID, err)
		return cc, nil
	}
	seen := make(map[int64]struct{}, len(related))
	for _, f := range related {
		seen[f.ID] = struct{}{}
	}
	for _, f := range important {
		if _, dup := seen[f.ID]; !dup {
			cc.Important = append(cc.Important, f)
		}
	}
	return cc, nil
}

func toFacts(entities []store.Entity) []types.Fact {
	out := make([]types.Fact, len(entities))
	for i, e := range entities {
		out[i] = toFact(e)
	}
	return out
}

func toFact(e store.Entity) types.Fact {
	p := gjson.Parse(e.Payload)
	content := p.Get("content").String()
	if content == "" {
		content = e.Summary
	}
	return types.Fact{
		ID:             e.ID,
		ConversationID: e.Scope,
		Kind:           types.ParseFactKind(p.Get("kind").String()),
		Content:        content,
		Importance:     e.Rank,
		CreatedAt:      e.CreatedAt,
	}
}

func clampImportance(n int) int {
	if n < types.MinImportance {
		return types.MinImportance
	}
	if n > types.MaxImportance {
		return types.MaxImportance
	}
	return n
}

// bigrams returns the lowercased adjacent letter/digit pairs of s. Runs are
// split at any other rune.
func bigrams(s string) map[string]struct{} {
	out := make(map[string]struct{})
	var prev rune
	for _, r := range strings.ToLower(s) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			prev = 0
			continue
		}
		if prev != 0 {
			out[string([]rune{prev, r})] = struct{}{}
		}
		prev = r
	}
	return out
}
